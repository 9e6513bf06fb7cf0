package cache

import (
	"context"
	"time"
)

// Key namespaces. Every cached value in the service lives under one of
// these prefixes so TTL policy and invalidation stay per-concern.
const (
	NamespaceUser      = "user:"
	NamespaceEndpoint  = "endpoint:"
	NamespaceToken     = "token"
	NamespaceAssistant = "assistant:"
	NamespaceInsight   = "insight:"
)

// Store is a TTL key/value cache. Values are strings; structured values
// are JSON-encoded by callers so the Redis and memory backends behave
// identically.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

func UserKey(email string) string       { return NamespaceUser + email }
func EndpointKey(op string) string      { return NamespaceEndpoint + op }
func AssistantKey(id string) string     { return NamespaceAssistant + id }
func InsightKey(email, eventID string) string {
	return NamespaceInsight + email + ":" + eventID
}
