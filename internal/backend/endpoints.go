package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kalendae/meeting-insights/pkg/cache"
)

// Operation names a logical backend route whose concrete path is only
// known after probing.
type Operation string

const (
	OpLogin           Operation = "login"
	OpUsers           Operation = "users"
	OpUserByEmail     Operation = "user_by_email"
	OpCompanies       Operation = "companies"
	OpCompanyByDomain Operation = "company_by_domain"
)

// Map is the resolved set of concrete paths per operation. Parametrized
// entries keep their {email}/{domain} placeholders.
type Map map[Operation]string

// Candidate paths per operation, probed in order. The first one the
// backend admits to (2xx or auth-rejected) wins.
var candidates = map[Operation][]string{
	OpLogin: {
		"/api/auth/login",
		"/api/login",
		"/auth/login",
		"/login",
	},
	OpUsers: {
		"/api/users",
		"/api/user",
		"/api/v1/users",
		"/users",
	},
	OpUserByEmail: {
		"/api/users/email/{email}",
		"/api/users?email={email}",
		"/api/user/{email}",
		"/users/email/{email}",
	},
	OpCompanies: {
		"/api/companies",
		"/api/company",
		"/api/v1/companies",
		"/companies",
	},
	OpCompanyByDomain: {
		"/api/companies/domain/{domain}",
		"/api/companies?domain={domain}",
		"/companies/domain/{domain}",
	},
}

// Sentinel values substituted into parametrized candidates during probing.
const (
	probeEmail  = "test@example.com"
	probeDomain = "example.com"
)

// FallbackMap is used when discovery cannot reach the backend at all.
func FallbackMap() Map {
	m := make(Map, len(candidates))
	for op, paths := range candidates {
		m[op] = paths[0]
	}
	return m
}

// RouteStore persists discovered routes across restarts.
type RouteStore interface {
	LoadRoutes(ctx context.Context) (map[string]string, error)
	SaveRoute(ctx context.Context, operation, path string) error
}

// Registry hides the backend's unknown route layout behind logical
// operation names. Resolution order: TTL cache, persisted routes, lazy
// re-discovery, hardcoded fallback.
type Registry struct {
	client *Client
	cache  cache.Store
	routes RouteStore
	ttl    time.Duration
	logger *slog.Logger

	mu sync.Mutex // serializes discovery within one process
}

func NewRegistry(client *Client, cacheStore cache.Store, routes RouteStore, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{
		client: client,
		cache:  cacheStore,
		routes: routes,
		ttl:    ttl,
		logger: logger,
	}
}

// Resolve returns the concrete path for op, or "" when the operation is
// unknown even after discovery and fallback.
func (r *Registry) Resolve(ctx context.Context, op Operation) string {
	if path, ok := r.cache.Get(ctx, cache.EndpointKey(string(op))); ok && path != "" {
		return path
	}

	if r.loadPersisted(ctx) {
		if path, ok := r.cache.Get(ctx, cache.EndpointKey(string(op))); ok && path != "" {
			return path
		}
	}

	// Both anchor operations missing means the map went stale or was
	// never built; rebuild it lazily.
	if r.cacheEmpty(ctx) {
		if _, err := r.Discover(ctx); err != nil {
			r.logger.Warn("endpoint discovery failed", "error", err)
		}
		if path, ok := r.cache.Get(ctx, cache.EndpointKey(string(op))); ok && path != "" {
			return path
		}
	}

	if paths, ok := candidates[op]; ok {
		return paths[0]
	}
	return ""
}

// Memorize records a path that a caller proved working, so later
// resolutions skip the probe dance.
func (r *Registry) Memorize(ctx context.Context, op Operation, path string) {
	r.cache.Set(ctx, cache.EndpointKey(string(op)), path, r.ttl)
	if r.routes != nil {
		if err := r.routes.SaveRoute(ctx, string(op), path); err != nil {
			r.logger.Warn("failed to persist route", "operation", op, "error", err)
		}
	}
}

// Discover probes every candidate list and caches the first existing
// path per operation. A backend that cannot be reached at all yields the
// hardcoded fallback map.
func (r *Registry) Discover(ctx context.Context) (Map, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	discovered := make(Map)
	for op, paths := range candidates {
		for _, candidate := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if r.probe(ctx, candidate) {
				discovered[op] = candidate
				r.logger.Info("endpoint discovered", "operation", op, "path", candidate)
				break
			}
		}
	}

	if len(discovered) == 0 {
		r.logger.Warn("endpoint discovery found nothing, using fallback map")
		return FallbackMap(), nil
	}

	for op, path := range discovered {
		r.Memorize(ctx, op, path)
	}
	return discovered, nil
}

// probe issues an unauthenticated GET against the candidate (sentinel
// values substituted) and classifies the outcome. A 401/403 still proves
// the route exists; only a clean 404 rules it out.
func (r *Registry) probe(ctx context.Context, candidate string) bool {
	path := expandTemplate(candidate, probeEmail, probeDomain)

	_, err := r.client.Get(ctx, path, false)
	if err == nil {
		return true
	}

	switch status := StatusOf(err); status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusNotFound:
		return false
	case 0:
		// Network or parse failure: a route that answers with a body we
		// cannot parse still exists.
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return true
		}
		r.logger.Debug("probe failed", "path", path, "error", err)
		return false
	default:
		// 4xx other than 404 means the route is there but unhappy with
		// the sentinel; 5xx is inconclusive and skipped.
		return status < 500
	}
}

func (r *Registry) cacheEmpty(ctx context.Context) bool {
	_, hasUsers := r.cache.Get(ctx, cache.EndpointKey(string(OpUsers)))
	_, hasLogin := r.cache.Get(ctx, cache.EndpointKey(string(OpLogin)))
	return !hasUsers && !hasLogin
}

func (r *Registry) loadPersisted(ctx context.Context) bool {
	if r.routes == nil {
		return false
	}
	stored, err := r.routes.LoadRoutes(ctx)
	if err != nil {
		r.logger.Warn("failed to load persisted routes", "error", err)
		return false
	}
	for op, path := range stored {
		r.cache.Set(ctx, cache.EndpointKey(op), path, r.ttl)
	}
	return len(stored) > 0
}

// ExpandPath substitutes a real value into a templated path.
func ExpandPath(template, email, domain string) string {
	return expandTemplate(template, email, domain)
}

func expandTemplate(template, email, domain string) string {
	path := strings.ReplaceAll(template, "{email}", email)
	return strings.ReplaceAll(path, "{domain}", domain)
}

// Candidates exposes the ordered probe list for an operation; used by
// the session to rank login attempts.
func Candidates(op Operation) []string {
	paths := candidates[op]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}
