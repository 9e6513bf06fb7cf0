package backend

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kalendae/meeting-insights/pkg/cache"
)

const tokenEndpointKey = cache.NamespaceToken + "_endpoint"

// Credentials is one email/password pair for the backend's login
// endpoint. The session holds a ranked list and works down it.
type Credentials struct {
	Email    string
	Password string
}

// Session acquires and maintains the bearer token for the company
// backend. Authorization is optional for some flows, so TryAuth reports
// failure with false rather than an error.
type Session struct {
	client   *Client
	registry *Registry
	cache    cache.Store
	creds    []Credentials
	devToken string
	tokenTTL time.Duration
	logger   *slog.Logger

	mu sync.Mutex // serializes authentication attempts in-process
}

func NewSession(client *Client, registry *Registry, cacheStore cache.Store, creds []Credentials, devToken string, tokenTTL time.Duration, logger *slog.Logger) *Session {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	s := &Session{
		client:   client,
		registry: registry,
		cache:    cacheStore,
		creds:    creds,
		devToken: devToken,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
	client.SetTokenSource(s.Token)
	client.SetUnauthorizedHook(s.Invalidate)
	return s
}

// Token returns the cached bearer token, or "" when unauthenticated.
func (s *Session) Token() string {
	token, _ := s.cache.Get(context.Background(), cache.NamespaceToken)
	return token
}

// Invalidate drops the token; the next authenticated call re-enters the
// TryAuth ladder.
func (s *Session) Invalidate() {
	ctx := context.Background()
	s.cache.Delete(ctx, cache.NamespaceToken)
}

// Authenticate posts creds against the ranked login endpoints and caches
// the first token it can extract, together with the endpoint that won.
func (s *Session) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	var lastErr error
	for _, endpoint := range s.loginEndpoints(ctx) {
		resp, err := s.client.Post(ctx, endpoint, map[string]string{
			"email":    creds.Email,
			"password": creds.Password,
		}, false)
		if err != nil {
			lastErr = err
			continue
		}

		token := ExtractToken(resp.Data)
		if token == "" {
			s.logger.Debug("login endpoint answered without a token", "endpoint", endpoint)
			continue
		}

		s.storeToken(ctx, token, endpoint)
		s.logger.Info("authenticated against backend", "endpoint", endpoint)
		return token, nil
	}

	err := &AuthError{Email: creds.Email}
	if lastErr != nil {
		err.Cause = lastErr
	}
	return "", err
}

// TryAuth makes a best-effort attempt to hold a valid token: validate
// the cached one, then retry each configured credential set, then fall
// back to the development token. Returns false when everything failed.
func (s *Session) TryAuth(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token := s.Token(); token != "" {
		if s.probeToken(ctx) {
			return true
		}
		s.Invalidate()
	}

	for _, creds := range s.creds {
		if _, err := s.Authenticate(ctx, creds); err == nil {
			return true
		}
	}

	if s.devToken != "" {
		s.storeToken(ctx, s.devToken, "")
		if s.probeToken(ctx) {
			s.logger.Warn("using development token for backend access")
			return true
		}
		s.Invalidate()
	}

	s.logger.Debug("all authentication strategies failed, continuing unauthenticated")
	return false
}

// probeToken issues a cheap authenticated request to check the cached
// token is still honored.
func (s *Session) probeToken(ctx context.Context) bool {
	path := s.registry.Resolve(ctx, OpUsers)
	if path == "" {
		path = Candidates(OpUsers)[0]
	}
	_, err := s.client.Get(ctx, path, true)
	if err == nil {
		return true
	}
	// 403 means the token is real but lacks scope; good enough.
	return StatusOf(err) == http.StatusForbidden
}

// loginEndpoints ranks candidates: previously winning endpoint first,
// then the registry-resolved one, then the static list.
func (s *Session) loginEndpoints(ctx context.Context) []string {
	var ordered []string
	seen := make(map[string]bool)

	add := func(endpoint string) {
		if endpoint != "" && !seen[endpoint] {
			seen[endpoint] = true
			ordered = append(ordered, endpoint)
		}
	}

	if winner, ok := s.cache.Get(ctx, tokenEndpointKey); ok {
		add(winner)
	}
	add(s.registry.Resolve(ctx, OpLogin))
	for _, candidate := range Candidates(OpLogin) {
		add(candidate)
	}
	return ordered
}

func (s *Session) storeToken(ctx context.Context, token, endpoint string) {
	s.cache.Set(ctx, cache.NamespaceToken, token, s.tokenTTL)
	if endpoint != "" {
		s.cache.Set(ctx, tokenEndpointKey, endpoint, s.tokenTTL)
		s.registry.Memorize(ctx, OpLogin, endpoint)
	}
}

// ExtractToken pulls a bearer token out of any of the response shapes
// backends have been seen to use.
func ExtractToken(data any) string {
	body, ok := data.(map[string]any)
	if !ok {
		return ""
	}

	for _, key := range []string{"token", "access_token", "accessToken", "jwt"} {
		if token, ok := body[key].(string); ok && token != "" {
			return token
		}
	}

	if nested, ok := body["data"].(map[string]any); ok {
		for _, key := range []string{"token", "access_token", "accessToken", "jwt"} {
			if token, ok := nested[key].(string); ok && token != "" {
				return token
			}
		}
	}
	return ""
}

// AuthError is returned when every login endpoint refused the creds.
type AuthError struct {
	Email string
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return "authentication failed for " + e.Email + ": " + e.Cause.Error()
	}
	return "authentication failed for " + e.Email
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}
