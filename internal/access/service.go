package access

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/pkg/cache"
)

// Repository is the slice of the entity repository the resolver needs.
type Repository interface {
	FindOne(ctx context.Context, collection string, filter map[string]any) (backend.Entity, error)
	GetByID(ctx context.Context, collection, id string) (backend.Entity, error)
	Create(ctx context.Context, collection string, entity backend.Entity) (backend.Entity, error)
}

// Authenticator is the session's best-effort auth entry point.
type Authenticator interface {
	TryAuth(ctx context.Context) bool
}

// Service resolves a user's authorization bundle. Resolution runs on
// every calendar-event-open, so results are cached aggressively with an
// explicit bypass for the UI's refresh action.
type Service struct {
	repo    Repository
	auth    Authenticator
	cache   cache.Store
	userTTL time.Duration
	logger  *slog.Logger
}

func NewService(repo Repository, auth Authenticator, cacheStore cache.Store, userTTL time.Duration, logger *slog.Logger) *Service {
	if userTTL <= 0 {
		userTTL = 30 * time.Minute
	}
	return &Service{
		repo:    repo,
		auth:    auth,
		cache:   cacheStore,
		userTTL: userTTL,
		logger:  logger,
	}
}

// Resolve returns the access details for email, or nil when the user or
// their company cannot be resolved. It never returns an error: any
// failure is logged and rendered by callers as "unregistered".
func (s *Service) Resolve(ctx context.Context, email string, skipCache bool) *AccessDetails {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	key := cache.UserKey(email)
	if !skipCache {
		if cached, ok := s.cache.Get(ctx, key); ok {
			var details AccessDetails
			if err := json.Unmarshal([]byte(cached), &details); err == nil {
				return &details
			}
			s.cache.Delete(ctx, key)
		}
	}

	// Authorization is optional for public backends; a failed TryAuth
	// still lets the lookup proceed unauthenticated.
	s.auth.TryAuth(ctx)

	userEntity, err := s.repo.FindOne(ctx, "users", map[string]any{"email": email})
	if err != nil {
		s.logger.Warn("user lookup failed", "email", email, "error", err)
		return nil
	}
	if userEntity == nil {
		s.logger.Debug("no user registered for email", "email", email)
		return nil
	}
	user := UserFromEntity(userEntity)

	if user.CompanyID == "" {
		s.logger.Warn("user record has no company reference", "email", email, "user_id", user.ID)
		return nil
	}

	companyEntity, err := s.repo.GetByID(ctx, "companies", user.CompanyID)
	if err != nil {
		s.logger.Warn("company lookup failed", "email", email, "company_id", user.CompanyID, "error", err)
		return nil
	}
	if companyEntity == nil {
		s.logger.Warn("user references a missing company", "email", email, "company_id", user.CompanyID)
		return nil
	}
	company := CompanyFromEntity(companyEntity)

	details := &AccessDetails{
		UserID:      user.ID,
		CompanyID:   company.ID,
		AssistantID: company.AssistantID,
		Role:        user.Role,
		Status:      company.Status,
	}

	// A fresh lookup always overwrites any prior entry, including on
	// the skipCache path, so the next cached read sees current state.
	if encoded, err := json.Marshal(details); err == nil {
		s.cache.Set(ctx, key, string(encoded), s.userTTL)
	}

	return details
}

// Invalidate drops the cached entry so the next Resolve hits the
// backend; the UI calls this right after a permission change.
func (s *Service) Invalidate(ctx context.Context, email string) {
	email = NormalizeEmail(email)
	if email == "" {
		return
	}
	s.cache.Delete(ctx, cache.UserKey(email))
}

// Register creates a user under the company matching the email's
// domain, then resolves fresh. Used for first-time add-on users whose
// company is already onboarded.
func (s *Service) Register(ctx context.Context, email, name string) (*AccessDetails, error) {
	email = NormalizeEmail(email)
	domain := EmailDomain(email)
	if domain == "" {
		return nil, internal.NewValidationError("a valid email address is required", internal.ErrCodeInvalidEmail)
	}

	s.auth.TryAuth(ctx)

	companyEntity, err := s.repo.FindOne(ctx, "companies", map[string]any{"domain": domain})
	if err != nil {
		return nil, internal.NewExternalError("company lookup failed", internal.ErrCodeCompanyNotFound).WithCause(err)
	}
	if companyEntity == nil {
		return nil, internal.NewNotFoundError("no company is onboarded for this email domain", internal.ErrCodeCompanyNotFound)
	}
	company := CompanyFromEntity(companyEntity)

	_, err = s.repo.Create(ctx, "users", backend.Entity{
		"email":     email,
		"name":      name,
		"companyId": company.ID,
		"role":      "user",
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, internal.NewExternalError("failed to create user", internal.ErrCodeStrategyExhausted).WithCause(err)
	}

	s.Invalidate(ctx, email)
	details := s.Resolve(ctx, email, true)
	if details == nil {
		return nil, internal.NewInternalError("user created but resolution still fails", nil)
	}
	return details, nil
}
