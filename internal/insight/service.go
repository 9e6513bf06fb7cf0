package insight

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/access"
	"github.com/kalendae/meeting-insights/internal/event"
	"github.com/kalendae/meeting-insights/internal/store"
	"github.com/kalendae/meeting-insights/pkg/cache"
)

// AccessResolver is the slice of the access service the insight flow
// needs.
type AccessResolver interface {
	Resolve(ctx context.Context, email string, skipCache bool) *access.AccessDetails
}

// RunnerAPI executes one assistant run and returns the insight text.
type RunnerAPI interface {
	Run(ctx context.Context, assistantID, prompt string) (string, error)
}

// Archive persists generated insights beyond the in-memory cache.
type Archive interface {
	SaveInsight(ctx context.Context, record *store.InsightRecord) error
	GetInsight(ctx context.Context, email, eventID string) (*store.InsightRecord, error)
}

// Insight is a generated (or cache-served) result for one event.
type Insight struct {
	EventID     string    `json:"event_id"`
	Text        string    `json:"text"`
	Cached      bool      `json:"cached"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Service composes access resolution, the per-event cache and the
// assistant runner. Duplicate concurrent requests for the same event
// each drive a full run; the protocol is idempotent enough that this is
// accepted rather than locked against.
type Service struct {
	resolver AccessResolver
	runner   RunnerAPI
	cache    cache.Store
	archive  Archive
	ttl      time.Duration
	logger   *slog.Logger
}

func NewService(resolver AccessResolver, runner RunnerAPI, cacheStore cache.Store, archive Archive, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		resolver: resolver,
		runner:   runner,
		cache:    cacheStore,
		archive:  archive,
		ttl:      ttl,
		logger:   logger,
	}
}

// GenerateForEvent produces the insight for one calendar event, serving
// the per-event cache unless refresh is set.
func (s *Service) GenerateForEvent(ctx context.Context, email string, ev event.Event, refresh bool) (*Insight, error) {
	if err := ev.Validate(); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidEvent)
	}

	email = access.NormalizeEmail(email)
	details := s.resolver.Resolve(ctx, email, false)
	if details == nil {
		return nil, internal.ErrUserNotRegistered
	}
	if !details.CanGenerateInsights() {
		s.logger.Info("insight refused for non-active company",
			"email", email, "company_id", details.CompanyID, "status", details.Status)
		return nil, internal.ErrCompanyNotActive
	}
	if details.AssistantID == "" {
		return nil, internal.NewExternalError("company has no assistant configured", internal.ErrCodeInvalidAssistant)
	}

	key := cache.InsightKey(email, ev.EventID)
	if !refresh {
		if cached, ok := s.cache.Get(ctx, key); ok {
			return &Insight{EventID: ev.EventID, Text: cached, Cached: true}, nil
		}
		if insight := s.fromArchive(ctx, email, ev.EventID, key); insight != nil {
			return insight, nil
		}
	}

	text, err := s.runner.Run(ctx, details.AssistantID, BuildPrompt(ev))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.cache.Set(ctx, key, text, s.ttl)
	if s.archive != nil {
		record := &store.InsightRecord{
			ID:        uuid.NewString(),
			EventID:   ev.EventID,
			UserEmail: email,
			Content:   text,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		if err := s.archive.SaveInsight(ctx, record); err != nil {
			s.logger.Warn("failed to archive insight", "event_id", ev.EventID, "error", err)
		}
	}

	return &Insight{EventID: ev.EventID, Text: text, Cached: false, GeneratedAt: now}, nil
}

// fromArchive rehydrates the cache from the durable store after a
// restart.
func (s *Service) fromArchive(ctx context.Context, email, eventID, key string) *Insight {
	if s.archive == nil {
		return nil
	}
	record, err := s.archive.GetInsight(ctx, email, eventID)
	if err != nil {
		s.logger.Warn("insight archive lookup failed", "event_id", eventID, "error", err)
		return nil
	}
	if record == nil {
		return nil
	}
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(ctx, key, record.Content, ttl)
	return &Insight{EventID: eventID, Text: record.Content, Cached: true, GeneratedAt: record.CreatedAt}
}
