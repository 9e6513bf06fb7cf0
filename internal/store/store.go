package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EndpointRoute is a discovered backend route, persisted so a restarted
// process skips the probe dance.
type EndpointRoute struct {
	Operation string    `gorm:"primaryKey"`
	Path      string    `gorm:"not null"`
	CheckedAt time.Time `gorm:"column:checked_at"`
}

func (EndpointRoute) TableName() string {
	return "endpoint_routes"
}

// InsightRecord is a generated insight kept beyond the in-memory cache,
// scoped to the requesting user and calendar event.
type InsightRecord struct {
	ID        string    `gorm:"primaryKey"`
	EventID   string    `gorm:"column:event_id;index:idx_insights_event_user"`
	UserEmail string    `gorm:"column:user_email;index:idx_insights_event_user"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

func (InsightRecord) TableName() string {
	return "insights"
}

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// LoadRoutes returns every persisted route keyed by operation name.
func (s *Store) LoadRoutes(ctx context.Context) (map[string]string, error) {
	var routes []EndpointRoute
	if err := s.db.WithContext(ctx).Find(&routes).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(routes))
	for _, route := range routes {
		out[route.Operation] = route.Path
	}
	return out, nil
}

// SaveRoute upserts the discovered path for an operation.
func (s *Store) SaveRoute(ctx context.Context, operation, path string) error {
	route := EndpointRoute{
		Operation: operation,
		Path:      path,
		CheckedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "operation"}},
			UpdateAll: true,
		}).
		Create(&route).Error
}

// ClearRoutes drops the persisted map, forcing re-discovery.
func (s *Store) ClearRoutes(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&EndpointRoute{}).Error
}

// SaveInsight stores a generated insight.
func (s *Store) SaveInsight(ctx context.Context, record *InsightRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// GetInsight returns the freshest unexpired insight for the event and
// user, or nil when none exists.
func (s *Store) GetInsight(ctx context.Context, email, eventID string) (*InsightRecord, error) {
	var record InsightRecord
	err := s.db.WithContext(ctx).
		Where("user_email = ? AND event_id = ? AND expires_at > ?", email, eventID, time.Now()).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// PurgeExpired removes stale insight rows.
func (s *Store) PurgeExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&InsightRecord{}).Error
}
