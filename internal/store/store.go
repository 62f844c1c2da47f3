package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/publish"
)

// Store persists credentials, legacy tokens and publish history.
type Store struct {
	db *gorm.DB
}

var (
	_ publish.CredentialStore  = (*Store)(nil)
	_ publish.LegacyTokenStore = (*Store)(nil)
)

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&CredentialRecord{}, &OAuthToken{}, &PublishRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LookupCredential implements publish.CredentialStore.
func (s *Store) LookupCredential(ctx context.Context, userID string, p publish.Platform) (*publish.StoredCredential, error) {
	var rec CredentialRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, string(p)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	return &publish.StoredCredential{Type: publish.CredentialType(rec.Type), Fields: rec.Fields}, nil
}

// LookupToken implements publish.LegacyTokenStore.
func (s *Store) LookupToken(ctx context.Context, userID string, p publish.Platform) (*publish.LegacyToken, error) {
	var tok OAuthToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, string(p)).
		First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup legacy token: %w", err)
	}
	return &publish.LegacyToken{
		AccessToken:    tok.AccessToken,
		ProviderUserID: tok.ProviderUserID,
		ExpiresAt:      tok.ExpiresAt,
	}, nil
}

// SaveCredential inserts or replaces the credential for (user, platform).
func (s *Store) SaveCredential(ctx context.Context, userID string, p publish.Platform, cred publish.StoredCredential) error {
	switch cred.Type {
	case publish.CredentialOAuth, publish.CredentialAPIKey:
	default:
		return fmt.Errorf("unsupported credential type %q", cred.Type)
	}
	rec := &CredentialRecord{
		UserID:   userID,
		Platform: string(p),
		Type:     string(cred.Type),
		Fields:   cred.Fields,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "fields", "updated_at"}),
	}).Create(rec).Error
}

// DeleteCredential removes a credential; deleting a missing record is not an error.
func (s *Store) DeleteCredential(ctx context.Context, userID string, p publish.Platform) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, string(p)).
		Delete(&CredentialRecord{}).Error
}

// ListCredentials returns the user's credential records ordered by platform.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]CredentialRecord, error) {
	var recs []CredentialRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("platform").
		Find(&recs).Error
	return recs, err
}

// SaveLegacyToken upserts a legacy OAuth token.
func (s *Store) SaveLegacyToken(ctx context.Context, userID string, p publish.Platform, tok publish.LegacyToken) error {
	rec := &OAuthToken{
		UserID:         userID,
		Platform:       string(p),
		AccessToken:    tok.AccessToken,
		ProviderUserID: tok.ProviderUserID,
		ExpiresAt:      tok.ExpiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "provider_user_id", "expires_at", "updated_at"}),
	}).Create(rec).Error
}

// RecordResults stores one history row per result under a shared batch id,
// which is returned.
func (s *Store) RecordResults(ctx context.Context, userID string, results []publish.Result) (string, error) {
	batchID := uuid.New().String()
	if len(results) == 0 {
		return batchID, nil
	}
	rows := make([]PublishRecord, 0, len(results))
	for _, r := range results {
		published := r.Timestamp
		if published.IsZero() {
			published = time.Now()
		}
		rows = append(rows, PublishRecord{
			ID:          uuid.New().String(),
			BatchID:     batchID,
			UserID:      userID,
			Platform:    string(r.Platform),
			Success:     r.Success,
			ErrorKind:   string(r.Kind),
			Error:       r.Error,
			PostID:      r.PostID,
			URL:         r.URL,
			Attempts:    r.Attempts,
			PublishedAt: published,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return "", fmt.Errorf("record results: %w", err)
	}
	return batchID, nil
}

// HistoryFilter narrows History.
type HistoryFilter struct {
	Platform   publish.Platform
	FailedOnly bool
	Limit      int
}

// History returns the user's most recent publish records first.
func (s *Store) History(ctx context.Context, userID string, f HistoryFilter) ([]PublishRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if f.Platform != "" {
		q = q.Where("platform = ?", strings.ToLower(string(f.Platform)))
	}
	if f.FailedOnly {
		q = q.Where("success = ?", false)
	}
	var recs []PublishRecord
	err := q.Order("published_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
