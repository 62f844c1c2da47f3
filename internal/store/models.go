package store

import (
	"time"

	"gorm.io/gorm"
)

// CredentialRecord is a user's primary credential for one platform.
type CredentialRecord struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"size:64;not null;uniqueIndex:idx_credential_user_platform" json:"user_id"`
	Platform  string            `gorm:"size:32;not null;uniqueIndex:idx_credential_user_platform" json:"platform"`
	Type      string            `gorm:"size:16;not null" json:"type"`
	Fields    map[string]string `gorm:"serializer:json;type:text" json:"-"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CredentialRecord) TableName() string { return "credentials" }

// OAuthToken is the legacy token table consulted when no credential record exists.
type OAuthToken struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         string     `gorm:"size:64;not null;uniqueIndex:idx_token_user_platform" json:"user_id"`
	Platform       string     `gorm:"size:32;not null;uniqueIndex:idx_token_user_platform" json:"platform"`
	AccessToken    string     `gorm:"type:text;not null" json:"-"`
	ProviderUserID string     `gorm:"size:128" json:"provider_user_id"`
	ExpiresAt      *time.Time `json:"expires_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OAuthToken) TableName() string { return "oauth_tokens" }

// PublishRecord is one per-platform outcome of a publish invocation.
type PublishRecord struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	BatchID     string         `gorm:"type:varchar(36);index" json:"batch_id"`
	UserID      string         `gorm:"size:64;not null;index:idx_publish_user_time" json:"user_id"`
	Platform    string         `gorm:"size:32;not null" json:"platform"`
	Success     bool           `json:"success"`
	ErrorKind   string         `gorm:"size:32" json:"error_kind,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	PostID      string         `gorm:"size:256" json:"post_id,omitempty"`
	URL         string         `gorm:"size:512" json:"url,omitempty"`
	Attempts    int            `json:"attempts"`
	PublishedAt time.Time      `gorm:"index:idx_publish_user_time" json:"published_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (PublishRecord) TableName() string { return "publish_records" }
