package publish

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Credential is the secret material a Sender authenticates with. It is one of
// OAuthCredential, APIKeyCredential or WebhookCredential.
type Credential interface {
	credential()
}

// OAuthCredential is a user-context OAuth grant.
type OAuthCredential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	// Endpoint is the base URL of a self-hosted instance (Mastodon server,
	// Bluesky PDS) when the account does not live on the default one.
	Endpoint string
}

// APIKeyCredential is a long lived key or app password.
type APIKeyCredential struct {
	Token string
	// Identifier names the account the key belongs to, for platforms that
	// exchange the key for a session.
	Identifier string
	Endpoint   string
}

// WebhookCredential is a pre-shared webhook URL.
type WebhookCredential struct {
	URL string
}

func (OAuthCredential) credential()   {}
func (APIKeyCredential) credential()  {}
func (WebhookCredential) credential() {}

// CredentialType discriminates stored credential records.
type CredentialType string

const (
	CredentialOAuth  CredentialType = "oauth"
	CredentialAPIKey CredentialType = "api_key"
)

// Field names read from a StoredCredential.
const (
	FieldAccessToken  = "access_token"
	FieldRefreshToken = "refresh_token"
	FieldExpiresAt    = "expires_at"
	FieldEndpoint     = "endpoint"
	FieldAPIKey       = "api_key"
	FieldIdentifier   = "identifier"
)

// StoredCredential is a record from the primary credential store.
type StoredCredential struct {
	Type   CredentialType    `json:"type"`
	Fields map[string]string `json:"fields"`
}

// LegacyToken is a record from the older OAuth token table.
type LegacyToken struct {
	AccessToken    string
	ProviderUserID string
	ExpiresAt      *time.Time
}

// CredentialStore looks up the primary credential for a user and platform.
// A missing record is reported as (nil, nil).
type CredentialStore interface {
	LookupCredential(ctx context.Context, userID string, p Platform) (*StoredCredential, error)
}

// LegacyTokenStore looks up a legacy OAuth token. A missing record is
// reported as (nil, nil).
type LegacyTokenStore interface {
	LookupToken(ctx context.Context, userID string, p Platform) (*LegacyToken, error)
}

// Resolver resolves the credential a Sender needs for one user and platform.
type Resolver struct {
	Primary CredentialStore
	Legacy  LegacyTokenStore
	Now     func() time.Time
}

// Resolve returns the credential for p. Webhook platforms take the caller's
// webhook URL instead of consulting the stores.
func (r *Resolver) Resolve(ctx context.Context, userID string, p Platform, webhookURL string) (Credential, error) {
	if p.UsesWebhook() {
		return resolveWebhook(p, webhookURL)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	expired := false
	if r.Primary != nil {
		rec, err := r.Primary.LookupCredential(ctx, userID, p)
		if err != nil {
			return nil, &Error{Platform: p, Kind: KindUnknown, Message: "credential lookup failed", Err: err}
		}
		if cred, ok, stale := fromStored(rec, now()); ok {
			return cred, nil
		} else if stale {
			expired = true
		}
	}

	if r.Legacy != nil {
		tok, err := r.Legacy.LookupToken(ctx, userID, p)
		if err != nil {
			return nil, &Error{Platform: p, Kind: KindUnknown, Message: "legacy token lookup failed", Err: err}
		}
		if tok != nil && strings.TrimSpace(tok.AccessToken) != "" {
			if tok.ExpiresAt == nil || tok.ExpiresAt.After(now()) {
				cred := OAuthCredential{AccessToken: tok.AccessToken}
				if tok.ExpiresAt != nil {
					cred.Expiry = *tok.ExpiresAt
				}
				return cred, nil
			}
			expired = true
		}
	}

	if expired {
		return nil, Errorf(p, KindAuth, "access token expired, reconnect the account")
	}
	return nil, Errorf(p, KindAuth, "account not connected")
}

// fromStored converts a stored record into its tagged variant. ok is false
// when the record is absent or lacks a usable token; stale marks an expired
// OAuth grant.
func fromStored(rec *StoredCredential, now time.Time) (cred Credential, ok, stale bool) {
	if rec == nil {
		return nil, false, false
	}
	get := func(key string) string { return strings.TrimSpace(rec.Fields[key]) }

	switch rec.Type {
	case CredentialOAuth:
		c := OAuthCredential{
			AccessToken:  get(FieldAccessToken),
			RefreshToken: get(FieldRefreshToken),
			Endpoint:     get(FieldEndpoint),
		}
		if c.AccessToken == "" {
			return nil, false, false
		}
		if raw := get(FieldExpiresAt); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				c.Expiry = t
				if !t.After(now) {
					return nil, false, true
				}
			}
		}
		return c, true, false
	case CredentialAPIKey:
		c := APIKeyCredential{
			Token:      get(FieldAPIKey),
			Identifier: get(FieldIdentifier),
			Endpoint:   get(FieldEndpoint),
		}
		if c.Token == "" {
			return nil, false, false
		}
		return c, true, false
	}
	return nil, false, false
}

func resolveWebhook(p Platform, raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, Errorf(p, KindInvalidWebhook, "webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, Errorf(p, KindInvalidWebhook, "webhook URL %q is not a valid http(s) URL", raw)
	}
	return WebhookCredential{URL: u.String()}, nil
}
