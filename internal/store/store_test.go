package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/publish"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.LookupCredential(ctx, "u1", publish.Mastodon)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.SaveCredential(ctx, "u1", publish.Mastodon, publish.StoredCredential{
		Type:   publish.CredentialOAuth,
		Fields: map[string]string{publish.FieldAccessToken: "first", publish.FieldEndpoint: "https://fosstodon.org"},
	}))
	require.NoError(t, s.SaveCredential(ctx, "u1", publish.Mastodon, publish.StoredCredential{
		Type:   publish.CredentialOAuth,
		Fields: map[string]string{publish.FieldAccessToken: "second"},
	}))

	rec, err = s.LookupCredential(ctx, "u1", publish.Mastodon)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, publish.CredentialOAuth, rec.Type)
	assert.Equal(t, map[string]string{publish.FieldAccessToken: "second"}, rec.Fields)

	recs, err := s.ListCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, s.DeleteCredential(ctx, "u1", publish.Mastodon))
	require.NoError(t, s.DeleteCredential(ctx, "u1", publish.Mastodon))
	rec, err = s.LookupCredential(ctx, "u1", publish.Mastodon)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveCredentialRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveCredential(context.Background(), "u1", publish.Twitter, publish.StoredCredential{Type: "password"})
	assert.Error(t, err)
}

func TestLegacyToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveLegacyToken(ctx, "u1", publish.Twitter, publish.LegacyToken{
		AccessToken: "legacy", ProviderUserID: "99", ExpiresAt: &exp,
	}))

	tok, err := s.LookupToken(ctx, "u1", publish.Twitter)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "legacy", tok.AccessToken)
	assert.Equal(t, "99", tok.ProviderUserID)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, exp.Equal(*tok.ExpiresAt))

	tok, err = s.LookupToken(ctx, "u2", publish.Twitter)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestStoreBacksResolver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveLegacyToken(ctx, "u1", publish.Bluesky, publish.LegacyToken{AccessToken: "legacy"}))

	r := &publish.Resolver{Primary: s, Legacy: s}
	cred, err := r.Resolve(ctx, "u1", publish.Bluesky, "")
	require.NoError(t, err)
	assert.Equal(t, publish.OAuthCredential{AccessToken: "legacy"}, cred)

	_, err = r.Resolve(ctx, "u1", publish.Twitter, "")
	assert.Equal(t, publish.KindAuth, publish.KindOf(err))
}

func TestRecordResultsAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch, err := s.RecordResults(ctx, "u1", []publish.Result{
		{Platform: publish.Twitter, Success: true, PostID: "1", Attempts: 1, Timestamp: base},
		{Platform: publish.Mastodon, Success: false, Kind: publish.KindAuth, Error: "account not connected", Timestamp: base.Add(time.Second)},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, batch)

	_, err = s.RecordResults(ctx, "u2", []publish.Result{{Platform: publish.Twitter, Success: true, Timestamp: base}})
	require.NoError(t, err)

	recs, err := s.History(ctx, "u1", HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "mastodon", recs[0].Platform)
	assert.Equal(t, "twitter", recs[1].Platform)
	assert.Equal(t, batch, recs[0].BatchID)
	assert.Equal(t, "auth", recs[0].ErrorKind)

	recs, err = s.History(ctx, "u1", HistoryFilter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)

	recs, err = s.History(ctx, "u1", HistoryFilter{Platform: publish.Twitter, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].PostID)
}

func TestRecordResultsEmpty(t *testing.T) {
	s := newTestStore(t)
	batch, err := s.RecordResults(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, batch)
}
