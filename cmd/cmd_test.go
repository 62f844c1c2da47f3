package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/unipost/internal/publish"
)

func TestNormalizeTargets(t *testing.T) {
	enabled := []publish.Platform{publish.Twitter, publish.Mastodon, publish.Bluesky}

	got, err := normalizeTargets(nil, enabled)
	require.NoError(t, err)
	assert.Equal(t, enabled, got)

	got, err = normalizeTargets([]string{"Mastodon", "x", "twitter", " "}, enabled)
	require.NoError(t, err)
	assert.Equal(t, []publish.Platform{publish.Mastodon, publish.Twitter}, got)

	got, err = normalizeTargets([]string{"bluesky", "all"}, enabled)
	require.NoError(t, err)
	assert.Equal(t, enabled, got)

	_, err = normalizeTargets([]string{"myspace"}, enabled)
	assert.EqualError(t, err, `unsupported target "myspace"`)

	_, err = normalizeTargets([]string{""}, enabled)
	assert.Error(t, err)

	_, err = normalizeTargets(nil, nil)
	assert.Error(t, err)
}

func TestResolveMessage(t *testing.T) {
	t.Cleanup(func() { messageFlag = "" })
	cmd := &cobra.Command{}

	messageFlag = "  from flag "
	msg, err := resolveMessage(cmd, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "from flag", msg)

	_, err = resolveMessage(cmd, []string{"arg"}, false)
	assert.Error(t, err)

	messageFlag = ""
	msg, err = resolveMessage(cmd, []string{"hello", "world"}, false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", msg)

	cmd.SetIn(strings.NewReader("piped message\n"))
	msg, err = resolveMessage(cmd, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "piped message", msg)

	cmd.SetIn(strings.NewReader(""))
	_, err = resolveMessage(cmd, nil, false)
	assert.EqualError(t, err, "message is required")

	cmd.SetIn(strings.NewReader(""))
	msg, err = resolveMessage(cmd, nil, true)
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestBuildJob(t *testing.T) {
	job, err := buildJob("u1", []publish.Platform{publish.Twitter, publish.Discord}, "hi",
		map[string]string{"x": " short ", "discord": "long"},
		[]string{"a.png", "b.png"}, []string{"first"},
		" https://discord.com/api/webhooks/1/abc ")
	require.NoError(t, err)

	assert.Equal(t, "u1", job.UserID)
	assert.Equal(t, "short", job.ContentFor(publish.Twitter))
	assert.Equal(t, "long", job.ContentFor(publish.Discord))
	assert.Equal(t, []publish.Media{{Path: "a.png", AltText: "first"}, {Path: "b.png", AltText: defaultAltText}}, job.Media)
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", job.Webhooks[publish.Discord])

	_, err = buildJob("u1", nil, "hi", map[string]string{"friendster": "x"}, nil, nil, "")
	assert.Error(t, err)

	_, err = buildJob("u1", nil, "hi", nil, nil, []string{"orphan"}, "")
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	var out bytes.Buffer
	job := publish.Job{
		Platforms:      []publish.Platform{publish.Twitter, publish.Mastodon},
		Content:        map[publish.Platform]string{publish.Twitter: strings.Repeat("a", 300)},
		DefaultContent: "hello",
	}
	err := simulate(&out, job, publish.DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, publish.KindContentTooLong, publish.KindOf(err))
	assert.Contains(t, out.String(), "[dry-run] twitter would be rejected")
	assert.Contains(t, out.String(), `[dry-run] would post to mastodon: "hello"`)
}

func TestStoredCredential(t *testing.T) {
	t.Cleanup(func() { credRefresh, credIdentifier, credEndpoint = "", "", "" })
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	credEndpoint = "https://fosstodon.org/"
	sc, err := storedCredential(publish.CredentialOAuth, "tok", &exp)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		publish.FieldAccessToken: "tok",
		publish.FieldExpiresAt:   "2030-01-01T00:00:00Z",
		publish.FieldEndpoint:    "https://fosstodon.org",
	}, sc.Fields)

	credEndpoint, credIdentifier = "", "me.bsky.social"
	sc, err = storedCredential(publish.CredentialAPIKey, "pass", nil)
	require.NoError(t, err)
	assert.Equal(t, "me.bsky.social", sc.Fields[publish.FieldIdentifier])

	_, err = storedCredential("basic", "x", nil)
	assert.Error(t, err)
}

func TestReadSecretFromPipe(t *testing.T) {
	var prompt bytes.Buffer
	secret, err := readSecret(strings.NewReader("s3cret\nignored\n"), &prompt, "token: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
	assert.Empty(t, prompt.String())
}

func TestPrintResults(t *testing.T) {
	results := []publish.Result{
		{Platform: publish.Twitter, Success: true, URL: "https://x.com/i/web/status/1", Attempts: 2},
		{Platform: publish.Bluesky, Kind: publish.KindAuth, Error: "account not connected"},
	}
	var out bytes.Buffer
	require.NoError(t, printResults(&out, results, publish.Summarize(results), false))
	assert.Equal(t, "posted to twitter: https://x.com/i/web/status/1 (after 2 attempts)\n"+
		"failed to post to bluesky [auth]: account not connected\n"+
		"Published to 1 of 2 platforms (failed: bluesky)\n", out.String())

	out.Reset()
	require.NoError(t, printResults(&out, results, publish.Summarize(results), true))
	var decoded struct {
		Results []publish.Result `json:"results"`
		Summary string           `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Len(t, decoded.Results, 2)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPublishAndHistoryEndToEnd(t *testing.T) {
	var posted []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		posted = append(posted, body.Content)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"987","channel_id":"1"}`))
	}))
	defer hook.Close()

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
database:
  dsn: `+filepath.Join(dir, "e2e.db")+`
retry:
  initial_delay: 1ms
  max_delay: 1ms
platforms:
  twitter:
    enabled: false
  mastodon:
    enabled: false
  bluesky:
    enabled: false
`), 0o600))

	out, err := run(t, "--config", cfgFile, "--user", "tester", "publish", "ship", "it",
		"--webhook", hook.URL+"/api/webhooks/1/abc")
	require.NoError(t, err, out)
	assert.Contains(t, out, "posted to discord")
	assert.Contains(t, out, "Published to all 1 platform")
	assert.Equal(t, []string{"ship it"}, posted)

	out, err = run(t, "--config", cfgFile, "--user", "tester", "publish", "again", "--target", "twitter")
	require.Error(t, err)
	assert.Contains(t, out, "no sender configured")

	out, err = run(t, "--config", cfgFile, "--user", "tester", "history", "--json")
	require.NoError(t, err, out)
	var recs []struct {
		Platform string `json:"platform"`
		Success  bool   `json:"success"`
		PostID   string `json:"post_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "twitter", recs[0].Platform)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "987", recs[1].PostID)
}

func TestCredentialsCommands(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("database:\n  dsn: "+filepath.Join(dir, "creds.db")+"\n"), 0o600))

	out, err := run(t, "--config", cfgFile, "-u", "tester", "credentials", "set", "mastodon", "--token", "abc", "--endpoint", "https://fosstodon.org")
	require.NoError(t, err, out)
	assert.Contains(t, out, "stored mastodon oauth credential for tester")

	out, err = run(t, "--config", cfgFile, "-u", "tester", "credentials", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "mastodon")
	assert.Contains(t, out, "https://fosstodon.org")
	assert.NotContains(t, out, "abc")

	_, err = run(t, "--config", cfgFile, "-u", "tester", "credentials", "set", "discord", "--token", "x")
	assert.Error(t, err)

	out, err = run(t, "--config", cfgFile, "-u", "tester", "credentials", "delete", "mastodon")
	require.NoError(t, err, out)

	out, err = run(t, "--config", cfgFile, "-u", "tester", "credentials", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no credentials stored for tester")
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := run(t, "--config", "/does/not/exist.yaml", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "unipost dev"))
}
