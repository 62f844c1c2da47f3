package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
	mastodonapi "github.com/mattn/go-mastodon"
)

const defaultServer = "https://mastodon.social"

var statusRules = []publish.StatusRule{
	{Status: http.StatusUnauthorized, Kind: publish.KindAuth},
	{Status: http.StatusForbidden, Kind: publish.KindAuth},
	{Status: http.StatusRequestEntityTooLarge, Kind: publish.KindInvalidMedia},
	{Status: http.StatusUnprocessableEntity, Contains: "character limit", Kind: publish.KindContentTooLong},
	{Status: http.StatusUnprocessableEntity, Contains: "media", Kind: publish.KindInvalidMedia},
	{Status: http.StatusUnprocessableEntity, Contains: "attachment", Kind: publish.KindInvalidMedia},
	{Status: http.StatusUnprocessableEntity, Contains: "duplicate", Kind: publish.KindDuplicate},
}

// Config contains the defaults used to reach a Mastodon server.
type Config struct {
	// Server is used when the credential does not name its own instance.
	Server  string
	Timeout time.Duration
}

// Sender posts statuses to the user's Mastodon instance.
type Sender struct {
	server  string
	timeout time.Duration
}

var _ publish.Sender = (*Sender)(nil)

// New constructs a Mastodon sender.
func New(cfg Config) *Sender {
	server := strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	if server == "" {
		server = defaultServer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{server: server, timeout: timeout}
}

// Platform identifies the destination.
func (s *Sender) Platform() publish.Platform { return publish.Mastodon }

// Send publishes a new toot.
func (s *Sender) Send(ctx context.Context, req publish.Request) (publish.Receipt, error) {
	client, err := s.client(req.Credential)
	if err != nil {
		return publish.Receipt{}, err
	}

	var mediaIDs []mastodonapi.ID
	for _, m := range req.Media {
		attachment, err := uploadMedia(ctx, client, m)
		if err != nil {
			return publish.Receipt{}, err
		}
		mediaIDs = append(mediaIDs, attachment.ID)
	}

	logutil.Debugf("posting status: server=%s media_count=%d", client.Config.Server, len(mediaIDs))
	status, err := client.PostStatus(ctx, &mastodonapi.Toot{
		Status:   req.Content,
		MediaIDs: mediaIDs,
	})
	if err != nil {
		return publish.Receipt{}, classify("post status", err)
	}

	return publish.Receipt{PostID: string(status.ID), URL: status.URL}, nil
}

func (s *Sender) client(cred publish.Credential) (*mastodonapi.Client, error) {
	var token, server string
	switch c := cred.(type) {
	case publish.OAuthCredential:
		token, server = c.AccessToken, c.Endpoint
	case publish.APIKeyCredential:
		token, server = c.Token, c.Endpoint
	default:
		return nil, publish.Errorf(publish.Mastodon, publish.KindAuth, "no access token available")
	}
	if server = strings.TrimRight(strings.TrimSpace(server), "/"); server == "" {
		server = s.server
	}

	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:      server,
		AccessToken: token,
	})
	client.Timeout = s.timeout
	return client, nil
}

func uploadMedia(ctx context.Context, client *mastodonapi.Client, m publish.Media) (*mastodonapi.Attachment, error) {
	file, err := os.Open(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, publish.Errorf(publish.Mastodon, publish.KindInvalidMedia, "image %q not found", m.Path)
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	attachment, err := client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        file,
		Description: m.AltText,
	})
	if err != nil {
		return nil, classify("upload media", err)
	}
	return attachment, nil
}

func classify(step string, err error) error {
	var apiErr *mastodonapi.APIError
	if errors.As(err, &apiErr) {
		return &publish.Error{
			Platform: publish.Mastodon,
			Kind:     publish.Classify(statusRules, apiErr.StatusCode, apiErr.Message),
			Message:  fmt.Sprintf("%s: %s", step, apiErr.Message),
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &publish.Error{Platform: publish.Mastodon, Kind: publish.KindPlatformError, Message: step + ": timed out", Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}
