package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
)

const maxErrorBody = 4 << 10

var statusRules = []publish.StatusRule{
	{Status: http.StatusUnauthorized, Kind: publish.KindInvalidWebhook},
	{Status: http.StatusForbidden, Kind: publish.KindInvalidWebhook},
	{Status: http.StatusNotFound, Kind: publish.KindInvalidWebhook},
	{Status: http.StatusRequestEntityTooLarge, Kind: publish.KindInvalidMedia},
	{Status: http.StatusBadRequest, Contains: "BASE_TYPE_MAX_LENGTH", Kind: publish.KindContentTooLong},
	{Status: http.StatusBadRequest, Contains: "attachment", Kind: publish.KindInvalidMedia},
	{Status: http.StatusBadRequest, Contains: "files", Kind: publish.KindInvalidMedia},
}

// Config tunes the webhook client.
type Config struct {
	Username string
	Timeout  time.Duration
}

// Sender executes Discord incoming webhooks.
type Sender struct {
	username string
	client   *http.Client
}

var _ publish.Sender = (*Sender)(nil)

// New constructs a Discord webhook sender.
func New(cfg Config) *Sender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{username: cfg.Username, client: &http.Client{Timeout: timeout}}
}

// Platform identifies the destination.
func (s *Sender) Platform() publish.Platform { return publish.Discord }

type payload struct {
	Content     string       `json:"content"`
	Username    string       `json:"username,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

type message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// Send posts the content to the webhook, attaching media as multipart files.
func (s *Sender) Send(ctx context.Context, req publish.Request) (publish.Receipt, error) {
	hook, ok := req.Credential.(publish.WebhookCredential)
	if !ok || hook.URL == "" {
		return publish.Receipt{}, publish.Errorf(publish.Discord, publish.KindInvalidWebhook, "webhook URL is required")
	}
	endpoint, err := url.Parse(hook.URL)
	if err != nil {
		return publish.Receipt{}, publish.Errorf(publish.Discord, publish.KindInvalidWebhook, "parse webhook URL: %v", err)
	}
	q := endpoint.Query()
	q.Set("wait", "true")
	endpoint.RawQuery = q.Encode()

	body, contentType, err := s.encode(req)
	if err != nil {
		return publish.Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return publish.Receipt{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	logutil.Debugf("executing discord webhook: host=%s files=%d", endpoint.Host, len(req.Media))
	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return publish.Receipt{}, &publish.Error{Platform: publish.Discord, Kind: publish.KindPlatformError, Message: "webhook timed out", Err: err}
		}
		return publish.Receipt{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return publish.Receipt{}, &publish.Error{
			Platform: publish.Discord,
			Kind:     publish.Classify(statusRules, resp.StatusCode, string(detail)),
			Message:  fmt.Sprintf("discord error: %s", resp.Status),
		}
	}

	var msg message
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil && !errors.Is(err, io.EOF) {
			return publish.Receipt{}, fmt.Errorf("decode message: %w", err)
		}
	}
	return publish.Receipt{PostID: msg.ID}, nil
}

func (s *Sender) encode(req publish.Request) (io.Reader, string, error) {
	p := payload{Content: req.Content, Username: s.username}
	if len(req.Media) == 0 {
		buf, err := json.Marshal(p)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(buf), "application/json", nil
	}

	for i, m := range req.Media {
		p.Attachments = append(p.Attachments, attachment{ID: i, Filename: filepath.Base(m.Path), Description: m.AltText})
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	meta, err := json.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("payload_json", string(meta)); err != nil {
		return nil, "", err
	}
	for i, m := range req.Media {
		data, err := os.ReadFile(m.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, "", publish.Errorf(publish.Discord, publish.KindInvalidMedia, "image %q not found", m.Path)
			}
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		part, err := w.CreateFormFile(fmt.Sprintf("files[%d]", i), filepath.Base(m.Path))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
