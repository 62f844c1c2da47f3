package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"
	tweetURLFormat   = "https://x.com/i/web/status/%s"
)

// statusRules maps X API responses onto publish error kinds.
var statusRules = []publish.StatusRule{
	{Status: http.StatusUnauthorized, Kind: publish.KindAuth},
	{Status: http.StatusForbidden, Contains: "duplicate", Kind: publish.KindDuplicate},
	{Status: http.StatusForbidden, Contains: "too long", Kind: publish.KindContentTooLong},
	{Status: http.StatusForbidden, Kind: publish.KindAuth},
	{Status: http.StatusBadRequest, Contains: "too long", Kind: publish.KindContentTooLong},
	{Status: http.StatusBadRequest, Contains: "length", Kind: publish.KindContentTooLong},
	{Status: http.StatusBadRequest, Contains: "media", Kind: publish.KindInvalidMedia},
	{Status: http.StatusTooManyRequests, Kind: publish.KindPlatformError},
}

// Config tunes the X client.
type Config struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Debug      bool
}

// Sender publishes tweets with a per-user OAuth 2.0 access token.
type Sender struct {
	httpClient *http.Client
	debug      bool
}

var _ publish.Sender = (*Sender)(nil)

// New constructs a Twitter sender.
func New(cfg Config) *Sender {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Sender{
		httpClient: httpClient,
		debug:      cfg.Debug || os.Getenv("UNIPOST_TWITTER_DEBUG") == "1",
	}
}

// Platform returns the destination identifier.
func (s *Sender) Platform() publish.Platform { return publish.Twitter }

// Send publishes the request's content (and media) to X.
func (s *Sender) Send(ctx context.Context, req publish.Request) (publish.Receipt, error) {
	token, err := accessToken(req.Credential)
	if err != nil {
		return publish.Receipt{}, err
	}

	client, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
		HTTPClient:  s.httpClient,
		AccessToken: token,
		Debug:       s.debug || logutil.Verbose(),
	})
	if err != nil {
		return publish.Receipt{}, &publish.Error{Platform: publish.Twitter, Kind: publish.KindAuth, Message: "create X client", Err: err}
	}

	var mediaIDs []string
	for _, m := range req.Media {
		logutil.Debugf("uploading media: path=%s", m.Path)
		mediaID, err := uploadMedia(ctx, client, m)
		if err != nil {
			return publish.Receipt{}, err
		}
		mediaIDs = append(mediaIDs, mediaID)
		logutil.Debugf("media uploaded: media_id=%s", mediaID)
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(req.Content),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(mediaIDs))
	out, err := managetweet.Create(ctx, client, input)
	if err != nil {
		return publish.Receipt{}, classify("post tweet", err)
	}

	receipt := publish.Receipt{}
	if out != nil && out.Data.ID != nil {
		receipt.PostID = *out.Data.ID
		receipt.URL = fmt.Sprintf(tweetURLFormat, receipt.PostID)
	}
	return receipt, nil
}

func accessToken(cred publish.Credential) (string, error) {
	switch c := cred.(type) {
	case publish.OAuthCredential:
		return c.AccessToken, nil
	case publish.APIKeyCredential:
		return c.Token, nil
	}
	return "", publish.Errorf(publish.Twitter, publish.KindAuth, "no OAuth token available")
}

func uploadMedia(ctx context.Context, client *gotwi.Client, m publish.Media) (string, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", publish.Errorf(publish.Twitter, publish.KindInvalidMedia, "image %q not found", m.Path)
		}
		return "", fmt.Errorf("read image: %w", err)
	}

	mediaType, category, err := resolveMediaType(m.Path, data)
	if err != nil {
		return "", err
	}

	logutil.Debugf("initialize upload: media_type=%s bytes=%d", mediaType, len(data))
	initRes, err := upload.Initialize(ctx, client, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    len(data),
		MediaCategory: category,
	})
	if err != nil {
		return "", classify("initialize upload", err)
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", mediaError("initialize upload", err)
	}
	mediaID := initRes.Data.MediaID

	appendIn := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(data),
		SegmentIndex: 0,
	}
	appendIn.GenerateBoundary()

	appendRes, err := upload.Append(ctx, client, appendIn)
	if err != nil {
		return "", classify("append upload", err)
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", mediaError("append upload", err)
	}

	finalizeRes, err := upload.Finalize(ctx, client, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", classify("finalize upload", err)
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return "", mediaError("finalize upload", err)
	}

	state := finalizeRes.Data.ProcessingInfo.State
	logutil.Debugf("finalize state=%s media_id=%s", state, mediaID)
	switch state {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		wait := time.Duration(finalizeRes.Data.ProcessingInfo.CheckAfterSecs) * time.Second
		if err := publish.Sleep(ctx, wait); err != nil {
			return "", err
		}
	default:
		return "", publish.Errorf(publish.Twitter, publish.KindInvalidMedia, "media processing failed: state=%s", state)
	}

	if alt := strings.TrimSpace(m.AltText); alt != "" {
		if err := setAltText(ctx, client, mediaID, alt); err != nil {
			return "", err
		}
	}
	return mediaID, nil
}

func setAltText(ctx context.Context, client *gotwi.Client, mediaID, altText string) error {
	params := &metadataParameters{mediaID: mediaID, altText: altText}
	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")
	if err := client.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return classify("set alt text", err)
	}
	logutil.Debugf("alt text set: media_id=%s", mediaID)
	return nil
}

func resolveMediaType(path string, data []byte) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case ".png":
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case ".gif":
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case ".webp":
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}

	detected := http.DetectContentType(data)
	switch {
	case strings.Contains(detected, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case strings.Contains(detected, "webp"):
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}

	return "", "", publish.Errorf(publish.Twitter, publish.KindInvalidMedia, "unsupported image type for %q", path)
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func mediaError(step string, err error) error {
	return &publish.Error{Platform: publish.Twitter, Kind: publish.KindInvalidMedia, Message: step + ": " + err.Error(), Err: err}
}

// classify converts a gotwi error into a publish.Error using statusRules.
func classify(step string, err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		detail := summarizeGotwiError(gwErr)
		return &publish.Error{
			Platform: publish.Twitter,
			Kind:     publish.Classify(statusRules, gwErr.StatusCode, detail),
			Message:  step + ": " + detail,
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &publish.Error{Platform: publish.Twitter, Kind: publish.KindPlatformError, Message: step + ": " + err.Error(), Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}
	return strings.Join(parts, "; ")
}

type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) { p.accessToken = token }

func (p *metadataParameters) AccessToken() string { return p.accessToken }

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string { return endpointBase }

func (p *metadataParameters) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string { return map[string]string{} }

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }
