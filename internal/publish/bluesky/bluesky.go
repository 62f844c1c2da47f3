package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	defaultPDSURL  = "https://bsky.social"
	postCollection = "app.bsky.feed.post"
	userAgent      = "unipost/1"
)

var statusRules = []publish.StatusRule{
	{Status: http.StatusUnauthorized, Kind: publish.KindAuth},
	{Status: http.StatusBadRequest, Contains: "ExpiredToken", Kind: publish.KindAuth},
	{Status: http.StatusBadRequest, Contains: "InvalidToken", Kind: publish.KindAuth},
	{Status: http.StatusBadRequest, Contains: "AuthenticationRequired", Kind: publish.KindAuth},
	{Status: http.StatusBadRequest, Contains: "BlobTooLarge", Kind: publish.KindInvalidMedia},
	{Status: http.StatusBadRequest, Contains: "grapheme", Kind: publish.KindContentTooLong},
	{Status: http.StatusBadRequest, Contains: "too long", Kind: publish.KindContentTooLong},
	{Status: http.StatusRequestEntityTooLarge, Kind: publish.KindInvalidMedia},
}

// Config holds the defaults used before the credential's own endpoint.
type Config struct {
	PDSURL  string
	Timeout time.Duration
}

// Sender implements publish.Sender for Bluesky.
type Sender struct {
	pdsURL     string
	httpClient *http.Client
}

var _ publish.Sender = (*Sender)(nil)

// New constructs a Bluesky sender.
func New(cfg Config) *Sender {
	pds := strings.TrimRight(strings.TrimSpace(cfg.PDSURL), "/")
	if pds == "" {
		pds = defaultPDSURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{pdsURL: pds, httpClient: &http.Client{Timeout: timeout}}
}

// Platform identifies the destination.
func (s *Sender) Platform() publish.Platform { return publish.Bluesky }

// Send creates a new Bluesky post with optional image embeds.
func (s *Sender) Send(ctx context.Context, req publish.Request) (publish.Receipt, error) {
	client, err := s.login(ctx, req.Credential)
	if err != nil {
		return publish.Receipt{}, err
	}

	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      req.Content,
	}

	if len(req.Media) > 0 {
		images := make([]*bsky.EmbedImages_Image, 0, len(req.Media))
		for _, m := range req.Media {
			blob, err := uploadImage(ctx, client, m.Path)
			if err != nil {
				return publish.Receipt{}, err
			}
			images = append(images, &bsky.EmbedImages_Image{Alt: m.AltText, Image: blob})
		}
		post.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{Images: images},
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return publish.Receipt{}, classify("create record", err)
	}

	return publish.Receipt{PostID: out.Uri, URL: postURL(client.Auth.Handle, out.Uri)}, nil
}

// login builds an authenticated XRPC client. OAuth credentials carry an access
// JWT whose session is looked up; API keys are app passwords exchanged for a
// fresh session.
func (s *Sender) login(ctx context.Context, cred publish.Credential) (*xrpc.Client, error) {
	ua := userAgent
	client := &xrpc.Client{Client: s.httpClient, Host: s.pdsURL, UserAgent: &ua}

	switch c := cred.(type) {
	case publish.OAuthCredential:
		if c.Endpoint != "" {
			client.Host = strings.TrimRight(c.Endpoint, "/")
		}
		client.Auth = &xrpc.AuthInfo{AccessJwt: c.AccessToken, RefreshJwt: c.RefreshToken}
		session, err := atproto.ServerGetSession(ctx, client)
		if err != nil {
			return nil, classify("get session", err)
		}
		client.Auth.Did = session.Did
		client.Auth.Handle = session.Handle
	case publish.APIKeyCredential:
		if c.Endpoint != "" {
			client.Host = strings.TrimRight(c.Endpoint, "/")
		}
		if c.Identifier == "" {
			return nil, publish.Errorf(publish.Bluesky, publish.KindAuth, "app password has no account identifier")
		}
		session, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
			Identifier: c.Identifier,
			Password:   c.Token,
		})
		if err != nil {
			return nil, classify("login", err)
		}
		client.Auth = &xrpc.AuthInfo{
			AccessJwt:  session.AccessJwt,
			RefreshJwt: session.RefreshJwt,
			Handle:     session.Handle,
			Did:        session.Did,
		}
	default:
		return nil, publish.Errorf(publish.Bluesky, publish.KindAuth, "no session credential available")
	}

	logutil.Debugf("bluesky session: host=%s did=%s", client.Host, client.Auth.Did)
	return client, nil
}

func uploadImage(ctx context.Context, client *xrpc.Client, path string) (*util.LexBlob, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, publish.Errorf(publish.Bluesky, publish.KindInvalidMedia, "image %q not found", path)
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, file); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	resp, err := atproto.RepoUploadBlob(ctx, client, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, classify("upload blob", err)
	}
	if resp.Blob == nil {
		return nil, publish.Errorf(publish.Bluesky, publish.KindInvalidMedia, "upload blob: empty response")
	}
	return resp.Blob, nil
}

// postURL turns at://did/app.bsky.feed.post/rkey into a bsky.app link.
func postURL(handle, uri string) string {
	idx := strings.LastIndex(uri, "/")
	if handle == "" || idx < 0 || idx == len(uri)-1 {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, uri[idx+1:])
}

func classify(step string, err error) error {
	var xerr *xrpc.Error
	if errors.As(err, &xerr) {
		detail := xerr.Error()
		var inner *xrpc.XRPCError
		if errors.As(xerr.Wrapped, &inner) {
			detail = strings.TrimSpace(inner.ErrStr + " " + inner.Message)
		}
		return &publish.Error{
			Platform: publish.Bluesky,
			Kind:     publish.Classify(statusRules, xerr.StatusCode, detail),
			Message:  step + ": " + detail,
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &publish.Error{Platform: publish.Bluesky, Kind: publish.KindPlatformError, Message: step + ": timed out", Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}
