package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/blacktop/unipost/internal/publish"
	"github.com/michimani/gotwi"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRules(t *testing.T) {
	tests := []struct {
		status int
		detail string
		want   publish.ErrorKind
	}{
		{http.StatusUnauthorized, "Unauthorized", publish.KindAuth},
		{http.StatusForbidden, "You are not allowed to create a Tweet with duplicate content.", publish.KindDuplicate},
		{http.StatusForbidden, "Forbidden", publish.KindAuth},
		{http.StatusBadRequest, "Your Tweet text is too long.", publish.KindContentTooLong},
		{http.StatusBadRequest, "Your media IDs are invalid.", publish.KindInvalidMedia},
		{http.StatusTooManyRequests, "Too Many Requests", publish.KindPlatformError},
		{http.StatusServiceUnavailable, "Service Unavailable", publish.KindPlatformError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, publish.Classify(statusRules, tt.status, tt.detail), tt.detail)
	}
}

func TestAccessToken(t *testing.T) {
	tok, err := accessToken(publish.OAuthCredential{AccessToken: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = accessToken(publish.APIKeyCredential{Token: "key"})
	require.NoError(t, err)
	assert.Equal(t, "key", tok)

	_, err = accessToken(publish.WebhookCredential{URL: "https://example.com"})
	assert.Equal(t, publish.KindAuth, publish.KindOf(err))
}

func TestResolveMediaType(t *testing.T) {
	mt, cat, err := resolveMediaType("shot.PNG", nil)
	require.NoError(t, err)
	assert.Equal(t, uploadtypes.MediaTypePNG, mt)
	assert.Equal(t, uploadtypes.MediaCategoryTweetImage, cat)

	mt, cat, err = resolveMediaType("anim", []byte("GIF89a"))
	require.NoError(t, err)
	assert.Equal(t, uploadtypes.MediaTypeGIF, mt)
	assert.Equal(t, uploadtypes.MediaCategoryTweetGIF, cat)

	_, _, err = resolveMediaType("notes.txt", []byte("plain text"))
	assert.Equal(t, publish.KindInvalidMedia, publish.KindOf(err))
}

func TestPartialError(t *testing.T) {
	assert.NoError(t, partialError(nil))

	detail := "media too large"
	title := "Invalid Request"
	err := partialError([]resources.PartialError{{Detail: &detail}, {Title: &title}})
	require.Error(t, err)
	assert.Equal(t, "media too large; Invalid Request", err.Error())
}

func apiError(status int, title, detail string, messages ...string) *gotwi.GotwiError {
	e := &gotwi.GotwiError{OnAPI: true}
	e.StatusCode = status
	e.Title = title
	e.Detail = detail
	for _, m := range messages {
		e.APIErrors = append(e.APIErrors, resources.ErrorInformation{Message: m})
	}
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       publish.ErrorKind
		wantDetail string
	}{
		{"duplicate", apiError(http.StatusForbidden, "Forbidden", "You are not allowed to create a Tweet with duplicate content."), publish.KindDuplicate, "duplicate content"},
		{"forbidden", apiError(http.StatusForbidden, "Forbidden", "You are not permitted to perform this action."), publish.KindAuth, "not permitted"},
		{"unauthorized", apiError(http.StatusUnauthorized, "Unauthorized", ""), publish.KindAuth, "Unauthorized"},
		{"too long", apiError(http.StatusBadRequest, "Invalid Request", "", "Your Tweet text is too long."), publish.KindContentTooLong, "too long"},
		{"bad media", apiError(http.StatusBadRequest, "Invalid Request", "", "Your media IDs are invalid."), publish.KindInvalidMedia, "media IDs"},
		{"rate limited", apiError(http.StatusTooManyRequests, "Too Many Requests", ""), publish.KindPlatformError, "Too Many Requests"},
		{"unavailable", apiError(http.StatusServiceUnavailable, "Service Unavailable", ""), publish.KindPlatformError, "Service Unavailable"},
		{"unmatched", apiError(http.StatusTeapot, "Teapot", ""), publish.KindUnknown, "Teapot"},
		{"wrapped api error", fmt.Errorf("call: %w", apiError(http.StatusUnauthorized, "Unauthorized", "")), publish.KindAuth, "Unauthorized"},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), publish.KindPlatformError, "deadline exceeded"},
		{"canceled", context.Canceled, publish.KindPlatformError, "canceled"},
		{"transport", errors.New("connection reset by peer"), publish.KindUnknown, "connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("post tweet", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.want, publish.KindOf(err))
			assert.Contains(t, err.Error(), "post tweet")
			assert.Contains(t, err.Error(), tt.wantDetail)
			assert.ErrorIs(t, err, tt.err)

			var pe *publish.Error
			if errors.As(err, &pe) {
				assert.Equal(t, publish.Twitter, pe.Platform)
			}
		})
	}
}
