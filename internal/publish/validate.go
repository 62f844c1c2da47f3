package publish

import (
	"strings"
	"unicode/utf8"
)

// Limit holds the content constraints of one destination.
type Limit struct {
	MaxChars      int
	MaxMedia      int
	MediaRequired bool
}

// Limits is the per-platform constraint table.
type Limits map[Platform]Limit

// DefaultLimits returns the published limits of each destination.
func DefaultLimits() Limits {
	return Limits{
		Twitter:  {MaxChars: 280, MaxMedia: 4},
		Mastodon: {MaxChars: 500, MaxMedia: 4},
		Bluesky:  {MaxChars: 300, MaxMedia: 4},
		Discord:  {MaxChars: 2000, MaxMedia: 10},
	}
}

// Validate checks content and media against the platform's limits without
// touching the network. A zero MaxChars or MaxMedia disables that check.
func (l Limits) Validate(p Platform, content string, media []Media) error {
	if strings.TrimSpace(content) == "" {
		return Errorf(p, KindUnknown, "content is empty")
	}

	limit := l[p]
	if n := utf8.RuneCountInString(content); limit.MaxChars > 0 && n > limit.MaxChars {
		return Errorf(p, KindContentTooLong, "content is %d characters, limit is %d", n, limit.MaxChars)
	}
	if limit.MaxMedia > 0 && len(media) > limit.MaxMedia {
		return Errorf(p, KindInvalidMedia, "%d media attached, limit is %d", len(media), limit.MaxMedia)
	}
	if limit.MediaRequired && len(media) == 0 {
		return Errorf(p, KindInvalidMedia, "at least one image is required")
	}
	for i, m := range media {
		if strings.TrimSpace(m.Path) == "" {
			return Errorf(p, KindInvalidMedia, "media item %d has no path", i+1)
		}
	}
	return nil
}
