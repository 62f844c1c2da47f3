package publish

import (
	"context"
	"time"
)

// Media references a local file attached to a post.
type Media struct {
	Path    string `json:"path"`
	AltText string `json:"alt_text,omitempty"`
}

// Request is the fully resolved payload handed to a single Sender call.
type Request struct {
	Platform   Platform
	Content    string
	Media      []Media
	Credential Credential
}

// Receipt describes what a destination reported for a successful post.
type Receipt struct {
	PostID string
	URL    string
}

// Result is the outcome for one requested platform.
type Result struct {
	Platform  Platform  `json:"platform"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Kind      ErrorKind `json:"error_kind,omitempty"`
	PostID    string    `json:"post_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender publishes to exactly one destination. Implementations perform a single
// outbound call per Send and never retry on their own.
type Sender interface {
	Platform() Platform
	Send(ctx context.Context, req Request) (Receipt, error)
}

// Senders binds each Platform to its implementation.
type Senders struct {
	Twitter  Sender
	Mastodon Sender
	Bluesky  Sender
	Discord  Sender
}

func (s Senders) lookup(p Platform) Sender {
	switch p {
	case Twitter:
		return s.Twitter
	case Mastodon:
		return s.Mastodon
	case Bluesky:
		return s.Bluesky
	case Discord:
		return s.Discord
	}
	return nil
}
