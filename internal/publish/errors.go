package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed classification of publish failures.
type ErrorKind string

const (
	KindAuth           ErrorKind = "auth"
	KindContentTooLong ErrorKind = "content_too_long"
	KindInvalidMedia   ErrorKind = "invalid_media"
	KindInvalidWebhook ErrorKind = "invalid_webhook"
	KindDuplicate      ErrorKind = "duplicate"
	KindPlatformError  ErrorKind = "platform_error"
	KindUnknown        ErrorKind = "unknown"
)

// Terminal reports whether a failure of this kind must not be retried.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindAuth, KindContentTooLong, KindInvalidMedia, KindInvalidWebhook, KindDuplicate:
		return true
	}
	return false
}

// Error is a classified failure produced by validation, credential resolution
// or a Sender.
type Error struct {
	Platform Platform
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Platform == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Platform, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error for platform p.
func Errorf(p Platform, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Platform: p, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification of err. Deadline errors count as a
// transient platform failure; anything unclassified is unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindPlatformError
	}
	return KindUnknown
}

// StatusRule maps an HTTP status, optionally narrowed by a case-insensitive
// substring of the response detail, onto an ErrorKind.
type StatusRule struct {
	Status   int
	Contains string
	Kind     ErrorKind
}

// Classify walks rules in order and returns the first match. Status 0 in a rule
// matches any status. Unmatched 5xx and 429 responses are platform errors, all
// others unknown.
func Classify(rules []StatusRule, status int, detail string) ErrorKind {
	detail = strings.ToLower(detail)
	for _, rule := range rules {
		if rule.Status != 0 && rule.Status != status {
			continue
		}
		if rule.Contains != "" && !strings.Contains(detail, strings.ToLower(rule.Contains)) {
			continue
		}
		return rule.Kind
	}
	if status == 429 || status >= 500 {
		return KindPlatformError
	}
	return KindUnknown
}
