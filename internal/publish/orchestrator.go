package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blacktop/unipost/internal/logutil"
)

// Job is one publish invocation across several platforms for a single user.
type Job struct {
	UserID    string
	Platforms []Platform
	// Content holds per-platform text; DefaultContent is used for platforms
	// without an entry.
	Content        map[Platform]string
	DefaultContent string
	Media          []Media
	Webhooks       map[Platform]string
}

// ContentFor returns the text to publish on p.
func (j Job) ContentFor(p Platform) string {
	if c, ok := j.Content[p]; ok && strings.TrimSpace(c) != "" {
		return c
	}
	return j.DefaultContent
}

// Options configures an Orchestrator.
type Options struct {
	Senders  Senders
	Resolver *Resolver
	Limits   Limits
	Retry    RetryConfig
	// AttemptTimeout bounds each individual send. Zero disables it.
	AttemptTimeout time.Duration
	Sleep          Sleeper
	Now            func() time.Time
}

// Orchestrator validates, resolves and sends one Job platform by platform.
type Orchestrator struct {
	senders        Senders
	resolver       *Resolver
	limits         Limits
	retry          RetryConfig
	attemptTimeout time.Duration
	sleep          Sleeper
	now            func() time.Time
}

// NewOrchestrator builds an Orchestrator, defaulting unset options.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		senders:        opts.Senders,
		resolver:       opts.Resolver,
		limits:         opts.Limits,
		retry:          opts.Retry.withDefaults(),
		attemptTimeout: opts.AttemptTimeout,
		sleep:          opts.Sleep,
		now:            opts.Now,
	}
	if o.resolver == nil {
		o.resolver = &Resolver{}
	}
	if o.limits == nil {
		o.limits = DefaultLimits()
	}
	if o.sleep == nil {
		o.sleep = Sleep
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// PublishToAll publishes job to each platform in order. It always returns
// exactly one Result per entry of job.Platforms.
func (o *Orchestrator) PublishToAll(ctx context.Context, job Job) []Result {
	results := make([]Result, 0, len(job.Platforms))
	for _, p := range job.Platforms {
		result := o.publishOne(ctx, job, p)
		if result.Success {
			logutil.With("platform", p, "attempts", result.Attempts).Infof("published")
		} else {
			logutil.With("platform", p, "kind", result.Kind, "attempts", result.Attempts).Warnf("publish failed: %s", result.Error)
		}
		results = append(results, result)
	}
	return results
}

func (o *Orchestrator) publishOne(ctx context.Context, job Job, p Platform) Result {
	content := job.ContentFor(p)
	if err := o.limits.Validate(p, content, job.Media); err != nil {
		return o.failure(p, err, 0)
	}

	sender := o.senders.lookup(p)
	if sender == nil {
		return o.failure(p, Errorf(p, KindUnknown, "no sender configured"), 0)
	}

	cred, err := o.resolver.Resolve(ctx, job.UserID, p, job.Webhooks[p])
	if err != nil {
		return o.failure(p, err, 0)
	}

	req := Request{
		Platform:   p,
		Content:    content,
		Media:      job.Media,
		Credential: cred,
	}
	attempt := WithRetry(ctx, o.retry, o.sleep, func(ctx context.Context) (Receipt, error) {
		if o.attemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
			defer cancel()
		}
		return sender.Send(ctx, req)
	})
	if attempt.Err != nil {
		return o.failure(p, attempt.Err, attempt.Attempts)
	}

	return Result{
		Platform:  p,
		Success:   true,
		PostID:    attempt.Receipt.PostID,
		URL:       attempt.Receipt.URL,
		Attempts:  attempt.Attempts,
		Timestamp: o.now(),
	}
}

func (o *Orchestrator) failure(p Platform, err error, attempts int) Result {
	msg := err.Error()
	var pe *Error
	if errors.As(err, &pe) {
		switch {
		case pe.Message != "":
			msg = pe.Message
		case pe.Err != nil:
			msg = pe.Err.Error()
		}
	}
	return Result{
		Platform:  p,
		Success:   false,
		Error:     msg,
		Kind:      KindOf(err),
		Attempts:  attempts,
		Timestamp: o.now(),
	}
}
