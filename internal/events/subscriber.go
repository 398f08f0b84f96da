// Package events keeps embeddings in step with LMS content changes
// published on NATS.
//
// Two subjects are consumed under one queue group:
//
//	<prefix>.upserted  {"reference": "...", "content": "..."}
//	                   {"reference": "...", "course": {"name": ..., "description": ..., "topics": [...]}}
//	<prefix>.deleted   {"reference": "..."}
//
// Requests carrying a reply subject are answered with {"ok": true} or
// {"ok": false, "error": "..."}.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/config"
	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

// ErrInvalidPayload indicates a message that can never be processed.
var ErrInvalidPayload = errors.New("invalid event payload")

// Service is the part of the core events drive.
type Service interface {
	Reindex(ctx context.Context, reference, content string) error
	ReindexCourse(ctx context.Context, c rag.Course) error
	RemoveReference(ctx context.Context, reference string) error
}

// UpsertEvent announces new or changed content for a reference. Exactly one
// of Content or Course is set.
type UpsertEvent struct {
	Reference string       `json:"reference"`
	Content   string       `json:"content,omitempty"`
	Course    *CourseEvent `json:"course,omitempty"`
}

// CourseEvent is a course aggregate with its topics.
type CourseEvent struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Topics      []rag.Topic `json:"topics,omitempty"`
}

// DeleteEvent announces that a reference no longer exists.
type DeleteEvent struct {
	Reference string `json:"reference"`
}

// Reply is sent to requests that carry a reply subject.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Options tunes a Subscriber.
type Options struct {
	SubjectPrefix string
	Queue         string

	// MaxRetries bounds retries of transient embedding failures.
	MaxRetries uint64

	// RetryInterval is the first backoff interval. Default: 500ms
	RetryInterval time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight messages before
	// cancelling them. Default: 30s
	DrainTimeout time.Duration
}

// OptionsFromConfig maps the events config section onto Options.
func OptionsFromConfig(c config.EventsConfig) Options {
	return Options{
		SubjectPrefix: c.SubjectPrefix,
		Queue:         c.Queue,
		MaxRetries:    c.MaxRetries,
		DrainTimeout:  c.DrainTimeout.Duration(),
	}
}

// Subscriber consumes document-change events and applies them to the core.
type Subscriber struct {
	nc      *nats.Conn
	service Service
	opts    Options
	logger  *logging.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber creates a Subscriber on an existing connection.
func NewSubscriber(nc *nats.Conn, service Service, opts Options, logger *logging.Logger) (*Subscriber, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if service == nil {
		return nil, errors.New("service is required")
	}
	if opts.SubjectPrefix == "" {
		return nil, errors.New("subject prefix is required")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Subscriber{nc: nc, service: service, opts: opts, logger: logger.Named("events")}, nil
}

// UpsertedSubject returns the subject carrying UpsertEvents.
func (s *Subscriber) UpsertedSubject() string { return s.opts.SubjectPrefix + ".upserted" }

// DeletedSubject returns the subject carrying DeleteEvents.
func (s *Subscriber) DeletedSubject() string { return s.opts.SubjectPrefix + ".deleted" }

// Start subscribes to both subjects. Handlers see ctx's values but not its
// cancellation; only Stop cancels them.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs != nil {
		return errors.New("subscriber already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	handlers := map[string]func(context.Context, []byte) error{
		s.UpsertedSubject(): s.handleUpsert,
		s.DeletedSubject():  s.handleDelete,
	}
	for subject, handle := range handlers {
		sub, err := s.nc.QueueSubscribe(subject, s.opts.Queue, func(msg *nats.Msg) {
			s.dispatch(msg, handle)
		})
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("flushing subscriptions: %w", err)
	}

	s.logger.Info(ctx, "subscribed to document events",
		zap.String("upserted", s.UpsertedSubject()),
		zap.String("deleted", s.DeletedSubject()),
		zap.String("queue", s.opts.Queue),
	)
	return nil
}

// Stop drains the subscriptions and waits for in-flight messages to finish.
// Handlers still running after DrainTimeout have their context cancelled.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	if !s.waitDrained(s.opts.DrainTimeout) {
		s.logger.Warn(context.Background(), "drain timed out, cancelling in-flight document events",
			zap.Duration("timeout", s.opts.DrainTimeout))
	}
	s.subs = nil
	if s.cancel != nil {
		s.cancel()
	}
	return errors.Join(errs...)
}

// waitDrained polls until every subscription is gone. A draining
// subscription stays valid until its last callback has returned.
func (s *Subscriber) waitDrained(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		drained := true
		for _, sub := range s.subs {
			if sub.IsValid() && !s.nc.IsClosed() {
				drained = false
				break
			}
		}
		if drained {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

func (s *Subscriber) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.cancel()
}

func (s *Subscriber) dispatch(msg *nats.Msg, handle func(context.Context, []byte) error) {
	start := time.Now()
	err := handle(s.ctx, msg.Data)

	result := "success"
	reply := Reply{OK: true}
	if err != nil {
		result = "error"
		reply = Reply{Error: err.Error()}
		s.logger.Warn(s.ctx, "document event failed", zap.String("subject", msg.Subject), zap.Error(err))
	} else {
		s.logger.Debug(s.ctx, "document event applied",
			zap.String("subject", msg.Subject),
			zap.Duration("duration", time.Since(start)),
		)
	}
	EventsTotal.WithLabelValues(msg.Subject, result).Inc()

	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		s.logger.Warn(s.ctx, "replying to document event", zap.Error(err))
	}
}

func (s *Subscriber) handleUpsert(ctx context.Context, data []byte) error {
	var ev UpsertEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Course != nil && ev.Content != "" {
		return fmt.Errorf("%w: content and course are mutually exclusive", ErrInvalidPayload)
	}
	ctx = logging.WithReference(ctx, ev.Reference)

	if ev.Course != nil {
		course := rag.Course{
			Reference:   ev.Reference,
			Name:        ev.Course.Name,
			Description: ev.Course.Description,
			Topics:      ev.Course.Topics,
		}
		return s.retry(ctx, func() error { return s.service.ReindexCourse(ctx, course) })
	}
	return s.retry(ctx, func() error { return s.service.Reindex(ctx, ev.Reference, ev.Content) })
}

func (s *Subscriber) handleDelete(ctx context.Context, data []byte) error {
	var ev DeleteEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ctx = logging.WithReference(ctx, ev.Reference)
	return s.retry(ctx, func() error { return s.service.RemoveReference(ctx, ev.Reference) })
}

// retry runs op, retrying only embedding failures. Everything else is
// permanent.
func (s *Subscriber) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, rag.ErrEmbeddingGeneration):
			return backoff.Permanent(err)
		}
		s.logger.Debug(ctx, "retrying after embedding failure", zap.Int("attempt", attempt), zap.Error(err))
		RetriesTotal.Inc()
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.opts.MaxRetries), ctx))
}
