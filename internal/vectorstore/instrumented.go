package vectorstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/coursechat/internal/vectorstore")

// InstrumentedStore decorates a Store with spans and Prometheus metrics.
type InstrumentedStore struct {
	Store
	provider string
	tracer   trace.Tracer
}

// Instrument wraps store. provider labels spans and metrics.
func Instrument(store Store, provider string) *InstrumentedStore {
	return &InstrumentedStore{Store: store, provider: provider, tracer: tracer}
}

// WithTracer overrides the tracer, mainly for tests.
func (s *InstrumentedStore) WithTracer(t trace.Tracer) *InstrumentedStore {
	s.tracer = t
	return s
}

func (s *InstrumentedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "vectorstore."+op,
		trace.WithAttributes(append(attrs, attribute.String("provider", s.provider))...),
	)
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) finish(span trace.Span, op string, started time.Time, err error) {
	OperationDuration.WithLabelValues(s.provider, op).Observe(time.Since(started).Seconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	OperationsTotal.WithLabelValues(s.provider, op, result).Inc()
	span.End()
}

// Insert implements Store.
func (s *InstrumentedStore) Insert(ctx context.Context, rec Record) (string, error) {
	ctx, span, started := s.start(ctx, "insert", attribute.String("reference", rec.Reference))
	id, err := s.Store.Insert(ctx, rec)
	if err == nil {
		span.SetAttributes(attribute.String("id", id))
	}
	s.finish(span, "insert", started, err)
	return id, err
}

// DeleteByReference implements Store.
func (s *InstrumentedStore) DeleteByReference(ctx context.Context, reference string) error {
	ctx, span, started := s.start(ctx, "delete", attribute.String("reference", reference))
	err := s.Store.DeleteByReference(ctx, reference)
	s.finish(span, "delete", started, err)
	return err
}

// Search implements Store.
func (s *InstrumentedStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	ctx, span, started := s.start(ctx, "search", attribute.Int("top_k", topK))
	matches, err := s.Store.Search(ctx, vector, topK)
	if err == nil {
		span.SetAttributes(attribute.Int("results", len(matches)))
		SearchResults.Observe(float64(len(matches)))
	}
	s.finish(span, "search", started, err)
	return matches, err
}

var _ Store = (*InstrumentedStore)(nil)
