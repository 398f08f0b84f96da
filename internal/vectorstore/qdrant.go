package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	payloadReference = "reference"
	payloadContent   = "content"
	payloadSeq       = "seq"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the qdrant gRPC store.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	Dimension  int

	// MaxMessageSize bounds gRPC messages in bytes. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "course_embeddings"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	return nil
}

// IsTransientError reports whether a qdrant error is worth retrying by the
// caller (unavailable, deadline, aborted, resource exhausted).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store on qdrant's native gRPC API.
//
// Points carry reference, content and seq in their payload. Search runs with
// exact (brute force) parameters and re-ranks the returned points by
// distance then seq. Ties that straddle the topK boundary are resolved by
// qdrant's own order.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	seq    *sequencer
	logger *zap.Logger
}

// NewQdrantStore connects, checks health and ensures the collection exists
// with a keyword index on reference.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config, seq: newSequencer(), logger: logger}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(checkCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := store.ensureCollection(checkCtx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.config.Collection,
		FieldName:      payloadReference,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("indexing %s.%s: %w", s.config.Collection, payloadReference, err)
	}
	return nil
}

// Insert implements Store.
func (s *QdrantStore) Insert(ctx context.Context, rec Record) (string, error) {
	if err := validateRecord(rec, s.config.Dimension); err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: recordPayload(rec.Reference, rec.Content, s.seq.next()),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("upserting point: %w", err)
	}
	return id, nil
}

// DeleteByReference implements Store. A single filter delete is atomic on
// the qdrant side.
func (s *QdrantStore) DeleteByReference(ctx context.Context, reference string) error {
	if err := validateReference(reference); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: referenceFilter(reference)},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting reference %s: %w", reference, err)
	}
	return nil
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK < 0 {
		return nil, ErrInvalidTopK
	}
	if err := validateVector(vector, s.config.Dimension); err != nil {
		return nil, err
	}
	if topK == 0 {
		return []Match{}, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Params:         &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, scoredPointToMatch(p))
	}
	return rank(matches, topK), nil
}

// Dimension implements Store.
func (s *QdrantStore) Dimension() int { return s.config.Dimension }

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func recordPayload(reference, content string, seq int64) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		payloadReference: {Kind: &qdrant.Value_StringValue{StringValue: reference}},
		payloadContent:   {Kind: &qdrant.Value_StringValue{StringValue: content}},
		payloadSeq:       {Kind: &qdrant.Value_IntegerValue{IntegerValue: seq}},
	}
}

func referenceFilter(reference string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   payloadReference,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: reference}},
				},
			},
		}},
	}
}

// scoredPointToMatch converts a cosine-scored point; qdrant reports
// similarity, so distance is 1 - score.
func scoredPointToMatch(p *qdrant.ScoredPoint) Match {
	payload := p.GetPayload()
	return Match{
		Record: Record{
			ID:        p.GetId().GetUuid(),
			Reference: payload[payloadReference].GetStringValue(),
			Content:   payload[payloadContent].GetStringValue(),
			Seq:       payload[payloadSeq].GetIntegerValue(),
		},
		Distance: 1 - float64(p.GetScore()),
	}
}

var _ Store = (*QdrantStore)(nil)
