package rag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

func newService(t *testing.T, emb *stubEmbedder, gen *stubGenerator, cfg rag.Config) *rag.Service {
	t.Helper()
	svc, err := rag.NewService(newStore(t), emb, gen, cfg, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	store := newStore(t)
	emb, gen := newStubEmbedder(nil), &stubGenerator{}

	_, err := rag.NewService(nil, emb, gen, rag.Config{}, nil)
	assert.Error(t, err)
	_, err = rag.NewService(store, emb, gen, rag.Config{TopK: -1}, nil)
	assert.ErrorIs(t, err, rag.ErrInvalidTopK)
	_, err = rag.NewService(store, emb, gen, rag.Config{MaxDistance: 3}, nil)
	assert.Error(t, err)
}

func TestService_AnswerEndToEnd(t *testing.T) {
	emb := courseEmbedder()
	gen := &stubGenerator{reply: "Cloud computing delivers compute over the network."}
	svc := newService(t, emb, gen, rag.Config{TopK: 1})
	ctx := context.Background()

	require.NoError(t, svc.Reindex(ctx, "course-cloud", cloudCourse))
	require.NoError(t, svc.Reindex(ctx, "course-net", networkingCourse))

	out, err := svc.Answer(ctx, cloudQuestion)
	require.NoError(t, err)
	assert.Equal(t, gen.reply, out)

	require.Equal(t, 1, gen.calls())
	assert.Contains(t, gen.prompts[0].System, "DOCUMENTS:\n"+cloudCourse)
	assert.NotContains(t, gen.prompts[0].System, networkingCourse)
	assert.Equal(t, cloudQuestion, gen.prompts[0].User)
}

func TestService_AnswerAfterRemoval(t *testing.T) {
	emb := courseEmbedder()
	gen := &stubGenerator{reply: "I don't have course material on that."}
	svc := newService(t, emb, gen, rag.Config{TopK: 3})
	ctx := context.Background()

	require.NoError(t, svc.Reindex(ctx, "course-cloud", cloudCourse))
	require.NoError(t, svc.RemoveReference(ctx, "course-cloud"))

	_, err := svc.Answer(ctx, cloudQuestion)
	require.NoError(t, err)
	assert.Equal(t, rag.SystemInstruction+"\n\nDOCUMENTS:\n", gen.prompts[0].System)
}

func TestService_EmptyQueryMakesNoCalls(t *testing.T) {
	emb := courseEmbedder()
	gen := &stubGenerator{reply: "x"}
	svc := newService(t, emb, gen, rag.Config{TopK: 3})

	for _, q := range []string{"", "   "} {
		_, err := svc.Answer(context.Background(), q)
		assert.ErrorIs(t, err, rag.ErrInvalidQuery)
	}
	assert.Zero(t, emb.callCount())
	assert.Zero(t, gen.calls())
}

func TestService_EmbeddingTimeout(t *testing.T) {
	emb := courseEmbedder()
	emb.delay = time.Second
	gen := &stubGenerator{reply: "x"}
	svc := newService(t, emb, gen, rag.Config{TopK: 3, EmbedTimeout: 20 * time.Millisecond})

	_, err := svc.Answer(context.Background(), cloudQuestion)
	assert.ErrorIs(t, err, rag.ErrEmbeddingGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, gen.calls())
}

func TestService_GenerationFailure(t *testing.T) {
	log := logging.NewTestLogger()
	gen := &stubGenerator{err: assert.AnError}
	svc, err := rag.NewService(newStore(t), courseEmbedder(), gen, rag.Config{TopK: 1}, log.Logger)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), cloudQuestion)
	assert.ErrorIs(t, err, rag.ErrGeneration)
	log.AssertLogged(t, zapcore.WarnLevel, "generation failed")
}

func TestService_ReindexCourse(t *testing.T) {
	emb := newStubEmbedder(nil)
	gen := &stubGenerator{reply: "ok"}
	svc := newService(t, emb, gen, rag.Config{TopK: 5})
	ctx := context.Background()

	require.NoError(t, svc.ReindexCourse(ctx, rag.Course{
		Reference: "course-7", Name: "Databases", Description: "relational modelling",
		Topics: []rag.Topic{{Name: "SQL", Description: "queries"}},
	}))

	_, err := svc.Answer(ctx, "what about SQL?")
	require.NoError(t, err)
	assert.Contains(t, gen.prompts[0].System, "Databases relational modelling SQL: queries")
}
