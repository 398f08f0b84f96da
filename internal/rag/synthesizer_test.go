package rag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

func TestSynthesizer_BuildsGroundedPrompt(t *testing.T) {
	gen := &stubGenerator{reply: "Cloud computing is on-demand delivery of compute."}
	s := rag.NewSynthesizer(gen, "", time.Second)

	out, err := s.Answer(context.Background(), cloudQuestion, []string{cloudCourse, networkingCourse})
	require.NoError(t, err)
	assert.Equal(t, "Cloud computing is on-demand delivery of compute.", out)

	require.Equal(t, 1, gen.calls())
	p := gen.prompts[0]
	assert.Equal(t, rag.SystemInstruction+"\n\nDOCUMENTS:\n"+cloudCourse+"\n"+networkingCourse, p.System)
	assert.Equal(t, cloudQuestion, p.User)
}

func TestSynthesizer_NoPassagesStillCallsModel(t *testing.T) {
	gen := &stubGenerator{reply: "I can only answer questions about the available courses."}
	s := rag.NewSynthesizer(gen, "Be brief.", 0)

	out, err := s.Answer(context.Background(), "Who won the match?", nil)
	require.NoError(t, err)
	assert.Equal(t, gen.reply, out)
	assert.Equal(t, "Be brief.\n\nDOCUMENTS:\n", gen.prompts[0].System)
}

func TestSynthesizer_ReturnsOutputVerbatim(t *testing.T) {
	reply := "  - line one\n\n- line two  \n"
	s := rag.NewSynthesizer(&stubGenerator{reply: reply}, "", 0)

	out, err := s.Answer(context.Background(), "q", []string{"p"})
	require.NoError(t, err)
	assert.Equal(t, reply, out)
}

func TestSynthesizer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		gen     *stubGenerator
		timeout time.Duration
		cause   error
	}{
		{name: "empty output", gen: &stubGenerator{reply: ""}},
		{name: "whitespace output", gen: &stubGenerator{reply: " \n\t"}},
		{name: "model error", gen: &stubGenerator{err: assert.AnError}, cause: assert.AnError},
		{
			name:    "timeout",
			gen:     &stubGenerator{reply: "late", delay: time.Second},
			timeout: 20 * time.Millisecond,
			cause:   context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := rag.NewSynthesizer(tt.gen, "", tt.timeout)
			_, err := s.Answer(context.Background(), "q", []string{"p"})
			assert.ErrorIs(t, err, rag.ErrGeneration)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestSynthesizer_EmptyQuery(t *testing.T) {
	gen := &stubGenerator{reply: "x"}
	_, err := rag.NewSynthesizer(gen, "", 0).Answer(context.Background(), "", []string{"p"})
	assert.ErrorIs(t, err, rag.ErrInvalidQuery)
	assert.Zero(t, gen.calls())
}
