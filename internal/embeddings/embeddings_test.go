package embeddings

import (
	"context"
	"errors"
	"math"
	"testing"

	ctxerrors "ctxpack/internal/errors"
)

type countingEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = c.vec
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return len(c.vec) }
func (c *countingEmbedder) Name() string    { return "counting" }

func TestService_Memoizes(t *testing.T) {
	e := &countingEmbedder{vec: []float32{0.1, 0.2}}
	s := NewService(e, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Embed(ctx, "auth", KindQuery); err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
	}
	if e.calls != 1 {
		t.Errorf("embedder called %d times, want 1", e.calls)
	}

	_, _ = s.Embed(ctx, "auth", KindDocument)
	if e.calls != 2 {
		t.Errorf("different kind should miss the memo, calls = %d", e.calls)
	}

	_, _ = s.Embed(ctx, "billing", KindQuery)
	if s.Len() != 2 {
		t.Errorf("memo holds %d entries, want bounded 2", s.Len())
	}
}

func TestService_RejectsInvalidVectors(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", []float32{}},
		{"zeros", []float32{0, 0, 0}},
		{"nan", []float32{0.1, float32(math.NaN())}},
		{"inf", []float32{float32(math.Inf(1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(&countingEmbedder{vec: tt.vec}, 4)
			_, err := s.Embed(context.Background(), "q", KindQuery)
			if !ctxerrors.HasCode(err, ctxerrors.InvalidEmbedding) {
				t.Errorf("error = %v, want INVALID_EMBEDDING", err)
			}
			if s.Len() != 0 {
				t.Error("invalid vectors must not be memoized")
			}
		})
	}
}

func TestService_PropagatesProviderError(t *testing.T) {
	s := NewService(&countingEmbedder{err: errors.New("rate limited")}, 4)
	_, err := s.Embed(context.Background(), "q", KindQuery)
	if err == nil || ctxerrors.HasCode(err, ctxerrors.InvalidEmbedding) {
		t.Errorf("error = %v, want provider error", err)
	}
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{"token refresh handler", "Token Refresh", "billing invoices"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for _, v := range vecs {
		if err := Validate(v); err != nil {
			t.Fatalf("hash embedding invalid: %v", err)
		}
	}

	cos := func(a, b []float32) float64 {
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}
	if cos(vecs[0], vecs[1]) <= cos(vecs[0], vecs[2]) {
		t.Error("texts sharing tokens should be more similar than unrelated texts")
	}
}
