package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/embedding"
)

type staticStore []clips.Clip

func (s staticStore) Snapshot() []clips.Clip { return s }

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	calls   atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, text)
}

func fixedEmbedding(v ...float32) *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) { return v, nil }}
}

func failingEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, embedding.ErrUnavailable
	}}
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func clip(id string, end int, keywords []string, vec []float32) clips.Clip {
	return clips.Clip{
		ID:          id,
		Start:       epoch.Add(time.Duration(end-5) * time.Second),
		End:         epoch.Add(time.Duration(end) * time.Second),
		Keywords:    keywords,
		Description: clips.Describe(keywords),
		Embedding:   vec,
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	e := New(Options{Store: staticStore(nil), Embedder: fixedEmbedding(1, 0)})
	if _, ok := e.Search(context.Background(), "keys"); ok {
		t.Error("Search on empty store returned a result")
	}
}

func TestSearch_KeywordScenario(t *testing.T) {
	store := staticStore{clip("a", 5, []string{"red", "mug"}, nil)}
	e := New(Options{Store: store, Embedder: failingEmbedder()})

	r, ok := e.Search(context.Background(), "red mug on desk")
	if !ok {
		t.Fatal("no result")
	}
	if r.Method != MethodKeyword || r.Score != 0.5 || r.Clip.ID != "a" {
		t.Errorf("got %+v, want clip a, keyword, 0.5", r)
	}
}

func TestSearch_EmbeddingScenario(t *testing.T) {
	store := staticStore{
		clip("a", 5, nil, []float32{1, 0}),
		clip("b", 10, nil, []float32{0, 1}),
	}
	e := New(Options{Store: store, Embedder: fixedEmbedding(0.9, 0.1)})

	r, _ := e.Search(context.Background(), "keys")
	if r.Clip.ID != "a" || r.Method != MethodEmbedding {
		t.Errorf("got %+v, want clip a by embedding", r)
	}
}

func TestSearch_EmbeddingTierWinsOverKeywords(t *testing.T) {
	store := staticStore{
		clip("a", 5, []string{"car", "keys"}, nil),
		clip("b", 10, []string{"sofa"}, []float32{0, 1}),
	}
	e := New(Options{Store: store, Embedder: fixedEmbedding(1, 0)})

	r, _ := e.Search(context.Background(), "car keys")
	if r.Method != MethodEmbedding || r.Clip.ID != "b" {
		t.Errorf("got %+v, want clip b by embedding", r)
	}
}

func TestSearch_EmbeddingTieKeepsFirst(t *testing.T) {
	store := staticStore{
		clip("a", 5, nil, []float32{1, 0}),
		clip("b", 10, nil, []float32{2, 0}),
	}
	e := New(Options{Store: store, Embedder: fixedEmbedding(1, 0)})

	if r, _ := e.Search(context.Background(), "x"); r.Clip.ID != "a" {
		t.Errorf("tie resolved to %s, want a", r.Clip.ID)
	}
}

func TestSearch_NoEmbeddingsFallsThrough(t *testing.T) {
	store := staticStore{clip("a", 5, []string{"wallet"}, nil)}
	e := New(Options{Store: store, Embedder: fixedEmbedding(1, 0)})

	if r, _ := e.Search(context.Background(), "wallet"); r.Method != MethodKeyword {
		t.Errorf("method = %s, want keyword", r.Method)
	}
}

func TestSearch_RecentFallback(t *testing.T) {
	store := staticStore{
		clip("a", 5, []string{"mug"}, nil),
		clip("b", 15, []string{"lamp"}, nil),
		clip("c", 10, []string{"desk"}, nil),
	}
	e := New(Options{Store: store})

	r, ok := e.Search(context.Background(), "zebra")
	if !ok || r.Method != MethodRecent || r.Score != 0 || r.Clip.ID != "b" {
		t.Errorf("got %+v, want clip b, recent, 0", r)
	}
}

func TestSearch_ShortTokensOnly(t *testing.T) {
	store := staticStore{clip("a", 5, []string{"a"}, nil)}
	e := New(Options{Store: store})

	if r, _ := e.Search(context.Background(), "a ? !"); r.Method != MethodRecent {
		t.Errorf("method = %s, want recent", r.Method)
	}
}

func TestSearch_KeywordTieKeepsFirst(t *testing.T) {
	store := staticStore{
		clip("a", 5, []string{"keys"}, nil),
		clip("b", 10, []string{"keys"}, nil),
	}
	e := New(Options{Store: store})

	if r, _ := e.Search(context.Background(), "keys"); r.Clip.ID != "a" {
		t.Errorf("tie resolved to %s, want a", r.Clip.ID)
	}
}

func TestSearch_TotalCorrectness(t *testing.T) {
	queries := []string{"", "   ", "keys", "where did I put my keys?", "!!!"}
	embedders := []Embedder{nil, failingEmbedder(), fixedEmbedding(1, 0)}
	stores := []staticStore{
		nil,
		{clip("a", 5, nil, nil)},
		{clip("a", 5, []string{"keys"}, []float32{0, 1}), clip("b", 10, nil, nil)},
	}
	for _, s := range stores {
		for _, emb := range embedders {
			e := New(Options{Store: s, Embedder: emb})
			for _, q := range queries {
				_, ok := e.Search(context.Background(), q)
				if ok != (len(s) > 0) {
					t.Errorf("store size %d, query %q: ok = %v", len(s), q, ok)
				}
			}
		}
	}
}

func TestSearch_CachesQueryEmbedding(t *testing.T) {
	emb := fixedEmbedding(1, 0)
	e := New(Options{Store: staticStore{clip("a", 5, nil, []float32{1, 0})}, Embedder: emb})

	e.Search(context.Background(), "keys")
	e.Search(context.Background(), " keys ")
	e.ScoreAll(context.Background(), "keys")
	if emb.calls.Load() != 1 {
		t.Errorf("embedder called %d times, want 1", emb.calls.Load())
	}
}

func TestSearch_DoesNotCacheFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	emb := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		if fail.Load() {
			return nil, errors.New("busy")
		}
		return []float32{1, 0}, nil
	}}
	e := New(Options{Store: staticStore{clip("a", 5, nil, []float32{1, 0})}, Embedder: emb})

	if r, _ := e.Search(context.Background(), "keys"); r.Method == MethodEmbedding {
		t.Fatal("embedding tier used despite failure")
	}
	fail.Store(false)
	if r, _ := e.Search(context.Background(), "keys"); r.Method != MethodEmbedding {
		t.Errorf("method = %s, want embedding after recovery", r.Method)
	}
}

func TestScoreAll_SortedStable(t *testing.T) {
	store := staticStore{
		clip("a", 5, nil, nil),
		clip("b", 10, nil, []float32{0, 1}),
		clip("c", 15, nil, []float32{1, 0}),
		clip("d", 20, nil, nil),
	}
	e := New(Options{Store: store, Embedder: fixedEmbedding(1, 0)})

	got := e.ScoreAll(context.Background(), "keys")
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.Clip.ID
	}
	want := []string{"c", "a", "b", "d"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
	if got[0].Score != 1 {
		t.Errorf("top score = %v, want 1", got[0].Score)
	}
}

func TestScoreAll_MatchesSearchScore(t *testing.T) {
	store := staticStore{
		clip("a", 5, nil, []float32{0.3, 0.7}),
		clip("b", 10, nil, []float32{0.8, 0.1}),
	}
	e := New(Options{Store: store, Embedder: fixedEmbedding(0.6, 0.4)})

	r, _ := e.Search(context.Background(), "q")
	all := e.ScoreAll(context.Background(), "q")
	if all[0].Clip.ID != r.Clip.ID || all[0].Score != r.Score {
		t.Errorf("ScoreAll top %+v disagrees with Search %+v", all[0], r)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Where's my RED mug, on the desk? a")
	for _, w := range []string{"where", "my", "red", "mug", "on", "the", "desk"} {
		if _, ok := got[w]; !ok {
			t.Errorf("missing token %q in %v", w, got)
		}
	}
	if _, ok := got["a"]; ok {
		t.Error("single-letter token kept")
	}
	if _, ok := got["s"]; ok {
		t.Error("single-letter token kept")
	}
}
