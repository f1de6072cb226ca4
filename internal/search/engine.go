// Package search answers free-text queries against a snapshot of the clip
// index with a three-tier fallback: embedding similarity, keyword overlap,
// then the most recent clip.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/embedding"
	"github.com/kalambet/cliprecall/internal/metrics"
)

// Method names the tier that produced a result.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodKeyword   Method = "keyword"
	MethodRecent    Method = "recent"
)

// Defaults applied by New.
const (
	DefaultEmbedTimeout = 5 * time.Second
	DefaultCacheTTL     = 10 * time.Minute
)

// Snapshotter supplies a consistent copy of the index.
type Snapshotter interface {
	Snapshot() []clips.Clip
}

// Embedder computes query embeddings. It is shared with ingestion, so calls
// are serialized by the implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is the best clip for a query.
type Result struct {
	Clip   clips.Clip `json:"clip"`
	Score  float64    `json:"score"`
	Method Method     `json:"method"`
}

// Scored is one entry of the debug ranking.
type Scored struct {
	Clip  clips.Clip `json:"clip"`
	Score float64    `json:"score"`
}

// Options configures an Engine.
type Options struct {
	Store        Snapshotter
	Embedder     Embedder
	EmbedTimeout time.Duration
	CacheTTL     time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Engine ranks clips for free-text queries. It never fails: every expected
// problem degrades to a lower tier.
type Engine struct {
	store        Snapshotter
	embedder     Embedder
	embedTimeout time.Duration
	cache        *gocache.Cache
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an Engine. A nil Embedder disables the embedding tier.
func New(opts Options) *Engine {
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:        opts.Store,
		embedder:     opts.Embedder,
		embedTimeout: opts.EmbedTimeout,
		cache:        gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
}

// Search returns the best clip for query. ok is false only when the index
// is empty.
func (e *Engine) Search(ctx context.Context, query string) (Result, bool) {
	snap := e.store.Snapshot()
	if len(snap) == 0 {
		return Result{}, false
	}

	if vec := e.queryEmbedding(ctx, query); vec != nil {
		if r, ok := bestByEmbedding(snap, vec); ok {
			e.record(r, query)
			return r, true
		}
	}
	if r, ok := bestByKeywords(snap, query); ok {
		e.record(r, query)
		return r, true
	}
	r := mostRecent(snap)
	e.record(r, query)
	return r, true
}

// ScoreAll scores every clip by embedding similarity to query, best first.
// Clips without an embedding, or every clip when the query cannot be
// embedded, score 0. Equal scores keep snapshot order.
func (e *Engine) ScoreAll(ctx context.Context, query string) []Scored {
	snap := e.store.Snapshot()
	vec := e.queryEmbedding(ctx, query)

	out := make([]Scored, len(snap))
	for i, c := range snap {
		out[i] = Scored{Clip: c}
		if vec != nil && c.HasEmbedding() {
			out[i].Score = embedding.Cosine(vec, c.Embedding)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (e *Engine) record(r Result, query string) {
	e.metrics.Search(string(r.Method))
	e.logger.Debug("search answered", "query", query, "method", r.Method, "score", r.Score, "clip", r.Clip.ID)
}

// queryEmbedding returns the cached or freshly computed embedding of query,
// or nil when the tier must be skipped.
func (e *Engine) queryEmbedding(ctx context.Context, query string) []float32 {
	if e.embedder == nil {
		return nil
	}
	key := strings.TrimSpace(query)
	if key == "" {
		return nil
	}
	if v, ok := e.cache.Get(key); ok {
		return v.([]float32)
	}

	ctx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()
	vec, err := e.embedder.Embed(ctx, key)
	if err != nil {
		e.logger.Debug("query embedding unavailable, falling back", "error", err)
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	e.cache.Set(key, vec, gocache.DefaultExpiration)
	return vec
}

func bestByEmbedding(snap []clips.Clip, vec []float32) (Result, bool) {
	var best Result
	found := false
	for _, c := range snap {
		if !c.HasEmbedding() {
			continue
		}
		score := embedding.Cosine(vec, c.Embedding)
		if !found || score > best.Score {
			best = Result{Clip: c, Score: score, Method: MethodEmbedding}
			found = true
		}
	}
	return best, found
}

func bestByKeywords(snap []clips.Clip, query string) (Result, bool) {
	q := Tokenize(query)
	if len(q) == 0 {
		return Result{}, false
	}
	var best Result
	for _, c := range snap {
		tokens := Tokenize(c.Description)
		for _, k := range c.Keywords {
			for t := range Tokenize(k) {
				tokens[t] = struct{}{}
			}
		}
		hits := 0
		for t := range q {
			if _, ok := tokens[t]; ok {
				hits++
			}
		}
		score := float64(hits) / float64(len(q))
		if score > best.Score {
			best = Result{Clip: c, Score: score, Method: MethodKeyword}
		}
	}
	return best, best.Score > 0
}

func mostRecent(snap []clips.Clip) Result {
	latest := snap[0]
	for _, c := range snap[1:] {
		if c.End.After(latest.End) {
			latest = c
		}
	}
	return Result{Clip: latest, Score: 0, Method: MethodRecent}
}
