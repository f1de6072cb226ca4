package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultTimeout       = 20 * time.Second
	DefaultRatePerMinute = 12
	DefaultConcurrency   = 2
)

// Describer returns richer keywords for a clip's stills. It may be slow and
// may fail.
type Describer interface {
	Describe(ctx context.Context, images [][]byte) ([]string, error)
}

// Embedder computes the embedding of a description.
type Embedder interface {
	EmbedTruncated(ctx context.Context, text string) ([]float32, error)
}

// Store is the part of clips.Store enrichment touches.
type Store interface {
	Find(id string) (clips.Clip, bool)
	Update(id string, mutate func(*clips.Clip)) bool
}

// Outcome is the result of one enrichment attempt.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeFailed    Outcome = "failed"
	OutcomeEvicted   Outcome = "evicted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSaturated Outcome = "saturated"
)

// Request identifies a clip and the stills captured for it.
type Request struct {
	ClipID string
	Stills [][]byte
}

// Options configures an Enricher. Zero values select defaults.
type Options struct {
	Describer     Describer
	Store         Store
	Embedder      Embedder
	Timeout       time.Duration
	RatePerMinute int
	Concurrency   int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Enricher improves finalized clips with keywords from a vision model. Each
// dispatched clip runs on its own goroutine and touches the store only
// through a single Update by id.
type Enricher struct {
	describer Describer
	store     Store
	embedder  Embedder
	timeout   time.Duration
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an Enricher. A nil Describer yields an Enricher that skips
// every clip.
func New(opts Options) *Enricher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = DefaultRatePerMinute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Enricher{
		describer: opts.Describer,
		store:     opts.Store,
		embedder:  opts.Embedder,
		timeout:   opts.Timeout,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1),
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enabled reports whether a describer is configured.
func (e *Enricher) Enabled() bool { return e.describer != nil }

// Dispatch starts enrichment of c in the background and returns immediately.
// It returns false when enrichment is disabled, there are no stills, every
// slot is busy, or the Enricher is closed.
func (e *Enricher) Dispatch(c clips.Clip, stills [][]byte) bool {
	if e.describer == nil || len(stills) == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if !e.sem.TryAcquire(1) {
		e.logger.Debug("enrichment slots busy, skipping clip", "clip", c.ID)
		e.metrics.Enrichment(string(OutcomeSaturated), 0)
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		e.Enrich(e.ctx, Request{ClipID: c.ID, Stills: stills})
	}()
	return true
}

// Enrich runs one enrichment synchronously:
//  1. wait for the rate limiter
//  2. describe the stills (bounded by the timeout)
//  3. merge keywords and rebuild the description, fresh keywords first
//  4. recompute the embedding
//  5. update the clip by id
//
// Every failure leaves the clip as it was. A clip that was evicted meanwhile
// is a silent miss.
func (e *Enricher) Enrich(ctx context.Context, req Request) (outcome Outcome) {
	start := time.Now()
	defer func() {
		e.metrics.Enrichment(string(outcome), time.Since(start))
	}()

	if e.describer == nil || len(req.Stills) == 0 {
		return OutcomeSkipped
	}
	if c, ok := e.store.Find(req.ClipID); !ok {
		return OutcomeEvicted
	} else if c.Enriched {
		return OutcomeSkipped
	}

	if err := e.limiter.Wait(ctx); err != nil {
		e.logger.Debug("enrichment cancelled while rate limited", "clip", req.ClipID, "error", err)
		return OutcomeFailed
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	fresh, err := e.describer.Describe(callCtx, req.Stills)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("enrichment timed out", "clip", req.ClipID, "timeout", e.timeout)
		} else {
			e.logger.Warn("enrichment failed, keeping on-device keywords", "clip", req.ClipID, "error", err)
		}
		return OutcomeFailed
	}
	normalized := clips.NormalizeKeywords(fresh)
	if len(normalized) == 0 {
		e.logger.Warn("enrichment returned no keywords", "clip", req.ClipID)
		return OutcomeFailed
	}

	current, ok := e.store.Find(req.ClipID)
	if !ok {
		e.logger.Debug("clip evicted before enrichment completed", "clip", req.ClipID)
		return OutcomeEvicted
	}
	merged := clips.MergeKeywords(current.Keywords, normalized)
	description := clips.DescribePrioritized(fresh, current.Keywords)

	var vec []float32
	if e.embedder != nil {
		vec, err = e.embedder.EmbedTruncated(callCtx, description)
		if err != nil {
			e.logger.Warn("re-embedding enriched clip failed, keeping previous embedding", "clip", req.ClipID, "error", err)
			vec = nil
		}
	}

	applied := false
	found := e.store.Update(req.ClipID, func(c *clips.Clip) {
		if c.Enriched {
			return
		}
		c.Keywords = merged
		c.Description = description
		if vec != nil {
			c.Embedding = vec
		}
		c.Enriched = true
		applied = true
	})
	switch {
	case !found:
		e.logger.Debug("clip evicted before enrichment completed", "clip", req.ClipID)
		return OutcomeEvicted
	case !applied:
		return OutcomeSkipped
	}

	e.logger.Debug("clip enriched", "clip", req.ClipID, "keywords", len(merged), "fresh", len(normalized))
	return OutcomeApplied
}

// Wait blocks until every dispatched enrichment has finished.
func (e *Enricher) Wait() {
	e.wg.Wait()
}

// Close stops accepting new work, cancels enrichments still waiting for the
// rate limiter or the describer, and waits for them to return.
func (e *Enricher) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}
