package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/frames"
	"github.com/kalambet/cliprecall/internal/media"
	"github.com/kalambet/cliprecall/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when the pipeline is accepting frames.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Defaults applied by New.
const (
	DefaultClipDuration   = 5 * time.Second
	DefaultKeywordCadence = 10
	DefaultStillCount     = 3
	DefaultQueueSize      = 64
	DefaultAnalyzeTimeout = 2 * time.Second
	DefaultEmbedTimeout   = 10 * time.Second
)

// minClipLength is the duration given to a clip whose only frame arrived
// right before Stop.
const minClipLength = time.Millisecond

// ClipStore is the write side of clips.Store.
type ClipStore interface {
	Insert(c clips.Clip) error
	Prune(now time.Time) []clips.Clip
}

// Embedder computes the embedding of a description, truncating it to the
// backend's limit. It is called from sink-closing goroutines, possibly
// concurrently.
type Embedder interface {
	EmbedTruncated(ctx context.Context, text string) ([]float32, error)
}

// Dispatcher starts background enrichment of a clip.
type Dispatcher interface {
	Dispatch(c clips.Clip, stills [][]byte) bool
}

// Options configures a Pipeline. Store and Media are required; zero values
// elsewhere select defaults.
type Options struct {
	ClipDuration   time.Duration
	KeywordCadence int
	StillCount     int
	QueueSize      int
	AnalyzeTimeout time.Duration
	EmbedTimeout   time.Duration

	Store      ClipStore
	Media      media.Store
	Analyzer   frames.Analyzer
	Embedder   Embedder
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics

	// Now is the clock used by retention ticks. Frame timestamps must come
	// from the same clock.
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Pipeline turns a stream of frames into finalized, indexed clips.
//
// A single goroutine started by Start owns the open session and is the only
// caller of Store.Insert and Store.Prune. Producers hand frames over with
// ProcessFrame, which never blocks.
type Pipeline struct {
	clipDuration   time.Duration
	cadence        int
	stillOffsets   []time.Duration
	queueSize      int
	analyzeTimeout time.Duration
	embedTimeout   time.Duration

	store      ClipStore
	media      media.Store
	analyzer   frames.Analyzer
	embedder   Embedder
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
	frames  chan frames.Frame
	prune   chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates an idle Pipeline.
func New(opts Options) *Pipeline {
	if opts.ClipDuration <= 0 {
		opts.ClipDuration = DefaultClipDuration
	}
	if opts.KeywordCadence <= 0 {
		opts.KeywordCadence = DefaultKeywordCadence
	}
	if opts.StillCount < 0 {
		opts.StillCount = 0
	} else if opts.StillCount == 0 {
		opts.StillCount = DefaultStillCount
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = DefaultAnalyzeTimeout
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.Analyzer == nil {
		opts.Analyzer = frames.NopAnalyzer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		clipDuration:   opts.ClipDuration,
		cadence:        opts.KeywordCadence,
		stillOffsets:   StillOffsets(opts.ClipDuration, opts.StillCount),
		queueSize:      opts.QueueSize,
		analyzeTimeout: opts.AnalyzeTimeout,
		embedTimeout:   opts.EmbedTimeout,
		store:          opts.Store,
		media:          opts.Media,
		analyzer:       opts.Analyzer,
		embedder:       opts.Embedder,
		dispatcher:     opts.Dispatcher,
		metrics:        opts.Metrics,
		now:            opts.Now,
		newID:          opts.NewID,
		logger:         opts.Logger,
		prune:          make(chan struct{}, 1),
	}
}

// StillOffsets returns the k offsets i/(k+1) of d, for i in 1..k.
func StillOffsets(d time.Duration, k int) []time.Duration {
	offsets := make([]time.Duration, k)
	for i := range offsets {
		offsets[i] = d * time.Duration(i+1) / time.Duration(k+1)
	}
	return offsets
}

// ClipDuration returns the configured clip length.
func (p *Pipeline) ClipDuration() time.Duration { return p.clipDuration }

// Running reports whether the pipeline accepts frames.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start begins accepting frames. No session is opened until the first frame
// arrives. Cancelling ctx has the same effect as Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	prev := p.done
	p.mu.Unlock()

	// A previous run may still be finishing its last clips.
	if prev != nil {
		<-prev
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.frames = make(chan frames.Frame, p.queueSize)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true

	l := &loop{
		p:       p,
		ctx:     context.WithoutCancel(ctx),
		frames:  p.frames,
		results: make(chan closeResult, 16),
		pending: make(map[uint64]closeResult),
	}
	go l.run(ctx, p.stop, p.done)

	p.logger.Info("ingestion started", "clip_duration", p.clipDuration, "cadence", p.cadence, "stills", len(p.stillOffsets))
	return nil
}

// Stop finalizes the open session, waits until every finalized clip has
// been indexed, and returns the pipeline to idle. Calling Stop on an idle
// pipeline is a no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		done := p.done
		p.mu.Unlock()
		if done != nil {
			return waitDone(ctx, done)
		}
		return nil
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	return waitDone(ctx, done)
}

func waitDone(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessFrame hands a frame to the ingestion goroutine without blocking.
// It returns false if the pipeline is idle or its queue is full.
func (p *Pipeline) ProcessFrame(f frames.Frame) bool {
	p.metrics.FrameReceived()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		p.metrics.FrameDropped(metrics.DropIdle)
		return false
	}
	select {
	case p.frames <- f:
		return true
	default:
		p.metrics.FrameDropped(metrics.DropQueueFull)
		return false
	}
}

// RequestPrune asks the ingestion goroutine to apply retention now, so the
// index keeps shrinking while no frames arrive. It never blocks.
func (p *Pipeline) RequestPrune() {
	select {
	case p.prune <- struct{}{}:
	default:
	}
}

// markStopped flips to idle after the run behind done ends on its own.
func (p *Pipeline) markStopped(done chan struct{}) {
	p.mu.Lock()
	if p.done == done {
		p.running = false
	}
	p.mu.Unlock()
}
