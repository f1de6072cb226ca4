package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/embedding"
	"github.com/kalambet/cliprecall/internal/frames"
	"github.com/kalambet/cliprecall/internal/media"
	"github.com/kalambet/cliprecall/internal/metrics"
)

// textPrefix marks keywords that came from recognized on-frame text.
const textPrefix = "text: "

// closeResult carries a finalized clip back from its sink-closing goroutine,
// already described and embedded.
type closeResult struct {
	seq    uint64
	clip   clips.Clip
	stills [][]byte
	err    error
}

// loop is the state owned by the ingestion goroutine of one run.
type loop struct {
	p   *Pipeline
	ctx context.Context

	frames  <-chan frames.Frame
	session *session

	// Sink closes finish in any order; results are applied by sequence.
	results  chan closeResult
	pending  map[uint64]closeResult
	nextSeq  uint64
	applySeq uint64
	inflight int

	// Latest retention time applied; pruning never moves backwards.
	pruneAt time.Time
}

func (l *loop) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case f := <-l.frames:
			l.handleFrame(f)
		case r := <-l.results:
			l.handleResult(r)
		case <-l.p.prune:
			l.pruneTick()
		case <-stop:
			l.shutdown()
			return
		case <-ctx.Done():
			l.p.markStopped(done)
			l.shutdown()
			return
		}
	}
}

// shutdown processes frames already accepted, finalizes the open session and
// waits for every in-flight clip to be indexed.
func (l *loop) shutdown() {
	for drained := false; !drained; {
		select {
		case f := <-l.frames:
			l.handleFrame(f)
		default:
			drained = true
		}
	}
	if s := l.session; s != nil {
		l.finalize(s, s.last)
	}
	for l.inflight > 0 {
		l.handleResult(<-l.results)
	}
	l.p.logger.Info("ingestion stopped")
}

func (l *loop) handleFrame(f frames.Frame) {
	p := l.p

	if l.session != nil && f.Time.Sub(l.session.start) >= p.clipDuration {
		l.finalize(l.session, f.Time)
	}
	if l.session == nil {
		if !l.open(f.Time) {
			p.metrics.FrameDropped(metrics.DropNoSession)
			return
		}
	}
	s := l.session

	if !s.sink.Ready() {
		p.metrics.FrameDropped(metrics.DropNotReady)
	} else if err := s.sink.WriteFrame(f.Data); err != nil {
		if errors.Is(err, media.ErrNotReady) {
			p.metrics.FrameDropped(metrics.DropNotReady)
		} else {
			p.logger.Warn("writing frame", "clip", s.id, "error", err)
			p.metrics.FrameDropped(metrics.DropWriteError)
		}
	}
	if f.Time.After(s.last) {
		s.last = f.Time
	}

	if s.counter%p.cadence == 0 {
		l.analyze(s, f)
	}
	s.counter++

	if len(p.stillOffsets) > 0 && s.dueStills(p.stillOffsets, f.Time.Sub(s.start)) {
		still, err := p.analyzer.ToStill(f)
		if err != nil {
			p.logger.Warn("capturing still", "clip", s.id, "error", err)
			p.metrics.AnalyzerError("still")
		} else if len(still) > 0 {
			s.stills = append(s.stills, still)
		}
	}
}

func (l *loop) open(start time.Time) bool {
	p := l.p
	id := p.newID()
	sink, err := p.media.Create(id)
	if err != nil {
		p.logger.Warn("opening clip media, dropping frame", "clip", id, "error", err)
		return false
	}
	l.session = newSession(id, sink, start, len(p.stillOffsets))
	p.logger.Debug("clip session opened", "clip", id, "start", start)
	return true
}

func (l *loop) analyze(s *session, f frames.Frame) {
	p := l.p
	ctx, cancel := context.WithTimeout(l.ctx, p.analyzeTimeout)
	defer cancel()

	labels, err := p.analyzer.Classify(ctx, f)
	if err != nil {
		p.logger.Warn("classifying frame", "clip", s.id, "error", err)
		p.metrics.AnalyzerError("classify")
	}
	for _, label := range labels {
		s.addKeywords([]string{strings.ToLower(strings.TrimSpace(label))})
	}

	lines, err := p.analyzer.RecognizeText(ctx, f)
	if err != nil {
		p.logger.Warn("recognizing text", "clip", s.id, "error", err)
		p.metrics.AnalyzerError("text")
	}
	for _, line := range lines {
		if line = strings.ToLower(strings.TrimSpace(line)); line != "" {
			s.addKeywords([]string{textPrefix + line})
		}
	}
}

// finalize closes s to writes and closes its sink on a separate goroutine.
// The clip ends at end, or shortly after its start if no later frame came.
func (l *loop) finalize(s *session, end time.Time) {
	if !end.After(s.start) {
		end = s.start.Add(minClipLength)
	}
	l.session = nil

	r := closeResult{
		seq: l.nextSeq,
		clip: clips.Clip{
			ID:       s.id,
			MediaRef: s.sink.Ref(),
			Start:    s.start,
			End:      end,
			Keywords: s.sortedKeywords(),
		},
		stills: s.stills,
	}
	l.nextSeq++
	l.inflight++

	sink := s.sink
	results := l.results
	go func() {
		if r.err = sink.Close(); r.err == nil {
			l.describe(&r.clip)
		}
		results <- r
	}()
}

// describe fills the description and embedding of a closed clip. It runs off
// the ingestion goroutine and touches no loop state.
func (l *loop) describe(c *clips.Clip) {
	p := l.p
	c.Description = clips.Describe(c.Keywords)
	if p.embedder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(l.ctx, p.embedTimeout)
	defer cancel()
	vec, err := p.embedder.EmbedTruncated(ctx, c.Description)
	switch {
	case errors.Is(err, embedding.ErrUnavailable):
		p.logger.Debug("no embedding backend, indexing clip by keywords only", "clip", c.ID)
	case err != nil:
		p.logger.Warn("embedding clip description", "clip", c.ID, "error", err)
	default:
		c.Embedding = vec
	}
}

func (l *loop) handleResult(r closeResult) {
	l.pending[r.seq] = r
	for {
		next, ok := l.pending[l.applySeq]
		if !ok {
			return
		}
		delete(l.pending, l.applySeq)
		l.applySeq++
		l.inflight--
		l.apply(next)
	}
}

// apply indexes one closed clip, prunes and dispatches enrichment.
func (l *loop) apply(r closeResult) {
	p := l.p
	c := r.clip

	if r.err != nil {
		p.logger.Warn("closing clip media, discarding clip", "clip", c.ID, "error", r.err)
		l.discard(c)
		return
	}

	if err := p.store.Insert(c); err != nil {
		p.logger.Error("inserting clip", "clip", c.ID, "error", err)
		l.discard(c)
		return
	}
	p.metrics.ClipFinalized()
	p.logger.Debug("clip indexed",
		"clip", c.ID,
		"start", c.Start,
		"duration", c.Duration(),
		"keywords", len(c.Keywords),
		"embedded", c.HasEmbedding(),
	)

	l.pruneTo(c.End)

	if p.dispatcher != nil && len(r.stills) > 0 {
		p.dispatcher.Dispatch(c, r.stills)
	}
}

func (l *loop) discard(c clips.Clip) {
	p := l.p
	p.metrics.ClipDiscarded()
	if err := p.media.Delete(c.MediaRef); err != nil && !errors.Is(err, media.ErrNotFound) {
		p.logger.Warn("deleting discarded clip media", "clip", c.ID, "error", err)
	}
}

// pruneTick applies retention at the current time. A session that has seen
// no frame for a whole clip duration is finalized first so it becomes
// searchable.
func (l *loop) pruneTick() {
	p := l.p
	now := p.now()
	if s := l.session; s != nil && now.Sub(s.last) >= p.clipDuration {
		p.logger.Debug("finalizing stalled clip session", "clip", s.id, "idle", now.Sub(s.last))
		l.finalize(s, s.last)
	}
	l.pruneTo(now)
}

func (l *loop) pruneTo(now time.Time) {
	if now.After(l.pruneAt) {
		l.pruneAt = now
	}
	l.p.metrics.ClipsPruned(len(l.p.store.Prune(l.pruneAt)))
}
