package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	ErrUnavailable = errors.New("embedding backend unavailable")
	ErrEmptyText   = errors.New("empty text")
	ErrTextTooLong = errors.New("text exceeds maximum length")
)

// DefaultMaxTextLength is the rune limit used when NewSerial gets maxLen <= 0.
const DefaultMaxTextLength = 512

// Observer receives the latency of each backend call. May be nil.
type Observer interface {
	ObserveEmbed(d time.Duration, err error)
}

type request struct {
	ctx   context.Context
	text  string
	reply chan response
}

type response struct {
	vec []float32
	err error
}

// Serial is the process-wide access point to a Backend. A single goroutine
// owns the backend and handles requests one at a time in arrival order.
type Serial struct {
	backend  Backend
	maxLen   int
	observer Observer
	logger   *slog.Logger

	requests chan request
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewSerial starts the owner goroutine for backend. A nil backend yields a
// Serial that reports ErrUnavailable for every call.
// If maxLen <= 0, defaults to DefaultMaxTextLength runes.
func NewSerial(backend Backend, maxLen int, observer Observer, logger *slog.Logger) *Serial {
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serial{
		backend:  backend,
		maxLen:   maxLen,
		observer: observer,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

// MaxTextLength returns the rune limit enforced by Embed.
func (s *Serial) MaxTextLength() int { return s.maxLen }

// Available reports whether a backend is configured and the Serial is open.
func (s *Serial) Available() bool {
	if s == nil || s.backend == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Embed validates text and queues it for the backend, waiting for the result
// or for ctx to end. Text longer than the limit is rejected, not truncated.
func (s *Serial) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > s.maxLen {
		return nil, fmt.Errorf("%w: %d runes, limit %d", ErrTextTooLong, utf8.RuneCountInString(text), s.maxLen)
	}

	req := request{ctx: ctx, text: text, reply: make(chan response, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.vec, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmbedTruncated embeds text cut to the rune limit.
func (s *Serial) EmbedTruncated(ctx context.Context, text string) ([]float32, error) {
	if s != nil {
		text = Truncate(text, s.maxLen)
	}
	return s.Embed(ctx, text)
}

// Close stops the owner goroutine after the current call returns.
// Subsequent calls report ErrUnavailable.
func (s *Serial) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Serial) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case req := <-s.requests:
			// The caller may have given up while queued.
			if err := req.ctx.Err(); err != nil {
				req.reply <- response{err: err}
				continue
			}
			start := time.Now()
			vec, err := s.backend.Embed(req.ctx, req.text)
			if s.observer != nil {
				s.observer.ObserveEmbed(time.Since(start), err)
			}
			if err != nil {
				s.logger.Debug("embedding failed", "error", err)
			}
			req.reply <- response{vec: vec, err: err}
		}
	}
}

// Truncate cuts text to at most n runes.
func Truncate(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}
