package clips

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrOutOfOrder is returned by Insert when the clip starts before the
	// previous clip ended. It indicates a defect in the single writer.
	ErrOutOfOrder = errors.New("clip inserted out of order")
	// ErrDuplicate is returned by Insert when the id is already stored.
	ErrDuplicate = errors.New("duplicate clip id")
)

// DefaultMaxHistory is the retention horizon used when none is configured.
const DefaultMaxHistory = 60 * time.Second

// orderTolerance absorbs clock jitter between the end of one clip and the
// start of the next.
const orderTolerance = 50 * time.Millisecond

// MediaDeleter removes the payload behind a media reference.
type MediaDeleter interface {
	Delete(ref string) error
}

// Store is the bounded, time-ordered collection of indexed clips.
//
// Insert and Prune are called only from the ingestion goroutine. Update may be
// called from any goroutine. Readers get copies, never references.
type Store struct {
	mu         sync.RWMutex
	clips      []Clip
	index      map[string]int
	version    uint64
	maxHistory time.Duration
	deleter    MediaDeleter
	logger     *slog.Logger

	subMu    sync.Mutex
	subs     map[chan uint64]struct{}
	notified uint64
}

// NewStore creates an empty Store.
// If maxHistory <= 0, defaults to DefaultMaxHistory. deleter may be nil.
func NewStore(maxHistory time.Duration, deleter MediaDeleter, logger *slog.Logger) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		index:      make(map[string]int),
		maxHistory: maxHistory,
		deleter:    deleter,
		logger:     logger,
		subs:       make(map[chan uint64]struct{}),
	}
}

// MaxHistory returns the retention horizon.
func (s *Store) MaxHistory() time.Duration { return s.maxHistory }

// Insert appends c. The caller prunes afterwards.
func (s *Store) Insert(c Clip) error {
	if !c.Start.Before(c.End) {
		return fmt.Errorf("%w: clip %s start %s not before end %s", ErrOutOfOrder, c.ID, c.Start, c.End)
	}

	s.mu.Lock()
	if _, ok := s.index[c.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, c.ID)
	}
	if n := len(s.clips); n > 0 {
		last := s.clips[n-1]
		if c.Start.Before(last.End.Add(-orderTolerance)) {
			s.mu.Unlock()
			return fmt.Errorf("%w: clip %s starts %s, previous ended %s", ErrOutOfOrder, c.ID, c.Start, last.End)
		}
	}
	c = c.clone()
	c.Keywords = NormalizeKeywords(c.Keywords)
	s.index[c.ID] = len(s.clips)
	s.clips = append(s.clips, c)
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// Prune removes every clip that no longer lies entirely inside the retention
// window ending at now, deleting its media once. Returns the removed clips.
func (s *Store) Prune(now time.Time) []Clip {
	cutoff := now.Add(-s.maxHistory)

	s.mu.Lock()
	n := 0
	for n < len(s.clips) && s.clips[n].Start.Before(cutoff) {
		n++
	}
	if n == 0 {
		s.mu.Unlock()
		return nil
	}
	removed := make([]Clip, n)
	copy(removed, s.clips[:n])
	s.clips = append(s.clips[:0:0], s.clips[n:]...)
	s.reindex()
	v := s.bump()
	s.mu.Unlock()

	for _, c := range removed {
		if s.deleter == nil || c.MediaRef == "" {
			continue
		}
		if err := s.deleter.Delete(c.MediaRef); err != nil {
			s.logger.Warn("deleting evicted clip media", "clip", c.ID, "ref", c.MediaRef, "error", err)
		}
	}
	s.notify(v)
	return removed
}

// Find returns a copy of the clip with the given id.
func (s *Store) Find(id string) (Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Clip{}, false
	}
	return s.clips[i].clone(), true
}

// Snapshot returns copies of all clips in insertion order.
func (s *Store) Snapshot() []Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Clip, len(s.clips))
	for i, c := range s.clips {
		out[i] = c.clone()
	}
	return out
}

// Update applies mutate to a copy of the clip and swaps the copy in.
// A missing id is a silent miss and returns false. The identity and time
// bounds of the clip cannot be changed.
func (s *Store) Update(id string, mutate func(*Clip)) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	orig := s.clips[i]
	next := orig.clone()
	mutate(&next)
	next.ID, next.MediaRef, next.Start, next.End = orig.ID, orig.MediaRef, orig.Start, orig.End
	next.Keywords = NormalizeKeywords(next.Keywords)
	s.clips[i] = next
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return true
}

// Len returns the number of stored clips.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clips)
}

// Version returns a counter that increases on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a channel that receives the store version after every
// change, and a function to unsubscribe. A slow reader only misses
// intermediate versions; the latest one is always delivered.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) bump() uint64 {
	s.version++
	return s.version
}

func (s *Store) reindex() {
	clear(s.index)
	for i, c := range s.clips {
		s.index[c.ID] = i
	}
}

func (s *Store) notify(v uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if v <= s.notified {
		return
	}
	s.notified = v
	for ch := range s.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Replace the stale pending version with the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
