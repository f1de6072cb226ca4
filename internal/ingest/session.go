package ingest

import (
	"slices"
	"time"

	"github.com/kalambet/cliprecall/internal/media"
)

// session is the clip currently being written. Only the ingestion goroutine
// touches it.
type session struct {
	id       string
	sink     media.Sink
	start    time.Time
	last     time.Time
	counter  int
	keywords map[string]struct{}
	stills   [][]byte
	captured []bool
}

func newSession(id string, sink media.Sink, start time.Time, stillCount int) *session {
	return &session{
		id:       id,
		sink:     sink,
		start:    start,
		last:     start,
		keywords: make(map[string]struct{}),
		captured: make([]bool, stillCount),
	}
}

func (s *session) addKeywords(words []string) {
	for _, w := range words {
		if w != "" {
			s.keywords[w] = struct{}{}
		}
	}
}

func (s *session) sortedKeywords() []string {
	out := make([]string, 0, len(s.keywords))
	for k := range s.keywords {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// dueStills marks every offset reached at elapsed as captured and reports
// whether any of them was still open.
func (s *session) dueStills(offsets []time.Duration, elapsed time.Duration) bool {
	due := false
	for i, off := range offsets {
		if !s.captured[i] && elapsed >= off {
			s.captured[i] = true
			due = true
		}
	}
	return due
}
