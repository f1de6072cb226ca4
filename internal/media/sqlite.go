package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/cliprecall/internal/storage"
)

const sqliteRefPrefix = "sqlite:"

// DefaultMaxClipBytes bounds the in-memory payload of one SQLite sink.
const DefaultMaxClipBytes = 64 << 20

// SQLiteStore keeps each clip's payload as one row in a SQLite database.
// Frames accumulate in memory and the row is written on Close.
type SQLiteStore struct {
	db       *storage.Store
	maxBytes int
	logger   *slog.Logger
}

// NewSQLiteStore wraps db and removes payloads left by a previous run.
// If maxBytes <= 0, defaults to DefaultMaxClipBytes.
func NewSQLiteStore(db *storage.Store, maxBytes int, logger *slog.Logger) (*SQLiteStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxClipBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	n, err := db.PurgeMedia()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		logger.Info("removed stale clip media", "count", n)
	}
	return &SQLiteStore{db: db, maxBytes: maxBytes, logger: logger}, nil
}

// Create starts an in-memory payload for id.
func (s *SQLiteStore) Create(id string) (Sink, error) {
	if id == "" {
		return nil, fmt.Errorf("invalid clip id %q", id)
	}
	return &sqliteSink{db: s.db, id: id, max: s.maxBytes}, nil
}

// Open returns a reader over the stored payload.
func (s *SQLiteStore) Open(ref string) (io.ReadCloser, error) {
	id, err := parseSQLiteRef(ref)
	if err != nil {
		return nil, err
	}
	m, err := s.db.GetMedia(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(m.Content)), nil
}

// Delete removes the stored payload.
func (s *SQLiteStore) Delete(ref string) error {
	id, err := parseSQLiteRef(ref)
	if err != nil {
		return err
	}
	if err := s.db.DeleteMedia(id); errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func parseSQLiteRef(ref string) (string, error) {
	id, ok := strings.CutPrefix(ref, sqliteRefPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("media ref %q outside store", ref)
	}
	return id, nil
}

type sqliteSink struct {
	db  *storage.Store
	id  string
	max int

	mu     sync.Mutex
	buf    bytes.Buffer
	frames int
	closed bool
}

func (s *sqliteSink) Ref() string { return sqliteRefPrefix + s.id }

func (s *sqliteSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.buf.Len() < s.max
}

func (s *sqliteSink) WriteFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.buf.Len()+len(jpeg) > s.max {
		return ErrNotReady
	}
	s.buf.Write(jpeg)
	s.frames++
	return nil
}

func (s *sqliteSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	content := bytes.Clone(s.buf.Bytes())
	if content == nil {
		content = []byte{}
	}
	frames := s.frames
	s.buf.Reset()
	s.mu.Unlock()

	return s.db.PutMedia(storage.Media{
		ID:          s.id,
		ContentType: ContentType,
		Frames:      frames,
		Content:     content,
		CreatedAt:   time.Now(),
	})
}
