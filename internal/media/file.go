package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileExt = ".mjpeg"

// DefaultBuffer is the number of frames a FileStore sink buffers ahead of disk.
const DefaultBuffer = 32

// FileStore writes one Motion JPEG file per clip into a directory.
type FileStore struct {
	dir    string
	buffer int
	logger *slog.Logger
}

// NewFileStore creates dir if needed and removes payloads left by a previous
// run. If buffer <= 0, defaults to DefaultBuffer.
func NewFileStore(dir string, buffer int, logger *slog.Logger) (*FileStore, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	fsStore := &FileStore{dir: dir, buffer: buffer, logger: logger}
	if err := fsStore.purge(); err != nil {
		return nil, err
	}
	return fsStore, nil
}

func (s *FileStore) purge() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return fmt.Errorf("listing media directory: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing stale media %s: %w", m, err)
		}
	}
	if len(matches) > 0 {
		s.logger.Info("removed stale clip media", "count", len(matches), "dir", s.dir)
	}
	return nil
}

// Create opens <dir>/<id>.mjpeg for writing.
func (s *FileStore) Create(id string) (Sink, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid clip id %q", id)
	}
	path := filepath.Join(s.dir, id+fileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating media file: %w", err)
	}
	sink := &fileSink{
		path:   path,
		file:   f,
		frames: make(chan []byte, s.buffer),
		done:   make(chan struct{}),
	}
	go sink.drain()
	return sink, nil
}

// Open returns the payload file at ref.
func (s *FileStore) Open(ref string) (io.ReadCloser, error) {
	if err := s.owns(ref); err != nil {
		return nil, err
	}
	f, err := os.Open(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening media: %w", err)
	}
	return f, nil
}

// Delete removes the payload file at ref.
func (s *FileStore) Delete(ref string) error {
	if err := s.owns(ref); err != nil {
		return err
	}
	err := os.Remove(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting media: %w", err)
	}
	return nil
}

func (s *FileStore) owns(ref string) error {
	if filepath.Dir(ref) != filepath.Clean(s.dir) || filepath.Ext(ref) != fileExt {
		return fmt.Errorf("media ref %q outside store", ref)
	}
	return nil
}

// fileSink hands frames to a writer goroutine through a bounded channel.
// A full channel means the disk is behind and the sink is not ready.
type fileSink struct {
	path   string
	file   *os.File
	frames chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *fileSink) Ref() string { return s.path }

func (s *fileSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.err == nil && len(s.frames) < cap(s.frames)
}

func (s *fileSink) WriteFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.err != nil {
		return s.err
	}
	select {
	case s.frames <- jpeg:
		return nil
	default:
		return ErrNotReady
	}
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fileSink) drain() {
	defer close(s.done)
	w := bufio.NewWriter(s.file)
	var err error
	for frame := range s.frames {
		if err != nil {
			continue
		}
		if _, werr := w.Write(frame); werr != nil {
			err = fmt.Errorf("writing frame: %w", werr)
			s.fail(err)
		}
	}
	if err == nil {
		if ferr := w.Flush(); ferr != nil {
			err = fmt.Errorf("flushing media: %w", ferr)
		} else if serr := s.file.Sync(); serr != nil {
			err = fmt.Errorf("syncing media: %w", serr)
		}
	}
	if cerr := s.file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing media: %w", cerr)
	}
	s.fail(err)
}

func (s *fileSink) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
