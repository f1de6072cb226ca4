package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sink accepts frames without blocking. It reports false when the frame was
// dropped.
type Sink interface {
	ProcessFrame(f Frame) bool
}

// DirSource feeds the JPEG files a camera process drops into a directory to a
// Sink. Files must appear atomically (written under another name, then
// renamed). Each file is removed once handed off.
type DirSource struct {
	dir    string
	sink   Sink
	now    func() time.Time
	logger *slog.Logger

	last time.Time
}

// NewDirSource creates a DirSource. logger may be nil.
func NewDirSource(dir string, sink Sink, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{dir: dir, sink: sink, now: time.Now, logger: logger}
}

// Run watches the directory until ctx is cancelled. Files already present are
// handed off first, in name order.
func (s *DirSource) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating frame directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("watching for frames", "dir", s.dir)

	if err := s.backlog(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				s.handle(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("frame watch error", "error", err)
		}
	}
}

func (s *DirSource) backlog() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading frame directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	for _, n := range names {
		s.handle(filepath.Join(s.dir, n))
	}
	return nil
}

func (s *DirSource) handle(path string) {
	if !isJPEGName(path) {
		return
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		s.logger.Warn("reading frame", "path", path, "error", err)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("removing frame", "path", path, "error", err)
		}
	}()

	if !looksLikeJPEG(data) {
		s.logger.Warn("skipping incomplete frame", "path", path, "bytes", len(data))
		return
	}

	// Keep timestamps strictly increasing even if the clock steps back.
	ts := s.now()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts

	if !s.sink.ProcessFrame(Frame{Data: data, Time: ts}) {
		s.logger.Debug("frame dropped", "path", path)
	}
}

func isJPEGName(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

func looksLikeJPEG(data []byte) bool {
	return len(data) >= 4 &&
		bytes.HasPrefix(data, []byte{0xff, 0xd8}) &&
		bytes.HasSuffix(data, []byte{0xff, 0xd9})
}
