package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/cliprecall/internal/engine"
)

// mockBackend records the maximum number of concurrent Embed calls.
type mockBackend struct {
	embedFn  func(ctx context.Context, text string) ([]float32, error)
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (m *mockBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	time.Sleep(time.Millisecond)
	return []float32{float32(len(text)), 1}, nil
}

func TestSerial_NeverConcurrent(t *testing.T) {
	b := &mockBackend{}
	s := NewSerial(b, 0, nil, nil)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Embed(context.Background(), "red mug"); err != nil {
				t.Errorf("Embed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := b.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent backend calls = %d, want 1", got)
	}
	if got := b.calls.Load(); got != 32 {
		t.Errorf("backend calls = %d, want 32", got)
	}
}

func TestSerial_EmptyText(t *testing.T) {
	s := NewSerial(&mockBackend{}, 0, nil, nil)
	defer s.Close()

	if _, err := s.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestSerial_TooLong(t *testing.T) {
	b := &mockBackend{}
	s := NewSerial(b, 8, nil, nil)
	defer s.Close()

	if _, err := s.Embed(context.Background(), "abcdefghi"); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("err = %v, want ErrTextTooLong", err)
	}
	if b.calls.Load() != 0 {
		t.Error("backend should not be called for oversized text")
	}
}

func TestSerial_EmbedTruncated(t *testing.T) {
	var got string
	b := &mockBackend{embedFn: func(_ context.Context, text string) ([]float32, error) {
		got = text
		return []float32{1}, nil
	}}
	s := NewSerial(b, 4, nil, nil)
	defer s.Close()

	if _, err := s.EmbedTruncated(context.Background(), "héllo world"); err != nil {
		t.Fatalf("EmbedTruncated: %v", err)
	}
	if got != "héll" {
		t.Errorf("backend got %q, want %q", got, "héll")
	}
}

func TestSerial_NilBackend(t *testing.T) {
	s := NewSerial(nil, 0, nil, nil)
	defer s.Close()

	if s.Available() {
		t.Error("Available() = true with nil backend")
	}
	if _, err := s.Embed(context.Background(), "keys"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestSerial_AfterClose(t *testing.T) {
	s := NewSerial(&mockBackend{}, 0, nil, nil)
	s.Close()
	s.Close()

	if _, err := s.Embed(context.Background(), "keys"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestSerial_BackendError(t *testing.T) {
	b := &mockBackend{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}
	s := NewSerial(b, 0, nil, nil)
	defer s.Close()

	_, err := s.Embed(context.Background(), "keys")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v, want backend error", err)
	}
}

func TestSerial_ContextCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	b := &mockBackend{embedFn: func(context.Context, string) ([]float32, error) {
		<-release
		return []float32{1}, nil
	}}
	s := NewSerial(b, 0, nil, nil)
	defer s.Close()
	defer close(release)

	go s.Embed(context.Background(), "first")
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Embed(ctx, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

type observerFunc func(time.Duration, error)

func (f observerFunc) ObserveEmbed(d time.Duration, err error) { f(d, err) }

func TestSerial_Observer(t *testing.T) {
	var n atomic.Int32
	s := NewSerial(&mockBackend{}, 0, observerFunc(func(time.Duration, error) { n.Add(1) }), nil)
	defer s.Close()

	s.Embed(context.Background(), "a")
	s.Embed(context.Background(), "b")
	if n.Load() != 2 {
		t.Errorf("observer calls = %d, want 2", n.Load())
	}
}

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Chat(context.Context, string, []engine.Message, string) (string, error) {
	return "", errors.New("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(context.Context) bool        { return true }
func (m *mockEngine) HasModel(context.Context, string) bool { return true }
func (m *mockEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func TestEngineBackend_PassesModel(t *testing.T) {
	var gotModel string
	e := &mockEngine{embedFn: func(_ context.Context, model, _ string) ([]float32, error) {
		gotModel = model
		return []float32{0.1, 0.2}, nil
	}}
	vec, err := NewEngineBackend(e, "nomic-embed-text").Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotModel != "nomic-embed-text" || len(vec) != 2 {
		t.Errorf("model=%q vec=%v", gotModel, vec)
	}
}

func TestEngineBackend_WrapsError(t *testing.T) {
	e := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}
	_, err := NewEngineBackend(e, "m").Embed(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "embedding text") {
		t.Errorf("err = %v, want wrapped error", err)
	}
}
