package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeStill_Downscales(t *testing.T) {
	out, err := EncodeStill(makeJPEG(t, 400, 200), 100, 0)
	if err != nil {
		t.Fatalf("EncodeStill: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("still is %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestEncodeStill_KeepsSmallFrames(t *testing.T) {
	out, err := EncodeStill(makeJPEG(t, 40, 60), 100, 50)
	if err != nil {
		t.Fatalf("EncodeStill: %v", err)
	}
	cfg, _ := jpeg.DecodeConfig(bytes.NewReader(out))
	if cfg.Width != 40 || cfg.Height != 60 {
		t.Errorf("still is %dx%d, want 40x60", cfg.Width, cfg.Height)
	}
}

func TestEncodeStill_InvalidData(t *testing.T) {
	if _, err := EncodeStill([]byte("not a jpeg"), 0, 0); err == nil {
		t.Error("expected error for invalid data")
	}
}

func TestNopAnalyzer(t *testing.T) {
	var a Analyzer = NopAnalyzer{}
	f := Frame{Data: []byte{1, 2}}
	if labels, err := a.Classify(context.Background(), f); err != nil || len(labels) != 0 {
		t.Errorf("Classify = %v, %v", labels, err)
	}
	if still, _ := a.ToStill(f); !bytes.Equal(still, f.Data) {
		t.Errorf("ToStill = %v", still)
	}
}

func TestSidecarAnalyzer_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" || r.Header.Get("Content-Type") != "image/jpeg" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "frame" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"labels": []map[string]any{
				{"label": "mug", "confidence": 0.91},
				{"label": "keys", "confidence": 0.5},
				{"label": "cat", "confidence": 0.2},
				{"label": " ", "confidence": 0.99},
			},
		})
	}))
	defer srv.Close()

	a := NewSidecarAnalyzer(srv.URL, SidecarOptions{})
	labels, err := a.Classify(context.Background(), Frame{Data: []byte("frame")})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !slices.Equal(labels, []string{"mug", "keys"}) {
		t.Errorf("labels = %v, want [mug keys]", labels)
	}
}

func TestSidecarAnalyzer_RecognizeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"lines": []string{"EXIT", "  ", " Aisle 4 "}})
	}))
	defer srv.Close()

	a := NewSidecarAnalyzer(srv.URL, SidecarOptions{})
	lines, err := a.RecognizeText(context.Background(), Frame{Data: []byte("frame")})
	if err != nil {
		t.Fatalf("RecognizeText: %v", err)
	}
	if !slices.Equal(lines, []string{"EXIT", "Aisle 4"}) {
		t.Errorf("lines = %v", lines)
	}
}

func TestSidecarAnalyzer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewSidecarAnalyzer(srv.URL, SidecarOptions{})
	if _, err := a.Classify(context.Background(), Frame{}); err == nil {
		t.Error("expected error on 500")
	}
}

type collectSink struct {
	mu     sync.Mutex
	frames []Frame
	got    chan struct{}
}

func (c *collectSink) ProcessFrame(f Frame) bool {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	c.got <- struct{}{}
	return true
}

func TestDirSource_HandsOffAndRemoves(t *testing.T) {
	dir := t.TempDir()
	frame := makeJPEG(t, 8, 8)

	// One frame is present before the watcher starts.
	os.WriteFile(filepath.Join(dir, "000.jpg"), frame, 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	sink := &collectSink{got: make(chan struct{}, 8)}
	src := NewDirSource(dir, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	waitFrame(t, sink.got)

	tmp := filepath.Join(dir, "001.tmp")
	os.WriteFile(tmp, frame, 0o644)
	os.Rename(tmp, filepath.Join(dir, "001.jpeg"))
	waitFrame(t, sink.got)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(sink.frames))
	}
	if !sink.frames[1].Time.After(sink.frames[0].Time) {
		t.Error("frame timestamps not increasing")
	}
	for _, name := range []string{"000.jpg", "001.jpeg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s not removed", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("non-frame file removed")
	}
}

func TestDirSource_SkipsTruncatedFrame(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.jpg"), []byte{0xff, 0xd8, 0x00}, 0o644)

	sink := &collectSink{got: make(chan struct{}, 1)}
	src := NewDirSource(dir, sink, nil)
	if err := src.backlog(); err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(sink.frames) != 0 {
		t.Error("truncated frame handed off")
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.jpg")); !os.IsNotExist(err) {
		t.Error("truncated frame not removed")
	}
}

func waitFrame(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}
