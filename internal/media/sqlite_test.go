package media

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kalambet/cliprecall/internal/storage"
)

func openTestDB(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStore_WriteCloseOpen(t *testing.T) {
	s, err := NewSQLiteStore(openTestDB(t), 0, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	sink, err := s.Create("clip-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sink.WriteFrame(frameA)
	sink.WriteFrame(frameB)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rc, err := s.Open(sink.Ref())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if want := append(append([]byte{}, frameA...), frameB...); !bytes.Equal(got, want) {
		t.Errorf("payload = %x, want %x", got, want)
	}
}

func TestSQLiteStore_Backpressure(t *testing.T) {
	s, _ := NewSQLiteStore(openTestDB(t), len(frameA)+1, nil)
	sink, _ := s.Create("clip-1")

	if err := sink.WriteFrame(frameA); err != nil {
		t.Fatalf("first WriteFrame: %v", err)
	}
	if sink.Ready() {
		t.Error("sink ready past its byte limit")
	}
	if err := sink.WriteFrame(frameB); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	db := openTestDB(t)
	s, _ := NewSQLiteStore(db, 0, nil)
	sink, _ := s.Create("clip-1")
	sink.WriteFrame(frameA)
	sink.Close()

	if err := s.Delete(sink.Ref()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(sink.Ref()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	if n, _ := db.CountMedia(); n != 0 {
		t.Errorf("CountMedia = %d, want 0", n)
	}
}

func TestSQLiteStore_PurgesOnOpen(t *testing.T) {
	db := openTestDB(t)
	db.PutMedia(storage.Media{ID: "stale", ContentType: ContentType, Content: frameA, CreatedAt: time.Now()})

	if _, err := NewSQLiteStore(db, 0, nil); err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if n, _ := db.CountMedia(); n != 0 {
		t.Errorf("CountMedia = %d after open, want 0", n)
	}
}

func TestSQLiteStore_BadRef(t *testing.T) {
	s, _ := NewSQLiteStore(openTestDB(t), 0, nil)
	if _, err := s.Open("/tmp/clip.mjpeg"); err == nil {
		t.Error("expected error for foreign ref")
	}
}
