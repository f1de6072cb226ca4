package storage

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestClipMediaTableExists verifies the media table is created by the migration.
func TestClipMediaTableExists(t *testing.T) {
	s := openTestStore(t)

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='clip_media'").Scan(&name)
	if err != nil {
		t.Fatalf("clip_media table missing: %v", err)
	}
}

func TestPutAndGetMedia(t *testing.T) {
	s := openTestStore(t)

	m := Media{
		ID:          "clip-1",
		ContentType: "video/x-motion-jpeg",
		Frames:      3,
		Content:     []byte{0xff, 0xd8, 0xff, 0xd9},
		CreatedAt:   time.Now().Truncate(time.Second),
	}
	if err := s.PutMedia(m); err != nil {
		t.Fatalf("PutMedia: %v", err)
	}

	got, err := s.GetMedia("clip-1")
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if got.Frames != 3 || got.ContentType != m.ContentType || !bytes.Equal(got.Content, m.Content) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestGetMediaNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetMedia("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMedia(t *testing.T) {
	s := openTestStore(t)

	s.PutMedia(Media{ID: "a", ContentType: "x", Content: []byte{1}, CreatedAt: time.Now()})
	if err := s.DeleteMedia("a"); err != nil {
		t.Fatalf("DeleteMedia: %v", err)
	}
	if err := s.DeleteMedia("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteMedia err = %v, want ErrNotFound", err)
	}
}

func TestPurgeMedia(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		s.PutMedia(Media{ID: id, ContentType: "x", Content: []byte{1}, CreatedAt: time.Now()})
	}
	n, err := s.PurgeMedia()
	if err != nil {
		t.Fatalf("PurgeMedia: %v", err)
	}
	if n != 3 {
		t.Errorf("purged %d, want 3", n)
	}
	if c, _ := s.CountMedia(); c != 0 {
		t.Errorf("CountMedia = %d after purge", c)
	}
}
