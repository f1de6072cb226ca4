package clips

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type mockDeleter struct {
	mu      sync.Mutex
	deleted map[string]int
	err     error
}

func (m *mockDeleter) Delete(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted == nil {
		m.deleted = make(map[string]int)
	}
	m.deleted[ref]++
	return m.err
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func makeClip(id string, start, end float64) Clip {
	return Clip{ID: id, MediaRef: "media-" + id, Start: at(start), End: at(end)}
}

func TestStore_InsertAndSnapshot(t *testing.T) {
	s := NewStore(0, nil, nil)
	for i, c := range []Clip{makeClip("a", 0, 5), makeClip("b", 5, 10), makeClip("c", 10, 15)} {
		if err := s.Insert(c); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].ID != "a" || snap[2].ID != "c" {
		t.Errorf("unexpected snapshot order: %+v", snap)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestStore_InsertOutOfOrder(t *testing.T) {
	s := NewStore(0, nil, nil)
	if err := s.Insert(makeClip("a", 10, 15)); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(makeClip("b", 0, 5)); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
}

func TestStore_InsertInvertedBounds(t *testing.T) {
	s := NewStore(0, nil, nil)
	if err := s.Insert(makeClip("a", 5, 5)); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	s := NewStore(0, nil, nil)
	s.Insert(makeClip("a", 0, 5))
	if err := s.Insert(makeClip("a", 5, 10)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestStore_PruneScenario(t *testing.T) {
	d := &mockDeleter{}
	s := NewStore(60*time.Second, d, nil)
	s.Insert(makeClip("a", 5, 10))

	if removed := s.Prune(at(60)); len(removed) != 0 {
		t.Fatalf("pruned too early: %v", removed)
	}
	removed := s.Prune(at(69))
	if len(removed) != 1 || removed[0].ID != "a" {
		t.Fatalf("Prune(69s) removed %v, want [a]", removed)
	}
	if d.deleted["media-a"] != 1 {
		t.Errorf("media-a deleted %d times, want 1", d.deleted["media-a"])
	}
	if _, ok := s.Find("a"); ok {
		t.Error("clip a still present after prune")
	}

	s.Prune(at(200))
	if d.deleted["media-a"] != 1 {
		t.Errorf("media-a deleted %d times after second prune, want 1", d.deleted["media-a"])
	}
}

func TestStore_PruneRetentionInvariant(t *testing.T) {
	d := &mockDeleter{}
	s := NewStore(60*time.Second, d, nil)
	for i := 0; i < 40; i++ {
		c := makeClip(string(rune('a'+i)), float64(i*5), float64(i*5+5))
		if err := s.Insert(c); err != nil {
			t.Fatal(err)
		}
		now := c.End
		s.Prune(now)
		for _, kept := range s.Snapshot() {
			if now.Sub(kept.End) > s.MaxHistory() {
				t.Fatalf("clip %s ended %v before now", kept.ID, now.Sub(kept.End))
			}
		}
	}
	for ref, n := range d.deleted {
		if n != 1 {
			t.Errorf("%s deleted %d times", ref, n)
		}
	}
	if len(d.deleted)+s.Len() != 40 {
		t.Errorf("deleted %d + kept %d != 40", len(d.deleted), s.Len())
	}
}

func TestStore_PruneDeleteErrorStillRemoves(t *testing.T) {
	d := &mockDeleter{err: errors.New("permission denied")}
	s := NewStore(time.Second, d, nil)
	s.Insert(makeClip("a", 0, 1))
	if removed := s.Prune(at(10)); len(removed) != 1 {
		t.Fatalf("removed %d, want 1", len(removed))
	}
	if s.Len() != 0 {
		t.Error("clip kept after delete error")
	}
}

func TestStore_UpdateMissingIsNoop(t *testing.T) {
	s := NewStore(0, nil, nil)
	s.Insert(makeClip("a", 0, 5))
	v := s.Version()

	called := false
	if s.Update("gone", func(*Clip) { called = true }) {
		t.Error("Update of missing id returned true")
	}
	if called {
		t.Error("mutator called for missing id")
	}
	if s.Version() != v {
		t.Error("version changed on missing update")
	}
}

func TestStore_UpdateKeepsIdentity(t *testing.T) {
	s := NewStore(0, nil, nil)
	s.Insert(makeClip("a", 0, 5))
	ok := s.Update("a", func(c *Clip) {
		c.ID = "hijack"
		c.Start = at(100)
		c.Keywords = []string{"Keys", "keys", "table"}
		c.Enriched = true
	})
	if !ok {
		t.Fatal("Update returned false")
	}
	c, found := s.Find("a")
	if !found {
		t.Fatal("clip a missing after update")
	}
	if !c.Start.Equal(at(0)) {
		t.Errorf("Start changed to %v", c.Start)
	}
	if len(c.Keywords) != 2 || !c.Enriched {
		t.Errorf("unexpected clip after update: %+v", c)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(0, nil, nil)
	c := makeClip("a", 0, 5)
	c.Keywords = []string{"mug"}
	c.Embedding = []float32{1, 0}
	s.Insert(c)

	snap := s.Snapshot()
	snap[0].Keywords[0] = "changed"
	snap[0].Embedding[0] = 42

	got, _ := s.Find("a")
	if got.Keywords[0] != "mug" || got.Embedding[0] != 1 {
		t.Errorf("snapshot shares memory with store: %+v", got)
	}
}

func TestStore_ConcurrentUpdateAndPrune(t *testing.T) {
	s := NewStore(10*time.Second, &mockDeleter{}, nil)
	for i := 0; i < 20; i++ {
		s.Insert(makeClip(string(rune('a'+i)), float64(i), float64(i+1)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Update(id, func(c *Clip) { c.Description = "updated" })
		}(string(rune('a' + i)))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for sec := 10; sec < 40; sec++ {
			s.Prune(at(float64(sec)))
		}
	}()
	wg.Wait()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after pruning everything", s.Len())
	}
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(0, nil, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Insert(makeClip("a", 0, 5))
	s.Insert(makeClip("b", 5, 10))
	s.Update("a", func(c *Clip) { c.Description = "x" })

	select {
	case v := <-ch:
		if v != s.Version() {
			t.Errorf("got version %d, want latest %d", v, s.Version())
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	cancel()
	s.Insert(makeClip("c", 10, 15))
	select {
	case v := <-ch:
		t.Errorf("received %d after unsubscribe", v)
	default:
	}
}
