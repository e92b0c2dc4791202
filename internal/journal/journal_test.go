package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (s *fakeStore) Insert(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Entry(nil), entries...))
	return nil
}

func (s *fakeStore) entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJournal_SessionEventMapping(t *testing.T) {
	store := &fakeStore{}
	j := New(Config{Instance: "bridge-1", BatchSize: 10, FlushInterval: time.Hour, BufferSize: 10}, store, nil)

	id := uuid.New()
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	j.SessionEvent(feed.Event{SessionID: id, Kind: feed.EventConnectFailed, At: at, Err: errors.New("refused"), Reconnect: true}, "conn-1")
	j.SessionEvent(feed.Event{SessionID: id, Kind: feed.EventData, At: at, Report: model.NewDataReport(nil)}, "conn-1")

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := j.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	got := store.entries()
	if len(got) != 1 {
		t.Fatalf("stored %d entries, want 1 (data events are not journaled)", len(got))
	}
	want := Entry{Instance: "bridge-1", SessionID: id, ConnID: "conn-1", Kind: "connect_failed", Reconnect: true, Error: "refused", At: at}
	if got[0] != want {
		t.Errorf("entry = %+v, want %+v", got[0], want)
	}
}

func TestJournal_FlushOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	j := New(Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	for i := 0; i < 3; i++ {
		j.SessionEvent(feed.Event{SessionID: uuid.New(), Kind: feed.EventConnected}, "c")
	}

	waitFor(t, func() bool { return store.batchCount() == 1 })
	if n := len(store.entries()); n != 3 {
		t.Errorf("stored %d entries, want 3", n)
	}
}

func TestJournal_FlushOnInterval(t *testing.T) {
	store := &fakeStore{}
	j := New(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 100}, store, nil)
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	j.SessionEvent(feed.Event{SessionID: uuid.New(), Kind: feed.EventHeartbeatLost}, "c")

	waitFor(t, func() bool { return len(store.entries()) == 1 })
	if s := j.Stats(); s.Flushes < 1 || s.Inserted != 1 {
		t.Errorf("Stats() = %+v, want at least one flush and one insert", s)
	}
}

func TestJournal_StopFlushesRemaining(t *testing.T) {
	store := &fakeStore{}
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		j.SessionEvent(feed.Event{SessionID: uuid.New(), Kind: feed.EventDisconnected}, "c")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if n := len(store.entries()); n != 5 {
		t.Errorf("stored %d entries, want 5", n)
	}

	// closed journal drops
	j.SessionEvent(feed.Event{SessionID: uuid.New(), Kind: feed.EventConnected}, "c")
	if s := j.Stats(); s.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped)
	}
}

func TestJournal_StoreErrorCounted(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	j.SessionEvent(feed.Event{SessionID: uuid.New(), Kind: feed.EventConnected}, "c")

	err := j.Stop(context.Background())
	if err == nil {
		t.Fatal("Stop expected insert error, got nil")
	}
	s := j.Stats()
	if s.Errors != 1 {
		t.Errorf("Errors = %d, want 1", s.Errors)
	}
	if s.Pending != 0 {
		t.Errorf("Pending = %d, want 0 after failed flush discards batch", s.Pending)
	}
}

func TestJournal_StopWithoutStart(t *testing.T) {
	j := New(DefaultConfig(), &fakeStore{}, nil)
	if err := j.Stop(context.Background()); err != nil {
		t.Errorf("Stop without Start = %v, want nil", err)
	}
}

func TestJournal_OutlivesStartContext(t *testing.T) {
	store := &fakeStore{}
	j := New(Config{Instance: "bridge-1", BatchSize: 2, FlushInterval: time.Hour, BufferSize: 10}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	for i := 0; i < 3; i++ {
		j.SessionEvent(feed.Event{SessionID: uuid.New(), Kind: feed.EventDisconnected, At: time.Now()}, "conn-1")
	}
	waitFor(t, func() bool { return store.batchCount() == 1 })

	if err := j.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := len(store.entries()); got != 3 {
		t.Fatalf("stored %d entries after start context was cancelled, want 3", got)
	}
	if errs := j.Stats().Errors; errs != 0 {
		t.Fatalf("store errors = %d, want 0", errs)
	}
}
