package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPersister struct {
	mu    sync.Mutex
	calls [][]int32
	err   error
}

func (p *recordingPersister) Persist(readings []int32, _ time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.calls = append(p.calls, append([]int32(nil), readings...))
	return "/tmp/fake.npy", nil
}

func (p *recordingPersister) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingHub struct {
	mu      sync.Mutex
	batches [][]int32
}

func (h *recordingHub) Broadcast(batch []int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, append([]int32(nil), batch...))
}

// newTestBuffer builds a buffer whose watchdog effectively never ticks
// on its own, so tests drive tick() deterministically.
func newTestBuffer(p Persister, h Broadcaster) *Buffer {
	return NewBuffer(Options{
		Timeout:      5 * time.Second,
		PollInterval: time.Hour,
		LogEvery:     10,
	}, p, h)
}

func assertReadings(t *testing.T, got, want []int32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("readings = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("readings[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIngestAccumulatesInArrivalOrder(t *testing.T) {
	p := &recordingPersister{}
	b := newTestBuffer(p, nil)
	defer b.Shutdown()

	if got := b.Ingest([]int32{1, 2, 3}); got != 3 {
		t.Errorf("Ingest returned %d, want 3", got)
	}
	if got := b.Ingest([]int32{4, 5}); got != 2 {
		t.Errorf("Ingest returned %d, want 2", got)
	}

	stats, ok := b.Snapshot()
	if !ok {
		t.Fatal("Snapshot returned no data")
	}
	if stats.Status != Receiving {
		t.Errorf("Status = %v, want Receiving", stats.Status)
	}
	if stats.Points != 5 {
		t.Errorf("Points = %d, want 5", stats.Points)
	}
	if stats.Batches != 2 {
		t.Errorf("Batches = %d, want 2", stats.Batches)
	}

	b.mu.Lock()
	assertReadings(t, b.readings, []int32{1, 2, 3, 4, 5})
	b.mu.Unlock()
}

func TestIngestEmptyBatchIsRejected(t *testing.T) {
	b := newTestBuffer(&recordingPersister{}, nil)
	defer b.Shutdown()

	if got := b.Ingest(nil); got != 0 {
		t.Errorf("Ingest(nil) = %d, want 0", got)
	}
	if _, ok := b.Snapshot(); ok {
		t.Error("Snapshot should report no data after rejected ingest")
	}
}

func TestSnapshotBeforeAnyIngest(t *testing.T) {
	b := newTestBuffer(&recordingPersister{}, nil)
	defer b.Shutdown()

	if _, ok := b.Snapshot(); ok {
		t.Error("Snapshot should report no data before any session")
	}
}

func TestTimeoutClosesAndPersistsOnce(t *testing.T) {
	p := &recordingPersister{}
	b := newTestBuffer(p, nil)
	defer b.Shutdown()

	now := time.Now()
	b.clock = func() time.Time { return now }

	b.Ingest([]int32{1, 2, 3})
	b.Ingest([]int32{4, 5})
	gen := b.generation

	// Within the threshold: nothing closes.
	now = now.Add(3 * time.Second)
	if b.tick(gen) {
		t.Fatal("tick closed the session before the timeout")
	}

	now = now.Add(3 * time.Second)
	if !b.tick(gen) {
		t.Fatal("tick did not close the session after the timeout")
	}

	if p.callCount() != 1 {
		t.Fatalf("persist calls = %d, want 1", p.callCount())
	}
	assertReadings(t, p.calls[0], []int32{1, 2, 3, 4, 5})

	stats, ok := b.Snapshot()
	if !ok {
		t.Fatal("Snapshot returned no data after close")
	}
	if stats.Status != Closed {
		t.Errorf("Status = %v, want Closed", stats.Status)
	}
	if stats.Average != 3.0 {
		t.Errorf("Average = %f, want 3.0", stats.Average)
	}
	if stats.Min != 1 || stats.Max != 5 {
		t.Errorf("Min/Max = %d/%d, want 1/5", stats.Min, stats.Max)
	}

	// A second tick for the same generation is a stale no-op.
	if !b.tick(gen) {
		t.Error("stale tick should report the loop done")
	}
	if p.callCount() != 1 {
		t.Errorf("stale tick persisted again: calls = %d", p.callCount())
	}
}

func TestStaleGenerationCannotCloseNewSession(t *testing.T) {
	p := &recordingPersister{}
	b := newTestBuffer(p, nil)
	defer b.Shutdown()

	now := time.Now()
	b.clock = func() time.Time { return now }

	b.Ingest([]int32{1, 2})
	oldGen := b.generation

	now = now.Add(10 * time.Second)
	if !b.tick(oldGen) {
		t.Fatal("first session should have closed")
	}

	b.Ingest([]int32{7, 8, 9})

	// A leftover tick from the first session's watchdog must not touch
	// the new session even though its own timeout has long passed.
	now = now.Add(10 * time.Second)
	if !b.tick(oldGen) {
		t.Fatal("stale tick should stop its loop")
	}
	if p.callCount() != 1 {
		t.Fatalf("persist calls = %d, want 1", p.callCount())
	}

	b.mu.Lock()
	status := b.status
	readings := append([]int32(nil), b.readings...)
	b.mu.Unlock()
	if status != Receiving {
		t.Errorf("new session status = %v, want Receiving", status)
	}
	assertReadings(t, readings, []int32{7, 8, 9})
}

func TestNoCrossSessionLeakage(t *testing.T) {
	p := &recordingPersister{}
	b := newTestBuffer(p, nil)
	defer b.Shutdown()

	now := time.Now()
	b.clock = func() time.Time { return now }

	b.Ingest([]int32{1, 2, 3})
	firstID := b.id.String()
	now = now.Add(10 * time.Second)
	b.tick(b.generation)

	b.Ingest([]int32{100})
	now = now.Add(10 * time.Second)
	b.tick(b.generation)

	if p.callCount() != 2 {
		t.Fatalf("persist calls = %d, want 2", p.callCount())
	}
	assertReadings(t, p.calls[0], []int32{1, 2, 3})
	assertReadings(t, p.calls[1], []int32{100})

	stats, _ := b.Snapshot()
	if stats.SessionID == firstID {
		t.Error("second session reused the first session's id")
	}
	if stats.Points != 1 {
		t.Errorf("second session Points = %d, want 1", stats.Points)
	}
}

func TestPersistFailureStillReturnsToIdle(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	b := newTestBuffer(p, nil)
	defer b.Shutdown()

	now := time.Now()
	b.clock = func() time.Time { return now }

	b.Ingest([]int32{1, 2, 3})
	now = now.Add(10 * time.Second)
	b.tick(b.generation)

	b.mu.Lock()
	status := b.status
	b.mu.Unlock()
	if status != Idle {
		t.Errorf("status = %v, want Idle after failed persist", status)
	}

	// The last session's stats remain available regardless.
	stats, ok := b.Snapshot()
	if !ok || stats.Points != 3 {
		t.Errorf("Snapshot after failed persist = %+v, ok=%v", stats, ok)
	}
}

func TestIngestHandsBatchesToBroadcaster(t *testing.T) {
	h := &recordingHub{}
	b := newTestBuffer(&recordingPersister{}, h)
	defer b.Shutdown()

	b.Ingest([]int32{1, 2})
	b.Ingest([]int32{3})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.batches) != 2 {
		t.Fatalf("broadcast batches = %d, want 2", len(h.batches))
	}
	if h.batches[0][0] != 1 || h.batches[1][0] != 3 {
		t.Errorf("broadcast batches = %v", h.batches)
	}
}

func TestShutdownFlushesOpenSession(t *testing.T) {
	p := &recordingPersister{}
	b := newTestBuffer(p, nil)

	b.Ingest([]int32{9, 9, 9})
	b.Shutdown()

	if p.callCount() != 1 {
		t.Fatalf("persist calls = %d, want 1", p.callCount())
	}
	assertReadings(t, p.calls[0], []int32{9, 9, 9})

	// Idempotent.
	b.Shutdown()
	if p.callCount() != 1 {
		t.Errorf("second Shutdown persisted again: calls = %d", p.callCount())
	}
}
