// Package session owns the in-memory accumulation of the current sensor
// stream session. Session boundaries are inferred purely from silence on
// the wire: the device never signals end-of-stream, so a watchdog closes
// the session once inactivity exceeds the configured threshold.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Persister stores a completed session's readings and returns where they
// were written. It is never invoked with an empty slice.
type Persister interface {
	Persist(readings []int32, completedAt time.Time) (string, error)
}

// Broadcaster receives each accepted batch for live fan-out.
// Implementations must not block the caller.
type Broadcaster interface {
	Broadcast(batch []int32)
}

type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	LogEvery     int
}

// Buffer is the sole writer of session state. A single mutex serializes
// ingestion, the watchdog's read-then-close sequence and stats snapshots;
// broadcast delivery always happens outside the critical section.
type Buffer struct {
	mu           sync.Mutex
	status       Status
	id           uuid.UUID
	readings     []int32
	lastActivity time.Time
	batchCount   int
	pointCount   int
	// generation increments on every Idle->Receiving transition. The
	// watchdog is armed with the generation it watches, so a late tick
	// from a previous session is a detectable no-op rather than a race.
	generation uint64
	last       *Stats

	persister Persister
	hub       Broadcaster

	timeout      time.Duration
	pollInterval time.Duration
	logEvery     int

	clock    func() time.Time
	quit     chan struct{}
	stopOnce sync.Once
}

func NewBuffer(opts Options, persister Persister, hub Broadcaster) *Buffer {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = 10
	}
	return &Buffer{
		persister:    persister,
		hub:          hub,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		logEvery:     opts.LogEvery,
		clock:        time.Now,
		quit:         make(chan struct{}),
	}
}

// Ingest appends a non-empty batch to the current session, opening a new
// one first when the buffer is idle, and returns the number of readings
// accepted. The batch is handed to the broadcaster only after the lock
// is released, so slow observers can never stall ingestion.
func (b *Buffer) Ingest(batch []int32) int {
	if len(batch) == 0 {
		return 0
	}

	b.mu.Lock()
	if b.status != Receiving {
		b.id = uuid.New()
		b.status = Receiving
		b.readings = append([]int32(nil), batch...)
		b.batchCount = 0
		b.pointCount = 0
		b.generation++
		log.Info().Str("session", b.id.String()).Msg("new data stream started")
		go b.watch(b.generation)
	} else {
		b.readings = append(b.readings, batch...)
	}
	b.lastActivity = b.clock()
	b.batchCount++
	b.pointCount += len(batch)

	batches, points := b.batchCount, b.pointCount
	var avg float64
	progress := batches%b.logEvery == 0
	if progress {
		avg = mean(b.readings)
	}
	b.mu.Unlock()

	if progress {
		log.Info().
			Int("batches", batches).
			Int("points", points).
			Float64("avg", avg).
			Msg("stream progress")
	}

	if b.hub != nil {
		b.hub.Broadcast(batch)
	}
	return len(batch)
}

// Snapshot returns a consistent view of the current session, or of the
// most recently closed one while the buffer is idle. ok is false until a
// first session has started.
func (b *Buffer) Snapshot() (Stats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status == Receiving {
		return computeStats(b.id, Receiving, b.readings, b.batchCount, b.pointCount, b.lastActivity), true
	}
	if b.last != nil {
		return *b.last, true
	}
	return Stats{}, false
}

// Shutdown stops the watchdog and flushes any open session. Safe to call
// more than once.
func (b *Buffer) Shutdown() {
	b.stopOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	if b.status != Receiving {
		b.mu.Unlock()
		return
	}
	snap := b.closeLocked()
	b.mu.Unlock()

	log.Info().Str("session", snap.id.String()).Msg("flushing open session on shutdown")
	b.flush(snap)
}
