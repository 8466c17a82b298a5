package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the immutable capture of a closed session handed to the
// persister after the lock is released.
type snapshot struct {
	id       uuid.UUID
	readings []int32
	closedAt time.Time
}

// watch polls for inactivity on the session generation it was armed for
// and terminates after closing it. The loop also ends as soon as it
// observes that the buffer has moved on to a newer generation, so at
// most one watchdog is ever effective.
func (b *Buffer) watch(gen uint64) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.quit:
			return
		case <-ticker.C:
			if b.tick(gen) {
				return
			}
		}
	}
}

// tick runs one inactivity check for generation gen and reports whether
// the watch loop should stop. The expiry decision and the snapshot
// capture happen in a single critical section, so a batch that arrives
// between ticks can never be lost to a concurrent close.
func (b *Buffer) tick(gen uint64) bool {
	b.mu.Lock()
	if b.generation != gen || b.status != Receiving {
		b.mu.Unlock()
		log.Debug().Uint64("generation", gen).Msg("stale watchdog tick, stopping")
		return true
	}
	elapsed := b.clock().Sub(b.lastActivity)
	if elapsed <= b.timeout {
		b.mu.Unlock()
		return false
	}
	snap := b.closeLocked()
	b.mu.Unlock()

	log.Info().
		Str("session", snap.id.String()).
		Float64("elapsed_sec", elapsed.Seconds()).
		Msg("stream timeout, session closed")
	b.flush(snap)
	return true
}

// closeLocked captures the session, records its final stats and returns
// the buffer to Idle. Caller must hold b.mu and have verified the
// session is Receiving.
func (b *Buffer) closeLocked() snapshot {
	snap := snapshot{
		id:       b.id,
		readings: b.readings,
		closedAt: b.clock(),
	}
	final := computeStats(b.id, Closed, b.readings, b.batchCount, b.pointCount, b.lastActivity)
	b.last = &final
	b.status = Idle
	b.readings = nil
	b.lastActivity = time.Time{}
	return snap
}

// flush hands a captured session to the persister. Best-effort and
// attempted exactly once: a persistence failure is logged, never
// surfaced to the ingestion or watchdog path.
func (b *Buffer) flush(snap snapshot) {
	if len(snap.readings) == 0 {
		log.Warn().Str("session", snap.id.String()).Msg("no data to save")
		return
	}
	path, err := b.persister.Persist(snap.readings, snap.closedAt)
	if err != nil {
		log.Error().Err(err).Str("session", snap.id.String()).Msg("failed to persist session")
		return
	}
	log.Info().
		Str("session", snap.id.String()).
		Str("path", path).
		Int("points", len(snap.readings)).
		Msg("session persisted")
}
