package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

type waitingEntry struct {
	SID    core.ConnID
	Filter domain.MatchFilter
}

// MatchQueue is the FIFO waiting pool of connections seeking a 1:1 pairing.
// Entries have no residency timeout: a connection waits until it is matched
// or disconnects.
type MatchQueue struct {
	mu      sync.Mutex
	entries []waitingEntry
}

func NewMatchQueue() *MatchQueue {
	return &MatchQueue{}
}

// EnqueueOrMatch scans the pool in insertion order and pops the first entry
// compatible with filter. First fit, not best fit: no scoring, no
// backtracking. When nothing fits, the requester joins the pool; a repeated
// call from a queued connection refreshes its filter in place rather than
// queueing it twice.
func (q *MatchQueue) EnqueueOrMatch(sid core.ConnID, filter domain.MatchFilter) (core.ConnID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.SID == sid {
			continue
		}
		if e.Filter.Compatible(filter) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			log.Info().Str("module", "app.queue").
				Str("sid", string(sid)).Str("peer", string(e.SID)).
				Int("waiting", len(q.entries)).Msg("matched")
			return e.SID, true
		}
	}

	for i := range q.entries {
		if q.entries[i].SID == sid {
			q.entries[i].Filter = filter
			return "", false
		}
	}
	q.entries = append(q.entries, waitingEntry{SID: sid, Filter: filter})
	log.Info().Str("module", "app.queue").Str("sid", string(sid)).
		Int("waiting", len(q.entries)).Msg("queued")
	return "", false
}

// Remove reports whether the connection was waiting.
func (q *MatchQueue) Remove(sid core.ConnID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.SID == sid {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			log.Info().Str("module", "app.queue").Str("sid", string(sid)).Msg("removed from pool")
			return true
		}
	}
	return false
}

func (q *MatchQueue) Contains(sid core.ConnID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.SID == sid {
			return true
		}
	}
	return false
}

func (q *MatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
