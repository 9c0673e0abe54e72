package app

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/core"
)

type linkKey struct {
	From, To core.ConnID
}

// IceBuffers holds ICE candidates that arrived on a directed peer link
// before the receiving side had the corresponding remote description.
// A link becomes ready the moment a description is relayed across it; its
// buffer is then drained exactly once, in arrival order, and discarded.
// Session and room links share the same rules.
type IceBuffers struct {
	mu      sync.Mutex
	ready   map[linkKey]bool
	pending map[linkKey][]webrtc.ICECandidateInit
}

func NewIceBuffers() *IceBuffers {
	return &IceBuffers{
		ready:   make(map[linkKey]bool),
		pending: make(map[linkKey][]webrtc.ICECandidateInit),
	}
}

// MarkReady records that `to` now holds `from`'s remote description and
// returns whatever candidates were waiting on the link. Calling it again
// returns nothing: the buffer is gone after the first drain.
func (b *IceBuffers) MarkReady(from, to core.ConnID) []webrtc.ICECandidateInit {
	k := linkKey{From: from, To: to}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready[k] = true
	drained := b.pending[k]
	delete(b.pending, k)
	if len(drained) > 0 {
		log.Debug().Str("module", "app.ice").Str("from", string(from)).
			Str("to", string(to)).Int("candidates", len(drained)).Msg("drained link buffer")
	}
	return drained
}

// Add either admits the candidate for immediate forwarding (link ready,
// returns false) or buffers it (returns true).
func (b *IceBuffers) Add(from, to core.ConnID, c webrtc.ICECandidateInit) bool {
	k := linkKey{From: from, To: to}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready[k] {
		return false
	}
	b.pending[k] = append(b.pending[k], c)
	return true
}

// Release drops every link touching sid, both directions.
func (b *IceBuffers) Release(sid core.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.ready {
		if k.From == sid || k.To == sid {
			delete(b.ready, k)
		}
	}
	for k := range b.pending {
		if k.From == sid || k.To == sid {
			delete(b.pending, k)
		}
	}
}
