// SPDX-License-Identifier: MIT

package supervisor

import (
	"sync"

	"github.com/stackworks/agentmux/internal/types"
)

// ringCapacity bounds the in-memory per-session replay window.
const ringCapacity = 1000

// outputRing is a fixed-size circular buffer of the most recent output
// events for one session.
type outputRing struct {
	mu   sync.Mutex
	buf  []*types.OutputEvent
	next int
	full bool
}

func newOutputRing() *outputRing {
	return &outputRing{buf: make([]*types.OutputEvent, ringCapacity)}
}

func (r *outputRing) append(ev *types.OutputEvent) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns buffered events in chronological order.
func (r *outputRing) snapshot() []*types.OutputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]*types.OutputEvent, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]*types.OutputEvent, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *outputRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
