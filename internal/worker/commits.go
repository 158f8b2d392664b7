package worker

import (
	"sync"

	"github.com/jmehdipour/license-manager/internal/kafka"
)

// commitTracker lets processors settle messages out of order while offsets
// are only committed up to the first unsettled message of each partition.
type commitTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	order []int64 // fetch order, ascending
	done  map[int64]kafka.Message
}

func newCommitTracker() *commitTracker {
	return &commitTracker{parts: make(map[int]*partitionOffsets)}
}

// track registers m as in flight. Call it in fetch order.
func (t *commitTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	if p == nil {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.parts[m.Partition] = p
	}
	p.order = append(p.order, m.Offset)
}

// settle marks m done and returns the message whose offset is now safe to
// commit, if the contiguous prefix advanced.
func (t *commitTracker) settle(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	if p == nil {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = m

	var (
		last kafka.Message
		ok   bool
	)
	for len(p.order) > 0 {
		head, found := p.done[p.order[0]]
		if !found {
			break
		}
		delete(p.done, p.order[0])
		p.order = p.order[1:]
		last, ok = head, true
	}
	return last, ok
}
