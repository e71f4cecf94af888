// Package buffer implements the fixed-capacity packet ring owned by one input executor.
//
// Ring has no locking of its own. The owning executor serialises every call
// under its mutex; the producer only touches the write area and the consumer
// only touches the claimed output window, so the two never overlap.
package buffer

import (
	"fmt"

	"firestige.xyz/tsswitch/internal/core"
)

// Ring is a circular store of transport packets.
//
//	store:   [ ........ | claimed | unclaimed ........ | free ........ ]
//	                    ^outFirst                      ^outFirst+outCount (mod cap)
type Ring struct {
	store    []core.Packet
	outFirst int // index of the oldest unread packet
	outCount int // packets held, claimed included
	claimed  int // packets handed to the consumer and not yet released
}

// New creates a ring holding at most capacity packets.
func New(capacity int) *Ring {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: invalid capacity %d", capacity))
	}
	return &Ring{store: make([]core.Packet, capacity)}
}

// Cap returns the ring capacity in packets.
func (r *Ring) Cap() int { return len(r.store) }

// Len returns the number of packets currently held.
func (r *Ring) Len() int { return r.outCount }

// Free returns the number of packets that can still be written.
func (r *Ring) Free() int { return len(r.store) - r.outCount }

// Full reports whether no packet can be written.
func (r *Ring) Full() bool { return r.outCount >= len(r.store) }

// Claimed returns the size of the pending output claim.
func (r *Ring) Claimed() int { return r.claimed }

// Slice returns the backing packets [first, first+count). The range must lie
// inside the store; callers use the indices returned by WriteArea or Claim.
func (r *Ring) Slice(first, count int) []core.Packet {
	return r.store[first : first+count]
}

// WriteArea returns the next contiguous run of free slots. The run stops at
// the physical end of the store; the remainder is returned by the next call
// after Commit. limit bounds the run when positive.
func (r *Ring) WriteArea(limit int) (first, count int) {
	size := len(r.store)
	first = (r.outFirst + r.outCount) % size
	count = r.Free()
	if first+count > size {
		count = size - first
	}
	if limit > 0 && count > limit {
		count = limit
	}
	return first, count
}

// Commit publishes n packets previously written into the write area.
func (r *Ring) Commit(n int) {
	if n < 0 || n > r.Free() {
		panic(fmt.Errorf("%w: commit %d, free %d", core.ErrOverCommit, n, r.Free()))
	}
	r.outCount += n
}

// Claim returns the contiguous run of unread packets starting at the read
// cursor and marks it claimed. When the buffered data wraps past the end of
// the store only the part up to the end is returned; the caller claims again
// after releasing to get the wrapped remainder. A zero count means empty.
func (r *Ring) Claim(limit int) (first, count int) {
	if r.claimed > 0 {
		panic(fmt.Errorf("%w: %d packets still claimed", core.ErrClaimPending, r.claimed))
	}
	first = r.outFirst
	count = r.outCount
	if first+count > len(r.store) {
		count = len(r.store) - first
	}
	if limit > 0 && count > limit {
		count = limit
	}
	r.claimed = count
	return first, count
}

// Release frees n packets of the current claim, advancing the read cursor.
// A partial release leaves the rest of the window claimed. Releasing more
// than the claim is a protocol violation.
func (r *Ring) Release(n int) {
	if n < 0 || n > r.claimed {
		panic(fmt.Errorf("%w: release %d, claimed %d", core.ErrOverRelease, n, r.claimed))
	}
	r.outFirst = (r.outFirst + n) % len(r.store)
	r.outCount -= n
	r.claimed -= n
}

// Unclaim returns the rest of the pending claim to the unread area.
func (r *Ring) Unclaim() { r.claimed = 0 }

// DropOldest discards the oldest unclaimed packet. It returns false when
// nothing can be dropped because the ring is empty or the consumer holds a claim.
func (r *Ring) DropOldest() bool {
	if r.outCount == 0 || r.claimed > 0 {
		return false
	}
	r.outFirst = (r.outFirst + 1) % len(r.store)
	r.outCount--
	return true
}
