// Package mailbox implements the single-producer/single-consumer frame
// queue that crosses the receive-ISR / process-task boundary: a fixed
// backing array with separate head/tail position counters, accessed with
// atomic loads and stores since the ring has two independent callers (an
// interrupt handler and a cooperative process loop) and must never take
// a lock on the producer side.
package mailbox

import (
	"sync/atomic"

	"github.com/zencan/zencan/pkg/frame"
)

// Mailbox is a fixed-capacity ring of frame slots. Store is safe to call
// from interrupt context: it never allocates and never blocks. Drain is
// called only from the process loop.
type Mailbox struct {
	slots []frame.Frame

	head uint32 // next slot Store will write (producer-owned)
	tail uint32 // next slot Drain will read (consumer-owned)

	overflow atomic.Bool
	notify   atomic.Pointer[func()]
}

// New builds a mailbox with room for capacity frames. capacity is rounded
// up to the next power of two so index wrapping is a mask instead of a
// modulo, which matters on the small cores this core targets.
func New(capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Mailbox{slots: make([]frame.Frame, size)}
}

func (m *Mailbox) mask() uint32 { return uint32(len(m.slots) - 1) }

// Store inserts a frame, producer side. Callable from interrupt context:
// it touches only the atomic head/tail counters and a single slot write,
// never a slice append or a lock. On overflow the newest frame is dropped
// and the sticky overflow flag is set, per the mailbox's drop-newest
// policy; the process loop observes it via Overflowed/ClearOverflow.
func (m *Mailbox) Store(f frame.Frame) bool {
	head := atomic.LoadUint32(&m.head)
	tail := atomic.LoadUint32(&m.tail)
	if head-tail >= uint32(len(m.slots)) {
		m.overflow.Store(true)
		return false
	}
	m.slots[head&m.mask()] = f
	atomic.StoreUint32(&m.head, head+1)
	if cb := m.notify.Load(); cb != nil {
		(*cb)()
	}
	return true
}

// Drain yields every currently queued frame, in the order they were
// stored, to sink. Consumer side only.
func (m *Mailbox) Drain(sink func(frame.Frame)) {
	tail := m.tail
	head := atomic.LoadUint32(&m.head)
	for tail != head {
		sink(m.slots[tail&m.mask()])
		tail++
	}
	atomic.StoreUint32(&m.tail, tail)
}

// Len reports how many frames are currently queued.
func (m *Mailbox) Len() int {
	head := atomic.LoadUint32(&m.head)
	tail := atomic.LoadUint32(&m.tail)
	return int(head - tail)
}

// SetProcessNotify registers an application callback invoked once per
// successful Store, signalling the process task to wake. The callback
// itself runs in whatever context called Store (usually the ISR), so it
// must be non-blocking, matching the transmit/write-notify discipline the
// rest of the core follows.
func (m *Mailbox) SetProcessNotify(cb func()) {
	if cb == nil {
		m.notify.Store(nil)
		return
	}
	m.notify.Store(&cb)
}

// Overflowed reports whether a frame has been dropped since the flag was
// last cleared.
func (m *Mailbox) Overflowed() bool { return m.overflow.Load() }

// ClearOverflow resets the sticky overflow flag, for the process loop to
// call once it has accounted for the drop (future EMCY hook).
func (m *Mailbox) ClearOverflow() { m.overflow.Store(false) }
