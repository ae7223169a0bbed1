package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zencan/zencan/pkg/frame"
)

func TestDrainYieldsFramesInStoreOrder(t *testing.T) {
	m := New(8)
	for i := 0; i < 5; i++ {
		require.True(t, m.Store(frame.New(uint32(0x200+i), []byte{byte(i)})))
	}
	assert.Equal(t, 5, m.Len())

	var got []uint32
	m.Drain(func(f frame.Frame) { got = append(got, f.CobId) })
	assert.Equal(t, []uint32{0x200, 0x201, 0x202, 0x203, 0x204}, got)
	assert.Equal(t, 0, m.Len())
}

func TestOverflowDropsNewestAndSticks(t *testing.T) {
	m := New(4)
	for i := 0; i < 4; i++ {
		require.True(t, m.Store(frame.New(uint32(i), nil)))
	}
	assert.False(t, m.Store(frame.New(99, nil)), "a full mailbox drops the newest frame")
	assert.True(t, m.Overflowed())

	var got []uint32
	m.Drain(func(f frame.Frame) { got = append(got, f.CobId) })
	assert.Equal(t, []uint32{0, 1, 2, 3}, got, "the dropped frame must not appear")

	assert.True(t, m.Overflowed(), "the flag is sticky across a drain")
	m.ClearOverflow()
	assert.False(t, m.Overflowed())
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	m := New(5)
	for i := 0; i < 8; i++ {
		assert.True(t, m.Store(frame.New(uint32(i), nil)))
	}
	assert.False(t, m.Store(frame.New(8, nil)))
}

func TestProcessNotifyFiresPerSuccessfulStore(t *testing.T) {
	m := New(2)
	notified := 0
	m.SetProcessNotify(func() { notified++ })

	m.Store(frame.New(1, nil))
	m.Store(frame.New(2, nil))
	assert.Equal(t, 2, notified)

	m.Store(frame.New(3, nil)) // overflow, no notification
	assert.Equal(t, 2, notified)

	m.SetProcessNotify(nil)
	m.Drain(func(frame.Frame) {})
	m.Store(frame.New(4, nil))
	assert.Equal(t, 2, notified)
}

// TestSingleProducerSingleConsumerOrdering drives the mailbox from two
// goroutines the way the ISR/process split does, checking every frame
// arrives exactly once and in sequence.
func TestSingleProducerSingleConsumerOrdering(t *testing.T) {
	const total = 10_000
	m := New(64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			f := frame.Frame{CobId: 0x180}
			f.DLC = 4
			f.Data[0] = byte(i)
			f.Data[1] = byte(i >> 8)
			f.Data[2] = byte(i >> 16)
			if m.Store(f) {
				i++
			}
		}
	}()

	next := 0
	for next < total {
		m.Drain(func(f frame.Frame) {
			seq := int(f.Data[0]) | int(f.Data[1])<<8 | int(f.Data[2])<<16
			require.Equal(t, next, seq)
			next++
		})
	}
	wg.Wait()
	assert.Equal(t, total, next)
}
