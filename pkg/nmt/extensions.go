package nmt

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/od"
)

// writeProducerTime installs the new heartbeat producer time (0x1017 sub 0)
// immediately. A deadline already scheduled is kept; the new period is used
// from the next heartbeat frame on, when Process recomputes the deadline.
func (n *NMT) writeProducerTime(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if len(src) != 2 {
		return od.ErrTypeMismatch
	}
	n.heartbeatPeriodUs = uint32(binary.LittleEndian.Uint16(src)) * 1000
	return od.WriteEntryDefault(stream, src, countWritten)
}
