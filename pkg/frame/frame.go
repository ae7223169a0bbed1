// Package frame defines the raw CAN frame representation shared by every
// protocol layer (SDO, PDO, NMT, LSS) and the mailbox that crosses the
// ISR/process boundary. It has no dependencies on any other zencan package
// so that it can be imported from both directions of the stack without
// creating an import cycle.
package frame

// COB-ID bit layout used when a 4-byte COB-ID value is stored in an object
// dictionary sub-object (PDO communication parameters, LSS).
const (
	CobIdBitNotValid   uint32 = 1 << 31
	CobIdBitRTRDisable uint32 = 1 << 30
	CobIdBitExtended   uint32 = 1 << 29
	CobIdMaskStd       uint32 = 0x7FF
	CobIdMaskExtended  uint32 = 0x1FFFFFFF
)

// MaxDataLength is the largest payload a classic CAN 2.0 frame can carry.
// CAN-FD extends this, but this core targets classic CAN framing.
const MaxDataLength = 8

// Frame is a single CAN frame, decoded by the platform driver on receive
// and assembled by the protocol layers on transmit. It carries no timing
// information; the caller-supplied transmit callback is responsible for
// actually placing it on the bus.
type Frame struct {
	// CobId is the 11 or 29 bit CAN identifier, right-aligned.
	CobId uint32
	// Extended is true for 29-bit identifiers.
	Extended bool
	// RTR marks a remote transmission request frame.
	RTR bool
	// DLC is the number of valid bytes in Data.
	DLC uint8
	// Data holds up to MaxDataLength payload bytes. Bytes beyond DLC are
	// unspecified.
	Data [MaxDataLength]byte
}

// New builds a Frame from a COB-ID and payload, truncating or zero-padding
// as needed and deriving the Extended flag from the COB-ID's magnitude.
func New(cobId uint32, data []byte) Frame {
	f := Frame{CobId: cobId, Extended: cobId > CobIdMaskStd}
	n := len(data)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	copy(f.Data[:], data[:n])
	f.DLC = uint8(n)
	return f
}

// DecodePDOCobId splits a 32-bit PDO communication-parameter COB-ID value
// into its valid/RTR/extended flags and the bare identifier.
func DecodePDOCobId(raw uint32) (cobId uint32, valid bool, extended bool, rtrDisabled bool) {
	valid = raw&CobIdBitNotValid == 0
	extended = raw&CobIdBitExtended != 0
	rtrDisabled = raw&CobIdBitRTRDisable != 0
	if extended {
		cobId = raw & CobIdMaskExtended
	} else {
		cobId = raw & CobIdMaskStd
	}
	return cobId, valid, extended, rtrDisabled
}

// EncodePDOCobId packs a bare identifier and its flags back into the
// 32-bit representation stored in a PDO communication-parameter sub-object.
func EncodePDOCobId(cobId uint32, valid bool, extended bool, rtrDisabled bool) uint32 {
	raw := cobId
	if extended {
		raw |= CobIdBitExtended
	}
	if rtrDisabled {
		raw |= CobIdBitRTRDisable
	}
	if !valid {
		raw |= CobIdBitNotValid
	}
	return raw
}
