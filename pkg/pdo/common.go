// Package pdo implements TPDO production and RPDO consumption against a
// static object dictionary mapping, driven cooperatively from the node's
// process loop on SYNC, timers, and mapped-variable write events.
package pdo

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

const (
	MaxPdoLength uint8 = 8
)

const (
	TransmissionTypeSyncAcyclic = 0    // synchronous, triggered explicitly (acyclic)
	TransmissionTypeSync1       = 1    // synchronous, every SYNC
	TransmissionTypeSync240     = 0xF0 // synchronous, every 240th SYNC
	TransmissionTypeSyncEventLo = 0xFE // event-driven, manufacturer specific
	TransmissionTypeSyncEventHi = 0xFF // event-driven, device/application profile specific
)

// Common holds the state shared by TPDO production and RPDO consumption:
// the resolved mapping slots and the current communication parameters.
type Common struct {
	od     *od.ObjectDictionary
	logger *logrus.Entry

	streamers [od.MaxMappedEntriesPdo]od.Streamer
	// vars mirrors streamers for real (non-dummy) mappings, giving the TPDO
	// event-driven transmission types a direct handle to each mapped
	// sub-object's dirty flag. nil for a dummy or unresolved slot.
	vars     [od.MaxMappedEntriesPdo]*od.Variable
	nbMapped uint8

	// eventFlag is this TPDO's bit number in each mapped variable's event
	// bitmap; unused for RPDOs.
	eventFlag uint8

	Valid        bool
	IsRPDO       bool
	dataLength   uint32
	predefinedId uint16
	configuredId uint16

	// isPreOperational is consulted by the comm/mapping parameter write
	// extensions to enforce the reconfiguration guard: those writes are
	// only accepted while the PDO itself is disabled, or while the node is
	// PreOperational. Left nil by a Common built outside a full node
	// (tests), in which case the guard only checks PDO-disabled.
	isPreOperational func() bool
}

// SetPreOperationalCheck wires the node's current-state query into the
// reconfiguration guard. Called once by the node runtime during setup.
func (c *Common) SetPreOperationalCheck(check func() bool) {
	c.isPreOperational = check
}

// reconfigureAllowed reports whether a write to a comm/mapping parameter
// should proceed: either the PDO is currently disabled, or the node is
// PreOperational.
func (c *Common) reconfigureAllowed() bool {
	if !c.Valid {
		return true
	}
	return c.isPreOperational != nil && c.isPreOperational()
}

func (c *Common) attribute() uint8 {
	if c.IsRPDO {
		return od.AttributeRpdo
	}
	return od.AttributeTpdo
}

func (c *Common) Type() string {
	if c.IsRPDO {
		return "RPDO"
	}
	return "TPDO"
}

// configureMap resolves one mapping-parameter entry (CiA 301's packed
// index<<16 | sub<<8 | bit-length byte) into the mapping slot at
// mapIndex. index < 0x20 with sub 0 addresses a dummy entry of the given
// bit length, used to pad a PDO's layout without binding to real storage.
func (c *Common) configureMap(mapParam uint32, mapIndex uint32, isRPDO bool) error {
	index := uint16(mapParam >> 16)
	subIndex := byte(mapParam >> 8)
	mappedLengthBits := byte(mapParam)
	mappedLength := mappedLengthBits >> 3
	streamer := &c.streamers[mapIndex]

	if mappedLength > MaxPdoLength {
		c.logger.WithFields(logrus.Fields{"index": fmt.Sprintf("x%x", index), "subindex": subIndex}).
			Warn("mapped parameter is too long")
		return od.ErrMapLen
	}

	c.vars[mapIndex] = nil

	if index < 0x20 && subIndex == 0 {
		streamer.ResetData(uint32(mappedLength), 0xFF)
		streamer.SetReader(readDummy)
		streamer.SetWriter(writeDummy)
		streamer.MappedLength = uint32(mappedLength)
		return nil
	}

	resolved, odr := c.od.Streamer(index, subIndex, false)
	if odr != od.ErrNo {
		c.logger.WithFields(logrus.Fields{"index": fmt.Sprintf("x%x", index), "subindex": subIndex, "error": odr}).
			Warn("mapping failed: no such sub-object")
		return odr
	}

	switch {
	case !resolved.HasAttribute(c.attribute()):
		c.logger.WithFields(logrus.Fields{"index": fmt.Sprintf("x%x", index), "subindex": subIndex}).
			Warn("mapping failed: not mappable for this PDO direction")
		return od.ErrNoMap
	case mappedLengthBits&0x07 != 0:
		c.logger.WithFields(logrus.Fields{"index": fmt.Sprintf("x%x", index), "subindex": subIndex}).
			Warn("mapping failed: not byte aligned")
		return od.ErrMapLen
	case resolved.DataLength < uint32(mappedLength):
		c.logger.WithFields(logrus.Fields{"index": fmt.Sprintf("x%x", index), "subindex": subIndex}).
			Warn("mapping failed: sub-object shorter than mapped length")
		return od.ErrNoMap
	}

	streamer.SetStream(resolved.Stream)
	streamer.SetReader(resolved.Reader())
	streamer.SetWriter(resolved.Writer())
	streamer.MappedLength = uint32(mappedLength)

	if !isRPDO {
		if variable, varErr := c.od.Variable(index, subIndex); varErr == od.ErrNo {
			c.vars[mapIndex] = variable
		}
	}
	return nil
}

func (c *Common) configureCobId(commParam *od.Entry, predefinedIdent uint16) (uint16, error) {
	cobId, err := commParam.Uint32(od.SubPdoCobId)
	if err != nil {
		return 0, err
	}
	valid := cobId&od.CobIdValidBit == 0
	canId := uint16(cobId & 0x7FF)
	if valid && (c.nbMapped == 0 || canId == 0) {
		valid = false
	}
	if !valid {
		canId = 0
	}
	if canId != 0 && canId == predefinedIdent&0xFF80 {
		canId = predefinedIdent
	}
	return canId, nil
}

// newCommon builds the mapping-resolution state shared by a TPDO/RPDO
// from its communication and mapping parameter entries.
func newCommon(dict *od.ObjectDictionary, logger *logrus.Entry, mappingParam *od.Entry, isRPDO bool) (*Common, error) {
	c := &Common{od: dict, IsRPDO: isRPDO}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c.logger = logger.WithField("service", c.Type())

	mappedObjectsCount, err := mappingParam.Uint8(0)
	if err != nil {
		return nil, fmt.Errorf("reading mapped object count: %w", err)
	}

	var pdoDataLength uint32
	var erroneous bool
	for i := range c.streamers {
		streamer := &c.streamers[i]
		mapParam, err := mappingParam.Uint32(uint8(i) + 1)
		if err == od.ErrSubNotExist {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading mapping entry %d: %w", i, err)
		}
		if cfgErr := c.configureMap(mapParam, uint32(i), isRPDO); cfgErr != nil {
			streamer.ResetData(0, 0xFF)
			erroneous = true
			continue
		}
		if i < int(mappedObjectsCount) {
			pdoDataLength += streamer.MappedLength
		}
	}

	if pdoDataLength > uint32(MaxPdoLength) || (pdoDataLength == 0 && mappedObjectsCount > 0) {
		erroneous = true
	}
	if !erroneous {
		c.dataLength = pdoDataLength
		c.nbMapped = mappedObjectsCount
	}
	return c, nil
}

// takeEvent reports whether any mapped sub-object has been written since
// the last call, consuming this PDO's own event bit on each of them.
// Other TPDOs mapping the same sub-object hold different bits and still
// see their event.
func (c *Common) takeEvent() bool {
	fired := false
	for i := 0; i < int(c.nbMapped) && i < len(c.vars); i++ {
		if v := c.vars[i]; v != nil && v.TakeDirty(c.eventFlag) {
			fired = true
		}
	}
	return fired
}

// isRestrictedCobId reports whether canId falls in a range reserved by the
// CiA 301 predefined connection set (NMT, SYNC, EMCY, TIME, the SDO/NMT
// error control ranges), which a PDO may not be configured to use.
func isRestrictedCobId(canId uint16) bool {
	switch {
	case canId == 0x000: // NMT
		return true
	case canId == 0x080: // SYNC
		return true
	case canId == 0x100: // TIME
		return true
	case canId >= 0x081 && canId <= 0x0FF: // EMCY
		return true
	case canId >= 0x581 && canId <= 0x5FF: // SDO tx
		return true
	case canId >= 0x601 && canId <= 0x67F: // SDO rx
		return true
	case canId >= 0x701 && canId <= 0x77F: // boot-up / heartbeat
		return true
	default:
		return false
	}
}

// assemble reads every mapped streamer in mapping-table order and
// concatenates their current value, little-endian, byte-aligned, into the
// TPDO's wire payload.
func (c *Common) assemble() []byte {
	buf := make([]byte, 0, c.dataLength)
	for i := 0; i < int(c.nbMapped); i++ {
		s := &c.streamers[i]
		tmp := make([]byte, s.MappedLength)
		n, _ := s.Read(tmp)
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

// scatter writes an RPDO's received payload into each mapped streamer in
// mapping-table order. Returns the first non-partial error encountered.
func (c *Common) scatter(payload []byte) od.ODR {
	offset := 0
	for i := 0; i < int(c.nbMapped); i++ {
		s := &c.streamers[i]
		n := int(s.MappedLength)
		if offset+n > len(payload) {
			return od.ErrDataShort
		}
		if _, err := s.Write(payload[offset : offset+n]); err != nil {
			if odr, ok := err.(od.ODR); ok && odr != od.ErrNo {
				return odr
			}
		}
		offset += n
	}
	return od.ErrNo
}

func readDummy(stream *od.Stream, dst []byte, countRead *uint16) od.ODR {
	n := copy(dst, make([]byte, stream.DataLength))
	*countRead = uint16(n)
	return od.ErrNo
}

func writeDummy(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	*countWritten = uint16(len(src))
	return od.ErrNo
}

// cobIdFrame builds the outgoing/expected Frame identifier for a resolved
// COB-ID, matching pkg/frame's plain-identifier convention (extended flag
// derived from magnitude, not carried separately here since classic PDOs
// always use 11-bit identifiers in this core).
func cobIdFrame(canId uint16, data []byte) frame.Frame {
	return frame.New(uint32(canId), data)
}
