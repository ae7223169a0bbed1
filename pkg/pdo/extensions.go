package pdo

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

// readCommCobId is the shared reader for sub 1 of a comm parameter entry:
// it returns the stored COB-ID as is, so a PDO at its predefined
// identifier reads back as the bare base without the node id (see
// encodeCobIdForStorage).
func readCommCobId(stream *od.Stream, dst []byte, countRead *uint16) od.ODR {
	return od.ReadEntryDefault(stream, dst, countRead)
}

// decodeCobIdWrite validates the common part of a COB-ID write shared by
// TPDOs and RPDOs: exactly 4 bytes, no extended-frame bit, and a non-zero
// identifier when the valid bit is clear. Other reserved bits are not
// checked; they are dropped when the value is decoded.
func decodeCobIdWrite(c *Common, src []byte) (canId uint32, valid bool, odr od.ODR) {
	if len(src) != 4 {
		return 0, false, od.ErrTypeMismatch
	}
	if !c.reconfigureAllowed() {
		return 0, false, od.ErrParIncompat
	}
	raw := binary.LittleEndian.Uint32(src)
	id, valid, extended, _ := frame.DecodePDOCobId(raw)
	if extended {
		return 0, false, od.ErrInvalidValue
	}
	if valid && id == 0 {
		return 0, false, od.ErrInvalidValue
	}
	return id, valid, od.ErrNo
}

// encodeCobIdForStorage re-encodes canId/valid back into the raw 4-byte OD
// representation, collapsing to the bare predefined identifier offset (no
// node id) when canId is exactly this PDO's predefined identifier, the
// same shorthand CiA 301 tools expect on read-back.
func encodeCobIdForStorage(c *Common, canId uint32, valid bool) []byte {
	stored := canId
	if stored != 0 && stored == uint32(c.predefinedId) {
		stored &^= 0x7F // strip the folded-in node id, leaving the bare base
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, frame.EncodePDOCobId(stored, valid, false, false))
	return buf
}

// bindMappingExtensions installs the write extension for sub 0 (mapped object
// count) and subs 1..8 (the packed mapping words) of a mapping parameter
// entry, each re-validated through configureMap and guarded by the
// reconfiguration rule.
func bindMappingExtensions(c *Common, mappingEntry *od.Entry, isRPDO bool) {
	count := mappingEntry.SubCount()
	mappingEntry.AddExtension(0, c, od.ReadEntryDefault, writeMappingCount(c))
	for i := 1; i < count; i++ {
		mappingEntry.AddExtension(uint8(i), c, od.ReadEntryDefault, writeMappingEntry(c, uint32(i-1), isRPDO))
	}
}

func writeMappingCount(c *Common) od.StreamWriter {
	return func(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
		if !c.reconfigureAllowed() {
			return od.ErrParIncompat
		}
		if len(src) != 1 {
			return od.ErrTypeMismatch
		}
		count := src[0]
		if count > od.MaxMappedEntriesPdo {
			return od.ErrMapLen
		}
		var pdoDataLength uint32
		for i := 0; i < int(count); i++ {
			pdoDataLength += c.streamers[i].MappedLength
		}
		if pdoDataLength > uint32(MaxPdoLength) {
			return od.ErrMapLen
		}
		if pdoDataLength == 0 && count > 0 {
			return od.ErrInvalidValue
		}
		c.nbMapped = count
		c.dataLength = pdoDataLength
		return od.WriteEntryDefault(stream, src, countWritten)
	}
}

func writeMappingEntry(c *Common, mapIndex uint32, isRPDO bool) od.StreamWriter {
	return func(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
		if !c.reconfigureAllowed() {
			return od.ErrParIncompat
		}
		if len(src) != 4 {
			return od.ErrTypeMismatch
		}
		mapParam := binary.LittleEndian.Uint32(src)
		if cfgErr := c.configureMap(mapParam, mapIndex, isRPDO); cfgErr != nil {
			if odr, ok := cfgErr.(od.ODR); ok {
				return odr
			}
			return od.ErrNoMap
		}
		return od.WriteEntryDefault(stream, src, countWritten)
	}
}
