package pdo

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

// RPDO consumes one receive PDO: a frame matching its COB-ID is unpacked
// into its mapped sub-objects, either immediately (event-driven
// transmission types) or buffered until the next SYNC (synchronous
// transmission types), per the node's single-writer process loop.
type RPDO struct {
	*Common

	logger *logrus.Entry
	nodeId uint8

	cobId            uint32
	transmissionType uint8

	pending    [MaxPdoLength]byte
	pendingLen int
	hasPending bool
}

// NewRPDO builds an RPDO bound to the communication parameter entry at
// commIndex (0x14xx) and the mapping parameter entry at mapIndex (0x16xx).
func NewRPDO(dict *od.ObjectDictionary, logger *logrus.Entry, nodeId uint8, commIndex, mapIndex uint16, predefinedId uint16) (*RPDO, error) {
	commEntry := dict.Index(commIndex)
	if commEntry == nil {
		return nil, fmt.Errorf("rpdo: missing communication parameter entry 0x%04X", commIndex)
	}
	mappingEntry := dict.Index(mapIndex)
	if mappingEntry == nil {
		return nil, fmt.Errorf("rpdo: missing mapping parameter entry 0x%04X", mapIndex)
	}

	common, err := newCommon(dict, logger, mappingEntry, true)
	if err != nil {
		return nil, err
	}
	common.predefinedId = predefinedId

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &RPDO{
		Common: common,
		logger: logger.WithField("service", "rpdo"),
		nodeId: nodeId,
	}

	canId, err := common.configureCobId(commEntry, predefinedId)
	if err != nil {
		return nil, fmt.Errorf("rpdo: reading cob-id: %w", err)
	}
	common.Valid = canId != 0
	common.configuredId = canId
	r.cobId = uint32(canId)

	transmissionType, err := commEntry.Uint8(od.SubPdoTransmissionType)
	if err != nil {
		return nil, fmt.Errorf("rpdo: reading transmission type: %w", err)
	}
	r.transmissionType = transmissionType

	r.bindExtensions(commEntry, mappingEntry)
	return r, nil
}

// CobId is the identifier this RPDO currently listens on, or 0 if disabled.
func (r *RPDO) CobId() uint32 { return r.cobId }

// HandleFrame consumes one frame addressed to this RPDO. A payload length
// mismatch against the mapped total drops the frame. Synchronous
// transmission types (0x00-0xF0) buffer the unpacked values for Process to
// commit on the next SYNC; event types (0xFE/0xFF) commit immediately.
func (r *RPDO) HandleFrame(f frame.Frame) {
	if !r.Valid || f.CobId != r.cobId {
		return
	}
	if uint32(f.DLC) != r.dataLength {
		return
	}
	if r.transmissionType >= TransmissionTypeSyncEventLo {
		r.scatter(f.Data[:f.DLC])
		return
	}
	r.pendingLen = copy(r.pending[:], f.Data[:f.DLC])
	r.hasPending = true
}

// Process commits a buffered synchronous-type payload when sync is true.
// Called once per node process tick, immediately after SYNC dispatch and
// before TPDO evaluation.
func (r *RPDO) Process(sync bool) {
	if !sync || !r.hasPending {
		return
	}
	r.scatter(r.pending[:r.pendingLen])
	r.hasPending = false
}

func (r *RPDO) bindExtensions(commEntry, mappingEntry *od.Entry) {
	commEntry.AddExtension(od.SubPdoCobId, r, readCommCobId, r.writeCobId)
	commEntry.AddExtension(od.SubPdoTransmissionType, r, od.ReadEntryDefault, r.writeTransmissionType)
	bindMappingExtensions(r.Common, mappingEntry, true)
}

func (r *RPDO) writeCobId(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	canId, valid, odr := decodeCobIdWrite(r.Common, src)
	if odr != od.ErrNo {
		return odr
	}
	if valid != r.Valid || canId != uint32(r.configuredId) {
		r.Valid = valid
		r.configuredId = uint16(canId)
		if valid {
			r.cobId = canId
		} else {
			r.cobId = 0
		}
		r.hasPending = false
	}
	return od.WriteEntryDefault(stream, encodeCobIdForStorage(r.Common, canId, valid), countWritten)
}

func (r *RPDO) writeTransmissionType(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if !r.reconfigureAllowed() {
		return od.ErrParIncompat
	}
	if len(src) != 1 {
		return od.ErrTypeMismatch
	}
	transmissionType := src[0]
	if transmissionType > TransmissionTypeSync240 && transmissionType < TransmissionTypeSyncEventLo {
		return od.ErrInvalidValue
	}
	if transmissionType >= TransmissionTypeSyncEventLo {
		r.hasPending = false
	}
	r.transmissionType = transmissionType
	return od.WriteEntryDefault(stream, src, countWritten)
}
