package pdo

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

// TPDO produces one transmit PDO: a fixed set of mapped sub-objects,
// assembled into a frame and sent on SYNC, on a change to a mapped value,
// or on an event timer, depending on its configured transmission type.
type TPDO struct {
	*Common

	logger *logrus.Entry
	nodeId uint8

	cobId uint32 // 0 when not currently valid/configured

	transmissionType uint8
	syncStartValue   uint8
	syncCounter      uint8

	inhibitTimeUs  uint32
	inhibitTimerUs uint32

	eventTimeUs  uint32
	eventTimerUs uint32

	// pendingSend latches an event for transmission type 0 (acyclic sync):
	// an event occurring between two SYNCs is only sent on the next SYNC.
	pendingSend bool
}

// NewTPDO builds a TPDO bound to the communication parameter entry at
// commIndex (0x18xx) and the mapping parameter entry at mapIndex (0x1Axx).
// predefinedId is the CiA 301 predefined connection set identifier for
// this TPDO slot (0x180+nodeId, 0x280+nodeId, ...), used both as the
// initial COB-ID and to recognize the shorthand write that re-selects it.
func NewTPDO(dict *od.ObjectDictionary, logger *logrus.Entry, nodeId uint8, commIndex, mapIndex uint16, predefinedId uint16) (*TPDO, error) {
	commEntry := dict.Index(commIndex)
	if commEntry == nil {
		return nil, fmt.Errorf("tpdo: missing communication parameter entry 0x%04X", commIndex)
	}
	mappingEntry := dict.Index(mapIndex)
	if mappingEntry == nil {
		return nil, fmt.Errorf("tpdo: missing mapping parameter entry 0x%04X", mapIndex)
	}

	common, err := newCommon(dict, logger, mappingEntry, false)
	if err != nil {
		return nil, err
	}
	common.predefinedId = predefinedId
	common.eventFlag = uint8(commIndex - od.IndexTpdoCommunicationBase)

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &TPDO{
		Common: common,
		logger: logger.WithField("service", "tpdo"),
		nodeId: nodeId,
	}

	canId, err := common.configureCobId(commEntry, predefinedId)
	if err != nil {
		return nil, fmt.Errorf("tpdo: reading cob-id: %w", err)
	}
	common.Valid = canId != 0
	common.configuredId = canId
	t.cobId = uint32(canId)

	transmissionType, err := commEntry.Uint8(od.SubPdoTransmissionType)
	if err != nil {
		return nil, fmt.Errorf("tpdo: reading transmission type: %w", err)
	}
	t.transmissionType = transmissionType

	if inhibitTime, err := commEntry.Uint16(od.SubPdoInhibitTime); err == nil {
		t.inhibitTimeUs = uint32(inhibitTime) * 100
	}
	if eventTime, err := commEntry.Uint16(od.SubPdoEventTime); err == nil {
		t.eventTimeUs = uint32(eventTime) * 1000
	}
	t.eventTimerUs = t.eventTimeUs
	if syncStart, err := commEntry.Uint8(od.SubPdoSyncStartValue); err == nil {
		t.syncStartValue = syncStart
	}

	t.bindExtensions(commEntry, mappingEntry)
	return t, nil
}

// Process advances this TPDO's timers by timeDifferenceUs and, if the node
// is Operational and the PDO is valid, decides whether to transmit. sync is
// true on the tick a SYNC frame was just dispatched.
func (t *TPDO) Process(timeDifferenceUs uint32, sync bool, operational bool) (frame.Frame, bool) {
	eventOccurred := t.takeEvent()

	if t.inhibitTimerUs > timeDifferenceUs {
		t.inhibitTimerUs -= timeDifferenceUs
	} else {
		t.inhibitTimerUs = 0
	}

	eventTimerFired := false
	if t.eventTimeUs > 0 {
		if t.eventTimerUs > timeDifferenceUs {
			t.eventTimerUs -= timeDifferenceUs
		} else {
			t.eventTimerUs = t.eventTimeUs
			eventTimerFired = true
		}
	}

	if !operational || !t.Valid || t.cobId == 0 {
		return frame.Frame{}, false
	}

	send := false
	switch {
	case t.transmissionType == TransmissionTypeSyncAcyclic:
		if eventOccurred {
			t.pendingSend = true
		}
		if sync && t.pendingSend {
			send = true
			t.pendingSend = false
		}
	case t.transmissionType >= TransmissionTypeSync1 && t.transmissionType <= TransmissionTypeSync240:
		if sync {
			t.syncCounter++
			if t.syncCounter >= t.transmissionType {
				t.syncCounter = 0
				send = true
			}
		}
	default: // TransmissionTypeSyncEventLo / TransmissionTypeSyncEventHi
		if (eventOccurred || eventTimerFired) && t.inhibitTimerUs == 0 {
			send = true
		}
	}

	if !send {
		return frame.Frame{}, false
	}
	payload := t.assemble()
	t.inhibitTimerUs = t.inhibitTimeUs
	return cobIdFrame(uint16(t.cobId), payload), true
}

func (t *TPDO) bindExtensions(commEntry, mappingEntry *od.Entry) {
	commEntry.AddExtension(od.SubPdoCobId, t, readCommCobId, t.writeCobId)
	commEntry.AddExtension(od.SubPdoTransmissionType, t, od.ReadEntryDefault, t.writeTransmissionType)
	commEntry.AddExtension(od.SubPdoInhibitTime, t, od.ReadEntryDefault, t.writeInhibitTime)
	commEntry.AddExtension(od.SubPdoEventTime, t, od.ReadEntryDefault, t.writeEventTime)
	commEntry.AddExtension(od.SubPdoSyncStartValue, t, od.ReadEntryDefault, t.writeSyncStartValue)
	bindMappingExtensions(t.Common, mappingEntry, false)
}

func (t *TPDO) writeCobId(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	canId, valid, odr := decodeCobIdWrite(t.Common, src)
	if odr != od.ErrNo {
		return odr
	}
	if valid && t.Common.nbMapped == 0 {
		return od.ErrInvalidValue
	}
	if valid && canId != 0 && isRestrictedCobId(uint16(canId)) {
		return od.ErrInvalidValue
	}
	if valid != t.Valid || canId != uint32(t.configuredId) {
		t.Valid = valid
		t.configuredId = uint16(canId)
		if valid {
			t.cobId = canId
		} else {
			t.cobId = 0
		}
		t.syncCounter = 0
		t.pendingSend = false
		t.inhibitTimerUs = 0
	}
	return od.WriteEntryDefault(stream, encodeCobIdForStorage(t.Common, canId, valid), countWritten)
}

func (t *TPDO) writeTransmissionType(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if !t.reconfigureAllowed() {
		return od.ErrParIncompat
	}
	if len(src) != 1 {
		return od.ErrTypeMismatch
	}
	transmissionType := src[0]
	if transmissionType > TransmissionTypeSync240 && transmissionType < TransmissionTypeSyncEventLo {
		return od.ErrInvalidValue
	}
	t.transmissionType = transmissionType
	t.syncCounter = 0
	t.pendingSend = false
	t.inhibitTimerUs = 0
	t.eventTimerUs = t.eventTimeUs
	return od.WriteEntryDefault(stream, src, countWritten)
}

func (t *TPDO) writeInhibitTime(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if t.Valid {
		return od.ErrInvalidValue
	}
	if len(src) != 2 {
		return od.ErrTypeMismatch
	}
	t.inhibitTimeUs = uint32(binary.LittleEndian.Uint16(src)) * 100
	t.inhibitTimerUs = 0
	return od.WriteEntryDefault(stream, src, countWritten)
}

func (t *TPDO) writeEventTime(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if len(src) != 2 {
		return od.ErrTypeMismatch
	}
	t.eventTimeUs = uint32(binary.LittleEndian.Uint16(src)) * 1000
	t.eventTimerUs = t.eventTimeUs
	return od.WriteEntryDefault(stream, src, countWritten)
}

func (t *TPDO) writeSyncStartValue(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if len(src) != 1 {
		return od.ErrTypeMismatch
	}
	if t.Valid || src[0] > TransmissionTypeSync240 {
		return od.ErrInvalidValue
	}
	t.syncStartValue = src[0]
	return od.WriteEntryDefault(stream, src, countWritten)
}
