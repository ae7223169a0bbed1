package lss

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/frame"
)

// Slave implements the LSS slave side of the protocol for one node:
// global/selective state switching, fastscan, node-id configuration, and
// inquiry. It is driven synchronously by HandleFrame from the node's
// process loop -- no goroutine, no channel, no mutex. Fastscan in
// particular is latency sensitive enough (per CiA 305's bit-by-bit binary
// search) that a platform may call HandleFrame directly from interrupt
// context for this service, which is why it is kept free of anything but
// plain field reads and writes.
type Slave struct {
	logger *logrus.Entry

	identity Identity
	nodeId   *uint8 // the node's own node-id cell; assigned directly on ConfigureNodeId

	state State

	// switchSelect accumulates the vendor/product/revision/serial challenge
	// of a SwitchState*-selective sequence as each field arrives.
	switchSelect Identity

	// fastScanSub mirrors the sub-index (0=vendor..3=serial) this slave
	// expects to be challenged on next; reset to 0 by a FastscanConfirm
	// request, per the fastscan algorithm's own bookkeeping.
	fastScanSub uint8

	pendingNodeId uint8
}

// NewSlave builds an LSS slave for identity. Once a ConfigureNodeId command
// is accepted, the assigned id is written directly into *nodeId.
func NewSlave(identity Identity, nodeId *uint8, logger *logrus.Entry) *Slave {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Slave{
		logger:   logger.WithField("service", "lss"),
		identity: identity,
		nodeId:   nodeId,
		state:    StateWaiting,
	}
}

// State returns the slave's current CiA 305 state.
func (s *Slave) State() State { return s.state }

// SetSerialNumber updates the identity challenged against fastscan and
// switch-state-selective requests. Serial number is typically not known at
// compile time, so the node runtime calls this once during boot after
// reading it out of application storage.
func (s *Slave) SetSerialNumber(serial uint32) { s.identity.SerialNumber = serial }

// HandleFrame processes one LSS master request addressed to this slave and
// returns the response frame to transmit, if any.
func (s *Slave) HandleFrame(req frame.Frame) (frame.Frame, bool) {
	if req.CobId != ReqCobId || req.DLC != 8 {
		return frame.Frame{}, false
	}
	cmd := Command(req.Data[0])

	switch {
	case cmd == CmdSwitchStateGlobal:
		return s.handleSwitchStateGlobal(req)
	case cmd >= CmdSwitchStateVendor && cmd <= CmdSwitchStateSerial:
		return s.handleSwitchStateSelective(cmd, req)
	case cmd == CmdFastScan:
		return s.handleFastScan(req)
	}

	if s.state != StateConfiguration {
		return frame.Frame{}, false
	}
	switch {
	case cmd == CmdConfigureNodeId:
		return s.handleConfigureNodeId(req)
	case cmd >= CmdInquireVendor && cmd <= CmdInquireNodeId:
		return s.handleInquiry(cmd)
	default:
		return frame.Frame{}, false
	}
}

func (s *Slave) ack(cmd Command, b1 byte) frame.Frame {
	var data [8]byte
	data[0] = byte(cmd)
	data[1] = b1
	return frame.New(RespCobId, data[:])
}

func (s *Slave) handleSwitchStateGlobal(req frame.Frame) (frame.Frame, bool) {
	switch Mode(req.Data[1]) {
	case ModeWaiting:
		s.state = StateWaiting
	case ModeConfiguration:
		s.state = StateConfiguration
	default:
		s.logger.WithField("mode", req.Data[1]).Warn("unknown switch-state-global mode")
	}
	return frame.Frame{}, false
}

func (s *Slave) handleSwitchStateSelective(cmd Command, req frame.Frame) (frame.Frame, bool) {
	value := binary.LittleEndian.Uint32(req.Data[1:5])
	switch cmd {
	case CmdSwitchStateVendor:
		s.switchSelect.VendorId = value
	case CmdSwitchStateProduct:
		s.switchSelect.ProductCode = value
	case CmdSwitchStateRevision:
		s.switchSelect.RevisionNumber = value
	case CmdSwitchStateSerial:
		s.switchSelect.SerialNumber = value
		if s.switchSelect == s.identity {
			s.state = StateConfiguration
			return s.ack(CmdSwitchStateResponse, 0), true
		}
	}
	return frame.Frame{}, false
}

// handleFastScan implements the CiA 305 fastscan binary search: the master
// challenges progressively fewer high bits of one identity field at a time,
// advancing fastScanSub to the next field only once this slave's stored
// value matches under the current mask. bit_check == 0 on the serial field
// with next wrapping back below sub marks the end of a successful scan,
// moving this (and only this still-Waiting) slave into Configuration.
func (s *Slave) handleFastScan(req frame.Frame) (frame.Frame, bool) {
	if s.state != StateWaiting {
		return frame.Frame{}, false
	}
	id := binary.LittleEndian.Uint32(req.Data[1:5])
	bitCheck := req.Data[5]
	sub := req.Data[6]
	next := req.Data[7]

	if bitCheck == FastscanConfirm {
		s.fastScanSub = 0
		return s.ack(CmdIdentifySlave, 0), true
	}
	if s.fastScanSub != sub {
		return frame.Frame{}, false
	}

	mask := ^uint32(0) << bitCheck
	if s.identity.ByAddr(sub)&mask != id&mask {
		return frame.Frame{}, false
	}

	s.fastScanSub = next
	if bitCheck == 0 && next < sub {
		s.state = StateConfiguration
	}
	return s.ack(CmdIdentifySlave, 0), true
}

func (s *Slave) handleConfigureNodeId(req frame.Frame) (frame.Frame, bool) {
	nodeId := req.Data[1]
	if nodeId != NodeIdUnconfigured && (nodeId < NodeIdMin || nodeId > NodeIdMax) {
		return s.ack(CmdConfigureNodeId, ConfigNodeIdOutOfRange), true
	}
	s.pendingNodeId = nodeId
	if s.nodeId != nil {
		*s.nodeId = nodeId
	}
	return s.ack(CmdConfigureNodeId, ConfigNodeIdOk), true
}

func (s *Slave) handleInquiry(cmd Command) (frame.Frame, bool) {
	var data [8]byte
	data[0] = byte(cmd)
	switch cmd {
	case CmdInquireVendor:
		binary.LittleEndian.PutUint32(data[1:5], s.identity.VendorId)
	case CmdInquireProduct:
		binary.LittleEndian.PutUint32(data[1:5], s.identity.ProductCode)
	case CmdInquireRevision:
		binary.LittleEndian.PutUint32(data[1:5], s.identity.RevisionNumber)
	case CmdInquireSerial:
		binary.LittleEndian.PutUint32(data[1:5], s.identity.SerialNumber)
	case CmdInquireNodeId:
		if s.nodeId != nil {
			data[1] = *s.nodeId
		} else {
			data[1] = s.pendingNodeId
		}
	default:
		return frame.Frame{}, false
	}
	return frame.New(RespCobId, data[:]), true
}
