package lss

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zencan/zencan/pkg/frame"
)

func testIdentity() Identity {
	return Identity{
		VendorId:       0x11223344,
		ProductCode:    0x55667788,
		RevisionNumber: 0x01,
		SerialNumber:   0xDEADBEEF,
	}
}

func fastscanFrame(bitCheck byte, sub uint8, id uint32, next uint8) frame.Frame {
	data := make([]byte, 8)
	data[0] = byte(CmdFastScan)
	binary.LittleEndian.PutUint32(data[1:5], id)
	data[5] = bitCheck
	data[6] = sub
	data[7] = next
	return frame.New(ReqCobId, data)
}

func TestSwitchStateGlobalThenConfigureNodeId(t *testing.T) {
	nodeId := uint8(0x20)
	s := NewSlave(testIdentity(), &nodeId, nil)

	req := frame.New(ReqCobId, []byte{byte(CmdSwitchStateGlobal), byte(ModeConfiguration), 0, 0, 0, 0, 0, 0})
	resp, ok := s.HandleFrame(req)
	assert.False(t, ok, "global switch does not acknowledge")
	assert.Equal(t, frame.Frame{}, resp)
	assert.Equal(t, StateConfiguration, s.State())

	req = frame.New(ReqCobId, []byte{byte(CmdConfigureNodeId), 0x30, 0, 0, 0, 0, 0, 0})
	resp, ok = s.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, uint32(RespCobId), resp.CobId)
	assert.Equal(t, byte(CmdConfigureNodeId), resp.Data[0])
	assert.Equal(t, ConfigNodeIdOk, resp.Data[1])
	assert.Equal(t, uint8(0x30), nodeId)
}

func TestSwitchStateSelectiveRequiresFullIdentityMatch(t *testing.T) {
	nodeId := uint8(0x20)
	identity := testIdentity()
	s := NewSlave(identity, &nodeId, nil)

	send := func(cmd Command, value uint32) (frame.Frame, bool) {
		data := make([]byte, 8)
		data[0] = byte(cmd)
		binary.LittleEndian.PutUint32(data[1:5], value)
		return s.HandleFrame(frame.New(ReqCobId, data))
	}

	_, ok := send(CmdSwitchStateVendor, identity.VendorId)
	assert.False(t, ok)
	_, ok = send(CmdSwitchStateProduct, identity.ProductCode)
	assert.False(t, ok)
	_, ok = send(CmdSwitchStateRevision, identity.RevisionNumber)
	assert.False(t, ok)
	resp, ok := send(CmdSwitchStateSerial, identity.SerialNumber)
	assert.True(t, ok)
	assert.Equal(t, byte(CmdSwitchStateResponse), resp.Data[0])
	assert.Equal(t, StateConfiguration, s.State())
}

func TestSwitchStateSelectiveMismatchStaysWaiting(t *testing.T) {
	nodeId := uint8(0x20)
	identity := testIdentity()
	s := NewSlave(identity, &nodeId, nil)

	data := make([]byte, 8)
	data[0] = byte(CmdSwitchStateVendor)
	binary.LittleEndian.PutUint32(data[1:5], identity.VendorId+1)
	_, ok := s.HandleFrame(frame.New(ReqCobId, data))
	assert.False(t, ok)

	data[0] = byte(CmdSwitchStateProduct)
	binary.LittleEndian.PutUint32(data[1:5], identity.ProductCode)
	_, ok = s.HandleFrame(frame.New(ReqCobId, data))
	assert.False(t, ok, "no response before the serial-number field completes the sequence")
	assert.Equal(t, StateWaiting, s.State())
}

func TestInquireIdentityFields(t *testing.T) {
	nodeId := uint8(0x20)
	identity := testIdentity()
	s := NewSlave(identity, &nodeId, nil)
	s.HandleFrame(frame.New(ReqCobId, []byte{byte(CmdSwitchStateGlobal), byte(ModeConfiguration), 0, 0, 0, 0, 0, 0}))

	resp, ok := s.HandleFrame(frame.New(ReqCobId, []byte{byte(CmdInquireVendor), 0, 0, 0, 0, 0, 0, 0}))
	assert.True(t, ok)
	assert.Equal(t, identity.VendorId, binary.LittleEndian.Uint32(resp.Data[1:5]))

	resp, ok = s.HandleFrame(frame.New(ReqCobId, []byte{byte(CmdInquireNodeId), 0, 0, 0, 0, 0, 0, 0}))
	assert.True(t, ok)
	assert.Equal(t, nodeId, resp.Data[1])
}

func TestFastscanBinarySearchSelectsMatchingSlave(t *testing.T) {
	nodeId := uint8(0xFF)
	identity := testIdentity()
	s := NewSlave(identity, &nodeId, nil)

	resp, ok := s.HandleFrame(fastscanFrame(FastscanConfirm, 0, 0, 0))
	assert.True(t, ok, "fastscan confirm always acknowledges an unconfigured slave")
	assert.Equal(t, byte(CmdIdentifySlave), resp.Data[0])

	bitCheck := uint32(31)
	_, ok = s.HandleFrame(fastscanFrame(31, 0, identity.VendorId&(^uint32(0)<<bitCheck), 0))
	assert.True(t, ok)

	_, ok = s.HandleFrame(fastscanFrame(0, 0, identity.VendorId, 1))
	assert.True(t, ok, "full vendor id match advances to the next identity field")

	_, ok = s.HandleFrame(fastscanFrame(0, 1, identity.ProductCode, 2))
	assert.True(t, ok)

	_, ok = s.HandleFrame(fastscanFrame(0, 2, identity.RevisionNumber, 3))
	assert.True(t, ok)

	assert.Equal(t, StateWaiting, s.State())
	_, ok = s.HandleFrame(fastscanFrame(0, 3, identity.SerialNumber, 0))
	assert.True(t, ok)
	assert.Equal(t, StateConfiguration, s.State(), "bitCheck 0 with next < sub completes the scan")
}

func TestFastscanMismatchDoesNotAcknowledge(t *testing.T) {
	nodeId := uint8(0xFF)
	s := NewSlave(testIdentity(), &nodeId, nil)

	s.HandleFrame(fastscanFrame(FastscanConfirm, 0, 0, 0))
	_, ok := s.HandleFrame(fastscanFrame(0, 0, 0x00000001, 1))
	assert.False(t, ok)
}
