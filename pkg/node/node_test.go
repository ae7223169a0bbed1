package node

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/lss"
	"github.com/zencan/zencan/pkg/nmt"
	"github.com/zencan/zencan/pkg/od"
)

func u16b(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32b(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func testDeviceConfig() *config.DeviceConfig {
	return &config.DeviceConfig{
		DeviceName: "test device",
		Identity: config.IdentityConfig{
			VendorId:       0xCAFE,
			ProductCode:    32,
			RevisionNumber: 1,
		},
		Pdos: config.PdosConfig{NumTpdos: 1, NumRpdos: 1},
		Objects: []config.ObjectConfig{
			{
				Index: 0x2000, ParameterName: "sensor", ObjectType: "record",
				Subs: []config.SubConfig{
					{SubIndex: 1, ParameterName: "temperature", DataType: "uint16", AccessType: "rw", PdoMapping: "tpdo"},
					{SubIndex: 2, ParameterName: "humidity", DataType: "uint16", AccessType: "rw", PdoMapping: "tpdo"},
				},
			},
			{Index: 0x2100, ParameterName: "counter", ObjectType: "var", DataType: "uint32", AccessType: "rw"},
			{Index: 0x3000, ParameterName: "setpoint", ObjectType: "var", DataType: "uint32", AccessType: "rw", PdoMapping: "rpdo"},
		},
	}
}

func newTestNode(t *testing.T, nodeId uint8, mutate func(*config.DeviceConfig)) *Node {
	cfg := testDeviceConfig()
	if mutate != nil {
		mutate(cfg)
	}
	compiled, err := config.Build(cfg, nodeId)
	require.NoError(t, err)
	identity := lss.Identity{VendorId: 0xCAFE, ProductCode: 32, RevisionNumber: 1}
	n, err := New(compiled, nodeId, identity, Options{})
	require.NoError(t, err)
	return n
}

type txRecorder struct {
	frames []frame.Frame
}

func (r *txRecorder) send(f frame.Frame) { r.frames = append(r.frames, f) }

func (r *txRecorder) onCobId(cobId uint32) []frame.Frame {
	var out []frame.Frame
	for _, f := range r.frames {
		if f.CobId == cobId {
			out = append(out, f)
		}
	}
	return out
}

func startNode(t *testing.T, n *Node) {
	tx := &txRecorder{}
	n.Process(0, tx.send)
	n.StoreMessage(frame.New(nmt.ControlCobId, []byte{byte(nmt.CommandStart), n.NodeId()}))
	n.Process(1, tx.send)
	require.Equal(t, nmt.StateOperational, n.State())
}

func TestBootupFrameEmittedOncePerBoot(t *testing.T) {
	n := newTestNode(t, 7, nil)
	tx := &txRecorder{}

	n.Process(0, tx.send)
	boot := tx.onCobId(0x707)
	require.Len(t, boot, 1)
	assert.Equal(t, uint8(1), boot[0].DLC)
	assert.Equal(t, byte(0x00), boot[0].Data[0])
	assert.Equal(t, nmt.StatePreOperational, n.State())

	n.Process(1000, tx.send)
	assert.Len(t, tx.onCobId(0x707), 1, "boot-up frame must not repeat")
}

func TestNmtStartThenHeartbeatCarriesOperational(t *testing.T) {
	n := newTestNode(t, 7, func(cfg *config.DeviceConfig) { cfg.HeartbeatPeriod = 1000 })
	tx := &txRecorder{}

	n.Process(0, tx.send)

	n.StoreMessage(frame.New(nmt.ControlCobId, []byte{byte(nmt.CommandStart), 7}))
	n.Process(1, tx.send)
	assert.Equal(t, nmt.StateOperational, n.State())

	tx.frames = nil
	n.Process(1_500_000, tx.send)
	beats := tx.onCobId(0x707)
	require.Len(t, beats, 1)
	assert.Equal(t, nmt.StateOperational, beats[0].Data[0])

	n.Process(1_900_000, tx.send)
	assert.Len(t, tx.onCobId(0x707), 1, "no heartbeat before the period elapses")

	n.Process(2_600_000, tx.send)
	assert.Len(t, tx.onCobId(0x707), 2)
}

func TestExpeditedSdoDownloadAndReadback(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x00, 0x21, 0x00, 0x05, 0x00, 0x00, 0x00}))
	tx.frames = nil
	n.Process(1, tx.send)

	resps := tx.onCobId(0x585)
	require.Len(t, resps, 1)
	assert.Equal(t, [8]byte{0x60, 0x00, 0x21, 0x00, 0, 0, 0, 0}, resps[0].Data)

	raw, odr := n.Dictionary().Read(0x2100, 0)
	require.Equal(t, od.ErrNo, odr)
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(raw))
}

func TestSdoDownloadToUnknownObjectAborts(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x99, 0x99, 0x00, 1, 0, 0, 0}))
	tx.frames = nil
	n.Process(1, tx.send)

	resps := tx.onCobId(0x585)
	require.Len(t, resps, 1)
	assert.Equal(t, byte(0x80), resps[0].Data[0])
	assert.Equal(t, uint32(0x06020000), binary.LittleEndian.Uint32(resps[0].Data[4:8]))
}

func TestTpdoEventTransmission(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	// Configure TPDO1 while PreOperational: two 16-bit mappings, then
	// enable at COB-ID 0x185. The event-driven transmission type (0xFE) is
	// the compiled default.
	dict := n.Dictionary()
	require.Equal(t, od.ErrNo, dict.Write(od.IndexTpdoMappingBase, 1, u32b(0x2000_0110)))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexTpdoMappingBase, 2, u32b(0x2000_0210)))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexTpdoMappingBase, 0, []byte{2}))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexTpdoCommunicationBase, od.SubPdoCobId, u32b(0x185)))

	startNode(t, n)

	require.Equal(t, od.ErrNo, dict.Write(0x2000, 1, u16b(0x1234)))
	tx.frames = nil
	n.Process(10, tx.send)

	pdos := tx.onCobId(0x185)
	require.Len(t, pdos, 1)
	assert.Equal(t, uint8(4), pdos[0].DLC)
	assert.Equal(t, byte(0x34), pdos[0].Data[0])
	assert.Equal(t, byte(0x12), pdos[0].Data[1])

	// No change, no retransmission.
	tx.frames = nil
	n.Process(20, tx.send)
	assert.Empty(t, tx.onCobId(0x185))
}

func TestRpdoReceptionWritesMappedObject(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	dict := n.Dictionary()
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoMappingBase, 1, u32b(0x3000_0020)))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoMappingBase, 0, []byte{1}))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoCommunicationBase, od.SubPdoTransmissionType, []byte{0xFF}))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoCommunicationBase, od.SubPdoCobId, u32b(0x205)))

	startNode(t, n)

	n.StoreMessage(frame.New(0x205, []byte{0x78, 0x56, 0x34, 0x12}))
	n.Process(10, tx.send)

	raw, odr := dict.Read(0x3000, 0)
	require.Equal(t, od.ErrNo, odr)
	assert.Equal(t, uint32(0x12345678), binary.LittleEndian.Uint32(raw))
}

func TestRpdoIgnoredWhileNotOperational(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	dict := n.Dictionary()
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoMappingBase, 1, u32b(0x3000_0020)))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoMappingBase, 0, []byte{1}))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoCommunicationBase, od.SubPdoTransmissionType, []byte{0xFF}))
	require.Equal(t, od.ErrNo, dict.Write(od.IndexRpdoCommunicationBase, od.SubPdoCobId, u32b(0x205)))

	n.StoreMessage(frame.New(0x205, []byte{0x78, 0x56, 0x34, 0x12}))
	n.Process(10, tx.send)

	raw, _ := dict.Read(0x3000, 0)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(raw))
}

func TestLssConfigureNodeId(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	n.StoreMessage(frame.New(lss.ReqCobId, []byte{byte(lss.CmdSwitchStateGlobal), byte(lss.ModeConfiguration), 0, 0, 0, 0, 0, 0}))
	n.StoreMessage(frame.New(lss.ReqCobId, []byte{byte(lss.CmdConfigureNodeId), 10, 0, 0, 0, 0, 0, 0}))
	tx.frames = nil
	n.Process(1, tx.send)

	acks := tx.onCobId(lss.RespCobId)
	require.Len(t, acks, 1)
	assert.Equal(t, byte(lss.CmdConfigureNodeId), acks[0].Data[0])
	assert.Equal(t, lss.ConfigNodeIdOk, acks[0].Data[1])
	assert.Equal(t, uint8(10), n.NodeId())
}

func TestAutoStartReachesOperationalWithoutNmtMaster(t *testing.T) {
	n := newTestNode(t, 5, func(cfg *config.DeviceConfig) { cfg.AutoStart = true })
	tx := &txRecorder{}

	n.Process(0, tx.send)
	n.Process(1, tx.send)
	assert.Equal(t, nmt.StateOperational, n.State())
}

func TestStoreParametersSignatureGatesHandler(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	stored := 0
	n.SetStoreHandler(func() error { stored++; return nil })

	// "save", little-endian.
	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x10, 0x10, 0x01, 0x73, 0x61, 0x76, 0x65}))
	tx.frames = nil
	n.Process(1, tx.send)
	resps := tx.onCobId(0x585)
	require.Len(t, resps, 1)
	assert.Equal(t, byte(0x60), resps[0].Data[0])
	assert.Equal(t, 1, stored)

	// Any other value is rejected and the handler stays untouched.
	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x10, 0x10, 0x01, 1, 2, 3, 4}))
	tx.frames = nil
	n.Process(2, tx.send)
	resps = tx.onCobId(0x585)
	require.Len(t, resps, 1)
	assert.Equal(t, byte(0x80), resps[0].Data[0])
	assert.Equal(t, uint32(od.AbortInvalidValue), binary.LittleEndian.Uint32(resps[0].Data[4:8]))
	assert.Equal(t, 1, stored)
}

func TestBootloaderSignaturesTriggerCallbacks(t *testing.T) {
	n := newTestNode(t, 5, func(cfg *config.DeviceConfig) {
		cfg.Bootloader = &config.BootloaderConfig{
			Sections: []config.BootloaderSection{{Name: "application"}},
		}
	})
	tx := &txRecorder{}
	n.Process(0, tx.send)

	resets := 0
	erased := []uint8{}
	var programmed []byte
	n.SetBootloaderResetHandler(func() error { resets++; return nil })
	n.SetBootloaderEraseHandler(func(section uint8) error {
		erased = append(erased, section)
		return nil
	})
	n.SetBootloaderProgramHandler(func(section uint8, offset uint32, data []byte) error {
		programmed = append(programmed, data...)
		return nil
	})

	// "BOOT" to 0x5500 sub 3.
	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x00, 0x55, 0x03, 0x42, 0x4F, 0x4F, 0x54}))
	// "ERAS" to section 0's erase sub, then a program chunk.
	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x10, 0x55, 0x03, 0x45, 0x52, 0x41, 0x53}))
	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x10, 0x55, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}))
	tx.frames = nil
	n.Process(1, tx.send)

	assert.Equal(t, 1, resets)
	assert.Equal(t, []uint8{0}, erased)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, programmed)
	for _, f := range tx.onCobId(0x585) {
		assert.Equal(t, byte(0x60), f.Data[0])
	}

	// A wrong signature is rejected without reaching the handler.
	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x00, 0x55, 0x03, 1, 2, 3, 4}))
	tx.frames = nil
	n.Process(2, tx.send)
	resps := tx.onCobId(0x585)
	require.Len(t, resps, 1)
	assert.Equal(t, byte(0x80), resps[0].Data[0])
	assert.Equal(t, uint32(od.AbortInvalidValue), binary.LittleEndian.Uint32(resps[0].Data[4:8]))
	assert.Equal(t, 1, resets)
}

func TestMailboxOverflowIsStickyUntilCleared(t *testing.T) {
	cfg := testDeviceConfig()
	compiled, err := config.Build(cfg, 5)
	require.NoError(t, err)
	n, err := New(compiled, 5, lss.Identity{}, Options{MailboxCapacity: 2})
	require.NoError(t, err)

	notified := 0
	n.SetProcessNotify(func() { notified++ })

	assert.True(t, n.StoreMessage(frame.New(0x605, nil)))
	assert.True(t, n.StoreMessage(frame.New(0x605, nil)))
	assert.False(t, n.StoreMessage(frame.New(0x605, nil)))
	assert.Equal(t, 2, notified, "a dropped frame must not notify")
	assert.True(t, n.MailboxOverflowed())

	tx := &txRecorder{}
	n.Process(0, tx.send)
	assert.True(t, n.MailboxOverflowed(), "the flag survives a drain")
	n.ClearMailboxOverflow()
	assert.False(t, n.MailboxOverflowed())
}

func TestSetSerialNumberBypassesConstButSdoCannot(t *testing.T) {
	n := newTestNode(t, 5, nil)
	tx := &txRecorder{}
	n.Process(0, tx.send)

	require.NoError(t, n.SetSerialNumber(0xA1B2C3D4))
	serial, err := n.Dictionary().Index(od.IndexIdentity).Uint32(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xA1B2C3D4), serial)

	n.StoreMessage(frame.New(0x605, []byte{0x23, 0x18, 0x10, 0x04, 1, 2, 3, 4}))
	tx.frames = nil
	n.Process(1, tx.send)
	resps := tx.onCobId(0x585)
	require.Len(t, resps, 1)
	assert.Equal(t, byte(0x80), resps[0].Data[0])
	assert.Equal(t, uint32(od.AbortReadOnly), binary.LittleEndian.Uint32(resps[0].Data[4:8]))
}
