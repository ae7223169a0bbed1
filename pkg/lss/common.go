// Package lss implements the CANopen Layer Setting Services slave: global
// and selective state switching, fastscan node-id discovery, node-id
// configuration, and the inquiry services, all driven synchronously from
// the node's process loop, matching the cooperative discipline the rest of
// this core follows.
package lss

import "fmt"

// ReqCobId/RespCobId are the predefined connection set identifiers for LSS
// master requests and slave responses; there is exactly one LSS channel per
// bus, shared by every node before it has an assigned node id.
const (
	ReqCobId  = 0x7E5
	RespCobId = 0x7E4
)

// Node id range, per CiA 301. 0xFF marks a node that has not yet been
// assigned an id and must be addressed through LSS before it can take part
// in NMT/SDO/PDO traffic.
const (
	NodeIdUnconfigured uint8 = 0xFF
	NodeIdMin          uint8 = 0x01
	NodeIdMax          uint8 = 0x7F
)

// Command is the LSS command specifier, byte 0 of every LSS frame.
type Command uint8

const (
	CmdSwitchStateGlobal   Command = 0x04
	CmdConfigureNodeId     Command = 0x11
	CmdConfigureBitTiming  Command = 0x13
	CmdActivateBitTiming   Command = 0x15
	CmdStoreConfiguration  Command = 0x17
	CmdSwitchStateVendor   Command = 0x40
	CmdSwitchStateProduct  Command = 0x41
	CmdSwitchStateRevision Command = 0x42
	CmdSwitchStateSerial   Command = 0x43
	CmdSwitchStateResponse Command = 0x44
	CmdIdentifySlave       Command = 0x4F
	CmdFastScan            Command = 0x51
	CmdInquireVendor       Command = 0x5A
	CmdInquireProduct      Command = 0x5B
	CmdInquireRevision     Command = 0x5C
	CmdInquireSerial       Command = 0x5D
	CmdInquireNodeId       Command = 0x5E
)

// Mode is the single payload byte of a SwitchStateGlobal request.
type Mode uint8

const (
	ModeWaiting       Mode = 0
	ModeConfiguration Mode = 1
)

// ConfigureNodeId acknowledge error codes, byte 1 of the response.
const (
	ConfigNodeIdOk           uint8 = 0
	ConfigNodeIdOutOfRange   uint8 = 1
	ConfigNodeIdManufacturer uint8 = 0xFF
)

// FastscanConfirm is the special bit_check value (CiA 305 S5.3.3) a master
// sends to reset every unconfigured slave's scan cursor back to vendor-id
// and ask it to confirm its presence, before starting a new binary search.
const FastscanConfirm uint8 = 0x80

// State is the slave's CiA 305 LSS state.
type State uint8

const (
	StateWaiting       State = 1
	StateConfiguration State = 2
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateConfiguration:
		return "CONFIGURATION"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Identity is the four 32-bit identity values (mirroring object 0x1018) that
// address a node for switch-state-selective and fastscan.
type Identity struct {
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
}

// ByAddr reads the identity as if it were a [4]uint32 array: 0=vendor,
// 1=product, 2=revision, 3=serial -- the layout fastscan and
// switch-state-selective both address by position.
func (id Identity) ByAddr(addr uint8) uint32 {
	switch addr {
	case 0:
		return id.VendorId
	case 1:
		return id.ProductCode
	case 2:
		return id.RevisionNumber
	case 3:
		return id.SerialNumber
	default:
		return 0
	}
}
