package config

import (
	"encoding/binary"

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

// addDeviceType mounts object 0x1000, the CiA 301 device type word; this
// core targets no standardized device profile, so it reads 0.
func addDeviceType(dict *od.ObjectDictionary) {
	dict.AddVariable(od.IndexDeviceType, "device type", od.UNSIGNED32, od.AttributeSdoR|od.AttributeConst, u32b(0))
}

// addErrorRegister mounts object 0x1001, a read-only bitmask the node
// runtime's EMCY hook ORs bits into as faults are raised.
func addErrorRegister(dict *od.ObjectDictionary) {
	dict.AddVariable(od.IndexErrorRegister, "error register", od.UNSIGNED8, od.AttributeSdoR, []byte{0})
}

// addDeviceStrings mounts the manufacturer device name, hardware version
// and software version objects (0x1008/0x1009/0x100A), all read-only
// VISIBLE_STRINGs baked in at compile time.
func addDeviceStrings(dict *od.ObjectDictionary, cfg *DeviceConfig) {
	dict.AddVariable(od.IndexDeviceName, "manufacturer device name", od.VISIBLE_STRING, od.AttributeSdoR, []byte(cfg.DeviceName))
	dict.AddVariable(od.IndexHardwareVersion, "manufacturer hardware version", od.VISIBLE_STRING, od.AttributeSdoR, []byte(cfg.HardwareVersion))
	dict.AddVariable(od.IndexSoftwareVersion, "manufacturer software version", od.VISIBLE_STRING, od.AttributeSdoR, []byte(cfg.SoftwareVersion))
}

// addIdentity mounts object 0x1018: vendor id, product code and revision
// number are compile-time constants; the serial number sub is read-only
// and const to the SDO server, since only the application (using a
// bypassing write) may set it, once, during boot.
func addIdentity(dict *od.ObjectDictionary, identity IdentityConfig) {
	dict.AddRecord(od.IndexIdentity, "identity object")
	dict.AddSubObject(od.IndexIdentity, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{4})
	dict.AddSubObject(od.IndexIdentity, 1, "vendor id", od.UNSIGNED32, od.AttributeSdoR|od.AttributeConst, u32b(identity.VendorId))
	dict.AddSubObject(od.IndexIdentity, 2, "product code", od.UNSIGNED32, od.AttributeSdoR|od.AttributeConst, u32b(identity.ProductCode))
	dict.AddSubObject(od.IndexIdentity, 3, "revision number", od.UNSIGNED32, od.AttributeSdoR|od.AttributeConst, u32b(identity.RevisionNumber))
	dict.AddSubObject(od.IndexIdentity, 4, "serial number", od.UNSIGNED32, od.AttributeSdoR|od.AttributeConst, u32b(0))
}

// addStoreRestoreParameters mounts 0x1010/0x1011. Both subs are plain
// UNSIGNED32 cells; the node runtime subscribes to sub 1 writes and checks
// the signature itself (see pkg/node), since the magic-value gate is a
// behavioural contract, not something the OD layer enforces generically.
func addStoreRestoreParameters(dict *od.ObjectDictionary) {
	dict.AddRecord(od.IndexStoreParameters, "store parameters")
	dict.AddSubObject(od.IndexStoreParameters, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{1})
	dict.AddSubObject(od.IndexStoreParameters, 1, "save all parameters", od.UNSIGNED32, od.AttributeSdoRw, u32b(1))

	dict.AddRecord(od.IndexRestoreParameters, "restore default parameters")
	dict.AddSubObject(od.IndexRestoreParameters, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{1})
	dict.AddSubObject(od.IndexRestoreParameters, 1, "restore all default parameters", od.UNSIGNED32, od.AttributeSdoRw, u32b(1))
}

// addHeartbeatProducer mounts 0x1017; pkg/nmt installs the write extension
// that keeps the heartbeat timer in sync with the stored value.
func addHeartbeatProducer(dict *od.ObjectDictionary, periodMs uint16) {
	dict.AddVariable(od.IndexHeartbeatProducer, "producer heartbeat time", od.UNSIGNED16, od.AttributeSdoRw, u16b(periodMs))
}

// addSdoServerParams mounts 0x1200, the default SDO server's own
// communication parameters, reported read-only since this core supports
// exactly one server at the predefined connection set addresses.
func addSdoServerParams(dict *od.ObjectDictionary, nodeId uint8) {
	dict.AddRecord(od.IndexSdoServer, "sdo server parameter")
	dict.AddSubObject(od.IndexSdoServer, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{2})
	dict.AddSubObject(od.IndexSdoServer, 1, "cob-id client to server", od.UNSIGNED32, od.AttributeSdoR, u32b(0x600+uint32(nodeId)))
	dict.AddSubObject(od.IndexSdoServer, 2, "cob-id server to client", od.UNSIGNED32, od.AttributeSdoR, u32b(0x580+uint32(nodeId)))
}

// addAutoStart mounts the supplemental 0x5000 object: when non-zero, the
// node runtime skips waiting for an NMT Start command and enters
// Operational directly out of the boot sequence.
func addAutoStart(dict *od.ObjectDictionary, autoStart bool) {
	v := byte(0)
	if autoStart {
		v = 1
	}
	dict.AddVariable(od.IndexAutoStart, "auto start", od.BOOLEAN, od.AttributeSdoRw, []byte{v})
}

// predefinedTpdoId/predefinedRpdoId return the default 0x14xx/0x18xx
// cob-id sub-object value: the predefined connection set identifier for
// slot n (0-3) with the not-valid bit clear, or just the not-valid bit set
// for slots beyond the predefined set, which must be configured explicitly
// over SDO before the PDO can be used.
func predefinedTpdoId(nodeId uint8, n uint8) uint32 {
	if n >= 4 {
		return od.CobIdValidBit
	}
	return uint32(0x180+uint32(n)*0x100) + uint32(nodeId)
}

func predefinedRpdoId(nodeId uint8, n uint8) uint32 {
	if n >= 4 {
		return od.CobIdValidBit
	}
	return uint32(0x200+uint32(n)*0x100) + uint32(nodeId)
}

// addTpdoParams mounts one TPDO's communication (0x18xx) and mapping
// (0x1Axx) parameter blocks, unmapped and event-driven by default so it
// transmits nothing until the application or a config write maps
// sub-objects into it.
func addTpdoParams(dict *od.ObjectDictionary, nodeId, n uint8, commIdx, mapIdx uint16) {
	dict.AddRecord(commIdx, "tpdo comm parameter")
	dict.AddSubObject(commIdx, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{6})
	dict.AddSubObject(commIdx, od.SubPdoCobId, "cob-id", od.UNSIGNED32, od.AttributeSdoRw, u32b(predefinedTpdoId(nodeId, n)))
	dict.AddSubObject(commIdx, od.SubPdoTransmissionType, "transmission type", od.UNSIGNED8, od.AttributeSdoRw, []byte{0xFE})
	dict.AddSubObject(commIdx, od.SubPdoInhibitTime, "inhibit time", od.UNSIGNED16, od.AttributeSdoRw, u16b(0))
	dict.AddSubObject(commIdx, 4, "reserved", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})
	dict.AddSubObject(commIdx, od.SubPdoEventTime, "event timer", od.UNSIGNED16, od.AttributeSdoRw, u16b(0))
	dict.AddSubObject(commIdx, od.SubPdoSyncStartValue, "sync start value", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})

	dict.AddArray(mapIdx, "tpdo mapping parameter", od.MaxMappedEntriesPdo+1)
	dict.AddSubObject(mapIdx, 0, "number of mapped objects", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})
	for i := uint8(1); i <= od.MaxMappedEntriesPdo; i++ {
		dict.AddSubObject(mapIdx, i, "mapping entry", od.UNSIGNED32, od.AttributeSdoRw, u32b(0))
	}
}

// addRpdoParams mirrors addTpdoParams for an RPDO.
func addRpdoParams(dict *od.ObjectDictionary, nodeId, n uint8, commIdx, mapIdx uint16) {
	dict.AddRecord(commIdx, "rpdo comm parameter")
	dict.AddSubObject(commIdx, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{5})
	dict.AddSubObject(commIdx, od.SubPdoCobId, "cob-id", od.UNSIGNED32, od.AttributeSdoRw, u32b(predefinedRpdoId(nodeId, n)))
	dict.AddSubObject(commIdx, od.SubPdoTransmissionType, "transmission type", od.UNSIGNED8, od.AttributeSdoRw, []byte{0xFE})
	dict.AddSubObject(commIdx, od.SubPdoInhibitTime, "reserved", od.UNSIGNED16, od.AttributeSdoRw, u16b(0))
	dict.AddSubObject(commIdx, 4, "reserved", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})
	dict.AddSubObject(commIdx, od.SubPdoEventTime, "event timer", od.UNSIGNED16, od.AttributeSdoRw, u16b(0))

	dict.AddArray(mapIdx, "rpdo mapping parameter", od.MaxMappedEntriesPdo+1)
	dict.AddSubObject(mapIdx, 0, "number of mapped objects", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})
	for i := uint8(1); i <= od.MaxMappedEntriesPdo; i++ {
		dict.AddSubObject(mapIdx, i, "mapping entry", od.UNSIGNED32, od.AttributeSdoRw, u32b(0))
	}
}

// addBootloaderObjects mounts the bootloader info object (0x5500) and one
// section record (0x5510+n) per declared section. The reset sub (0x5500
// sub 3) and each section's erase sub (sub 3) only accept their exact
// magic signature; that gating, and the forwarding of erase/program
// operations to application callbacks, lives in pkg/node, which installs
// write extensions over these sub-objects.
func addBootloaderObjects(dict *od.ObjectDictionary, cfg *BootloaderConfig) {
	dict.AddRecord(od.IndexBootloaderCommand, "bootloader info")
	dict.AddSubObject(od.IndexBootloaderCommand, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{3})
	// bit 0: bootloader present, bit 1: running as application.
	dict.AddSubObject(od.IndexBootloaderCommand, 1, "bootloader config", od.UNSIGNED32, od.AttributeSdoR|od.AttributeConst, u32b(3))
	dict.AddSubObject(od.IndexBootloaderCommand, 2, "number of sections", od.UNSIGNED8, od.AttributeSdoR, []byte{byte(len(cfg.Sections))})
	dict.AddSubObject(od.IndexBootloaderCommand, 3, "reset to bootloader", od.UNSIGNED32, od.AttributeSdoW, u32b(0))

	for i, section := range cfg.Sections {
		idx := od.IndexBootloaderSection + uint16(i)
		dict.AddRecord(idx, section.Name+" section")
		dict.AddSubObject(idx, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{4})
		programmable := byte(0)
		if section.ProgrammableInApp {
			programmable = 1
		}
		dict.AddSubObject(idx, 1, "programmable in application", od.BOOLEAN, od.AttributeSdoR, []byte{programmable})
		dict.AddSubObject(idx, 2, "section name", od.VISIBLE_STRING, od.AttributeSdoR, []byte(section.Name))
		dict.AddSubObject(idx, 3, "erase", od.UNSIGNED32, od.AttributeSdoW, u32b(0))
		dict.AddSubObject(idx, 4, "program data", od.DOMAIN, od.AttributeSdoW, nil)
	}
}
