package config

import (
	"fmt"

	"github.com/zencan/zencan/pkg/od"
)

// Compiled is the output of Build: a ready-to-mount object dictionary plus
// the handful of values the node runtime needs but that don't belong in the
// dictionary itself.
type Compiled struct {
	OD              *od.ObjectDictionary
	DeviceName      string
	Identity        IdentityConfig
	HeartbeatPeriod uint16
	AutoStart       bool
	NumTpdos        uint8
	NumRpdos        uint8
	Bootloader      *BootloaderConfig
}

// reservedRange reports whether idx falls inside a communication-profile or
// bootloader range the compiler itself owns, which a custom object must not
// collide with.
func reservedRange(idx uint16) bool {
	switch {
	case idx >= 0x1000 && idx <= 0x1FFF:
		return true
	case idx >= od.IndexBootloaderCommand && idx < od.IndexBootloaderCommand+0x20:
		return true
	default:
		return false
	}
}

// Build compiles cfg into a statically laid out object dictionary. nodeId
// is the node's CiA 301 node id at build time, used to compute the
// predefined connection set COB-IDs for SDO and PDO objects; a node whose
// id is only later assigned by LSS is expected to go through
// ResetCommunication (and a rebuild of this dictionary) once it is.
func Build(cfg *DeviceConfig, nodeId uint8) (*Compiled, error) {
	dict := od.NewObjectDictionary()
	seen := make(map[uint16]bool)

	reserve := func(idx uint16) error {
		if seen[idx] {
			return fmt.Errorf("%w: 0x%04X", ErrDuplicateIndex, idx)
		}
		seen[idx] = true
		return nil
	}

	for _, idx := range []uint16{
		od.IndexDeviceType, od.IndexErrorRegister, od.IndexDeviceName,
		od.IndexHardwareVersion, od.IndexSoftwareVersion, od.IndexStoreParameters,
		od.IndexRestoreParameters, od.IndexHeartbeatProducer, od.IndexIdentity,
		od.IndexSdoServer, od.IndexAutoStart,
	} {
		if err := reserve(idx); err != nil {
			return nil, err
		}
	}

	addDeviceType(dict)
	addErrorRegister(dict)
	addDeviceStrings(dict, cfg)
	addIdentity(dict, cfg.Identity)
	addStoreRestoreParameters(dict)
	addHeartbeatProducer(dict, cfg.HeartbeatPeriod)
	addSdoServerParams(dict, nodeId)
	addAutoStart(dict, cfg.AutoStart)

	for n := uint8(0); n < cfg.Pdos.NumTpdos; n++ {
		commIdx := od.IndexTpdoCommunicationBase + uint16(n)
		mapIdx := od.IndexTpdoMappingBase + uint16(n)
		if err := reserve(commIdx); err != nil {
			return nil, err
		}
		if err := reserve(mapIdx); err != nil {
			return nil, err
		}
		addTpdoParams(dict, nodeId, n, commIdx, mapIdx)
	}
	for n := uint8(0); n < cfg.Pdos.NumRpdos; n++ {
		commIdx := od.IndexRpdoCommunicationBase + uint16(n)
		mapIdx := od.IndexRpdoMappingBase + uint16(n)
		if err := reserve(commIdx); err != nil {
			return nil, err
		}
		if err := reserve(mapIdx); err != nil {
			return nil, err
		}
		addRpdoParams(dict, nodeId, n, commIdx, mapIdx)
	}

	if cfg.Bootloader != nil {
		if err := reserve(od.IndexBootloaderCommand); err != nil {
			return nil, err
		}
		for i := range cfg.Bootloader.Sections {
			if err := reserve(od.IndexBootloaderSection + uint16(i)); err != nil {
				return nil, err
			}
		}
		addBootloaderObjects(dict, cfg.Bootloader)
	}

	for _, obj := range cfg.Objects {
		if err := reserve(obj.Index); err != nil {
			return nil, err
		}
		if reservedRange(obj.Index) {
			return nil, fmt.Errorf("%w: 0x%04X", ErrReservedRange, obj.Index)
		}
		if err := addCustomObject(dict, obj); err != nil {
			return nil, err
		}
	}

	return &Compiled{
		OD:              dict,
		DeviceName:      cfg.DeviceName,
		Identity:        cfg.Identity,
		HeartbeatPeriod: cfg.HeartbeatPeriod,
		AutoStart:       cfg.AutoStart,
		NumTpdos:        cfg.Pdos.NumTpdos,
		NumRpdos:        cfg.Pdos.NumRpdos,
		Bootloader:      cfg.Bootloader,
	}, nil
}
