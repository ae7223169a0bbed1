// Package config implements the offline device-config compiler: it turns a
// TOML device description into a statically built object dictionary, ready
// for the node runtime to mount without any further allocation. Nothing in
// this package runs on the target; it is meant to be invoked from
// cmd/zencan-gen or a host-side test, before a node ever boots.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DeviceConfig is the top level decoded shape of a device TOML document.
type DeviceConfig struct {
	DeviceName      string            `toml:"device_name"`
	HardwareVersion string            `toml:"hardware_version"`
	SoftwareVersion string            `toml:"software_version"`
	Identity        IdentityConfig    `toml:"identity"`
	HeartbeatPeriod uint16            `toml:"heartbeat_period_ms"`
	AutoStart       bool              `toml:"auto_start"`
	Pdos            PdosConfig        `toml:"pdos"`
	Bootloader      *BootloaderConfig `toml:"bootloader"`
	Objects         []ObjectConfig    `toml:"objects"`
}

// IdentityConfig holds the three compile-time-constant fields of object
// 0x1018. The serial number is left out; it is set by the application at
// runtime, not baked in at compile time.
type IdentityConfig struct {
	VendorId       uint32 `toml:"vendor_id"`
	ProductCode    uint32 `toml:"product_code"`
	RevisionNumber uint32 `toml:"revision_number"`
}

// PdosConfig declares how many TPDO/RPDO communication+mapping parameter
// pairs to pre-allocate at their CiA 301 indices. The first four of each
// kind get the predefined connection set COB-ID; later slots get only the
// not-valid bit.
type PdosConfig struct {
	NumTpdos uint8 `toml:"num_tpdos"`
	NumRpdos uint8 `toml:"num_rpdos"`
}

// BootloaderConfig declares the flash sections a bootloader-capable device
// exposes through objects 0x5500/0x5510+n.
type BootloaderConfig struct {
	Sections []BootloaderSection `toml:"sections"`
}

// BootloaderSection is one flash region a bootloader can erase and program.
type BootloaderSection struct {
	Name              string `toml:"name"`
	ProgrammableInApp bool   `toml:"programmable_in_app"`
}

// ObjectConfig describes one manufacturer/application object dictionary
// entry: a scalar VAR, a homogeneous ARRAY, or a heterogeneous RECORD.
type ObjectConfig struct {
	Index         uint16      `toml:"index"`
	ParameterName string      `toml:"parameter_name"`
	ObjectType    string      `toml:"object_type"` // "var" | "array" | "record"
	DataType      string      `toml:"data_type"`
	AccessType    string      `toml:"access_type"`
	DefaultValue  string      `toml:"default_value"`
	PdoMapping    string      `toml:"pdo_mapping"` // "", "tpdo", "rpdo", "both"
	ArraySize     uint16      `toml:"array_size"`
	LowLimit      *string     `toml:"low_limit"`
	HighLimit     *string     `toml:"high_limit"`
	Subs          []SubConfig `toml:"subs"`
}

// SubConfig describes one sub-index of a RECORD object.
type SubConfig struct {
	SubIndex      uint8   `toml:"sub_index"`
	ParameterName string  `toml:"parameter_name"`
	DataType      string  `toml:"data_type"`
	AccessType    string  `toml:"access_type"`
	DefaultValue  string  `toml:"default_value"`
	PdoMapping    string  `toml:"pdo_mapping"`
	LowLimit      *string `toml:"low_limit"`
	HighLimit     *string `toml:"high_limit"`
}

// Parse decodes a device config document from data.
func Parse(data []byte) (*DeviceConfig, error) {
	var cfg DeviceConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Load reads and decodes a device config document from path.
func Load(path string) (*DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}
