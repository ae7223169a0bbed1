package od

import "sync"

// Variable is the storage cell for a single sub-object: a VAR entry, or one
// element of an ARRAY/RECORD. Values live inline for the lifetime of the
// node; there is no allocation/free after construction.
type Variable struct {
	mu sync.RWMutex

	value        []byte
	valueDefault []byte
	lowLimit     []byte
	highLimit    []byte
	// events is the PDO event bitmap, OD_FLAGS_PDO_SIZE bytes wide: bit n
	// is pending for the TPDO holding flag number n.
	events uint32

	// Name is the parameter name, carried through from the device config
	// for diagnostics; not used for addressing at runtime.
	Name string
	// DataType is the CiA 301 data type of this variable.
	DataType uint8
	// Attribute packs access mode and PDO-mappability.
	Attribute uint8
	// SubIndex is this variable's position within its parent ARRAY/RECORD,
	// always 0 for a VAR entry.
	SubIndex uint8
}

// NewVariable constructs a scalar or domain variable with the given raw
// default value already encoded in wire byte order.
func NewVariable(subIndex uint8, name string, dataType uint8, attribute uint8, defaultValue []byte) *Variable {
	v := &Variable{
		Name:      name,
		DataType:  dataType,
		Attribute: attribute,
		SubIndex:  subIndex,
	}
	v.valueDefault = make([]byte, len(defaultValue))
	copy(v.valueDefault, defaultValue)
	v.value = make([]byte, len(defaultValue))
	copy(v.value, defaultValue)
	return v
}

// SetLimits installs optional value-range limits, checked on scalar writes.
func (v *Variable) SetLimits(low, high []byte) {
	v.lowLimit = low
	v.highLimit = high
}

// DataLength returns the number of bytes this variable currently occupies.
// For VISIBLE_STRING/OCTET_STRING/DOMAIN this may differ from the default
// length after a write.
func (v *Variable) DataLength() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint32(len(v.value))
}

// DefaultValue returns a copy of the value this variable was constructed
// with.
func (v *Variable) DefaultValue() []byte {
	out := make([]byte, len(v.valueDefault))
	copy(out, v.valueDefault)
	return out
}

func (v *Variable) isReadable() bool {
	return v.Attribute&AttributeSdoR != 0
}

func (v *Variable) isWritable() bool {
	return v.Attribute&AttributeSdoW != 0
}

func (v *Variable) isConst() bool {
	return v.Attribute&AttributeConst != 0
}

// MarkDirty flags this variable as changed for every PDO consumer, used
// by the TPDO engine's change-detection for event-driven transmission.
func (v *Variable) MarkDirty() {
	v.mu.Lock()
	v.events = ^uint32(0)
	v.mu.Unlock()
}

// TakeDirty reports whether this variable has been written since the last
// TakeDirty call for the same flag number, clearing only that flag's bit.
// Each TPDO consumes its own bit, so a sub-object mapped into several
// TPDOs delivers one event to each of them.
func (v *Variable) TakeDirty(flag uint8) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	mask := uint32(1) << (flag % (OD_FLAGS_PDO_SIZE * 8))
	d := v.events&mask != 0
	v.events &^= mask
	return d
}

// checkRange validates a scalar value against declared limits. Only called
// for fixed-size numeric types; strings/domains carry no limits.
func (v *Variable) checkRange(data []byte) ODR {
	if v.lowLimit != nil && compareScalar(data, v.lowLimit, v.DataType) < 0 {
		return ErrValueLow
	}
	if v.highLimit != nil && compareScalar(data, v.highLimit, v.DataType) > 0 {
		return ErrValueHigh
	}
	return ErrNo
}
