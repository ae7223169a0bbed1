package od

import (
	"encoding/binary"
	"fmt"
)

// Entry is a single object dictionary index: either a scalar VAR, or an
// ARRAY/RECORD holding several sub-objects. Extensions and write-notify
// callbacks attach per sub-object, keyed by sub index.
type Entry struct {
	// Index is this entry's object dictionary index.
	Index uint16
	// Name is the object's parameter name, for diagnostics.
	Name string
	// ObjectType is one of the ObjectType* constants.
	ObjectType uint8

	object any // *Variable or *VariableList

	extensions map[uint8]*extension
}

// newEntry wraps object (a *Variable or *VariableList) into an addressable
// index entry.
func newEntry(index uint16, name string, objectType uint8, object any) *Entry {
	return &Entry{
		Index:      index,
		Name:       name,
		ObjectType: objectType,
		object:     object,
	}
}

// SubIndex returns the Variable at the given sub index. subIndex may be a
// uint8, int, or the sub-object's configured name.
func (entry *Entry) SubIndex(subIndex any) (*Variable, error) {
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	switch object := entry.object.(type) {
	case *Variable:
		switch sub := subIndex.(type) {
		case int:
			if sub != 0 {
				return nil, ErrSubNotExist
			}
		case uint8:
			if sub != 0 {
				return nil, ErrSubNotExist
			}
		case string:
			if sub != "" {
				return nil, ErrSubNotExist
			}
		}
		return object, nil
	case *VariableList:
		switch sub := subIndex.(type) {
		case string:
			variable, odr := object.GetSubObjectByName(sub)
			if odr != ErrNo {
				return nil, odr
			}
			return variable, nil
		case int:
			if sub < 0 || sub >= 256 {
				return nil, ErrDevIncompat
			}
			variable, odr := object.GetSubObject(uint8(sub))
			if odr != ErrNo {
				return nil, odr
			}
			return variable, nil
		case uint8:
			variable, odr := object.GetSubObject(sub)
			if odr != ErrNo {
				return nil, odr
			}
			return variable, nil
		default:
			return nil, ErrDevIncompat
		}
	default:
		return nil, ErrDevIncompat
	}
}

// AddExtension installs a custom reader/writer pair for a sub-object,
// overriding the default inline-buffer access. Used by the services that
// own an object's behaviour: the heartbeat producer time (0x1017), the PDO
// communication and mapping parameters, the 0x1010/0x1011 signature gates
// and the bootloader objects.
func (entry *Entry) AddExtension(subIndex uint8, object any, read StreamReader, write StreamWriter) {
	if entry.extensions == nil {
		entry.extensions = make(map[uint8]*extension)
	}
	ext := entry.extensions[subIndex]
	if ext == nil {
		ext = &extension{}
		entry.extensions[subIndex] = ext
	}
	ext.object = object
	ext.read = read
	ext.write = write
}

// SubscribeWrite registers a callback fired after a successful write to a
// sub-object, whether it went through the default path or a custom
// extension writer. Bypassing (origin) writes do not fire it. The PDO
// engine does not use it: TPDO change detection reads the per-variable
// dirty bits set by MarkDirty.
func (entry *Entry) SubscribeWrite(subIndex uint8, callback func()) {
	if entry.extensions == nil {
		entry.extensions = make(map[uint8]*extension)
	}
	ext := entry.extensions[subIndex]
	if ext == nil {
		ext = &extension{}
		entry.extensions[subIndex] = ext
	}
	ext.onWrite = append(ext.onWrite, callback)
}

func (entry *Entry) extensionFor(subIndex uint8) *extension {
	if entry.extensions == nil {
		return nil
	}
	return entry.extensions[subIndex]
}

// SubCount returns the number of sub-objects this entry exposes.
func (entry *Entry) SubCount() int {
	switch object := entry.object.(type) {
	case *Variable:
		return 1
	case *VariableList:
		return len(object.Variables)
	default:
		return 0
	}
}

// GetRawData returns the raw byte slice stored for a sub-object, bypassing
// any extension. If length is non-zero, the stored length must match.
func (entry *Entry) GetRawData(subIndex uint8, length uint16) ([]byte, error) {
	streamer, odr := newStreamer(entry, subIndex, true)
	if odr != ErrNo {
		return nil, odr
	}
	if length != 0 && uint16(streamer.DataLength) != length {
		return nil, ErrTypeMismatch
	}
	return streamer.Data, nil
}

// Uint8 reads a sub-object's value as an UNSIGNED8/INTEGER8.
func (entry *Entry) Uint8(subIndex uint8) (uint8, error) {
	b := make([]byte, 1)
	if err := entry.readSubExactly(subIndex, b, true); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a sub-object's value as an UNSIGNED16/INTEGER16.
func (entry *Entry) Uint16(subIndex uint8) (uint16, error) {
	b := make([]byte, 2)
	if err := entry.readSubExactly(subIndex, b, true); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a sub-object's value as an UNSIGNED32/INTEGER32.
func (entry *Entry) Uint32(subIndex uint8) (uint32, error) {
	b := make([]byte, 4)
	if err := entry.readSubExactly(subIndex, b, true); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a sub-object's value as an UNSIGNED64/INTEGER64.
func (entry *Entry) Uint64(subIndex uint8) (uint64, error) {
	b := make([]byte, 8)
	if err := entry.readSubExactly(subIndex, b, true); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PutUint8 writes an UNSIGNED8/INTEGER8 to a sub-object. origin bypasses
// any installed extension and write-notify callback, for internal runtime
// writes (the identity serial number set by the node, for instance) that
// must not re-trigger application hooks.
func (entry *Entry) PutUint8(subIndex uint8, value uint8, origin bool) error {
	return entry.writeSubExactly(subIndex, []byte{value}, origin)
}

// PutUint16 writes an UNSIGNED16/INTEGER16 to a sub-object.
func (entry *Entry) PutUint16(subIndex uint8, value uint16, origin bool) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, value)
	return entry.writeSubExactly(subIndex, b, origin)
}

// PutUint32 writes an UNSIGNED32/INTEGER32 to a sub-object.
func (entry *Entry) PutUint32(subIndex uint8, value uint32, origin bool) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, value)
	return entry.writeSubExactly(subIndex, b, origin)
}

// PutUint64 writes an UNSIGNED64/INTEGER64 to a sub-object.
func (entry *Entry) PutUint64(subIndex uint8, value uint64, origin bool) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, value)
	return entry.writeSubExactly(subIndex, b, origin)
}

// WriteSub writes a complete value to a sub-object, honoring the declared
// access mode and value-range limits for scalar types before the bytes
// reach the default or extension writer. A non-origin write to a read-only
// or const sub-object is rejected; const cells can still be updated by the
// application through the origin path (identity serial, bootloader
// status). This is the entry point used by the SDO server. The Put*
// helpers above use writeSubExactly instead, which skips the access check
// but applies the same range check when a limit is declared. RPDO
// consumption writes through each mapping slot's streamer directly, so it
// passes through none of these checks and does not mark the variable
// dirty.
func (entry *Entry) WriteSub(subIndex uint8, data []byte, origin bool) ODR {
	if variable, odr := entry.GetVariable(subIndex); odr == ErrNo {
		if !origin && (!variable.isWritable() || variable.isConst()) {
			return ErrReadonly
		}
		if sizeErr := CheckSize(len(data), variable.DataType); sizeErr != ErrNo {
			return sizeErr
		}
		if rangeErr := variable.checkRange(data); rangeErr != ErrNo {
			return rangeErr
		}
	}
	streamer, odr := newStreamer(entry, subIndex, origin)
	if odr != ErrNo {
		return odr
	}
	_, err := streamer.Write(data)
	if err != nil {
		if odr, ok := err.(ODR); ok {
			return odr
		}
		return ErrGeneral
	}
	if variable, odr := entry.GetVariable(subIndex); odr == ErrNo {
		variable.MarkDirty()
	}
	if !origin {
		if ext := entry.extensionFor(subIndex); ext != nil {
			for _, cb := range ext.onWrite {
				cb()
			}
		}
	}
	return ErrNo
}

// GetVariable returns the underlying Variable for a scalar VAR entry, or
// the sub-object at subIndex for an ARRAY/RECORD entry.
func (entry *Entry) GetVariable(subIndex uint8) (*Variable, ODR) {
	switch object := entry.object.(type) {
	case *Variable:
		if subIndex != 0 {
			return nil, ErrSubNotExist
		}
		return object, ErrNo
	case *VariableList:
		return object.GetSubObject(subIndex)
	default:
		return nil, ErrDevIncompat
	}
}

func (entry *Entry) readSubExactly(subIndex uint8, b []byte, origin bool) error {
	streamer, odr := newStreamer(entry, subIndex, origin)
	if odr != ErrNo {
		return odr
	}
	if int(streamer.DataLength) != len(b) {
		return ErrTypeMismatch
	}
	_, err := streamer.Read(b)
	return err
}

func (entry *Entry) writeSubExactly(subIndex uint8, b []byte, origin bool) error {
	streamer, odr := newStreamer(entry, subIndex, origin)
	if odr != ErrNo {
		return odr
	}
	if int(streamer.DataLength) != len(b) {
		return ErrTypeMismatch
	}
	if variable, odr := entry.GetVariable(subIndex); odr == ErrNo {
		if rangeErr := variable.checkRange(b); rangeErr != ErrNo {
			return rangeErr
		}
	}
	if _, err := streamer.Write(b); err != nil {
		return err
	}
	if variable, odr := entry.GetVariable(subIndex); odr == ErrNo {
		variable.MarkDirty()
	}
	if !origin {
		if ext := entry.extensionFor(subIndex); ext != nil {
			for _, cb := range ext.onWrite {
				cb()
			}
		}
	}
	return nil
}

func (entry *Entry) String() string {
	return fmt.Sprintf("0x%04X %s", entry.Index, entry.Name)
}
