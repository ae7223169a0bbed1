package od

import "sort"

// ObjectDictionary is the complete, statically constructed set of indices a
// node exposes. It is built once by the config compiler and never resized
// at runtime; entries are kept sorted by index so lookups are a binary
// search rather than a map probe, matching the no-allocation-after-boot
// constraint the rest of the core follows.
type ObjectDictionary struct {
	entries []*Entry
}

// NewObjectDictionary returns an empty dictionary ready for AddVariable /
// AddArray / AddRecord calls.
func NewObjectDictionary() *ObjectDictionary {
	return &ObjectDictionary{}
}

// Index returns the entry at idx, or nil if none is registered.
func (od *ObjectDictionary) Index(index uint16) *Entry {
	i := sort.Search(len(od.entries), func(i int) bool { return od.entries[i].Index >= index })
	if i < len(od.entries) && od.entries[i].Index == index {
		return od.entries[i]
	}
	return nil
}

// Entries returns the dictionary's entries in ascending index order.
func (od *ObjectDictionary) Entries() []*Entry {
	return od.entries
}

// insert keeps od.entries sorted; called only during construction, so a
// linear insert is acceptable (the dictionary is built once, at startup,
// from a bounded number of config entries).
func (od *ObjectDictionary) insert(entry *Entry) {
	i := sort.Search(len(od.entries), func(i int) bool { return od.entries[i].Index >= entry.Index })
	od.entries = append(od.entries, nil)
	copy(od.entries[i+1:], od.entries[i:])
	od.entries[i] = entry
}

// AddVariable registers a scalar VAR entry and returns it for further
// configuration (SetLimits, AddExtension, SubscribeWrite).
func (od *ObjectDictionary) AddVariable(index uint16, name string, dataType uint8, attribute uint8, defaultValue []byte) *Variable {
	variable := NewVariable(0, name, dataType, attribute, defaultValue)
	od.insert(newEntry(index, name, ObjectTypeVAR, variable))
	return variable
}

// AddArray registers a fixed-length ARRAY entry, pre-sized to length
// sub-objects, each to be filled in with AddSubObject.
func (od *ObjectDictionary) AddArray(index uint16, name string, length uint8) *Entry {
	entry := newEntry(index, name, ObjectTypeARRAY, NewArray(length))
	od.insert(entry)
	return entry
}

// AddRecord registers an initially-empty RECORD entry, grown with
// AddSubObject.
func (od *ObjectDictionary) AddRecord(index uint16, name string) *Entry {
	entry := newEntry(index, name, ObjectTypeRECORD, NewRecord())
	od.insert(entry)
	return entry
}

// AddSubObject inserts a sub-object into a previously registered
// ARRAY/RECORD entry.
func (od *ObjectDictionary) AddSubObject(index uint16, subIndex uint8, name string, dataType uint8, attribute uint8, defaultValue []byte) (*Variable, ODR) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	list, ok := entry.object.(*VariableList)
	if !ok {
		return nil, ErrDevIncompat
	}
	return list.AddSubObject(subIndex, name, dataType, attribute, defaultValue)
}

// Streamer returns a Streamer for (index, subIndex), for callers outside
// the package that need segmented, stateful access (the SDO server, PDO
// mapping resolution) rather than the whole-value Read/Write helpers.
func (od *ObjectDictionary) Streamer(index uint16, subIndex uint8, bypassExtension bool) (*Streamer, ODR) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	return newStreamer(entry, subIndex, bypassExtension)
}

// Read returns a copy of a sub-object's full current value, bypassing any
// installed extension; used for internal reads (PDO sampling, diagnostics)
// that must see raw storage regardless of SDO-facing hooks.
func (od *ObjectDictionary) Read(index uint16, subIndex uint8) ([]byte, ODR) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	streamer, odr := newStreamer(entry, subIndex, true)
	if odr != ErrNo {
		return nil, odr
	}
	out := make([]byte, streamer.DataLength)
	n, err := streamer.Read(out)
	if err != nil {
		if asOdr, ok := err.(ODR); ok && asOdr != ErrNo {
			return nil, asOdr
		}
	}
	return out[:n], ErrNo
}

// ReadSdo reads a sub-object's full current value through any installed
// extension, enforcing its declared access mode: a write-only sub-object
// is rejected here even though the raw storage behind it could be copied.
// This is the path the SDO server's upload uses; Read above is for
// internal consumers that must see raw storage.
func (od *ObjectDictionary) ReadSdo(index uint16, subIndex uint8) ([]byte, ODR) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	variable, odr := entry.GetVariable(subIndex)
	if odr != ErrNo {
		return nil, odr
	}
	if !variable.isReadable() {
		return nil, ErrWriteOnly
	}
	streamer, odr := newStreamer(entry, subIndex, false)
	if odr != ErrNo {
		return nil, odr
	}
	out := make([]byte, streamer.DataLength)
	n, err := streamer.Read(out)
	if err != nil {
		if asOdr, ok := err.(ODR); ok && asOdr != ErrNo {
			return nil, asOdr
		}
	}
	return out[:n], ErrNo
}

// Write stores a complete value into a sub-object, honoring its declared
// range limits and access mode, and firing any subscribed write-notify
// callback. This is the entry point the SDO server uses to mutate the
// dictionary; RPDO consumption writes through the mapped streamers instead.
func (od *ObjectDictionary) Write(index uint16, subIndex uint8, data []byte) ODR {
	entry := od.Index(index)
	if entry == nil {
		return ErrIdxNotExist
	}
	return entry.WriteSub(subIndex, data, false)
}

// Variable returns the underlying Variable backing (index, subIndex),
// for callers that need a stable pointer to it rather than a copy of its
// value; the PDO engine's dirty-flag change detection holds onto one of
// these per mapped slot.
func (od *ObjectDictionary) Variable(index uint16, subIndex uint8) (*Variable, ODR) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	return entry.GetVariable(subIndex)
}

// Size returns the current byte length of a sub-object's value.
func (od *ObjectDictionary) Size(index uint16, subIndex uint8) (uint32, ODR) {
	entry := od.Index(index)
	if entry == nil {
		return 0, ErrIdxNotExist
	}
	variable, odr := entry.GetVariable(subIndex)
	if odr != ErrNo {
		return 0, odr
	}
	return variable.DataLength(), ErrNo
}

// SubscribeWrite registers a callback fired after a successful write to
// (index, subIndex), implementing the subscribe_write hook (see
// Entry.SubscribeWrite).
func (od *ObjectDictionary) SubscribeWrite(index uint16, subIndex uint8, callback func()) ODR {
	entry := od.Index(index)
	if entry == nil {
		return ErrIdxNotExist
	}
	entry.SubscribeWrite(subIndex, callback)
	return ErrNo
}
