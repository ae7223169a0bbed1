package od

// VariableList is the storage for an ARRAY or RECORD object: a fixed set of
// Variable sub-objects addressed by sub index.
type VariableList struct {
	Variables         []*Variable
	objectType        uint8 // ObjectTypeARRAY or ObjectTypeRECORD
	subEntriesNameMap map[string]uint8
}

// GetSubObject returns the Variable at subIndex. For an ARRAY, subIndex is
// a direct slice position; for a RECORD it is matched against each
// variable's own SubIndex field, since RECORD sub-objects need not be
// contiguous from zero.
func (rec *VariableList) GetSubObject(subIndex uint8) (*Variable, ODR) {
	if rec.objectType == ObjectTypeARRAY {
		if int(subIndex) >= len(rec.Variables) {
			return nil, ErrSubNotExist
		}
		return rec.Variables[subIndex], ErrNo
	}
	for _, variable := range rec.Variables {
		if variable.SubIndex == subIndex {
			return variable, ErrNo
		}
	}
	return nil, ErrSubNotExist
}

// GetSubObjectByName looks up a sub-object by its configured parameter
// name, used by Entry.SubIndex when the sub-object is given by name rather
// than by number.
func (rec *VariableList) GetSubObjectByName(name string) (*Variable, ODR) {
	sub, ok := rec.subEntriesNameMap[name]
	if !ok {
		return nil, ErrSubNotExist
	}
	return rec.GetSubObject(sub)
}

// AddSubObject inserts a Variable built from a pre-encoded default value.
// For an ARRAY, subIndex must already be within the array's fixed length;
// for a RECORD it grows the list.
func (rec *VariableList) AddSubObject(subIndex uint8, name string, dataType uint8, attribute uint8, defaultValue []byte) (*Variable, ODR) {
	variable := NewVariable(subIndex, name, dataType, attribute, defaultValue)
	if rec.objectType == ObjectTypeARRAY {
		if int(subIndex) >= len(rec.Variables) {
			return nil, ErrSubNotExist
		}
		rec.Variables[subIndex] = variable
	} else {
		rec.Variables = append(rec.Variables, variable)
	}
	if rec.subEntriesNameMap == nil {
		rec.subEntriesNameMap = make(map[string]uint8)
	}
	rec.subEntriesNameMap[name] = subIndex
	return variable, ErrNo
}

func newVariableList(length int, objectType uint8) *VariableList {
	return &VariableList{
		objectType:        objectType,
		Variables:         make([]*Variable, length),
		subEntriesNameMap: make(map[string]uint8),
	}
}

// NewRecord builds an empty RECORD, grown by successive AddSubObject calls.
func NewRecord() *VariableList {
	return newVariableList(0, ObjectTypeRECORD)
}

// NewArray builds an ARRAY with length pre-allocated, nil sub-object slots.
func NewArray(length uint8) *VariableList {
	return newVariableList(int(length), ObjectTypeARRAY)
}
