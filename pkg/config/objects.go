package config

import (
	"fmt"

	"github.com/zencan/zencan/pkg/od"
)

func dataTypeFor(s string) (uint8, error) {
	switch s {
	case "bool", "boolean":
		return od.BOOLEAN, nil
	case "uint8":
		return od.UNSIGNED8, nil
	case "uint16":
		return od.UNSIGNED16, nil
	case "uint32":
		return od.UNSIGNED32, nil
	case "uint64":
		return od.UNSIGNED64, nil
	case "int8":
		return od.INTEGER8, nil
	case "int16":
		return od.INTEGER16, nil
	case "int32":
		return od.INTEGER32, nil
	case "int64":
		return od.INTEGER64, nil
	case "real32", "float32":
		return od.REAL32, nil
	case "real64", "float64":
		return od.REAL64, nil
	case "visible_string", "string":
		return od.VISIBLE_STRING, nil
	case "octet_string":
		return od.OCTET_STRING, nil
	case "domain":
		return od.DOMAIN, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDataType, s)
	}
}

func attributeFor(access, pdoMapping string) (uint8, error) {
	var a uint8
	switch access {
	case od.AccessRO, "":
		a = od.AttributeSdoR
	case od.AccessWO:
		a = od.AttributeSdoW
	case od.AccessRW:
		a = od.AttributeSdoRw
	case od.AccessConst:
		a = od.AttributeSdoR | od.AttributeConst
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAccessType, access)
	}
	switch pdoMapping {
	case "", "none":
	case "tpdo":
		a |= od.AttributeTpdo
	case "rpdo":
		a |= od.AttributeRpdo
	case "both":
		a |= od.AttributeTrpdo
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPdoMapping, pdoMapping)
	}
	return a, nil
}

func applyLimits(v *od.Variable, dataType uint8, low, high *string) error {
	if v == nil {
		return nil
	}
	var lowBytes, highBytes []byte
	if low != nil {
		b, err := od.EncodeFromString(*low, dataType, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadLimit, err)
		}
		lowBytes = b
	}
	if high != nil {
		b, err := od.EncodeFromString(*high, dataType, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadLimit, err)
		}
		highBytes = b
	}
	if lowBytes != nil || highBytes != nil {
		v.SetLimits(lowBytes, highBytes)
	}
	return nil
}

// addCustomObject adds one manufacturer/application object from the device
// config, dispatching on its declared object_type.
func addCustomObject(dict *od.ObjectDictionary, obj ObjectConfig) error {
	switch obj.ObjectType {
	case "var":
		return addVarObject(dict, obj)
	case "array":
		return addArrayObject(dict, obj)
	case "record":
		return addRecordObject(dict, obj)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownObjectType, obj.ObjectType)
	}
}

func addVarObject(dict *od.ObjectDictionary, obj ObjectConfig) error {
	dt, err := dataTypeFor(obj.DataType)
	if err != nil {
		return err
	}
	attr, err := attributeFor(obj.AccessType, obj.PdoMapping)
	if err != nil {
		return err
	}
	def, err := od.EncodeFromString(obj.DefaultValue, dt, 0)
	if err != nil {
		return fmt.Errorf("%w: object 0x%04X: %v", ErrBadDefault, obj.Index, err)
	}
	v := dict.AddVariable(obj.Index, obj.ParameterName, dt, attr, def)
	return applyLimits(v, dt, obj.LowLimit, obj.HighLimit)
}

func addArrayObject(dict *od.ObjectDictionary, obj ObjectConfig) error {
	if obj.ArraySize == 0 {
		return fmt.Errorf("%w: object 0x%04X", ErrEmptyArray, obj.Index)
	}
	// Sub 0 reports the element count and sub indices run 1..array_size,
	// so array_size+1 must fit the UNSIGNED8 addressing space.
	if !od.FitsType(obj.ArraySize+1, od.UNSIGNED8) {
		return fmt.Errorf("%w: object 0x%04X: array_size %d", ErrArrayTooBig, obj.Index, obj.ArraySize)
	}
	dt, err := dataTypeFor(obj.DataType)
	if err != nil {
		return err
	}
	attr, err := attributeFor(obj.AccessType, obj.PdoMapping)
	if err != nil {
		return err
	}
	def, err := od.EncodeFromString(obj.DefaultValue, dt, 0)
	if err != nil {
		return fmt.Errorf("%w: object 0x%04X: %v", ErrBadDefault, obj.Index, err)
	}

	dict.AddArray(obj.Index, obj.ParameterName, uint8(obj.ArraySize)+1)
	if _, odr := dict.AddSubObject(obj.Index, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{byte(obj.ArraySize)}); odr != od.ErrNo {
		return fmt.Errorf("array 0x%04X sub 0: %w", obj.Index, odr)
	}
	for i := uint16(1); i <= obj.ArraySize; i++ {
		name := fmt.Sprintf("%s%d", obj.ParameterName, i)
		v, odr := dict.AddSubObject(obj.Index, uint8(i), name, dt, attr, def)
		if odr != od.ErrNo {
			return fmt.Errorf("array 0x%04X sub %d: %w", obj.Index, i, odr)
		}
		if err := applyLimits(v, dt, obj.LowLimit, obj.HighLimit); err != nil {
			return err
		}
	}
	return nil
}

func addRecordObject(dict *od.ObjectDictionary, obj ObjectConfig) error {
	dict.AddRecord(obj.Index, obj.ParameterName)

	var highest uint8
	lastSub := -1
	for _, sub := range obj.Subs {
		if int(sub.SubIndex) <= lastSub {
			return fmt.Errorf("%w: object 0x%04X sub %d", ErrSubOutOfOrder, obj.Index, sub.SubIndex)
		}
		lastSub = int(sub.SubIndex)

		dt, err := dataTypeFor(sub.DataType)
		if err != nil {
			return err
		}
		attr, err := attributeFor(sub.AccessType, sub.PdoMapping)
		if err != nil {
			return err
		}
		def, err := od.EncodeFromString(sub.DefaultValue, dt, 0)
		if err != nil {
			return fmt.Errorf("%w: object 0x%04X sub %d: %v", ErrBadDefault, obj.Index, sub.SubIndex, err)
		}
		v, odr := dict.AddSubObject(obj.Index, sub.SubIndex, sub.ParameterName, dt, attr, def)
		if odr != od.ErrNo {
			return fmt.Errorf("record 0x%04X sub %d: %w", obj.Index, sub.SubIndex, odr)
		}
		if err := applyLimits(v, dt, sub.LowLimit, sub.HighLimit); err != nil {
			return err
		}
		if sub.SubIndex > highest {
			highest = sub.SubIndex
		}
	}

	if _, odr := dict.AddSubObject(obj.Index, 0, "highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, []byte{highest}); odr != od.ErrNo {
		return fmt.Errorf("record 0x%04X sub 0: %w", obj.Index, odr)
	}
	return nil
}
