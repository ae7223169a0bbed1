package od

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/constraints"
)

// EncodeFromString parses a device-config default-value string into its
// wire-format byte representation for the given CiA 301 data type. Mirrors
// the $NODEID-substitution convention of EDS default values: callers strip
// "$NODEID" out of the string beforehand and pass the node id as offset.
func EncodeFromString(value string, dataType uint8, offset uint8) ([]byte, error) {
	if value == "" {
		value = "0"
	}
	switch dataType {
	case BOOLEAN, UNSIGNED8:
		parsed, err := strconv.ParseUint(value, 0, 8)
		return []byte{byte(uint8(parsed) + offset)}, err
	case INTEGER8:
		parsed, err := strconv.ParseInt(value, 0, 8)
		return []byte{byte(parsed + int64(offset))}, err
	case UNSIGNED16:
		parsed, err := strconv.ParseUint(value, 0, 16)
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(parsed)+uint16(offset))
		return b, err
	case INTEGER16:
		parsed, err := strconv.ParseInt(value, 0, 16)
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(parsed+int64(offset)))
		return b, err
	case UNSIGNED32:
		parsed, err := strconv.ParseUint(value, 0, 32)
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(parsed)+uint32(offset))
		return b, err
	case INTEGER32:
		parsed, err := strconv.ParseInt(value, 0, 32)
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(parsed+int64(offset)))
		return b, err
	case UNSIGNED64:
		parsed, err := strconv.ParseUint(value, 0, 64)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, parsed+uint64(offset))
		return b, err
	case INTEGER64:
		parsed, err := strconv.ParseInt(value, 0, 64)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(parsed+int64(offset)))
		return b, err
	case REAL32:
		parsed, err := strconv.ParseFloat(value, 32)
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(parsed)))
		return b, err
	case REAL64:
		parsed, err := strconv.ParseFloat(value, 64)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(parsed))
		return b, err
	case VISIBLE_STRING, OCTET_STRING:
		return []byte(value), nil
	case DOMAIN:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("unsupported data type 0x%x", dataType)
	}
}

// CheckSize validates that a byte slice has the exact length required by a
// fixed-size scalar data type. Variable-length types (strings, domain) are
// unchecked here.
func CheckSize(length int, dataType uint8) ODR {
	want, fixed := fixedSize(dataType)
	if !fixed {
		return ErrNo
	}
	if length != want {
		return ErrTypeMismatch
	}
	return ErrNo
}

func fixedSize(dataType uint8) (int, bool) {
	switch dataType {
	case BOOLEAN, UNSIGNED8, INTEGER8:
		return 1, true
	case UNSIGNED16, INTEGER16:
		return 2, true
	case UNSIGNED32, INTEGER32, REAL32:
		return 4, true
	case UNSIGNED64, INTEGER64, REAL64:
		return 8, true
	default:
		return 0, false
	}
}

// DecodeToType decodes a raw sub-object value into the nearest native Go
// representation for callers outside the runtime; the runtime itself stays
// on raw bytes end-to-end and does not call it.
func DecodeToType(data []byte, dataType uint8) (any, error) {
	if err := CheckSize(len(data), dataType); err != ErrNo {
		return nil, err
	}
	switch dataType {
	case BOOLEAN, UNSIGNED8:
		return uint64(data[0]), nil
	case INTEGER8:
		return int64(int8(data[0])), nil
	case UNSIGNED16:
		return uint64(binary.LittleEndian.Uint16(data)), nil
	case INTEGER16:
		return int64(int16(binary.LittleEndian.Uint16(data))), nil
	case UNSIGNED32:
		return uint64(binary.LittleEndian.Uint32(data)), nil
	case INTEGER32:
		return int64(int32(binary.LittleEndian.Uint32(data))), nil
	case UNSIGNED64:
		return binary.LittleEndian.Uint64(data), nil
	case INTEGER64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	case REAL32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	case REAL64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case VISIBLE_STRING, OCTET_STRING:
		return string(data), nil
	case DOMAIN:
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported data type 0x%x", dataType)
	}
}

// compareScalar compares two equal-length, equal-typed scalar encodings,
// returning -1/0/1 like bytes.Compare but respecting signedness.
func compareScalar(a, b []byte, dataType uint8) int {
	switch dataType {
	case INTEGER8:
		return cmpInt64(int64(int8(a[0])), int64(int8(b[0])))
	case INTEGER16:
		return cmpInt64(int64(int16(binary.LittleEndian.Uint16(a))), int64(int16(binary.LittleEndian.Uint16(b))))
	case INTEGER32:
		return cmpInt64(int64(int32(binary.LittleEndian.Uint32(a))), int64(int32(binary.LittleEndian.Uint32(b))))
	case INTEGER64:
		return cmpInt64(int64(binary.LittleEndian.Uint64(a)), int64(binary.LittleEndian.Uint64(b)))
	case REAL32:
		return cmpFloat64(float64(math.Float32frombits(binary.LittleEndian.Uint32(a))), float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case REAL64:
		return cmpFloat64(math.Float64frombits(binary.LittleEndian.Uint64(a)), math.Float64frombits(binary.LittleEndian.Uint64(b)))
	default:
		return cmpUint64(decodeUnsigned(a), decodeUnsigned(b))
	}
}

func decodeUnsigned(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FitsType reports whether an integer value fits within the range of a
// CiA 301 data type. The config compiler calls this generically over
// whatever integer width it decoded a document field into, before the
// value is narrowed to the type's wire representation (array lengths
// against the UNSIGNED8 sub-index space, for instance).
func FitsType[T constraints.Integer](v T, dataType uint8) bool {
	lo, hi, ok := typeRange(dataType)
	if !ok {
		return false
	}
	return int64(v) >= lo && int64(v) <= hi
}

func typeRange(dataType uint8) (lo, hi int64, ok bool) {
	switch dataType {
	case BOOLEAN, UNSIGNED8:
		return 0, math.MaxUint8, true
	case INTEGER8:
		return math.MinInt8, math.MaxInt8, true
	case UNSIGNED16:
		return 0, math.MaxUint16, true
	case INTEGER16:
		return math.MinInt16, math.MaxInt16, true
	case UNSIGNED32:
		return 0, math.MaxUint32, true
	case INTEGER32:
		return math.MinInt32, math.MaxInt32, true
	default:
		return 0, 0, false
	}
}
