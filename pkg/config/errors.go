package config

import "errors"

// Validation errors the compiler reports with the offending index/field
// wrapped in via fmt.Errorf, so a caller can match on the sentinel while a
// human reads the wrapped detail.
var (
	ErrDuplicateIndex    = errors.New("duplicate object index")
	ErrReservedRange     = errors.New("index collides with a reserved communication profile range")
	ErrSubOutOfOrder     = errors.New("sub-index must increase monotonically within a record")
	ErrBadDefault        = errors.New("default value incompatible with declared data type")
	ErrBadLimit          = errors.New("limit value incompatible with declared data type")
	ErrUnknownDataType   = errors.New("unknown data type")
	ErrUnknownAccessType = errors.New("unknown access type")
	ErrUnknownObjectType = errors.New("unknown object type")
	ErrUnknownPdoMapping = errors.New("unknown pdo_mapping value")
	ErrEmptyArray        = errors.New("array object requires array_size > 0")
	ErrArrayTooBig       = errors.New("array_size exceeds what the UNSIGNED8 length byte can describe")
)
