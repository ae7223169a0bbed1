package od

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestLookupIsIndexOrderIndependent(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2100, "c", UNSIGNED8, AttributeSdoRw, []byte{0})
	dict.AddVariable(0x1017, "a", UNSIGNED16, AttributeSdoRw, u16bytes(0))
	dict.AddVariable(0x2000, "b", UNSIGNED32, AttributeSdoRw, u32bytes(0))

	entries := dict.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint16(0x1017), entries[0].Index)
	assert.Equal(t, uint16(0x2000), entries[1].Index)
	assert.Equal(t, uint16(0x2100), entries[2].Index)

	assert.NotNil(t, dict.Index(0x2000))
	assert.Nil(t, dict.Index(0x1FFF))
}

func TestReadAfterWriteRoundTrip(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "u8", UNSIGNED8, AttributeSdoRw, []byte{0})
	dict.AddVariable(0x2001, "u16", UNSIGNED16, AttributeSdoRw, u16bytes(0))
	dict.AddVariable(0x2002, "u32", UNSIGNED32, AttributeSdoRw, u32bytes(0))
	dict.AddVariable(0x2003, "str", VISIBLE_STRING, AttributeSdoRw, []byte("abcdef"))

	tests := []struct {
		name  string
		index uint16
		value []byte
	}{
		{"u8", 0x2000, []byte{0x7B}},
		{"u16", 0x2001, u16bytes(0xBEEF)},
		{"u32", 0x2002, u32bytes(0xDEADBEEF)},
		{"str", 0x2003, []byte("fedcba")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, ErrNo, dict.Write(tt.index, 0, tt.value))
			raw, odr := dict.Read(tt.index, 0)
			require.Equal(t, ErrNo, odr)
			assert.Equal(t, tt.value, raw)
		})
	}
}

func TestWrongSizeWriteLeavesValueUnchanged(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "u32", UNSIGNED32, AttributeSdoRw, u32bytes(0x11223344))

	odr := dict.Write(0x2000, 0, []byte{1, 2})
	assert.Equal(t, ErrTypeMismatch, odr)
	assert.Equal(t, AbortTypeMismatch, odr.ToAbortCode())

	raw, _ := dict.Read(0x2000, 0)
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(raw))
}

func TestMissingObjectAndSub(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "u8", UNSIGNED8, AttributeSdoRw, []byte{0})

	_, odr := dict.Read(0x9999, 0)
	assert.Equal(t, ErrIdxNotExist, odr)
	assert.Equal(t, AbortNotExist, odr.ToAbortCode())

	_, odr = dict.Read(0x2000, 1)
	assert.Equal(t, ErrSubNotExist, odr)
	assert.Equal(t, AbortSubUnknown, odr.ToAbortCode())
}

func TestAccessModes(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "readonly", UNSIGNED8, AttributeSdoR, []byte{7})
	dict.AddVariable(0x2001, "writeonly", UNSIGNED8, AttributeSdoW, []byte{0})
	dict.AddVariable(0x2002, "const", UNSIGNED32, AttributeSdoR|AttributeConst, u32bytes(42))

	t.Run("write to read-only rejected", func(t *testing.T) {
		odr := dict.Write(0x2000, 0, []byte{1})
		assert.Equal(t, ErrReadonly, odr)
		raw, _ := dict.Read(0x2000, 0)
		assert.Equal(t, byte(7), raw[0])
	})

	t.Run("read from write-only rejected", func(t *testing.T) {
		_, odr := dict.ReadSdo(0x2001, 0)
		assert.Equal(t, ErrWriteOnly, odr)
	})

	t.Run("const rejects sdo write but not application write", func(t *testing.T) {
		assert.Equal(t, ErrReadonly, dict.Write(0x2002, 0, u32bytes(1)))

		entry := dict.Index(0x2002)
		require.NoError(t, entry.PutUint32(0, 0xCAFE, true))
		raw, _ := dict.Read(0x2002, 0)
		assert.Equal(t, uint32(0xCAFE), binary.LittleEndian.Uint32(raw))
	})
}

func TestRangeLimits(t *testing.T) {
	dict := NewObjectDictionary()
	v := dict.AddVariable(0x2000, "limited", UNSIGNED16, AttributeSdoRw, u16bytes(15))
	v.SetLimits(u16bytes(10), u16bytes(20))

	assert.Equal(t, ErrValueLow, dict.Write(0x2000, 0, u16bytes(9)))
	assert.Equal(t, ErrValueHigh, dict.Write(0x2000, 0, u16bytes(21)))
	assert.Equal(t, ErrNo, dict.Write(0x2000, 0, u16bytes(10)))
	assert.Equal(t, ErrNo, dict.Write(0x2000, 0, u16bytes(20)))

	raw, _ := dict.Read(0x2000, 0)
	assert.Equal(t, uint16(20), binary.LittleEndian.Uint16(raw))
}

func TestSignedRangeLimits(t *testing.T) {
	dict := NewObjectDictionary()
	v := dict.AddVariable(0x2000, "signed", INTEGER8, AttributeSdoRw, []byte{0})
	neg5, neg6 := int8(-5), int8(-6)
	v.SetLimits([]byte{byte(neg5)}, []byte{byte(int8(5))})

	assert.Equal(t, ErrValueLow, dict.Write(0x2000, 0, []byte{byte(neg6)}))
	assert.Equal(t, ErrNo, dict.Write(0x2000, 0, []byte{byte(neg5)}))
	assert.Equal(t, ErrValueHigh, dict.Write(0x2000, 0, []byte{6}))
}

func TestSubscribeWriteFiresOnlyAfterSuccessfulWrite(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "watched", UNSIGNED8, AttributeSdoRw, []byte{0})

	fired := 0
	require.Equal(t, ErrNo, dict.SubscribeWrite(0x2000, 0, func() { fired++ }))

	require.Equal(t, ErrNo, dict.Write(0x2000, 0, []byte{1}))
	assert.Equal(t, 1, fired)

	// A rejected write must not notify.
	assert.NotEqual(t, ErrNo, dict.Write(0x2000, 0, []byte{1, 2}))
	assert.Equal(t, 1, fired)

	// An origin (application) write skips the subscription.
	require.NoError(t, dict.Index(0x2000).PutUint8(0, 3, true))
	assert.Equal(t, 1, fired)
}

func TestArraySubZeroReportsLength(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddArray(0x2000, "values", 4)
	_, odr := dict.AddSubObject(0x2000, 0, "highest sub-index supported", UNSIGNED8, AttributeSdoR, []byte{3})
	require.Equal(t, ErrNo, odr)
	for i := uint8(1); i <= 3; i++ {
		_, odr = dict.AddSubObject(0x2000, i, "element", UNSIGNED16, AttributeSdoRw, u16bytes(0))
		require.Equal(t, ErrNo, odr)
	}

	entry := dict.Index(0x2000)
	count, err := entry.Uint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), count)
	assert.Equal(t, 4, entry.SubCount())

	_, odr = dict.Read(0x2000, 4)
	assert.Equal(t, ErrSubNotExist, odr)
}

func TestRecordSubsNeedNotBeContiguous(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddRecord(0x2000, "rec")
	dict.AddSubObject(0x2000, 0, "highest sub-index supported", UNSIGNED8, AttributeSdoR, []byte{5})
	dict.AddSubObject(0x2000, 1, "first", UNSIGNED8, AttributeSdoRw, []byte{1})
	dict.AddSubObject(0x2000, 5, "fifth", UNSIGNED32, AttributeSdoRw, u32bytes(5))

	raw, odr := dict.Read(0x2000, 5)
	require.Equal(t, ErrNo, odr)
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(raw))

	_, odr = dict.Read(0x2000, 3)
	assert.Equal(t, ErrSubNotExist, odr)
}

func TestExtensionOverridesDefaultStorage(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "computed", UNSIGNED8, AttributeSdoRw, []byte{0})

	entry := dict.Index(0x2000)
	entry.AddExtension(0, nil,
		func(stream *Stream, dst []byte, countRead *uint16) ODR {
			dst[0] = 0x55
			*countRead = 1
			return ErrNo
		},
		func(stream *Stream, src []byte, countWritten *uint16) ODR {
			return ErrLocalControl
		})

	raw, odr := dict.ReadSdo(0x2000, 0)
	require.Equal(t, ErrNo, odr)
	assert.Equal(t, byte(0x55), raw[0])

	assert.Equal(t, ErrLocalControl, dict.Write(0x2000, 0, []byte{1}))

	// The bypassing read still sees raw storage.
	raw, odr = dict.Read(0x2000, 0)
	require.Equal(t, ErrNo, odr)
	assert.Equal(t, byte(0), raw[0])
}

func TestDirtyFlagTracksWrites(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "mapped", UNSIGNED16, AttributeSdoRw|AttributeTpdo, u16bytes(0))

	v, odr := dict.Variable(0x2000, 0)
	require.Equal(t, ErrNo, odr)

	assert.False(t, v.TakeDirty(0))
	require.Equal(t, ErrNo, dict.Write(0x2000, 0, u16bytes(1)))
	assert.True(t, v.TakeDirty(0))
	assert.False(t, v.TakeDirty(0), "TakeDirty clears the consumer's bit")
	assert.True(t, v.TakeDirty(1), "another consumer's bit is untouched")
	assert.False(t, v.TakeDirty(1))
}

func TestSize(t *testing.T) {
	dict := NewObjectDictionary()
	dict.AddVariable(0x2000, "u32", UNSIGNED32, AttributeSdoRw, u32bytes(0))
	dict.AddVariable(0x2001, "str", VISIBLE_STRING, AttributeSdoRw, []byte("zencan"))

	n, odr := dict.Size(0x2000, 0)
	require.Equal(t, ErrNo, odr)
	assert.Equal(t, uint32(4), n)

	n, odr = dict.Size(0x2001, 0)
	require.Equal(t, ErrNo, odr)
	assert.Equal(t, uint32(6), n)

	_, odr = dict.Size(0x9999, 0)
	assert.Equal(t, ErrIdxNotExist, odr)
}
