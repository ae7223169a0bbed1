package sdo

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

func newTestServer(t *testing.T) (*Server, *od.ObjectDictionary) {
	dict := od.NewObjectDictionary()
	dict.AddVariable(0x2001, "counter", od.UNSIGNED32, od.AttributeSdoRw, []byte{0, 0, 0, 0})
	dict.AddVariable(0x2002, "greeting", od.DOMAIN, od.AttributeSdoRw, []byte("hello, canopen"))
	limited := dict.AddVariable(0x2003, "limited", od.UNSIGNED8, od.AttributeSdoRw, []byte{0})
	limited.SetLimits([]byte{10}, []byte{20})
	return NewServer(dict, 0x10, 64, nil), dict
}

func TestExpeditedDownloadUpload(t *testing.T) {
	server, dict := newTestServer(t)

	req := frame.New(0, []byte{0x23, 0x01, 0x20, 0x00, 0x2A, 0x00, 0x00, 0x00})
	resp, ok := server.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, byte(0x60), resp.Data[0])
	assert.Equal(t, ServerBaseCobId+0x10, resp.CobId)

	raw, odr := dict.Read(0x2001, 0)
	assert.Equal(t, od.ErrNo, odr)
	assert.Equal(t, uint32(0x2A), binary.LittleEndian.Uint32(raw))

	req = frame.New(0, []byte{0x40, 0x01, 0x20, 0x00, 0, 0, 0, 0})
	resp, ok = server.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x2A), binary.LittleEndian.Uint32(resp.Data[4:8]))
}

func TestSegmentedUpload(t *testing.T) {
	server, _ := newTestServer(t)

	req := frame.New(0, []byte{0x40, 0x02, 0x20, 0x00, 0, 0, 0, 0})
	resp, ok := server.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, byte(0x41), resp.Data[0])
	assert.Equal(t, uint32(len("hello, canopen")), binary.LittleEndian.Uint32(resp.Data[4:8]))

	var collected []byte
	toggle := byte(0)
	for {
		req = frame.New(0, []byte{0x60 | toggle, 0, 0, 0, 0, 0, 0, 0})
		resp, ok = server.HandleFrame(req)
		assert.True(t, ok)
		n := 7 - int((resp.Data[0]>>1)&0x07)
		collected = append(collected, resp.Data[1:1+n]...)
		last := resp.Data[0]&0x01 != 0
		toggle ^= 0x10
		if last {
			break
		}
	}
	assert.Equal(t, "hello, canopen", string(collected))
}

func TestSegmentedDownloadToggleError(t *testing.T) {
	server, _ := newTestServer(t)

	req := frame.New(0, []byte{0x21, 0x02, 0x20, 0x00, 14, 0, 0, 0})
	_, ok := server.HandleFrame(req)
	assert.True(t, ok)

	// wrong toggle bit on first segment
	req = frame.New(0, []byte{0x10 | 0x01, 'h', 'i', 0, 0, 0, 0, 0})
	resp, ok := server.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, byte(0x80), resp.Data[0])
	assert.EqualValues(t, od.AbortToggleBit, binary.LittleEndian.Uint32(resp.Data[4:8]))
}

func TestWriteOutOfRangeAborts(t *testing.T) {
	server, _ := newTestServer(t)

	req := frame.New(0, []byte{0x2F, 0x03, 0x20, 0x00, 5, 0, 0, 0})
	resp, ok := server.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, byte(0x80), resp.Data[0])
	assert.EqualValues(t, od.AbortValueLow, binary.LittleEndian.Uint32(resp.Data[4:8]))
}

func TestReadUnknownIndexAborts(t *testing.T) {
	server, _ := newTestServer(t)

	req := frame.New(0, []byte{0x40, 0x99, 0x20, 0x00, 0, 0, 0, 0})
	resp, ok := server.HandleFrame(req)
	assert.True(t, ok)
	assert.Equal(t, byte(0x80), resp.Data[0])
	assert.EqualValues(t, od.AbortNotExist, binary.LittleEndian.Uint32(resp.Data[4:8]))
}
