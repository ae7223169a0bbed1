// Package sdo implements a CANopen SDO server: expedited and segmented
// download/upload against an object dictionary, with no block transfer
// and no client side. The server is driven cooperatively by HandleFrame
// and Process, called from the node's single process loop; it holds no
// goroutines and takes no locks of its own.
package sdo

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

const (
	ClientBaseCobId = uint32(0x600)
	ServerBaseCobId = uint32(0x580)
)

// DefaultTimeoutUs is how long the server waits for the next segment of a
// multi-frame transfer before aborting it, per CiA 301's SDO timeout.
const DefaultTimeoutUs = 1_000_000

type state uint8

const (
	stateIdle state = iota
	stateDownloadSegment
	stateUploadSegment
)

const (
	ccsDownloadInitiate = 1 << 5
	ccsUploadInitiate   = 2 << 5
	ccsDownloadSegment  = 0 << 5
	ccsUploadSegment    = 3 << 5
	csAbort             = 0x80
)

func buildAbort(index uint16, subIndex uint8, code od.AbortCode) frame.Frame {
	var data [8]byte
	data[0] = csAbort
	binary.LittleEndian.PutUint16(data[1:3], index)
	data[3] = subIndex
	binary.LittleEndian.PutUint32(data[4:8], uint32(code))
	return frame.New(0, data[:])
}

func odrToAbort(odr od.ODR) od.AbortCode {
	code := odr.ToAbortCode()
	if code == 0 {
		return od.AbortGeneral
	}
	return code
}
