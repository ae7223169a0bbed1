package sdo

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

// Server is a single SDO server instance, addressed at the node's
// predefined connection set COB-IDs (0x600+id for requests, 0x580+id for
// responses). The COB-IDs are fixed at construction; object 0x1200 is not
// consulted.
type Server struct {
	od     *od.ObjectDictionary
	nodeId uint8
	logger *logrus.Entry

	rxCobId uint32
	txCobId uint32

	state    state
	index    uint16
	subIndex uint8
	toggle   uint8

	buf       []byte
	bufLen    int
	totalSize uint32
	sized     bool

	elapsedUs uint32
}

// NewServer builds a server bound to dict, listening on the predefined
// connection set COB-IDs for nodeId. bufCapacity is the server's
// fixed-capacity scratch buffer for segmented transfers; its length bounds
// the largest domain object the server can move in or out, since there is
// no dynamic allocation after construction.
func NewServer(dict *od.ObjectDictionary, nodeId uint8, bufCapacity int, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		od:      dict,
		nodeId:  nodeId,
		logger:  logger.WithField("service", "sdo"),
		rxCobId: ClientBaseCobId + uint32(nodeId),
		txCobId: ServerBaseCobId + uint32(nodeId),
		buf:     make([]byte, bufCapacity),
	}
}

// RxCobId is the COB-ID the mailbox must route to this server's
// HandleFrame.
func (s *Server) RxCobId() uint32 { return s.rxCobId }

// TxCobId is the COB-ID HandleFrame/Process responses are sent under.
func (s *Server) TxCobId() uint32 { return s.txCobId }

// Process advances the segmented-transfer timeout. When a transfer has
// been idle longer than DefaultTimeoutUs, it is aborted and the abort
// frame is returned for transmission.
func (s *Server) Process(timeDifferenceUs uint32) (frame.Frame, bool) {
	if s.state == stateIdle {
		return frame.Frame{}, false
	}
	s.elapsedUs += timeDifferenceUs
	if s.elapsedUs < DefaultTimeoutUs {
		return frame.Frame{}, false
	}
	index, subIndex := s.index, s.subIndex
	s.reset()
	return s.withTxCobId(buildAbort(index, subIndex, od.AbortTimeout)), true
}

func (s *Server) reset() {
	s.state = stateIdle
	s.bufLen = 0
	s.totalSize = 0
	s.sized = false
	s.elapsedUs = 0
}

func (s *Server) withTxCobId(f frame.Frame) frame.Frame {
	f.CobId = s.txCobId
	return f
}

// HandleFrame processes one request frame addressed to this server and
// returns the response frame to transmit, if any.
func (s *Server) HandleFrame(req frame.Frame) (frame.Frame, bool) {
	s.elapsedUs = 0
	if req.DLC < 1 {
		return frame.Frame{}, false
	}
	cs := req.Data[0]

	if cs == csAbort {
		s.reset()
		return frame.Frame{}, false
	}

	var resp frame.Frame
	var ok bool
	switch {
	case cs&0xE0 == ccsDownloadInitiate:
		resp, ok = s.handleDownloadInitiate(req)
	case cs&0xE0 == ccsUploadInitiate:
		resp, ok = s.handleUploadInitiate(req)
	case cs&0xE0 == ccsDownloadSegment:
		resp, ok = s.handleDownloadSegment(req)
	case cs&0xE0 == ccsUploadSegment:
		resp, ok = s.handleUploadSegment(req)
	default:
		resp, ok = buildAbort(0, 0, od.AbortCmd), true
	}
	if ok {
		resp = s.withTxCobId(resp)
	}
	return resp, ok
}

func (s *Server) handleDownloadInitiate(req frame.Frame) (frame.Frame, bool) {
	s.reset()
	index := binary.LittleEndian.Uint16(req.Data[1:3])
	subIndex := req.Data[3]

	expedited := req.Data[0]&0x02 != 0
	sizeBit := req.Data[0]&0x01 != 0

	if expedited {
		n := 0
		if sizeBit {
			n = int((req.Data[0] >> 2) & 0x03)
		}
		length := 4 - n
		odr := s.od.Write(index, subIndex, req.Data[4:4+length])
		if odr != od.ErrNo {
			return buildAbort(index, subIndex, odrToAbort(odr)), true
		}
		return downloadInitiateResponse(index, subIndex), true
	}

	// Segmented: remember the declared size, if any, and switch into the
	// segment state machine. Nothing is written to the OD yet.
	s.state = stateDownloadSegment
	s.index = index
	s.subIndex = subIndex
	s.toggle = 0
	s.bufLen = 0
	if sizeBit {
		s.totalSize = binary.LittleEndian.Uint32(req.Data[4:8])
		s.sized = true
		if int(s.totalSize) > len(s.buf) {
			s.reset()
			return buildAbort(index, subIndex, od.AbortDataLong), true
		}
	}
	return downloadInitiateResponse(index, subIndex), true
}

func downloadInitiateResponse(index uint16, subIndex uint8) frame.Frame {
	var data [8]byte
	data[0] = 0x60
	binary.LittleEndian.PutUint16(data[1:3], index)
	data[3] = subIndex
	return frame.New(0, data[:])
}

func (s *Server) handleDownloadSegment(req frame.Frame) (frame.Frame, bool) {
	if s.state != stateDownloadSegment {
		return buildAbort(0, 0, od.AbortCmd), true
	}
	toggle := req.Data[0] & 0x10
	if toggle != s.toggle {
		index, subIndex := s.index, s.subIndex
		s.reset()
		return buildAbort(index, subIndex, od.AbortToggleBit), true
	}
	n := int((req.Data[0] >> 1) & 0x07)
	length := 7 - n
	last := req.Data[0]&0x01 != 0

	if s.bufLen+length > len(s.buf) {
		index, subIndex := s.index, s.subIndex
		s.reset()
		return buildAbort(index, subIndex, od.AbortDataLong), true
	}
	copy(s.buf[s.bufLen:s.bufLen+length], req.Data[1:1+length])
	s.bufLen += length
	s.toggle ^= 0x10

	if last {
		index, subIndex := s.index, s.subIndex
		data := s.buf[:s.bufLen]
		odr := s.od.Write(index, subIndex, data)
		s.reset()
		if odr != od.ErrNo {
			return buildAbort(index, subIndex, odrToAbort(odr)), true
		}
	}

	var resp [8]byte
	resp[0] = ccsDownloadSegment | 0x20 | toggle
	return frame.New(0, resp[:]), true
}

func (s *Server) handleUploadInitiate(req frame.Frame) (frame.Frame, bool) {
	s.reset()
	index := binary.LittleEndian.Uint16(req.Data[1:3])
	subIndex := req.Data[3]

	data, odr := s.od.ReadSdo(index, subIndex)
	if odr != od.ErrNo {
		return buildAbort(index, subIndex, odrToAbort(odr)), true
	}

	if len(data) <= 4 {
		var resp [8]byte
		n := 4 - len(data)
		resp[0] = ccsUploadInitiate | 0x02 | 0x01 | byte(n<<2)
		binary.LittleEndian.PutUint16(resp[1:3], index)
		resp[3] = subIndex
		copy(resp[4:4+len(data)], data)
		return frame.New(0, resp[:]), true
	}

	if len(data) > len(s.buf) {
		return buildAbort(index, subIndex, od.AbortDataLong), true
	}

	s.state = stateUploadSegment
	s.index = index
	s.subIndex = subIndex
	s.toggle = 0
	s.bufLen = copy(s.buf, data)

	var resp [8]byte
	resp[0] = ccsUploadInitiate | 0x01
	binary.LittleEndian.PutUint16(resp[1:3], index)
	resp[3] = subIndex
	binary.LittleEndian.PutUint32(resp[4:8], uint32(len(data)))
	return frame.New(0, resp[:]), true
}

func (s *Server) handleUploadSegment(req frame.Frame) (frame.Frame, bool) {
	if s.state != stateUploadSegment {
		return buildAbort(0, 0, od.AbortCmd), true
	}
	toggle := req.Data[0] & 0x10
	if toggle != s.toggle {
		index, subIndex := s.index, s.subIndex
		s.reset()
		return buildAbort(index, subIndex, od.AbortToggleBit), true
	}

	remaining := s.bufLen
	length := remaining
	if length > 7 {
		length = 7
	}
	last := length == remaining

	var resp [8]byte
	n := 7 - length
	resp[0] = toggle | byte(n<<1)
	if last {
		resp[0] |= 0x01
	}
	copy(resp[1:1+length], s.buf[:length])

	if last {
		s.reset()
	} else {
		copy(s.buf, s.buf[length:s.bufLen])
		s.bufLen -= length
		s.toggle ^= 0x10
	}
	return frame.New(0, resp[:]), true
}
