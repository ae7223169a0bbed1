package od

import "sync"

// Stream is the low-level view into a sub-object's storage, passed to a
// [StreamReader]/[StreamWriter]. It carries enough state to support
// segmented SDO transfers that span several calls.
type Stream struct {
	mu *sync.RWMutex
	// Data is the actual byte slice backing this sub-object.
	Data []byte
	// DataOffset tracks how many bytes have been read/written so far,
	// across calls, for a segmented transfer.
	DataOffset uint32
	// DataLength is the total length of Data.
	DataLength uint32
	// Object is the extension-specific context passed to a custom
	// StreamReader/StreamWriter.
	Object any
	// Attribute is the sub-object's access/mappability byte.
	Attribute uint8
	// Subindex is the sub-object's position within its entry.
	Subindex uint8
}

// StreamReader reads from a Stream into the caller's buffer, reporting how
// many bytes it produced.
type StreamReader func(stream *Stream, dst []byte, countRead *uint16) ODR

// StreamWriter writes the caller's buffer into a Stream, reporting how many
// bytes it consumed.
type StreamWriter func(stream *Stream, src []byte, countWritten *uint16) ODR

// extension overrides the default read/write behaviour of a sub-object; a
// sub-object has at most one, attached for computed values, write-notify hooks,
// or domain objects whose storage lives outside the inline byte buffer.
type extension struct {
	object any
	read   StreamReader
	write  StreamWriter
	// onWrite holds every callback registered via SubscribeWrite, fired in
	// registration order synchronously after a successful default or
	// extension write completes, implementing the OD's subscribe_write
	// contract. Several PDOs may map the same sub-object, so this must
	// support more than one subscriber.
	onWrite []func()
}

// Streamer wraps a Stream with the reader/writer pair appropriate for the
// sub-object it was created for and implements io.Reader/io.Writer so SDO
// segmented transfers can treat OD access uniformly.
type Streamer struct {
	Stream
	reader StreamReader
	writer StreamWriter
	// MappedLength is the number of bytes a PDO mapping slot actually
	// transfers for this sub-object, which may be shorter than the
	// sub-object's own DataLength for a partial mapping. Unused outside
	// the PDO engine; left zero for ordinary SDO access.
	MappedLength uint32
}

func (s *Streamer) Read(b []byte) (int, error) {
	countRead := uint16(0)
	err := s.reader(&s.Stream, b, &countRead)
	if err == ErrNo || err == ErrPartial {
		return int(countRead), nil
	}
	return int(countRead), err
}

func (s *Streamer) Write(b []byte) (int, error) {
	countWritten := uint16(0)
	err := s.writer(&s.Stream, b, &countWritten)
	if err == ErrNo || err == ErrPartial {
		return int(countWritten), nil
	}
	return int(countWritten), err
}

func (s *Streamer) HasAttribute(attribute uint8) bool {
	return s.Attribute&attribute != 0
}

// Reader returns the installed StreamReader, so a PDO mapping slot can
// copy it into its own fixed-size streamer array.
func (s *Streamer) Reader() StreamReader { return s.reader }

// Writer returns the installed StreamWriter, mirroring Reader.
func (s *Streamer) Writer() StreamWriter { return s.writer }

// SetReader installs a StreamReader, used to wire a PDO mapping slot to
// the mapped sub-object's reader (or to a dummy-entry reader).
func (s *Streamer) SetReader(r StreamReader) { s.reader = r }

// SetWriter installs a StreamWriter, mirroring SetReader.
func (s *Streamer) SetWriter(w StreamWriter) { s.writer = w }

// SetStream copies another Streamer's Stream state (Data/length/attribute)
// into this one, used when a PDO mapping slot binds to a resolved OD
// sub-object.
func (s *Streamer) SetStream(stream Stream) { s.Stream = stream }

// ResetData clears a mapping slot back to an unbound, fixed-length dummy
// state; used both for true dummy entries and to neutralize a slot whose
// mapping failed validation.
func (s *Streamer) ResetData(dataLength, attribute uint32) {
	s.Data = nil
	s.DataLength = dataLength
	s.DataOffset = 0
	s.Attribute = uint8(attribute)
}

// newStreamer builds a Streamer for (entry, subIndex). When bypassExtension
// is true the default reader/writer is used even if an extension is
// installed; this is how the application writes identity.serial or other
// values that must skip SDO-facing hooks.
func newStreamer(entry *Entry, subIndex uint8, bypassExtension bool) (*Streamer, ODR) {
	if entry == nil || entry.object == nil {
		return nil, ErrIdxNotExist
	}
	streamer := &Streamer{}

	switch object := entry.object.(type) {
	case *Variable:
		if subIndex > 0 {
			return nil, ErrSubNotExist
		}
		streamer.Attribute = object.Attribute
		streamer.Data = object.value
		streamer.DataLength = object.DataLength()
		streamer.mu = &object.mu
	case *VariableList:
		variable, odr := object.GetSubObject(subIndex)
		if odr != ErrNo {
			return nil, odr
		}
		streamer.Attribute = variable.Attribute
		streamer.Data = variable.value
		streamer.DataLength = variable.DataLength()
		streamer.mu = &variable.mu
	default:
		return nil, ErrDevIncompat
	}

	ext := entry.extensionFor(subIndex)
	if ext == nil || bypassExtension {
		streamer.reader = readEntryDefault
		streamer.writer = writeEntryDefault
		streamer.Subindex = subIndex
		return streamer, ErrNo
	}
	// An extension that overrides only one direction disables the other;
	// a subscription-only extension (write-notify callbacks, no custom
	// accessors) leaves default storage access in place.
	switch {
	case ext.read != nil:
		streamer.reader = ext.read
	case ext.write != nil:
		streamer.reader = readEntryDisabled
	default:
		streamer.reader = readEntryDefault
	}
	switch {
	case ext.write != nil:
		streamer.writer = ext.write
	case ext.read != nil:
		streamer.writer = writeEntryDisabled
	default:
		streamer.writer = writeEntryDefault
	}
	streamer.Object = ext.object
	streamer.Subindex = subIndex
	return streamer, ErrNo
}

// readEntryDefault copies the requested slice of the backing buffer,
// starting at stream.DataOffset, signalling ErrPartial when more remains.
func readEntryDefault(stream *Stream, dst []byte, countRead *uint16) ODR {
	if stream.mu == nil || stream.Data == nil {
		return ErrDevIncompat
	}
	stream.mu.RLock()
	defer stream.mu.RUnlock()

	remaining := int(stream.DataLength) - int(stream.DataOffset)
	if remaining < 0 {
		return ErrDevIncompat
	}
	n := len(dst)
	partial := false
	if n > remaining {
		n = remaining
	} else if n < remaining {
		partial = true
	}
	copy(dst, stream.Data[stream.DataOffset:int(stream.DataOffset)+n])
	*countRead = uint16(n)
	if partial {
		stream.DataOffset += uint32(n)
		return ErrPartial
	}
	stream.DataOffset = 0
	return ErrNo
}

// writeEntryDefault writes into the backing buffer at stream.DataOffset.
// A write that would extend beyond the declared length is rejected; a
// scalar sub-object must be written in exactly one call sized to its type
// (enforced by the caller, entry.WriteSub).
func writeEntryDefault(stream *Stream, src []byte, countWritten *uint16) ODR {
	if stream.mu == nil || stream.Data == nil {
		return ErrDevIncompat
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.DataOffset+uint32(len(src)) > uint32(len(stream.Data)) {
		return ErrDataLong
	}
	copy(stream.Data[stream.DataOffset:stream.DataOffset+uint32(len(src))], src)
	*countWritten = uint16(len(src))
	stream.DataOffset += uint32(len(src))
	if stream.DataOffset >= stream.DataLength {
		stream.DataOffset = 0
		return ErrNo
	}
	return ErrPartial
}

// ReadEntryDefault is the exported form of the inline-buffer reader, for
// extensions in other packages that want to fall through to default
// behaviour after validating a value.
func ReadEntryDefault(stream *Stream, dst []byte, countRead *uint16) ODR {
	return readEntryDefault(stream, dst, countRead)
}

// WriteEntryDefault is the exported form of the inline-buffer writer, for
// extensions in other packages that want to fall through to default
// storage after validating a value.
func WriteEntryDefault(stream *Stream, src []byte, countWritten *uint16) ODR {
	return writeEntryDefault(stream, src, countWritten)
}

func readEntryDisabled(stream *Stream, dst []byte, countRead *uint16) ODR {
	return ErrWriteOnly
}

func writeEntryDisabled(stream *Stream, src []byte, countWritten *uint16) ODR {
	return ErrReadonly
}
