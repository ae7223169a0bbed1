package node

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/od"
)

// bindLifecycleExtensions installs the magic-signature gates on
// 0x1010/0x1011 and the bootloader objects: a write is only accepted, and
// only then invokes the application's handler, when it carries the exact
// signature the sub-object requires. Anything else is rejected with the
// invalid-value abort rather than silently accepted and ignored.
func (n *Node) bindLifecycleExtensions(cfg *config.Compiled) {
	if storeEntry := n.dict.Index(od.IndexStoreParameters); storeEntry != nil {
		storeEntry.AddExtension(1, n, od.ReadEntryDefault, n.writeStoreSignature)
	}
	if restoreEntry := n.dict.Index(od.IndexRestoreParameters); restoreEntry != nil {
		restoreEntry.AddExtension(1, n, od.ReadEntryDefault, n.writeRestoreSignature)
	}
	if cfg.Bootloader == nil {
		return
	}
	if infoEntry := n.dict.Index(od.IndexBootloaderCommand); infoEntry != nil {
		infoEntry.AddExtension(3, n, nil, n.writeBootloaderReset)
	}
	for i := range cfg.Bootloader.Sections {
		entry := n.dict.Index(od.IndexBootloaderSection + uint16(i))
		if entry == nil {
			continue
		}
		section := uint8(i)
		entry.AddExtension(3, n, nil, n.writeSectionErase(section))
		entry.AddExtension(4, n, nil, n.writeSectionProgram(section))
	}
}

func (n *Node) writeStoreSignature(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if len(src) != 4 {
		return od.ErrTypeMismatch
	}
	if binary.LittleEndian.Uint32(src) != od.StoreParametersSignature {
		return od.ErrInvalidValue
	}
	odr := od.WriteEntryDefault(stream, src, countWritten)
	if odr == od.ErrNo && n.onStore != nil {
		if err := n.onStore(); err != nil {
			n.logger.WithError(err).Warn("store parameters handler failed")
		}
	}
	return odr
}

func (n *Node) writeRestoreSignature(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if len(src) != 4 {
		return od.ErrTypeMismatch
	}
	if binary.LittleEndian.Uint32(src) != od.RestoreParametersSignature {
		return od.ErrInvalidValue
	}
	odr := od.WriteEntryDefault(stream, src, countWritten)
	if odr == od.ErrNo && n.onRestore != nil {
		if err := n.onRestore(); err != nil {
			n.logger.WithError(err).Warn("restore parameters handler failed")
		}
	}
	return odr
}

// writeBootloaderReset gates 0x5500 sub 3: only the exact boot signature
// is accepted, and the handler's failure is reported to the writer as a
// general-error abort, since a node that failed to arrange its own reboot
// has nothing else useful to say over SDO.
func (n *Node) writeBootloaderReset(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
	if len(src) != 4 {
		return od.ErrTypeMismatch
	}
	if binary.LittleEndian.Uint32(src) != od.BootloaderBootSignature {
		return od.ErrInvalidValue
	}
	*countWritten = uint16(len(src))
	if n.onBootloaderReset != nil {
		if err := n.onBootloaderReset(); err != nil {
			n.logger.WithError(err).Warn("bootloader reset handler failed")
			return od.ErrGeneral
		}
	}
	return od.ErrNo
}

func (n *Node) writeSectionErase(section uint8) od.StreamWriter {
	return func(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
		if len(src) != 4 {
			return od.ErrTypeMismatch
		}
		if binary.LittleEndian.Uint32(src) != od.BootloaderEraseSignature {
			return od.ErrInvalidValue
		}
		*countWritten = uint16(len(src))
		if n.onBootloaderErase == nil {
			return od.ErrLocalControl
		}
		if err := n.onBootloaderErase(section); err != nil {
			n.logger.WithFields(logrus.Fields{"section": section, "error": err}).Warn("section erase failed")
			return od.ErrGeneral
		}
		return od.ErrNo
	}
}

func (n *Node) writeSectionProgram(section uint8) od.StreamWriter {
	return func(stream *od.Stream, src []byte, countWritten *uint16) od.ODR {
		if n.onBootloaderProgram == nil {
			return od.ErrLocalControl
		}
		offset := stream.DataOffset
		if err := n.onBootloaderProgram(section, offset, src); err != nil {
			n.logger.WithFields(logrus.Fields{"section": section, "offset": offset, "error": err}).Warn("section program failed")
			return od.ErrGeneral
		}
		stream.DataOffset += uint32(len(src))
		*countWritten = uint16(len(src))
		return od.ErrNo
	}
}
