// Package node assembles the object dictionary and protocol services
// (SDO, PDO, NMT, LSS) produced by pkg/config into the single cooperative
// process loop described by the core: one ISR-safe entry point to queue a
// received frame, and one process-context entry point to drain it, drive
// periodic work, and emit outbound frames through a caller-supplied
// callback.
package node

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/internal/mailbox"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/lss"
	"github.com/zencan/zencan/pkg/nmt"
	"github.com/zencan/zencan/pkg/od"
	"github.com/zencan/zencan/pkg/pdo"
	"github.com/zencan/zencan/pkg/sdo"
)

// SyncCobId is the predefined connection set identifier for the SYNC frame.
const SyncCobId uint32 = 0x080

// DefaultSdoBufCapacity bounds the largest domain object a segmented SDO
// transfer can move in or out when the caller doesn't specify one.
const DefaultSdoBufCapacity = 256

// DefaultMailboxCapacity is the mailbox depth used when the caller doesn't
// specify one; rounded up to a power of two by mailbox.New.
const DefaultMailboxCapacity = 16

// Options configures the handful of Build-time choices New needs beyond
// the compiled object dictionary itself.
type Options struct {
	// MailboxCapacity is the number of frames the mailbox can hold between
	// process calls. Zero selects DefaultMailboxCapacity.
	MailboxCapacity int
	// SdoBufCapacity bounds segmented SDO transfer size. Zero selects
	// DefaultSdoBufCapacity.
	SdoBufCapacity int
	Logger         *logrus.Entry
}

// Node wires a compiled object dictionary to the protocol services that
// mutate it, and is the single point through which a platform driver
// drives the whole stack.
type Node struct {
	logger *logrus.Entry

	dict   *od.ObjectDictionary
	nodeId uint8

	mbox      *mailbox.Mailbox
	sdoServer *sdo.Server
	nmt       *nmt.NMT
	lssSlave  *lss.Slave
	tpdos     []*pdo.TPDO
	rpdos     []*pdo.RPDO

	autoStart   bool
	autoStarted bool

	lastProcessUs uint64
	hasProcessed  bool

	onReset             func(nmt.ResetKind)
	onStore             func() error
	onRestore           func() error
	onBootloaderReset   func() error
	onBootloaderErase   func(section uint8) error
	onBootloaderProgram func(section uint8, offset uint32, data []byte) error
}

// New builds a Node from a compiled device configuration. identity carries
// the LSS vendor/product/revision/serial identity; serial is frequently not
// known until after Build ran (it lives in application storage, not the
// compile-time config), so it's supplied here rather than read back out of
// cfg.
func New(cfg *config.Compiled, nodeId uint8, identity lss.Identity, opts Options) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.MailboxCapacity <= 0 {
		opts.MailboxCapacity = DefaultMailboxCapacity
	}
	if opts.SdoBufCapacity <= 0 {
		opts.SdoBufCapacity = DefaultSdoBufCapacity
	}

	n := &Node{
		logger:    opts.Logger.WithField("service", "node"),
		dict:      cfg.OD,
		nodeId:    nodeId,
		mbox:      mailbox.New(opts.MailboxCapacity),
		autoStart: cfg.AutoStart,
	}

	entry1017 := n.dict.Index(od.IndexHeartbeatProducer)
	if entry1017 == nil {
		return nil, fmt.Errorf("node: compiled dictionary missing heartbeat producer object 0x%04X", od.IndexHeartbeatProducer)
	}
	nmtInst, err := nmt.New(nodeId, entry1017, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("node: nmt: %w", err)
	}
	n.nmt = nmtInst
	n.nmt.SetOnStateChange(n.handleNmtStateChange)

	n.sdoServer = sdo.NewServer(n.dict, nodeId, opts.SdoBufCapacity, opts.Logger)
	n.lssSlave = lss.NewSlave(identity, &n.nodeId, opts.Logger)

	for i := uint8(0); i < cfg.NumTpdos; i++ {
		commIdx := od.IndexTpdoCommunicationBase + uint16(i)
		mapIdx := od.IndexTpdoMappingBase + uint16(i)
		t, err := pdo.NewTPDO(n.dict, opts.Logger, nodeId, commIdx, mapIdx, predefinedTpdoId(nodeId, i))
		if err != nil {
			return nil, fmt.Errorf("node: tpdo %d: %w", i, err)
		}
		t.SetPreOperationalCheck(n.isPreOperational)
		n.tpdos = append(n.tpdos, t)
	}
	for i := uint8(0); i < cfg.NumRpdos; i++ {
		commIdx := od.IndexRpdoCommunicationBase + uint16(i)
		mapIdx := od.IndexRpdoMappingBase + uint16(i)
		r, err := pdo.NewRPDO(n.dict, opts.Logger, nodeId, commIdx, mapIdx, predefinedRpdoId(nodeId, i))
		if err != nil {
			return nil, fmt.Errorf("node: rpdo %d: %w", i, err)
		}
		r.SetPreOperationalCheck(n.isPreOperational)
		n.rpdos = append(n.rpdos, r)
	}

	n.bindLifecycleExtensions(cfg)

	return n, nil
}

// predefinedTpdoId/predefinedRpdoId return the bare CiA 301 predefined
// connection set identifier for slot n of nodeId (0 for slots beyond the
// predefined set of four, meaning "no shorthand, must be configured").
func predefinedTpdoId(nodeId, n uint8) uint16 {
	if n >= 4 {
		return 0
	}
	return uint16(0x180) + uint16(n)*0x100 + uint16(nodeId)
}

func predefinedRpdoId(nodeId, n uint8) uint16 {
	if n >= 4 {
		return 0
	}
	return uint16(0x200) + uint16(n)*0x100 + uint16(nodeId)
}

func (n *Node) isPreOperational() bool {
	return n.nmt.State() == nmt.StatePreOperational
}

func (n *Node) handleNmtStateChange(state uint8) {
	if n.autoStart && !n.autoStarted && state == nmt.StatePreOperational {
		n.autoStarted = true
		n.nmt.RequestCommand(nmt.CommandStart)
	}
}

// NodeId returns the node's current CiA 301 node id. LSS may have assigned
// a new one since New was called; SDO and PDO communication parameters
// were baked in against the id New was called with, so a changed id only
// takes effect once the application reconstructs the Node (typically in
// response to ResetCommunication via SetResetHandler).
func (n *Node) NodeId() uint8 { return n.nodeId }

// State returns the node's current NMT state.
func (n *Node) State() uint8 { return n.nmt.State() }

// Dictionary returns the node's object dictionary. Application code may
// read and update its own objects through it, but only from the same
// context that calls Process; writes from elsewhere race the process loop.
func (n *Node) Dictionary() *od.ObjectDictionary { return n.dict }

// SetResetHandler installs the callback invoked, synchronously from
// Process, when an NMT ResetNode or ResetCommunication command is
// accepted. The core itself performs no reset; the application is
// expected to rebuild and remount the Node (ResetCommunication) or
// restart entirely (ResetApplication), since neither is something this
// core can do to itself.
func (n *Node) SetResetHandler(cb func(nmt.ResetKind)) { n.onReset = cb }

// SetStoreHandler installs the callback invoked when 0x1010 sub 1 is
// written with the "save" signature. A nil or erroring handler still lets
// the write itself succeed; persistence failures are the application's to
// report through whatever channel it has (there is no abort code for "the
// flash write failed" in this core).
func (n *Node) SetStoreHandler(cb func() error) { n.onStore = cb }

// SetRestoreHandler installs the callback invoked when 0x1011 sub 1 is
// written with the "load" signature.
func (n *Node) SetRestoreHandler(cb func() error) { n.onRestore = cb }

// SetBootloaderResetHandler installs the callback invoked when the boot
// signature is written to the bootloader info object's reset sub (0x5500
// sub 3). The handler typically latches a flag the application checks to
// reboot into the bootloader; an error is reported to the writer as a
// general-error abort.
func (n *Node) SetBootloaderResetHandler(cb func() error) { n.onBootloaderReset = cb }

// SetBootloaderEraseHandler installs the callback invoked when the erase
// signature is written to a section object's erase sub (0x5510+n sub 3).
func (n *Node) SetBootloaderEraseHandler(cb func(section uint8) error) { n.onBootloaderErase = cb }

// SetBootloaderProgramHandler installs the callback invoked with each
// chunk written to a section object's program-data sub (0x5510+n sub 4).
// The node does not check that the section was erased first.
func (n *Node) SetBootloaderProgramHandler(cb func(section uint8, offset uint32, data []byte) error) {
	n.onBootloaderProgram = cb
}

// SetSerialNumber sets object 0x1018 sub 4 directly, bypassing the const
// attribute that blocks an SDO client from doing the same, and updates the
// identity LSS fastscan challenges against. Intended to be called once
// during boot, after the application has read its serial number out of
// whatever storage holds it.
func (n *Node) SetSerialNumber(serial uint32) error {
	entry := n.dict.Index(od.IndexIdentity)
	if entry == nil {
		return fmt.Errorf("node: compiled dictionary missing identity object 0x%04X", od.IndexIdentity)
	}
	if err := entry.PutUint32(4, serial, true); err != nil {
		return err
	}
	n.lssSlave.SetSerialNumber(serial)
	return nil
}

// SetProcessNotify registers a callback invoked once per frame queued by
// StoreMessage, in whatever context called StoreMessage (usually the
// receive interrupt), so the application can wake its process task
// instead of polling. The callback must not block.
func (n *Node) SetProcessNotify(cb func()) { n.mbox.SetProcessNotify(cb) }

// MailboxOverflowed reports whether a received frame has been dropped
// since the flag was last cleared.
func (n *Node) MailboxOverflowed() bool { return n.mbox.Overflowed() }

// ClearMailboxOverflow resets the sticky overflow flag once the process
// loop has accounted for the drop.
func (n *Node) ClearMailboxOverflow() { n.mbox.ClearOverflow() }

// StoreMessage queues a received frame for the next Process call. It is
// the only method safe to call from interrupt context: it touches only
// the mailbox's atomic counters, never allocates, and never blocks.
func (n *Node) StoreMessage(f frame.Frame) bool {
	return n.mbox.Store(f)
}

// Process drains queued frames, advances every protocol service by one
// tick, and emits outbound frames through send, in mailbox arrival order
// followed by PDO index order and the heartbeat/boot-up frame last. It is
// not safe to call concurrently with itself: exactly one context owns the
// process loop, matching the cooperative model the rest of this core
// assumes. StoreMessage may run alongside it from another context.
func (n *Node) Process(nowUs uint64, send func(frame.Frame)) bool {
	var timeDifferenceUs uint32
	if n.hasProcessed {
		timeDifferenceUs = uint32(nowUs - n.lastProcessUs)
	}
	n.lastProcessUs = nowUs
	n.hasProcessed = true

	sent := false
	syncSeen := false

	n.mbox.Drain(func(f frame.Frame) {
		switch {
		case f.CobId == nmt.ControlCobId:
			n.nmt.HandleFrame(f)
		case f.CobId == SyncCobId:
			syncSeen = true
		case f.CobId == lss.ReqCobId:
			if resp, ok := n.lssSlave.HandleFrame(f); ok {
				send(resp)
				sent = true
			}
		case f.CobId == n.sdoServer.RxCobId():
			if resp, ok := n.sdoServer.HandleFrame(f); ok {
				send(resp)
				sent = true
			}
		default:
			if n.nmt.State() != nmt.StateOperational {
				return
			}
			for _, r := range n.rpdos {
				if f.CobId == r.CobId() {
					r.HandleFrame(f)
					break
				}
			}
		}
	})

	for _, r := range n.rpdos {
		r.Process(syncSeen)
	}

	operational := n.nmt.State() == nmt.StateOperational
	for _, t := range n.tpdos {
		if frm, ok := t.Process(timeDifferenceUs, syncSeen, operational); ok {
			send(frm)
			sent = true
		}
	}

	if frm, ok := n.sdoServer.Process(timeDifferenceUs); ok {
		send(frm)
		sent = true
	}

	frm, ok, reset := n.nmt.Process(nowUs)
	if ok {
		send(frm)
		sent = true
	}
	if reset != nmt.ResetNone && n.onReset != nil {
		n.onReset(reset)
	}

	return sent
}
