// Package nmt implements the CANopen NMT slave state machine and heartbeat
// producer. Like sdo and pdo, it holds no goroutine: HandleFrame and
// Process are both called synchronously from the node's single process
// loop.
package nmt

import (
	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/od"
)

// CiA 301 NMT states, encoded exactly as they appear on the wire in a
// heartbeat or boot-up frame.
const (
	StateInitialising   uint8 = 0x00
	StateStopped        uint8 = 0x04
	StateOperational    uint8 = 0x05
	StatePreOperational uint8 = 0x7F
)

var stateNames = map[uint8]string{
	StateInitialising:   "INITIALISING",
	StateStopped:        "STOPPED",
	StateOperational:    "OPERATIONAL",
	StatePreOperational: "PRE-OPERATIONAL",
}

// ControlCobId is the predefined connection set identifier every NMT master
// command is broadcast on.
const ControlCobId = 0x000

// Command is one of the five NMT commands a master broadcasts on
// ControlCobId, byte 0 of the request; byte 1 is the target node id, 0 for
// all nodes.
type Command uint8

const (
	CommandStart               Command = 0x01
	CommandStop                Command = 0x02
	CommandEnterPreOperational Command = 0x80
	CommandResetNode           Command = 0x81
	CommandResetCommunication  Command = 0x82
)

// ResetKind reports which, if any, reset a processed NMT command requested,
// so the node runtime can re-run the appropriate boot sequence.
type ResetKind uint8

const (
	ResetNone ResetKind = iota
	ResetApplication
	ResetCommunication
)

// NMT is the per-node NMT state machine: command dispatch, the boot
// sequence, and heartbeat production, driven from object 0x1017's
// configured period.
type NMT struct {
	logger *logrus.Entry
	nodeId uint8

	state     uint8
	statePrev uint8

	pendingCommand Command
	hasPending     bool

	heartbeatPeriodUs uint32
	// nextHeartbeatUs is an absolute deadline on the node's monotonic clock,
	// recomputed as nowUs + period each time a frame is sent rather than
	// counted down. Each period is measured from the tick that sent the
	// previous frame, so a tick's lateness carries into the next period.
	nextHeartbeatUs uint64

	txCobId uint32

	onStateChange func(state uint8)
}

// New builds an NMT state machine for nodeId, reading its initial
// heartbeat period from entry1017 (sub 0, UNSIGNED16 milliseconds) and
// installing a write extension so a later write to it takes effect on the
// next heartbeat cycle.
func New(nodeId uint8, entry1017 *od.Entry, logger *logrus.Entry) (*NMT, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	n := &NMT{
		logger:  logger.WithField("service", "nmt"),
		nodeId:  nodeId,
		state:   StateInitialising,
		txCobId: 0x700 + uint32(nodeId),
	}
	n.statePrev = n.state

	periodMs, err := entry1017.Uint16(0)
	if err != nil {
		return nil, err
	}
	n.heartbeatPeriodUs = uint32(periodMs) * 1000
	entry1017.AddExtension(0, n, od.ReadEntryDefault, n.writeProducerTime)
	return n, nil
}

// State returns the node's current NMT state.
func (n *NMT) State() uint8 { return n.state }

// SetOnStateChange installs a callback fired whenever the NMT state
// transitions, including the initial Initialising -> PreOperational move.
func (n *NMT) SetOnStateChange(cb func(state uint8)) { n.onStateChange = cb }

// RequestCommand injects cmd as if it had just arrived over ControlCobId,
// for local callers (auto-start out of the boot sequence, a bootloader
// handing control back) that have no frame to build.
func (n *NMT) RequestCommand(cmd Command) {
	n.pendingCommand = cmd
	n.hasPending = true
}

// HandleFrame processes one NMT control frame. A DLC other than 2, or a
// target node id that is neither 0 (broadcast) nor this node, is ignored.
func (n *NMT) HandleFrame(f frame.Frame) {
	if f.CobId != ControlCobId || f.DLC != 2 {
		return
	}
	target := f.Data[1]
	if target != 0 && target != n.nodeId {
		return
	}
	n.pendingCommand = Command(f.Data[0])
	n.hasPending = true
}

// Process advances the state machine and heartbeat producer by one tick.
// nowUs is the node's monotonic microsecond clock. It returns the
// heartbeat/boot-up frame to transmit, if one is due this tick, and any
// reset the just-processed command requested.
func (n *NMT) Process(nowUs uint64) (frame.Frame, bool, ResetKind) {
	reset := ResetNone
	bootingUp := n.state == StateInitialising

	if !bootingUp && n.hasPending {
		cmd := n.pendingCommand
		n.hasPending = false
		switch cmd {
		case CommandStart:
			n.state = StateOperational
		case CommandStop:
			n.state = StateStopped
		case CommandEnterPreOperational:
			n.state = StatePreOperational
		case CommandResetNode:
			reset = ResetApplication
		case CommandResetCommunication:
			reset = ResetCommunication
		}
	}

	changed := n.state != n.statePrev
	due := n.heartbeatPeriodUs != 0 && nowUs >= n.nextHeartbeatUs

	if !bootingUp && !changed && !due {
		return frame.Frame{}, false, reset
	}

	payload := n.state
	if bootingUp {
		payload = StateInitialising
	}

	if n.heartbeatPeriodUs != 0 {
		n.nextHeartbeatUs = nowUs + uint64(n.heartbeatPeriodUs)
	}

	if bootingUp {
		n.state = StatePreOperational
	}

	if changed || bootingUp {
		n.logger.WithFields(logrus.Fields{
			"from": stateNames[n.statePrev],
			"to":   stateNames[n.state],
		}).Debug("nmt state change")
		if n.onStateChange != nil {
			n.onStateChange(n.state)
		}
	}
	n.statePrev = n.state

	return frame.New(n.txCobId, []byte{payload}), true, reset
}
