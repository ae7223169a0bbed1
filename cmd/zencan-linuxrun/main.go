// Command zencan-linuxrun mounts a compiled device config onto a real
// SocketCAN interface and drives pkg/node.Node's process loop against it,
// a way to exercise the stack with real traffic on a development host,
// since the core itself never touches a bus directly.
package main

import (
	"flag"
	"time"

	"github.com/brutella/can"
	"github.com/sirupsen/logrus"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/frame"
	"github.com/zencan/zencan/pkg/lss"
	"github.com/zencan/zencan/pkg/node"
)

// SocketCAN raw identifier flag layout
// (CAN_EFF_FLAG/CAN_RTR_FLAG/CAN_SFF_MASK).
const (
	canEffFlag uint32 = 0x80000000
	canRtrFlag uint32 = 0x40000000
	canSffMask uint32 = 0x000007FF
	canEffMask uint32 = 0x1FFFFFFF
)

func toCanFrame(f frame.Frame) can.Frame {
	id := f.CobId
	if f.Extended {
		id = (id & canEffMask) | canEffFlag
	} else {
		id &= canSffMask
	}
	if f.RTR {
		id |= canRtrFlag
	}
	return can.Frame{ID: id, Length: f.DLC, Data: f.Data}
}

func fromCanFrame(cf can.Frame) frame.Frame {
	extended := cf.ID&canEffFlag != 0
	rtr := cf.ID&canRtrFlag != 0
	id := cf.ID & canSffMask
	if extended {
		id = cf.ID & canEffMask
	}
	return frame.Frame{CobId: id, Extended: extended, RTR: rtr, DLC: cf.Length, Data: cf.Data}
}

// rxHandler adapts brutella/can's Handle callback, invoked from its own
// read goroutine, into Node.StoreMessage -- the one call this core
// documents as safe from a context other than the process loop.
type rxHandler struct {
	n *node.Node
}

func (h *rxHandler) Handle(cf can.Frame) {
	h.n.StoreMessage(fromCanFrame(cf))
}

func main() {
	configPath := flag.String("config", "", "path to a device config TOML document")
	iface := flag.String("iface", "can0", "SocketCAN interface name")
	nodeId := flag.Uint("node-id", 1, "CiA 301 node id")
	vendorId := flag.Uint("vendor-id", 0, "LSS vendor id")
	productCode := flag.Uint("product-code", 0, "LSS product code")
	revision := flag.Uint("revision", 0, "LSS revision number")
	serial := flag.Uint("serial", 0, "LSS serial number")
	flag.Parse()

	log := logrus.New().WithField("cmd", "zencan-linuxrun")

	if *configPath == "" {
		log.Fatal("-config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading device config")
	}
	compiled, err := config.Build(cfg, uint8(*nodeId))
	if err != nil {
		log.WithError(err).Fatal("compiling object dictionary")
	}

	identity := lss.Identity{
		VendorId:       uint32(*vendorId),
		ProductCode:    uint32(*productCode),
		RevisionNumber: uint32(*revision),
		SerialNumber:   uint32(*serial),
	}

	n, err := node.New(compiled, uint8(*nodeId), identity, node.Options{Logger: log})
	if err != nil {
		log.WithError(err).Fatal("constructing node")
	}

	bus, err := can.NewBusForInterfaceWithName(*iface)
	if err != nil {
		log.WithError(err).WithField("iface", *iface).Fatal("opening socketcan interface")
	}
	bus.Subscribe(&rxHandler{n: n})
	go bus.ConnectAndPublish()
	defer bus.Disconnect()

	log.WithFields(logrus.Fields{"iface": *iface, "node-id": *nodeId}).Info("node running")

	start := time.Now()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		nowUs := uint64(time.Since(start).Microseconds())
		n.Process(nowUs, func(f frame.Frame) {
			if err := bus.Publish(toCanFrame(f)); err != nil {
				log.WithError(err).Warn("publishing frame")
			}
		})
	}
}
