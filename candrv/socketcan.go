// Package candrv provides CANDriver implementations for running a node
// against a real CAN bus, starting with Linux SocketCAN via brutella/can -
// the same library the teacher's socketcan.go wrapped directly. Adapted
// here to the node core's CANDriver contract instead of the teacher's
// BufferTxFrame/FrameHandler pair.
package candrv

import (
	"fmt"
	"sync"

	"github.com/brutella/can"
	"github.com/coriolis-labs/conode"
)

// rxQueueSize bounds the buffered channel fed by brutella/can's receive
// goroutine. CANDriver.Read is polled from node.Process and must never
// block, so frames that arrive faster than the application drains them are
// dropped - the only place this package departs from the core's "no frame
// ever silently disappears" ideal, and the only place in this stack where
// a goroutine touches shared state, confined here at the HAL boundary
// (spec.md §4.7, §5).
const rxQueueSize = 256

// SocketCAN implements canopen.CANDriver over a Linux SocketCAN interface.
type SocketCAN struct {
	ifName string
	bus    *can.Bus

	mu  sync.Mutex
	rx  chan canopen.Frame
	err error
}

// NewSocketCAN builds a driver bound to the named interface (e.g. "can0").
// The interface's bitrate is set by the kernel/netlink (`ip link set can0
// up type can bitrate 500000`) before Init is called; Enable is a no-op on
// this driver for that reason.
func NewSocketCAN(ifName string) *SocketCAN {
	return &SocketCAN{ifName: ifName, rx: make(chan canopen.Frame, rxQueueSize)}
}

func (d *SocketCAN) Init() error {
	bus, err := can.NewBusForInterfaceWithName(d.ifName)
	if err != nil {
		return fmt.Errorf("candrv: open %s: %w", d.ifName, err)
	}
	d.bus = bus
	bus.SubscribeFunc(d.onFrame)
	go d.run()
	return nil
}

func (d *SocketCAN) run() {
	if err := d.bus.ConnectAndPublish(); err != nil {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
	}
}

func (d *SocketCAN) onFrame(f can.Frame) {
	frame := canopen.Frame{ID: f.ID, DLC: f.Length, Data: f.Data}
	select {
	case d.rx <- frame:
	default:
	}
}

func (d *SocketCAN) Enable(bitrateKbps uint32) error { return nil }

func (d *SocketCAN) Read() (canopen.Frame, bool, error) {
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return canopen.Frame{}, false, err
	}
	select {
	case f := <-d.rx:
		return f, true, nil
	default:
		return canopen.Frame{}, false, nil
	}
}

func (d *SocketCAN) Send(frame canopen.Frame) error {
	return d.bus.Publish(can.Frame{ID: frame.ID, Length: frame.DLC, Data: frame.Data})
}

func (d *SocketCAN) Reset() error {
	return nil
}

func (d *SocketCAN) Close() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Disconnect()
}
