package canopen

import log "github.com/sirupsen/logrus"

// syncObj implements the SYNC producer/consumer, CiA 301 §7.5.4, rebuilt
// from the teacher's sync.go (which already modeled the counter-overflow
// and window-timeout logic closely enough to keep) against the new
// Frame/busManager/Entry types instead of brutella/can and the old
// Extension/Stream OD model.
type syncObj struct {
	node *Node

	cobID      uint32
	isProducer bool

	periodUs uint32
	windowUs uint32

	counterOverflow uint8
	counter         uint8

	elapsedUs    uint32
	outsideWindow bool
}

func newSync(n *Node) *syncObj {
	s := &syncObj{node: n}
	entry1005 := n.od.Find(0x1005, 0)
	if entry1005 == nil {
		return s
	}
	cobIDRaw := entry1005.ReadU32()
	s.isProducer = cobIDRaw&0x40000000 != 0
	s.cobID = cobIDRaw & 0x7FF

	if e := n.od.Find(0x1006, 0); e != nil {
		s.periodUs = e.ReadU32()
	}
	if e := n.od.Find(0x1007, 0); e != nil {
		s.windowUs = e.ReadU32()
	}
	if e := n.od.Find(0x1019, 0); e != nil {
		v := e.ReadU8()
		if v == 1 {
			v = 2
		} else if v > 240 {
			v = 240
		}
		s.counterOverflow = v
	}

	n.bus.Subscribe(s.cobID, s)
	return s
}

// Handle processes a received SYNC frame: DLC 0 for a plain SYNC, DLC 1
// when a counter is in use (CiA 301 §7.5.4.2).
func (s *syncObj) Handle(frame Frame) {
	if s.counterOverflow == 0 {
		if frame.DLC != 0 {
			log.Warnf("[SYNC] unexpected length %d for counter-less SYNC", frame.DLC)
			return
		}
	} else {
		if frame.DLC != 1 {
			log.Warnf("[SYNC] unexpected length %d for SYNC with counter", frame.DLC)
			return
		}
		s.counter = frame.Data[0]
	}
	s.elapsedUs = 0
	s.outsideWindow = false
	for _, r := range s.node.rpdos {
		r.onSync(s.counter)
	}
}

func (s *syncObj) sendSync() {
	s.counter++
	if s.counter > s.counterOverflow {
		s.counter = 1
	}
	s.elapsedUs = 0
	var frame Frame
	if s.counterOverflow != 0 {
		frame = Frame{ID: s.cobID, DLC: 1, Data: [8]byte{s.counter}}
	} else {
		frame = Frame{ID: s.cobID, DLC: 0}
	}
	s.node.send(frame)
	for _, t := range s.node.tpdos {
		t.onSync(s.counter)
	}
}

func (s *syncObj) process(elapsedUs uint32) {
	if s.periodUs == 0 {
		return
	}
	s.elapsedUs += elapsedUs
	if s.isProducer {
		if s.elapsedUs >= s.periodUs {
			s.sendSync()
		}
		return
	}
	if s.windowUs > 0 && s.elapsedUs > s.windowUs {
		s.outsideWindow = true
	}
}
