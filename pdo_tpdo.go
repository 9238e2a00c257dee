package canopen

import log "github.com/sirupsen/logrus"

// tpdo implements one Transmit PDO channel: communication parameters at
// commIndex (0x1800+n), mapping table at mapIndex (0x1A00+n), CiA 301
// §7.5.5. Rebuilt from the teacher's TPDO (pdo_tpdo.go) against Frame/
// busManager/timerWheel instead of brutella/can and CANModule tx buffers.
type tpdo struct {
	node *Node

	commIndex uint16
	mapIndex  uint16

	cobID     uint32
	valid     bool
	transType uint8

	inhibitUs uint32
	eventUs   uint32

	inhibitElapsed uint32
	eventElapsed   uint32
	pending        bool
	syncCount      uint8

	mapped []pdoMapEntry
}

func newTPDO(n *Node, i int) *tpdo {
	commIndex := uint16(0x1800 + i)
	mapIndex := uint16(0x1A00 + i)
	commEntry := n.od.Find(commIndex, 1)
	if commEntry == nil {
		return nil
	}
	t := &tpdo{node: n, commIndex: commIndex, mapIndex: mapIndex}
	t.loadCommParams()
	t.rebuildMap()
	return t
}

func (t *tpdo) loadCommParams() {
	od := t.node.od
	if e := od.Find(t.commIndex, 1); e != nil {
		t.valid = !e.IsDisabled()
		t.cobID = e.CobID()
	}
	if e := od.Find(t.commIndex, 2); e != nil {
		t.transType = e.ReadU8()
	}
	if e := od.Find(t.commIndex, 3); e != nil {
		t.inhibitUs = uint32(e.ReadU16()) * 100
	}
	if e := od.Find(t.commIndex, 5); e != nil {
		t.eventUs = uint32(e.ReadU16()) * 1000
	}
}

func (t *tpdo) rebuildMap() {
	t.mapped = resolvePDOMap(t.node.od, t.mapIndex)
}

func (t *tpdo) mapsEntry(entry *Entry) bool {
	for _, m := range t.mapped {
		if m.entry == entry {
			return true
		}
	}
	return false
}

// onEventTrigger arms a send on the next process() call that respects the
// inhibit timer, for event-driven (254/255) transmission types (spec.md
// §4.4 "data-change trigger").
func (t *tpdo) onEventTrigger() {
	if !t.valid || (t.transType != pdoTransmEventLow && t.transType != pdoTransmEventHi) {
		return
	}
	t.pending = true
}

// onSync fires a send for synchronous transmission types (1-240) every
// Nth SYNC, CiA 301 §7.5.5.
func (t *tpdo) onSync(counter uint8) {
	if !t.valid || t.transType == pdoTransmAcyclic || t.transType > pdoTransmSync240 {
		return
	}
	t.syncCount++
	if t.syncCount >= t.transType {
		t.syncCount = 0
		t.send()
	}
}

func (t *tpdo) process(elapsedUs uint32) {
	if !t.valid {
		return
	}
	if t.inhibitElapsed < t.inhibitUs {
		t.inhibitElapsed += elapsedUs
	}
	if t.eventUs > 0 {
		t.eventElapsed += elapsedUs
		if t.eventElapsed >= t.eventUs {
			t.pending = true
		}
	}
	if t.pending && (t.inhibitUs == 0 || t.inhibitElapsed >= t.inhibitUs) {
		t.send()
		t.pending = false
	}
}

func (t *tpdo) send() {
	var frame Frame
	frame.ID = t.cobID
	frame.DLC = uint8(mappedTotalBytes(t.mapped))
	n := gatherPDOMap(t.mapped, frame.Data[:])
	if n != int(frame.DLC) {
		log.Warnf("[TPDO][x%x] gather produced %d bytes, expected %d", t.cobID, n, frame.DLC)
	}
	t.node.send(frame)
	t.inhibitElapsed = 0
	t.eventElapsed = 0
}
