package canopen

// hbConsumerType implements the sub-entries of the consumer heartbeat time
// object (0x1016), CiA 301 §7.5.2.4. Each sub-index packs a node id and a
// timeout: bits 16-23 the monitored node id, bits 0-15 the timeout in ms;
// 0 disables that slot. Writes are forwarded to the NMT state machine so
// its consumer timeout table (spec.md §12 supplement, grounded on the
// teacher's heartbeat_consumer.go) stays in sync with the Object
// Dictionary instead of drifting from it.
type hbConsumerType struct {
	slot int // index into NMT's consumer table, 0-based
}

func newHBConsumerType(slot int) *hbConsumerType {
	return &hbConsumerType{slot: slot}
}

func (t *hbConsumerType) Size(entry *Entry, node *Node, width uint16) uint32 { return 4 }

func (t *hbConsumerType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrDataShort
	}
	return copy(buf, entry.data[:4]), nil
}

func (t *hbConsumerType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) != 4 {
		return ErrObjRange
	}
	raw := getUint32(buf)
	nodeID := uint8(raw >> 16)
	timeoutMs := uint16(raw)
	if nodeID > 127 {
		return ErrObjRange
	}
	entry.WriteU32(raw)
	if node != nil {
		node.nmt.setHeartbeatConsumer(t.slot, nodeID, timeoutMs)
	}
	return nil
}

func (t *hbConsumerType) Init(entry *Entry, node *Node) error {
	raw := entry.ReadU32()
	if node != nil {
		node.nmt.setHeartbeatConsumer(t.slot, uint8(raw>>16), uint16(raw))
	}
	return nil
}
