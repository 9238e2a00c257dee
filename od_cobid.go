package canopen

// cobIDType implements the COB-ID sub-index (sub 1) shared by SDO client/
// server parameter objects (0x1200-0x12FF) and PDO communication parameter
// objects (0x1400-0x15FF / 0x1800-0x19FF), CiA 301 §7.5.3 / §7.5.5. Bit 31
// is the valid/disable flag: while it is clear (the channel enabled) the
// 29 identifier bits may not change, only bit 31 itself may flip - the
// "may only be reconfigured while disabled" rule the teacher enforces
// ad-hoc inside sdo_server.go / pdo_common.go ConfigureMap, lifted here
// into the object type so every cob-id entry gets it uniformly.
type cobIDType struct{}

var typeCobID = &cobIDType{}

const cobIDValidBit uint32 = 0x80000000

func (t *cobIDType) Size(entry *Entry, node *Node, width uint16) uint32 { return 4 }

func (t *cobIDType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrDataShort
	}
	return copy(buf, entry.data[:4]), nil
}

func (t *cobIDType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) != 4 {
		if len(buf) < 4 {
			return ErrDataShort
		}
		return ErrDataLong
	}
	oldVal := entry.ReadU32()
	newVal := getUint32(buf)
	if oldVal&cobIDValidBit == 0 && newVal&^cobIDValidBit != oldVal&^cobIDValidBit {
		return ErrObjRange
	}
	if newVal&cobIDValidBit == 0 && isIDRestricted(uint16(newVal&0x7FF)) {
		return ErrObjRange
	}
	entry.WriteU32(newVal)
	if node != nil {
		node.resyncCobID(entry.Index())
	}
	return nil
}

// IsDisabled reports whether an entry holding a cob-id value has its
// valid/disable bit set.
func (e *Entry) IsDisabled() bool { return e.ReadU32()&cobIDValidBit != 0 }

// CobID extracts the 11-bit identifier from a cob-id entry's value.
func (e *Entry) CobID() uint32 { return e.ReadU32() & 0x7FF }

// transmissionTypeType implements PDO communication parameter sub-index 2
// (transmission type), CiA 301 §7.5.5. Valid values are 0 (acyclic/sync),
// 1-240 (synchronous, every Nth SYNC) and 254/255 (event-driven); values
// 241-253 are reserved and rejected.
type transmissionTypeType struct{}

var typeTransmissionType = &transmissionTypeType{}

func (t *transmissionTypeType) Size(entry *Entry, node *Node, width uint16) uint32 { return 1 }

func (t *transmissionTypeType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrDataShort
	}
	buf[0] = entry.ReadU8()
	return 1, nil
}

func (t *transmissionTypeType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) != 1 {
		return ErrDataLong
	}
	v := buf[0]
	if v > 240 && v < 254 {
		return ErrObjRange
	}
	if node != nil {
		cobEntry := node.OD().Find(entry.Index(), 1)
		if cobEntry != nil && !cobEntry.IsDisabled() {
			return ErrObjRange
		}
	}
	entry.WriteU8(v)
	return nil
}
