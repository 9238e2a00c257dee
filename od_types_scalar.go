package canopen

// scalarType implements ObjectType for the fixed-width integer objects of
// spec.md §3 (u8/u16/u32/u64/i8/i16/i32/i48/i64). Storage is always the
// entry's raw little-endian byte slice (Entry.data), so a single width-
// parameterized implementation covers every integer width without the
// teacher's per-width GetUint8/16/32/64 duplication (od_interface.go). It
// uses a width field rather than Go generics because every operation here
// is byte-slice arithmetic, which a type parameter would not simplify.
type scalarType struct {
	width uint8 // 1, 2, 4, 6 or 8
}

var (
	typeU8  = &scalarType{width: 1}
	typeU16 = &scalarType{width: 2}
	typeU32 = &scalarType{width: 4}
	typeU48 = &scalarType{width: 6}
	typeU64 = &scalarType{width: 8}
)

func (t *scalarType) Size(entry *Entry, node *Node, width uint16) uint32 {
	if entry.data == nil {
		return 0
	}
	return uint32(t.width)
}

func (t *scalarType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if entry.data == nil {
		return 0, ErrObjNotFound
	}
	if len(buf) < int(t.width) {
		return 0, ErrDataShort
	}
	n := copy(buf, entry.data[:t.width])
	if entry.Flags().has(FlagNodeIDRelative) && node != nil {
		t.put(buf, t.get(buf)+uint64(node.id))
	}
	return n, nil
}

func (t *scalarType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) < int(t.width) {
		return ErrDataShort
	}
	if len(buf) > int(t.width) {
		return ErrDataLong
	}
	stored := buf[:t.width]
	if entry.Flags().has(FlagNodeIDRelative) && node != nil {
		offset := make([]byte, t.width)
		copy(offset, stored)
		t.put(offset, t.get(offset)-uint64(node.id))
		stored = offset
	}
	changed := false
	for i := 0; i < int(t.width); i++ {
		if entry.data[i] != stored[i] {
			changed = true
		}
	}
	copy(entry.data[:t.width], stored)
	if changed && node != nil && entry.AsyncNotify() && entry.Mappable() {
		node.TriggerTPDOEntry(entry)
	}
	return nil
}

// get/put read and write this scalar's width out of a little-endian byte
// slice as a uint64, so the node-id offset above applies uniformly across
// every width instead of only the single-byte case.
func (t *scalarType) get(b []byte) uint64 {
	switch t.width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(getUint16(b))
	case 4:
		return uint64(getUint32(b))
	case 6:
		return get48(b)
	default:
		return getUint64(b)
	}
}

func (t *scalarType) put(b []byte, v uint64) {
	switch t.width {
	case 1:
		b[0] = byte(v)
	case 2:
		putUint16(b, uint16(v))
	case 4:
		putUint32(b, uint32(v))
	case 6:
		put48(b, v)
	default:
		putUint64(b, v)
	}
}

// ReadU8 is a convenience accessor used by NMT/SDO/PDO code that knows an
// entry is a scalar and wants its value without going through Read's
// byte-buffer interface, mirroring the teacher's GetUint8/16/32 helpers
// (od_interface.go).
func (e *Entry) ReadU8() uint8 {
	if len(e.data) < 1 {
		return 0
	}
	return e.data[0]
}

func (e *Entry) ReadU16() uint16 {
	if len(e.data) < 2 {
		return 0
	}
	return getUint16(e.data)
}

func (e *Entry) ReadU32() uint32 {
	if len(e.data) < 4 {
		return 0
	}
	return getUint32(e.data)
}

func (e *Entry) ReadU64() uint64 {
	if len(e.data) < 8 {
		return 0
	}
	return getUint64(e.data)
}

func (e *Entry) WriteU8(v uint8) {
	if len(e.data) >= 1 {
		e.data[0] = v
	}
}

func (e *Entry) WriteU16(v uint16) {
	if len(e.data) >= 2 {
		putUint16(e.data, v)
	}
}

func (e *Entry) WriteU32(v uint32) {
	if len(e.data) >= 4 {
		putUint32(e.data, v)
	}
}

func (e *Entry) WriteU64(v uint64) {
	if len(e.data) >= 8 {
		putUint64(e.data, v)
	}
}
