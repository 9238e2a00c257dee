package canopen

// domainType implements the CANopen DOMAIN object (spec.md §3): an opaque,
// arbitrarily large byte block accessed only by streaming read/write, used
// by SDO segmented/block transfer for firmware blobs and the like. Unlike
// scalarType, size() reflects however much has actually been written so
// far rather than a fixed width, mirroring the teacher's handling of
// OCTET_STRING/DOMAIN entries in od_variable.go (CountRead/CountWritten).
type domainType struct {
	length int // bytes currently valid in entry.data, <= cap(entry.data)
}

func newDomainType(capacity int) *domainType {
	return &domainType{}
}

func (t *domainType) Size(entry *Entry, node *Node, width uint16) uint32 {
	return uint32(t.length)
}

func (t *domainType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if int(entry.offset) >= t.length {
		entry.offset = 0
		return 0, nil
	}
	n := copy(buf, entry.data[entry.offset:t.length])
	entry.offset += uint32(n)
	return n, nil
}

func (t *domainType) Write(entry *Entry, node *Node, buf []byte) error {
	start := int(entry.offset)
	if start+len(buf) > cap(entry.data) {
		return ErrDataLong
	}
	if start+len(buf) > len(entry.data) {
		entry.data = entry.data[:start+len(buf)]
	}
	copy(entry.data[start:start+len(buf)], buf)
	entry.offset += uint32(len(buf))
	if int(entry.offset) > t.length {
		t.length = int(entry.offset)
	}
	if node != nil && entry.AsyncNotify() && entry.Mappable() {
		node.TriggerTPDOEntry(entry)
	}
	return nil
}

func (t *domainType) Init(entry *Entry, node *Node) error {
	t.length = len(entry.data)
	return nil
}

func (t *domainType) Reset(entry *Entry, node *Node, param uint32) error {
	entry.data = entry.data[:0]
	entry.offset = 0
	t.length = 0
	return nil
}
