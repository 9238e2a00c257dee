package canopen

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

// ObjectDictionary is the key-addressable store of all protocol-visible
// variables, spec.md §4.1. Entries are held in a slice sorted ascending by
// (index, sub-index) and are looked up by binary search - the "sorted
// array of entries keyed by (index,sub-index)" of spec.md §2/§3. The OD is
// immutable in structure once built: NewObjectDictionary sorts once, and
// insert during construction keeps it sorted; there is no structural
// mutation afterwards, only entry value changes (spec.md §3 invariant).
type ObjectDictionary struct {
	entries []*Entry
}

// NewObjectDictionary builds an OD from entries, sorting them by identity.
// Duplicate (index, sub-index) pairs are a configuration error: the later
// one wins and a warning is logged, mirroring the teacher's
// "overwritting entry" warning in od_interface.go AddEntry.
func NewObjectDictionary(entries []*Entry) *ObjectDictionary {
	od := &ObjectDictionary{entries: make([]*Entry, 0, len(entries))}
	for _, e := range entries {
		od.insert(e)
	}
	return od
}

func (od *ObjectDictionary) insert(e *Entry) {
	i := sort.Search(len(od.entries), func(i int) bool {
		return od.entries[i].key.identity() >= e.key.identity()
	})
	if i < len(od.entries) && od.entries[i].key.identity() == e.key.identity() {
		log.Warnf("[OD] overwriting entry x%x:x%x", e.Index(), e.Sub())
		od.entries[i] = e
		return
	}
	od.entries = append(od.entries, nil)
	copy(od.entries[i+1:], od.entries[i:])
	od.entries[i] = e
}

// Find performs the O(log n) binary-search lookup of spec.md §4.1, by raw
// identity (index, sub-index).
func (od *ObjectDictionary) Find(index uint16, sub uint8) *Entry {
	target := uint32(index)<<8 | uint32(sub)
	i := sort.Search(len(od.entries), func(i int) bool {
		return od.entries[i].key.identity() >= target
	})
	if i < len(od.entries) && od.entries[i].key.identity() == target {
		return od.entries[i]
	}
	return nil
}

// All returns the entries in ascending order, for iteration by PDO mapping
// validation, EDS export, etc. Callers must not mutate the returned slice.
func (od *ObjectDictionary) All() []*Entry { return od.entries }

// ReadValue reads the full value of (index, sub) into buf, applying read
// permission checks and the node-id offset, spec.md §4.1.
func (od *ObjectDictionary) ReadValue(node *Node, index uint16, sub uint8, buf []byte) (int, error) {
	entry := od.Find(index, sub)
	if entry == nil {
		return 0, ErrObjNotFound
	}
	if !entry.Readable() {
		return 0, ErrObjRead
	}
	return entry.Type.Read(entry, node, buf)
}

// WriteValue writes buf into (index, sub), applying write permission
// checks and notifying the PDO engine when the entry is async+mappable and
// its value actually changed, spec.md §4.1.
func (od *ObjectDictionary) WriteValue(node *Node, index uint16, sub uint8, buf []byte) error {
	entry := od.Find(index, sub)
	if entry == nil {
		return ErrObjNotFound
	}
	if !entry.Writable() {
		return ErrObjWrite
	}
	return entry.Type.Write(entry, node, buf)
}

// ReadBuffer streams up to len(buf) bytes from a string/domain entry,
// advancing its internal offset. Successive calls concatenate to the
// underlying payload, spec.md §4.1 "read_buffer/write_buffer".
func (od *ObjectDictionary) ReadBuffer(node *Node, index uint16, sub uint8, buf []byte) (int, error) {
	return od.ReadValue(node, index, sub, buf)
}

// WriteBuffer streams up to len(buf) bytes into a string/domain entry,
// advancing its internal offset.
func (od *ObjectDictionary) WriteBuffer(node *Node, index uint16, sub uint8, buf []byte) error {
	return od.WriteValue(node, index, sub, buf)
}

// ResetOffset lets SDO back up or restart a streaming transfer for
// (index, sub), spec.md §4.1 "reset(offset)".
func (od *ObjectDictionary) ResetOffset(index uint16, sub uint8, offset uint32) error {
	entry := od.Find(index, sub)
	if entry == nil {
		return ErrObjNotFound
	}
	entry.resetOffset(offset)
	return nil
}

// Size reports the natural (width==0) or narrowed size of (index, sub).
func (od *ObjectDictionary) Size(node *Node, index uint16, sub uint8, width uint16) uint32 {
	entry := od.Find(index, sub)
	if entry == nil {
		return 0
	}
	return entry.Type.Size(entry, node, width)
}
