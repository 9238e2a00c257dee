package canopen

// ObjectType is the polymorphic behavior record attached to an Entry,
// spec.md §3 "Object Type": "a record of up to five behaviors". The
// design notes (spec.md §9) call out two equivalent re-architectures for
// the source's function-pointer vtable - a tagged variant with central
// dispatch, or a trait/interface with one implementation per behavior -
// and recommend the interface form for languages with first-class
// interfaces. Size/Read/Write are mandatory; Init/Reset are optional and
// are picked up via the Initializer/Resetter interfaces below instead of
// being nil-checked function pointers, which is the idiomatic Go
// equivalent of "present or absent".
type ObjectType interface {
	// Size reports the entry's natural size in bytes. width == 0 means
	// "caller wants the natural size"; a positive width narrows a
	// string/domain result (spec.md §4.1). The scalar types return 0 if
	// the entry's data slot is the null sentinel.
	Size(entry *Entry, node *Node, width uint16) uint32

	// Read copies the entry's value into buf, returning the number of
	// bytes written. Streaming types (string, domain) advance the
	// entry's internal offset and may be called repeatedly.
	Read(entry *Entry, node *Node, buf []byte) (int, error)

	// Write validates and stores buf into the entry. Streaming types
	// advance the entry's internal offset. A type implementation that
	// changes the stored value on an async+PDO-mappable entry must call
	// node.TriggerTPDOEntry(entry) itself (spec.md §4.1 "write_value").
	Write(entry *Entry, node *Node, buf []byte) error
}

// Initializer is implemented by object types that need one-time setup when
// an entry is bound into an Object Dictionary (e.g. zeroing a streaming
// offset). Absent in the teacher's code, this is the Go form of spec.md
// §3's optional init(entry,node) behavior.
type Initializer interface {
	Init(entry *Entry, node *Node) error
}

// Resetter is implemented by object types that support the NMT "restore
// default parameters" command (spec.md §4.2 "Parameter group") or any
// other entry-specific reset-to(param) behavior.
type Resetter interface {
	Reset(entry *Entry, node *Node, param uint32) error
}

func initEntry(e *Entry, n *Node) error {
	if init, ok := e.Type.(Initializer); ok {
		return init.Init(e, n)
	}
	return nil
}

func resetEntry(e *Entry, n *Node, param uint32) error {
	r, ok := e.Type.(Resetter)
	if !ok {
		return ErrObjType
	}
	return r.Reset(e, n, param)
}

// readOnlyType and writeOnlyType are embeddable helpers that make the
// absent half of a read/write pair return the correct permission error,
// mirroring the teacher's ReadEntryDisabled/WriteEntryDisabled pair
// (od_interface.go) adapted to the interface-per-type model.
type readOnlyType struct{}

func (readOnlyType) Write(*Entry, *Node, []byte) error { return ErrObjWrite }

type writeOnlyType struct{}

func (writeOnlyType) Read(*Entry, *Node, []byte) (int, error) { return 0, ErrObjRead }
