package canopen

// Flags are the per-entry bits packed alongside the (index, sub-index) pair
// into an entry's Key, per spec.md §3 "Object Dictionary Entry".
//
// FlagDirect documents that, in the embedded C original this stack is
// modeled on, a small scalar's storage is inlined into the entry itself
// rather than behind a pointer. A Go slice header is already a
// pointer+len+cap, so both cases collapse onto the same representation
// here (Entry.data); the flag is kept for fidelity with the data model and
// is otherwise inert.
type Flags uint8

const (
	FlagDirect         Flags = 1 << iota // storage is inlined (informational only, see above)
	FlagReadOnly                         // no write() behavior; writes return ErrObjWrite
	FlagWriteOnly                        // no read() behavior; reads return ErrObjRead
	FlagNodeIDRelative                   // scalar value is offset by the node id at I/O time
	FlagPDOMappable                      // entry may appear in a TPDO/RPDO mapping list
	FlagAsyncNotify                      // a changed write triggers TPDO re-evaluation
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Key is the packed 32-bit identity of an OD entry: index(16) | sub(8) |
// flags(8), per spec.md §3.
type Key uint32

// MakeKey packs an (index, sub-index, flags) triple into a Key.
func MakeKey(index uint16, sub uint8, flags Flags) Key {
	return Key(uint32(index)<<16 | uint32(sub)<<8 | uint32(flags))
}

func (k Key) Index() uint16 { return uint16(k >> 16) }
func (k Key) Sub() uint8    { return uint8(k >> 8) }
func (k Key) Flags() Flags  { return Flags(k) }

// identity is the part of the key that determines ordering and uniqueness
// in the OD - index and sub-index, with the flag byte masked off.
func (k Key) identity() uint32 { return uint32(k) >> 8 }

// Entry is a single (index, sub-index) slot of the Object Dictionary. Its
// Type supplies the behavior (size/read/write/init/reset); Entry itself
// only carries identity, storage and per-entry streaming state.
type Entry struct {
	key    Key
	Name   string // optional, for logging/EDS round-trip; not part of identity
	Type   ObjectType
	data   []byte // raw little-endian storage; nil is the "null sentinel" (spec.md §4.1)
	offset uint32 // streaming cursor used by string/domain/segmented SDO transfers
}

// NewEntry builds an entry of the given identity, type and initial raw
// storage. Scalar types own a fixed-width data slice; string/domain types
// own a slice sized to their full logical content.
func NewEntry(index uint16, sub uint8, flags Flags, typ ObjectType, data []byte) *Entry {
	return &Entry{key: MakeKey(index, sub, flags), Type: typ, data: data}
}

func (e *Entry) Key() Key         { return e.key }
func (e *Entry) Index() uint16    { return e.key.Index() }
func (e *Entry) Sub() uint8       { return e.key.Sub() }
func (e *Entry) Flags() Flags     { return e.key.Flags() }
func (e *Entry) Readable() bool   { return !e.key.Flags().has(FlagWriteOnly) }
func (e *Entry) Writable() bool   { return !e.key.Flags().has(FlagReadOnly) }
func (e *Entry) Mappable() bool   { return e.key.Flags().has(FlagPDOMappable) }
func (e *Entry) AsyncNotify() bool { return e.key.Flags().has(FlagAsyncNotify) }

// Data exposes the raw backing storage, used by object types and by the
// PDO engine's zero-copy gather/scatter path.
func (e *Entry) Data() []byte { return e.data }

// resetOffset rewinds a streaming entry's progress, used by SDO to restart
// or back up a segmented/block transfer (spec.md §4.1 "reset(offset)").
func (e *Entry) resetOffset(offset uint32) { e.offset = offset }
