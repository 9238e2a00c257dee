package canopen

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// CAN bit layout constants, taken from golang.org/x/sys/unix's SocketCAN
// definitions rather than re-declared magic numbers - the same constants
// the teacher's bus_manager.go masks incoming frame IDs with
// (unix.CAN_SFF_MASK).
const (
	FlagRTR      uint32 = unix.CAN_RTR_FLAG
	FlagExtended uint32 = unix.CAN_EFF_FLAG
	MaskStandard uint32 = unix.CAN_SFF_MASK
	MaskExtended uint32 = unix.CAN_EFF_MASK
)

// Frame is a CAN frame as consumed and produced by the core. ID carries the
// raw identifier; bit 31 (FlagExtended) marks it as a 29-bit identifier per
// spec.md §6, in which case the low 29 bits (MaskExtended) are significant
// instead of the low 11 (MaskStandard).
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// NewFrame builds a zeroed Frame of the given length, mirroring the
// teacher's can.NewFrame helper.
func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc}
}

// IsExtended reports whether the frame carries a 29-bit identifier.
func (f Frame) IsExtended() bool {
	return f.ID&FlagExtended != 0
}

// CobID strips the extended-frame flag bit, returning the bare identifier.
func (f Frame) CobID() uint32 {
	if f.IsExtended() {
		return f.ID & MaskExtended
	}
	return f.ID & MaskStandard
}

// --- little-endian scalar codec -------------------------------------------------
//
// All multi-byte CANopen wire values (SDO payloads, PDO-mapped scalars,
// COB-ID entries) are little-endian, per spec.md §6. These helpers centralize
// the encode/decode so object types and the SDO/PDO engines share one
// implementation instead of scattering binary.LittleEndian calls.

func getUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func getUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func getUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func putUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// get48/put48 handle the CiA 301 non-standard 48-bit integer width (i48),
// stored as the low 6 bytes of a little-endian 64-bit value.
func get48(b []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:6], b[:6])
	return getUint64(tmp[:])
}

func put48(b []byte, v uint64) {
	var tmp [8]byte
	putUint64(tmp[:], v)
	copy(b[:6], tmp[:6])
}

// FrameHandler is implemented by anything that wants to receive CAN frames
// dispatched by COB-ID, e.g. the SDO server, an RPDO, SYNC, NMT.
type FrameHandler interface {
	Handle(frame Frame)
}
