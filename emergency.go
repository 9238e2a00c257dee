package canopen

import log "github.com/sirupsen/logrus"

// Error register bits, CiA 301 §7.5.2.2 (object 0x1001). Kept from the
// teacher's emergency.go constant table.
const (
	errRegGeneric       uint8 = 0x01
	errRegCurrent       uint8 = 0x02
	errRegVoltage       uint8 = 0x04
	errRegTemperature   uint8 = 0x08
	errRegCommunication uint8 = 0x10
	errRegDeviceProfile uint8 = 0x20
	errRegManufacturer  uint8 = 0x80
)

// Emergency error codes, CiA 301 §7.5.2.1 table 15 (the "EMC" field on the
// wire). Only the subset this stack actually raises is kept; the teacher's
// emergency.go table carried the full CiA 301/401 set for reference.
const (
	emcNoError             uint16 = 0x0000
	emcGeneric             uint16 = 0x1000
	emcCurrent             uint16 = 0x2000
	emcVoltage             uint16 = 0x3000
	emcTemperature         uint16 = 0x4000
	emcHardware            uint16 = 0x5000
	emcSoftwareDevice      uint16 = 0x6000
	emcSoftwareInternal    uint16 = 0x6100
	emcMonitoring          uint16 = 0x8000
	emcCommunication       uint16 = 0x8100
	emcCANOverrun          uint16 = 0x8110
	emcCANPassive          uint16 = 0x8120
	emcHeartbeat           uint16 = 0x8130
	emcBusOffRecovered     uint16 = 0x8140
	emcProtocolError       uint16 = 0x8200
	emcPDOLength           uint16 = 0x8210
	emcSyncDataLength      uint16 = 0x8240
	emcRPDOTimeout         uint16 = 0x8250
)

// Error status bits identify the condition being raised/cleared in the
// pre-defined error field (object 0x1003 sub-entries carry its resulting
// code, not the bit itself) - kept narrowed to what this stack uses.
const (
	emErrHeartbeatConsumer uint8 = 0x1B
	emErrRPDOTimeout       uint8 = 0x17
	emErrSyncTimeout       uint8 = 0x18
	emErrCANBusWarning     uint8 = 0x01
	emErrCANTxBusOff       uint8 = 0x12
)

const emStatusBitsCount = 80

type emcyHistoryEntry struct {
	code uint16
	info uint32
}

// emcy implements the EMCY producer and the object 0x1003 pre-defined
// error history, spec.md §4.6. Raise is the single entry point the rest of
// the stack uses to report or clear a fault condition; process sends the
// oldest pending frame once the inhibit time object 0x1015 allows it,
// mirroring the teacher's EM.Process/EM.Error pair (emergency.go) rebuilt
// against the new Frame/busManager types; the inhibit time is tracked from
// the elapsed time passed to process, not with the timer wheel.
type emcy struct {
	node *Node

	cobID           uint32
	producerEnabled bool
	inhibitUs       uint32
	inhibitElapsed  uint32

	statusBits [emStatusBitsCount / 8]byte
	errorReg   byte

	history    []emcyHistoryEntry
	historyCap int

	pending []Frame
}

func newEMCY(node *Node, historyDepth int) *emcy {
	e := &emcy{node: node, historyCap: historyDepth, cobID: uint32(emergencyBaseID) + uint32(node.id)}
	e.producerEnabled = true
	if entry := node.od.Find(0x1014, 0); entry != nil {
		cobID := entry.ReadU32()
		e.producerEnabled = cobID&cobIDValidBit == 0
		e.cobID = cobID & 0x7FF
	}
	if entry := node.od.Find(0x1015, 0); entry != nil {
		e.inhibitUs = uint32(entry.ReadU16()) * 100
	}
	return e
}

// Raise records a state transition on errorBit, appends a history entry
// and queues a frame for transmission when it is a new condition (setError
// true and not already set) or a clearing one (setError false and
// currently set); duplicate reports are no-ops, CiA 301 §7.2.7.
func (e *emcy) Raise(setError bool, errorBit uint8, code uint16, info uint32) {
	byteIdx := errorBit / 8
	bit := byte(1) << (errorBit % 8)
	if int(byteIdx) >= len(e.statusBits) {
		return
	}
	wasSet := e.statusBits[byteIdx]&bit != 0
	if setError == wasSet {
		return
	}
	if setError {
		e.statusBits[byteIdx] |= bit
	} else {
		e.statusBits[byteIdx] &^= bit
		code = emcNoError
	}
	e.recomputeRegister()

	entry := emcyHistoryEntry{code: code, info: info}
	e.history = append([]emcyHistoryEntry{entry}, e.history...)
	if len(e.history) > e.historyCap {
		e.history = e.history[:e.historyCap]
	}

	if !e.producerEnabled {
		return
	}
	var data [8]byte
	putUint16(data[0:2], code)
	data[2] = e.errorReg
	data[3] = errorBit
	putUint32(data[4:8], info)
	e.pending = append(e.pending, Frame{ID: uint32(e.cobID), DLC: 8, Data: data})
	log.Warnf("[EMCY] raised code=0x%04x bit=0x%02x info=0x%x", code, errorBit, info)
}

func (e *emcy) recomputeRegister() {
	var reg byte
	for i, b := range e.statusBits {
		if b != 0 {
			_ = i
			reg |= errRegGeneric
			break
		}
	}
	e.errorReg = reg
}

// process flushes at most one pending frame per call, respecting the
// inhibit time between consecutive transmissions (CiA 301 §7.5.2.3).
func (e *emcy) process(elapsedUs uint32) {
	if e.inhibitElapsed < e.inhibitUs {
		e.inhibitElapsed += elapsedUs
	}
	if len(e.pending) == 0 {
		return
	}
	if e.inhibitUs > 0 && e.inhibitElapsed < e.inhibitUs {
		return
	}
	frame := e.pending[0]
	e.pending = e.pending[1:]
	e.node.send(frame)
	e.inhibitElapsed = 0
}

// ClearHistory implements the write-zero-to-clear behavior of object
// 0x1003 sub-index 0.
func (e *emcy) ClearHistory() { e.history = e.history[:0] }
