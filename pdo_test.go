package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTPDOTestNode(transType uint8) (*Node, *mockCAN) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x2000, 0, FlagPDOMappable|FlagAsyncNotify, typeU16, []byte{0, 0}),
		NewEntry(0x1800, 1, 0, typeCobID, []byte{0x80, 1, 0, 0}), // cob-id 0x180, enabled
		NewEntry(0x1800, 2, 0, typeTransmissionType, []byte{transType}),
		NewEntry(0x1800, 3, 0, typeU16, []byte{0, 0}),
		NewEntry(0x1800, 5, 0, typeU16, []byte{0, 0}),
		NewEntry(0x1A00, 0, 0, newPDOMappingCountType(true), []byte{1}),
		NewEntry(0x1A00, 1, 0, typeU32, encodeMapEntry(0x2000, 0, 16)),
	})
	n, can := newTestNode(od, Limits{TPDOs: 1})
	return n, can
}

func encodeMapEntry(index uint16, sub uint8, bitLen uint8) []byte {
	raw := uint32(index)<<16 | uint32(sub)<<8 | uint32(bitLen)
	buf := make([]byte, 4)
	putUint32(buf, raw)
	return buf
}

func TestTPDOSendsOnEventTrigger(t *testing.T) {
	n, can := newTPDOTestNode(pdoTransmEventHi)
	before := len(can.sent)

	require.NoError(t, n.od.WriteValue(n, 0x2000, 0, []byte{0x34, 0x12}))
	n.tpdos[0].process(0)

	require.Greater(t, len(can.sent), before)
	f := can.lastSent()
	assert.Equal(t, uint32(0x180), f.ID)
	assert.Equal(t, []byte{0x34, 0x12}, f.Data[:2])
}

func TestTPDOSendsOnEveryNthSync(t *testing.T) {
	n, can := newTPDOTestNode(2)
	before := len(can.sent)

	n.tpdos[0].onSync(1)
	assert.Len(t, can.sent, before)

	n.tpdos[0].onSync(2)
	assert.Greater(t, len(can.sent), before)
}

func TestTPDOAcyclicNeverAutoSends(t *testing.T) {
	n, can := newTPDOTestNode(pdoTransmAcyclic)
	before := len(can.sent)

	n.tpdos[0].onSync(1)
	n.tpdos[0].process(1_000_000)

	assert.Len(t, can.sent, before)
}

func TestTransmissionTypeWriteRejectedWhileEnabled(t *testing.T) {
	n, _ := newTPDOTestNode(2)

	err := n.od.WriteValue(n, 0x1800, 2, []byte{4})
	assert.ErrorIs(t, err, ErrObjRange)
}

func TestTransmissionTypeWriteSucceedsOnceDisabled(t *testing.T) {
	n, _ := newTPDOTestNode(2)

	require.NoError(t, n.od.WriteValue(n, 0x1800, 1, []byte{0x80, 0x01, 0x00, 0x80}))

	require.NoError(t, n.od.WriteValue(n, 0x1800, 2, []byte{4}))
}

func TestTPDOMappingWriteRejectedWhileEnabled(t *testing.T) {
	n, _ := newTPDOTestNode(2)

	err := n.od.WriteValue(n, 0x1A00, 0, []byte{1})
	assert.ErrorIs(t, err, ErrObjRange)
}

func TestTPDOMappingWriteSucceedsOnceDisabled(t *testing.T) {
	n, _ := newTPDOTestNode(2)

	require.NoError(t, n.od.WriteValue(n, 0x1800, 1, []byte{0x80, 0x01, 0x00, 0x80}))

	require.NoError(t, n.od.WriteValue(n, 0x1A00, 0, []byte{1}))
}

func TestTPDODisablingAtRuntimeStopsTransmit(t *testing.T) {
	n, can := newTPDOTestNode(pdoTransmEventHi)

	require.NoError(t, n.od.WriteValue(n, 0x1800, 1, []byte{0x80, 0x01, 0x00, 0x80}))
	before := len(can.sent)

	require.NoError(t, n.od.WriteValue(n, 0x2000, 0, []byte{1, 0}))
	n.tpdos[0].process(0)

	assert.Len(t, can.sent, before)
}

func newRPDOTestNode() (*Node, *mockCAN) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x2100, 0, FlagPDOMappable, typeU16, []byte{0, 0}),
		NewEntry(0x1400, 1, 0, typeCobID, []byte{0x00, 2, 0, 0}), // cob-id 0x200, enabled
		NewEntry(0x1400, 2, 0, typeTransmissionType, []byte{254}),
		NewEntry(0x1600, 0, 0, newPDOMappingCountType(false), []byte{1}),
		NewEntry(0x1600, 1, 0, typeU32, encodeMapEntry(0x2100, 0, 16)),
	})
	return newTestNode(od, Limits{RPDOs: 1})
}

func TestRPDOScattersOnReceipt(t *testing.T) {
	n, _ := newRPDOTestNode()
	n.nmt.enterState(nmtOperational)

	n.rpdos[0].Handle(Frame{ID: 0x200, DLC: 2, Data: [8]byte{0x78, 0x56}})

	buf := make([]byte, 2)
	_, err := n.od.ReadValue(n, 0x2100, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x78, 0x56}, buf)
}

func TestRPDOWrongLengthCountsFailure(t *testing.T) {
	n, _ := newRPDOTestNode()
	n.nmt.enterState(nmtOperational)

	n.rpdos[0].Handle(Frame{ID: 0x200, DLC: 4, Data: [8]byte{1, 2, 3, 4}})

	assert.Equal(t, uint32(1), n.rpdos[0].failureCount)
}

func TestRPDOIgnoredOutsideOperational(t *testing.T) {
	n, _ := newRPDOTestNode()

	n.rpdos[0].Handle(Frame{ID: 0x200, DLC: 2, Data: [8]byte{9, 9}})

	assert.Equal(t, uint32(1), n.rpdos[0].failureCount)
	buf := make([]byte, 2)
	_, _ = n.od.ReadValue(n, 0x2100, 0, buf)
	assert.Equal(t, []byte{0, 0}, buf)
}

func TestRPDODisablingAtRuntimeStopsScatter(t *testing.T) {
	n, _ := newRPDOTestNode()
	n.nmt.enterState(nmtOperational)

	require.NoError(t, n.od.WriteValue(n, 0x1400, 1, []byte{0x00, 0x02, 0x00, 0x80})) // disable, cob-id unchanged

	n.rpdos[0].Handle(Frame{ID: 0x200, DLC: 2, Data: [8]byte{0x78, 0x56}})

	buf := make([]byte, 2)
	_, _ = n.od.ReadValue(n, 0x2100, 0, buf)
	assert.Equal(t, []byte{0, 0}, buf)
}

func TestRPDOEnablingAtRuntimeSubscribesToBus(t *testing.T) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x2100, 0, FlagPDOMappable, typeU16, []byte{0, 0}),
		NewEntry(0x1400, 1, 0, typeCobID, []byte{0x00, 2, 0, 0x80}), // cob-id 0x200, starts disabled
		NewEntry(0x1400, 2, 0, typeTransmissionType, []byte{254}),
		NewEntry(0x1600, 0, 0, newPDOMappingCountType(false), []byte{1}),
		NewEntry(0x1600, 1, 0, typeU32, encodeMapEntry(0x2100, 0, 16)),
	})
	n, can := newTestNode(od, Limits{RPDOs: 1})
	n.nmt.enterState(nmtOperational)
	require.False(t, n.rpdos[0].valid)

	require.NoError(t, n.od.WriteValue(n, 0x1400, 1, []byte{0x00, 0x02, 0x00, 0x00})) // clear disable bit

	can.queue(Frame{ID: 0x200, DLC: 2, Data: [8]byte{0x78, 0x56}})
	n.Process(0)

	buf := make([]byte, 2)
	_, err := n.od.ReadValue(n, 0x2100, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x78, 0x56}, buf)
}
