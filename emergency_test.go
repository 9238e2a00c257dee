package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNodeID matches the node id newTestNode always builds with (0x20),
// so a hand-built 0x1014 default can express "producer cob-id = 0x80 + id"
// the way a real device's EDS default would.
const testNodeID = 0x20

func newEMCYTestNode() (*Node, *mockCAN) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x1014, 0, 0, typeCobID, []byte{byte(emergencyBaseID + testNodeID), 0, 0, 0}),
		NewEntry(0x1015, 0, 0, typeU16, []byte{0, 0}),
	})
	return newTestNode(od, Limits{})
}

func TestEMCYRaiseQueuesFrame(t *testing.T) {
	n, can := newEMCYTestNode()
	before := len(can.sent)

	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 0x1234)
	n.emcy.process(0)

	require.Greater(t, len(can.sent), before)
	f := can.lastSent()
	assert.Equal(t, uint32(emergencyBaseID)+uint32(n.id), f.ID)
	assert.Equal(t, uint8(8), f.DLC)
	assert.Equal(t, emErrRPDOTimeout, f.Data[3])
}

func TestEMCYDuplicateRaiseIsNoOp(t *testing.T) {
	n, _ := newEMCYTestNode()

	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 0)
	n.emcy.process(0)
	histLen := len(n.emcy.history)

	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 0)
	assert.Len(t, n.emcy.history, histLen)
}

func TestEMCYClearAfterRaise(t *testing.T) {
	n, can := newEMCYTestNode()

	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 0)
	n.emcy.process(0)
	n.emcy.Raise(false, emErrRPDOTimeout, emcRPDOTimeout, 0)
	n.emcy.process(0)

	f := can.lastSent()
	assert.Equal(t, emcNoError, getUint16(f.Data[0:2]))
}

func TestEMCYHistoryCapsAtDepth(t *testing.T) {
	n, _ := newEMCYTestNode()
	n.emcy.historyCap = 2

	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 1)
	n.emcy.Raise(false, emErrRPDOTimeout, emcNoError, 0)
	n.emcy.Raise(true, emErrSyncTimeout, emcSyncDataLength, 2)
	n.emcy.Raise(false, emErrSyncTimeout, emcNoError, 0)
	n.emcy.Raise(true, emErrCANBusWarning, emcCANOverrun, 3)

	assert.LessOrEqual(t, len(n.emcy.history), 2)
}

func TestEMCYClearHistory(t *testing.T) {
	n, _ := newEMCYTestNode()
	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 0)
	require.NotEmpty(t, n.emcy.history)

	n.emcy.ClearHistory()
	assert.Empty(t, n.emcy.history)
}

func TestEMCYProducerIDDisabledSuppressesFrame(t *testing.T) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x1014, 0, 0, typeCobID, []byte{0x81, 0x00, 0x00, 0x80}), // valid bit set = disabled
	})
	n, can := newTestNode(od, Limits{})
	before := len(can.sent)

	n.emcy.Raise(true, emErrRPDOTimeout, emcRPDOTimeout, 0)
	n.emcy.process(0)

	assert.Len(t, can.sent, before)
}
