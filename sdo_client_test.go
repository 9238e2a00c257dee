package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSDOClientTestNode() (*Node, *mockCAN, *sdoClient) {
	od := NewObjectDictionary(nil)
	n, can := newTestNode(od, Limits{SDOClients: 1})
	c := n.sdoClients[0]
	c.Configure(0x10)
	return n, can, c
}

func TestSDOClientExpeditedDownload(t *testing.T) {
	_, can, c := newSDOClientTestNode()

	var gotErr error
	called := false
	err := c.Download(0x2000, 0, []byte{0x11, 0x22}, func(e error) {
		called = true
		gotErr = e
	})
	require.NoError(t, err)

	req := can.lastSent()
	assert.Equal(t, sdoCcsDownloadInit, ccs(req.Data[0]))
	assert.Equal(t, byte(0x11), req.Data[4])
	assert.Equal(t, byte(0x22), req.Data[5])

	var ack [8]byte
	ack[0] = sdoCcsDownloadInit << 5
	c.Handle(Frame{ID: 0x580 + 0x10, DLC: 8, Data: ack})

	assert.True(t, called)
	assert.NoError(t, gotErr)
	assert.Equal(t, sdoClientIdle, c.state)
}

func TestSDOClientSegmentedDownload(t *testing.T) {
	n, can, c := newSDOClientTestNode()
	_ = n

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	done := false
	var doneErr error
	err := c.Download(0x2010, 0, payload, func(e error) {
		done = true
		doneErr = e
	})
	require.NoError(t, err)

	initReq := can.lastSent()
	assert.Equal(t, sdoCcsDownloadInit, ccs(initReq.Data[0]))
	assert.Equal(t, uint32(10), getUint32(initReq.Data[4:8]))

	var initAck [8]byte
	initAck[0] = sdoCcsDownloadInit << 5
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: initAck})

	seg1 := can.lastSent()
	assert.Equal(t, sdoCcsDownloadSegment, ccs(seg1.Data[0]))
	assert.Equal(t, byte(0), (seg1.Data[0]>>4)&1)
	assert.Equal(t, payload[0:7], seg1.Data[1:8])

	var seg1Ack [8]byte
	seg1Ack[0] = sdoCcsDownloadSegment << 5 // toggle 0 ack
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: seg1Ack})

	seg2 := can.lastSent()
	assert.Equal(t, byte(1), (seg2.Data[0]>>4)&1)

	var seg2Ack [8]byte
	seg2Ack[0] = sdoCcsDownloadSegment<<5 | 1<<4 // toggle 1 ack
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: seg2Ack})

	assert.True(t, done)
	assert.NoError(t, doneErr)
	assert.Equal(t, sdoClientIdle, c.state)
}

func TestSDOClientExpeditedUpload(t *testing.T) {
	_, can, c := newSDOClientTestNode()

	var gotData []byte
	var gotErr error
	err := c.Upload(0x2001, 0, func(data []byte, e error) {
		gotData = data
		gotErr = e
	})
	require.NoError(t, err)

	req := can.lastSent()
	assert.Equal(t, sdoCcsUploadInit, ccs(req.Data[0]))

	var resp [8]byte
	resp[0] = sdoCcsUploadInit<<5 | 0x02 | 0x01 | byte(3)<<2 // 1 valid byte
	resp[4] = 0x2A
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: resp})

	assert.NoError(t, gotErr)
	assert.Equal(t, []byte{0x2A}, gotData)
}

func TestSDOClientSegmentedUpload(t *testing.T) {
	_, can, c := newSDOClientTestNode()

	var gotData []byte
	var gotErr error
	err := c.Upload(0x2010, 0, func(data []byte, e error) {
		gotData = data
		gotErr = e
	})
	require.NoError(t, err)

	var initResp [8]byte
	initResp[0] = sdoCcsUploadInit<<5 | 0x01
	putUint32(initResp[4:8], 9)
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: initResp})

	req1 := can.lastSent()
	assert.Equal(t, sdoCcsUploadSegment, ccs(req1.Data[0]))
	assert.Equal(t, byte(0), (req1.Data[0]>>4)&1)

	var seg1 [8]byte
	seg1[0] = 0 // toggle 0, full 7 bytes, not last
	copy(seg1[1:8], []byte{1, 2, 3, 4, 5, 6, 7})
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: seg1})

	req2 := can.lastSent()
	assert.Equal(t, byte(1), (req2.Data[0]>>4)&1)

	var seg2 [8]byte
	seg2[0] = 1<<4 | byte(5)<<1 | 1 // toggle 1, 2 valid bytes, last
	copy(seg2[1:3], []byte{8, 9})
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: seg2})

	assert.NoError(t, gotErr)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, gotData)
}

func TestSDOClientAbortResponse(t *testing.T) {
	_, _, c := newSDOClientTestNode()

	var gotErr error
	err := c.Upload(0x2000, 0, func(data []byte, e error) {
		gotErr = e
	})
	require.NoError(t, err)

	var abort [8]byte
	abort[0] = sdoAbortByte
	putUint16(abort[1:3], 0x2000)
	putUint32(abort[4:8], uint32(AbortObjNotExist))
	c.Handle(Frame{ID: 0x590, DLC: 8, Data: abort})

	require.Error(t, gotErr)
	abortErr, ok := gotErr.(*AbortError)
	require.True(t, ok)
	assert.Equal(t, AbortObjNotExist, abortErr.Code)
	assert.Equal(t, sdoClientIdle, c.state)
}

func TestSDOClientBusyRejectsConcurrentTransfer(t *testing.T) {
	_, _, c := newSDOClientTestNode()

	err := c.Upload(0x2000, 0, func([]byte, error) {})
	require.NoError(t, err)

	err = c.Download(0x2001, 0, []byte{1}, func(error) {})
	assert.ErrorIs(t, err, ErrSDOClientBusy)
}

func TestSDOClientWatchdogTimesOutStalledUpload(t *testing.T) {
	n, _, c := newSDOClientTestNode()

	var gotErr error
	err := c.Upload(0x2000, 0, func(data []byte, e error) {
		gotErr = e
	})
	require.NoError(t, err)

	n.timers.Advance(n, sdoWatchdogTimeoutUs+1)

	assert.ErrorIs(t, gotErr, ErrSDOClientTimeout)
	assert.Equal(t, sdoClientIdle, c.state)
}
