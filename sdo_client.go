package canopen

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// sdoClient is the initiator side of an SDO exchange, spec.md §2 "SDO
// client - peer of the server, initiator side". Unlike the teacher's
// SDOClient (which drives a blocking-style state machine with its own
// local-transfer and block-transfer paths), this client only supports
// expedited and segmented transfer: block transfer is a bulk-data
// optimization the spec's client-side use cases (configuration tools,
// bring-up scripts) don't need, so it is left to the server side only -
// see DESIGN.md.
type sdoClientState uint8

const (
	sdoClientIdle sdoClientState = iota
	sdoClientDownloadSegment
	sdoClientUploadSegment
)

var (
	ErrSDOClientBusy    = errors.New("sdo client: already busy with a transfer")
	ErrSDOClientTimeout = errors.New("sdo client: transfer timed out")
)

// AbortError wraps an abort code the remote server returned for a
// transfer, so callers can inspect it with errors.As.
type AbortError struct {
	Index uint16
	Sub   uint8
	Code  AbortCode
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("sdo abort x%x:x%x: code x%x", e.Index, e.Sub, uint32(e.Code))
}

type sdoClient struct {
	node *Node

	commIndex    uint16 // OD index backing rxCobID/txCobID, 0 if not OD-backed
	serverNodeID uint8
	rxCobID      uint32 // server -> client
	txCobID      uint32 // client -> server

	state  sdoClientState
	index  uint16
	sub    uint8
	toggle uint8

	buf       []byte
	remaining int

	watchdog TimerHandle

	onUploadDone   func(data []byte, err error)
	onDownloadDone func(err error)
}

func newSDOClient(n *Node, i int) *sdoClient {
	c := &sdoClient{node: n, watchdog: noTimer}
	if i == 0 {
		return c // unconfigured until Configure is called
	}
	c.commIndex = uint16(0x1280 + i - 1)
	commEntry := n.od.Find(c.commIndex, 1)
	if commEntry == nil {
		return nil
	}
	c.txCobID = commEntry.CobID()
	if e := n.od.Find(c.commIndex, 2); e != nil {
		c.rxCobID = e.CobID()
	}
	if e := n.od.Find(c.commIndex, 3); e != nil {
		c.serverNodeID = e.ReadU8()
	}
	if c.rxCobID != 0 {
		n.bus.Subscribe(c.rxCobID, c)
	}
	return c
}

// reloadCommParams re-reads tx/rx COB-IDs and the target server node id from
// this client's comm-parameter object after a live SDO write, re-subscribing
// if the rx COB-ID changed. No-op for a client configured via Configure
// rather than an OD parameter object (commIndex 0).
func (c *sdoClient) reloadCommParams() {
	if c.commIndex == 0 {
		return
	}
	oldRx := c.rxCobID
	rx, tx := oldRx, c.txCobID
	if e := c.node.od.Find(c.commIndex, 1); e != nil {
		tx = e.CobID()
	}
	if e := c.node.od.Find(c.commIndex, 2); e != nil {
		rx = e.CobID()
	}
	if e := c.node.od.Find(c.commIndex, 3); e != nil {
		c.serverNodeID = e.ReadU8()
	}
	if rx != oldRx {
		if oldRx != 0 {
			c.node.bus.Unsubscribe(oldRx)
		}
		if rx != 0 {
			c.node.bus.Subscribe(rx, c)
		}
	}
	c.rxCobID, c.txCobID = rx, tx
}

// Configure (re)targets the client at a server node using the default
// predefined COB-IDs, for a client with no static 0x1280 parameter set.
func (c *sdoClient) Configure(serverNodeID uint8) {
	if c.rxCobID != 0 {
		c.node.bus.Unsubscribe(c.rxCobID)
	}
	c.serverNodeID = serverNodeID
	c.txCobID = uint32(sdoRxBaseID) + uint32(serverNodeID)
	c.rxCobID = uint32(sdoTxBaseID) + uint32(serverNodeID)
	c.node.bus.Subscribe(c.rxCobID, c)
}

func (c *sdoClient) armWatchdog() {
	c.cancelWatchdog()
	h, _ := c.node.timers.Create(sdoWatchdogTimeoutUs, 0, sdoClientWatchdogFired, c)
	c.watchdog = h
}

func (c *sdoClient) cancelWatchdog() {
	if c.watchdog != noTimer {
		c.node.timers.Delete(c.watchdog)
		c.watchdog = noTimer
	}
}

func sdoClientWatchdogFired(node *Node, arg interface{}) {
	c := arg.(*sdoClient)
	log.Warnf("[SDO][client x%x] transfer timed out for x%x:x%x", c.txCobID, c.index, c.sub)
	c.finish(nil, ErrSDOClientTimeout)
}

func (c *sdoClient) finish(data []byte, err error) {
	c.cancelWatchdog()
	state := c.state
	c.state = sdoClientIdle
	switch state {
	case sdoClientUploadSegment:
		if cb := c.onUploadDone; cb != nil {
			c.onUploadDone = nil
			cb(data, err)
		}
	case sdoClientDownloadSegment:
		if cb := c.onDownloadDone; cb != nil {
			c.onDownloadDone = nil
			cb(err)
		}
	}
}

// Upload starts an SDO read of index:sub. done is called once the
// transfer completes or fails; every transfer round-trips over the bus,
// so done never fires within the call to Upload itself.
func (c *sdoClient) Upload(index uint16, sub uint8, done func(data []byte, err error)) error {
	if c.state != sdoClientIdle {
		return ErrSDOClientBusy
	}
	c.index, c.sub = index, sub
	c.onUploadDone = done
	c.state = sdoClientUploadSegment
	c.buf = nil
	c.toggle = 0
	c.armWatchdog()

	var data [8]byte
	data[0] = sdoCcsUploadInit << 5
	putUint16(data[1:3], index)
	data[3] = sub
	c.node.send(Frame{ID: c.txCobID, DLC: 8, Data: data})
	return nil
}

// Download starts an SDO write of value to index:sub. done is called
// once the transfer completes or fails.
func (c *sdoClient) Download(index uint16, sub uint8, value []byte, done func(err error)) error {
	if c.state != sdoClientIdle {
		return ErrSDOClientBusy
	}
	c.index, c.sub = index, sub
	c.onDownloadDone = done
	c.armWatchdog()

	var data [8]byte
	if len(value) <= 4 {
		// expedited: buf stays nil, handleDownloadResponse treats the init
		// response itself as completion.
		c.buf = nil
		c.state = sdoClientDownloadSegment
		data[0] = sdoCcsDownloadInit<<5 | 0x02 | 0x01 | byte(4-len(value))<<2
		putUint16(data[1:3], index)
		data[3] = sub
		copy(data[4:4+len(value)], value)
		c.node.send(Frame{ID: c.txCobID, DLC: 8, Data: data})
		return nil
	}

	c.buf = append([]byte(nil), value...)
	c.remaining = len(value)
	c.toggle = 0
	c.state = sdoClientDownloadSegment
	data[0] = sdoCcsDownloadInit<<5 | 0x01
	putUint16(data[1:3], index)
	data[3] = sub
	putUint32(data[4:8], uint32(len(value)))
	c.node.send(Frame{ID: c.txCobID, DLC: 8, Data: data})
	return nil
}

func (c *sdoClient) Handle(frame Frame) {
	if frame.Data[0] == sdoAbortByte {
		index, sub := indexSub(frame)
		c.finish(nil, &AbortError{Index: index, Sub: sub, Code: AbortCode(getUint32(frame.Data[4:8]))})
		return
	}
	switch c.state {
	case sdoClientUploadSegment:
		c.handleUploadResponse(frame)
	case sdoClientDownloadSegment:
		c.handleDownloadResponse(frame)
	}
}

func (c *sdoClient) handleUploadResponse(frame Frame) {
	if c.buf == nil && c.toggle == 0 {
		// first response: either expedited init-upload or segmented init-upload
		if ccs(frame.Data[0]) != sdoCcsUploadInit {
			c.finish(nil, errors.New("sdo client: unexpected response"))
			return
		}
		expedited := frame.Data[0]&0x02 != 0
		sizeSet := frame.Data[0]&0x01 != 0
		if expedited {
			n := 4
			if sizeSet {
				n = 4 - int((frame.Data[0]>>2)&0x3)
			}
			data := append([]byte(nil), frame.Data[4:4+n]...)
			c.finish(data, nil)
			return
		}
		c.remaining = -1
		if sizeSet {
			c.remaining = int(getUint32(frame.Data[4:8]))
		}
		c.buf = make([]byte, 0, maxInt(c.remaining, 0))
		c.toggle = 0
		c.requestNextUploadSegment()
		return
	}

	t := (frame.Data[0] >> 4) & 1
	if t != c.toggle {
		c.finish(nil, errors.New("sdo client: toggle bit mismatch"))
		return
	}
	n := (frame.Data[0] >> 1) & 0x7
	last := frame.Data[0]&0x01 != 0
	segLen := 7 - int(n)
	c.buf = append(c.buf, frame.Data[1:1+segLen]...)
	c.toggle ^= 1
	if last {
		c.finish(c.buf, nil)
		return
	}
	c.requestNextUploadSegment()
}

func (c *sdoClient) requestNextUploadSegment() {
	c.armWatchdog()
	var data [8]byte
	data[0] = sdoCcsUploadSegment<<5 | c.toggle<<4
	c.node.send(Frame{ID: c.txCobID, DLC: 8, Data: data})
}

func (c *sdoClient) handleDownloadResponse(frame Frame) {
	if c.buf == nil {
		// expedited write: the init-download response alone is completion.
		if ccs(frame.Data[0]) != sdoCcsDownloadInit {
			c.finish(nil, errors.New("sdo client: unexpected response"))
			return
		}
		c.finish(nil, nil)
		return
	}
	if c.remaining == len(c.buf) {
		// init-download ack for a segmented write: send the first segment.
		if ccs(frame.Data[0]) != sdoCcsDownloadInit {
			c.finish(nil, errors.New("sdo client: unexpected response"))
			return
		}
		c.sendDownloadSegment()
		return
	}
	if ccs(frame.Data[0]) != sdoCcsDownloadSegment {
		c.finish(nil, errors.New("sdo client: unexpected response"))
		return
	}
	t := (frame.Data[0] >> 4) & 1
	if t != c.toggle {
		c.finish(nil, errors.New("sdo client: toggle bit mismatch"))
		return
	}
	c.toggle ^= 1
	if c.remaining <= 0 {
		c.finish(nil, nil)
		return
	}
	c.sendDownloadSegment()
}

func (c *sdoClient) sendDownloadSegment() {
	chunk := 7
	if c.remaining < chunk {
		chunk = c.remaining
	}
	offset := len(c.buf) - c.remaining
	last := byte(0)
	if c.remaining-chunk <= 0 {
		last = 1
	}
	var data [8]byte
	data[0] = sdoCcsDownloadSegment<<5 | c.toggle<<4 | byte(7-chunk)<<1 | last
	copy(data[1:1+chunk], c.buf[offset:offset+chunk])
	c.remaining -= chunk
	c.armWatchdog()
	c.node.send(Frame{ID: c.txCobID, DLC: 8, Data: data})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
