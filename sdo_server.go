package canopen

import log "github.com/sirupsen/logrus"

// sdoServerState is the server side of the SDO state machine, spec.md
// §4.3: idle between transfers, or one of the four multi-frame transfer
// modes. Rebuilt from the teacher's SDOServer (sdo_server.go, SDO_STATE_*
// constants) against the packed-key Object Dictionary and the cooperative
// timer wheel instead of CANModule rx/tx buffers.
type sdoServerState uint8

const (
	sdoServerIdle sdoServerState = iota
	sdoServerDownloadSegment
	sdoServerUploadSegment
	sdoServerDownloadBlock
	sdoServerUploadBlock
)

type sdoServer struct {
	node *Node

	commIndex uint16 // OD index backing rxCobID/txCobID, 0 if not OD-backed
	rxCobID   uint32
	txCobID   uint32

	state  sdoServerState
	index  uint16
	sub    uint8
	toggle uint8

	remaining int // bytes left to stream, upload side
	watchdog  TimerHandle

	blockCRC        CRC16
	blockCRCEnabled bool
	blockSeqno      uint8
	blockSize       uint8
	blockDone       bool
}

const sdoDefaultBlockSize uint8 = 127

func newSDOServer(n *Node, i int) *sdoServer {
	rx := sdoRxBaseID + uint16(n.id)
	tx := sdoTxBaseID + uint16(n.id)
	s := &sdoServer{node: n, watchdog: noTimer}
	if i > 0 {
		s.commIndex = uint16(0x1201 + i - 1)
		commEntry := n.od.Find(s.commIndex, 1)
		if commEntry == nil {
			return nil
		}
		rx = uint16(commEntry.ReadU32() & 0x7FF)
		if txEntry := n.od.Find(s.commIndex, 2); txEntry != nil {
			tx = uint16(txEntry.ReadU32() & 0x7FF)
		}
	}
	s.rxCobID, s.txCobID = uint32(rx), uint32(tx)
	n.bus.Subscribe(uint32(rx), s)
	return s
}

// reloadCommParams re-reads rx/tx COB-IDs from this server's comm-parameter
// object after a live SDO write to its sub-1/sub-2 entries and re-subscribes
// if the rx COB-ID actually changed. No-op for the default, non-OD-backed
// server (commIndex 0).
func (s *sdoServer) reloadCommParams() {
	if s.commIndex == 0 {
		return
	}
	oldRx := s.rxCobID
	rx, tx := oldRx, s.txCobID
	if e := s.node.od.Find(s.commIndex, 1); e != nil {
		rx = e.CobID()
	}
	if e := s.node.od.Find(s.commIndex, 2); e != nil {
		tx = e.CobID()
	}
	if rx != oldRx {
		s.node.bus.Unsubscribe(oldRx)
		s.node.bus.Subscribe(rx, s)
	}
	s.rxCobID, s.txCobID = rx, tx
}

func (s *sdoServer) abort(index uint16, sub uint8, code AbortCode) {
	s.cancelWatchdog()
	s.state = sdoServerIdle
	s.node.send(buildAbortFrame(s.txCobID, index, sub, code))
}

func (s *sdoServer) armWatchdog() {
	s.cancelWatchdog()
	h, _ := s.node.timers.Create(sdoWatchdogTimeoutUs, 0, sdoServerWatchdogFired, s)
	s.watchdog = h
}

func (s *sdoServer) cancelWatchdog() {
	if s.watchdog != noTimer {
		s.node.timers.Delete(s.watchdog)
		s.watchdog = noTimer
	}
}

func sdoServerWatchdogFired(node *Node, arg interface{}) {
	s := arg.(*sdoServer)
	log.Warnf("[SDO][x%x] transfer timed out for x%x:x%x", s.rxCobID, s.index, s.sub)
	s.state = sdoServerIdle
	s.node.send(buildAbortFrame(s.txCobID, s.index, s.sub, AbortTimeout))
}

// Handle dispatches an incoming client frame. In the middle of a block
// download, raw segment frames (no command-specifier structure) are routed
// directly instead of through the ccs switch - only the fixed "end block
// download" byte is recognized as a control frame during that phase.
func (s *sdoServer) Handle(frame Frame) {
	if s.state == sdoServerDownloadBlock && frame.Data[0] != 0xC1 {
		s.handleBlockDownloadSegment(frame)
		return
	}
	switch ccs(frame.Data[0]) {
	case sdoCcsDownloadInit:
		s.handleDownloadInit(frame)
	case sdoCcsDownloadSegment:
		s.handleDownloadSegment(frame)
	case sdoCcsUploadInit:
		s.handleUploadInit(frame)
	case sdoCcsUploadSegment:
		s.handleUploadSegment(frame)
	case sdoCcsBlockDownload:
		s.handleBlockDownloadControl(frame)
	case sdoCcsBlockUpload:
		s.handleBlockUploadControl(frame)
	case sdoCcsAbort:
		s.state = sdoServerIdle
		s.cancelWatchdog()
	default:
		s.abort(0, 0, AbortCommandInvalid)
	}
}

func indexSub(frame Frame) (uint16, uint8) {
	return getUint16(frame.Data[1:3]), frame.Data[3]
}

func (s *sdoServer) handleDownloadInit(frame Frame) {
	index, sub := indexSub(frame)
	expedited := frame.Data[0]&0x02 != 0
	sizeSet := frame.Data[0]&0x01 != 0
	entry := s.node.od.Find(index, sub)
	if entry == nil {
		s.abort(index, sub, AbortObjNotExist)
		return
	}

	if expedited {
		n := (frame.Data[0] >> 2) & 0x3
		length := 4
		if sizeSet {
			length = 4 - int(n)
		}
		if err := s.node.od.WriteValue(s.node, index, sub, frame.Data[4:4+length]); err != nil {
			s.abort(index, sub, abortForKind(err.(ErrorKind)))
			return
		}
		s.replyInitiateDownload(index, sub)
		return
	}

	if !entry.Writable() {
		s.abort(index, sub, AbortReadOnly)
		return
	}
	if err := s.node.od.ResetOffset(index, sub, 0); err != nil {
		s.abort(index, sub, abortForKind(err.(ErrorKind)))
		return
	}
	s.index, s.sub = index, sub
	s.toggle = 0
	s.state = sdoServerDownloadSegment
	s.armWatchdog()
	s.replyInitiateDownload(index, sub)
}

func (s *sdoServer) replyInitiateDownload(index uint16, sub uint8) {
	var data [8]byte
	data[0] = sdoCcsDownloadInit << 5
	putUint16(data[1:3], index)
	data[3] = sub
	s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
}

func (s *sdoServer) handleDownloadSegment(frame Frame) {
	t := (frame.Data[0] >> 4) & 1
	if t != s.toggle {
		s.abort(s.index, s.sub, AbortToggleBit)
		return
	}
	n := (frame.Data[0] >> 1) & 0x7
	c := frame.Data[0] & 0x01
	segLen := 7 - int(n)
	if err := s.node.od.WriteBuffer(s.node, s.index, s.sub, frame.Data[1:1+segLen]); err != nil {
		s.abort(s.index, s.sub, abortForKind(err.(ErrorKind)))
		return
	}
	var data [8]byte
	data[0] = sdoCcsDownloadSegment<<5 | s.toggle<<4
	s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
	s.toggle ^= 1
	if c != 0 {
		_ = s.node.od.ResetOffset(s.index, s.sub, 0)
		s.state = sdoServerIdle
		s.cancelWatchdog()
		return
	}
	s.armWatchdog()
}

func (s *sdoServer) handleUploadInit(frame Frame) {
	index, sub := indexSub(frame)
	entry := s.node.od.Find(index, sub)
	if entry == nil {
		s.abort(index, sub, AbortObjNotExist)
		return
	}
	if !entry.Readable() {
		s.abort(index, sub, AbortWriteOnly)
		return
	}
	size := s.node.od.Size(s.node, index, sub, 0)

	var data [8]byte
	if size <= 4 {
		putUint16(data[1:3], index)
		data[3] = sub
		n, err := s.node.od.ReadValue(s.node, index, sub, data[4:8])
		if err != nil {
			s.abort(index, sub, abortForKind(err.(ErrorKind)))
			return
		}
		data[0] = sdoCcsUploadInit<<5 | 0x02 | 0x01 | byte(4-n)<<2
		s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
		return
	}

	if err := s.node.od.ResetOffset(index, sub, 0); err != nil {
		s.abort(index, sub, abortForKind(err.(ErrorKind)))
		return
	}
	s.index, s.sub = index, sub
	s.toggle = 0
	s.remaining = int(size)
	s.state = sdoServerUploadSegment
	s.armWatchdog()

	data[0] = sdoCcsUploadInit<<5 | 0x01
	putUint16(data[1:3], index)
	data[3] = sub
	putUint32(data[4:8], size)
	s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
}

func (s *sdoServer) handleUploadSegment(frame Frame) {
	t := (frame.Data[0] >> 4) & 1
	if t != s.toggle {
		s.abort(s.index, s.sub, AbortToggleBit)
		return
	}
	chunk := 7
	if s.remaining < chunk {
		chunk = s.remaining
	}
	var data [8]byte
	n, err := s.node.od.ReadBuffer(s.node, s.index, s.sub, data[1:1+chunk])
	if err != nil {
		s.abort(s.index, s.sub, abortForKind(err.(ErrorKind)))
		return
	}
	s.remaining -= n
	c := byte(0)
	if s.remaining <= 0 {
		c = 1
	}
	data[0] = s.toggle<<4 | byte(7-n)<<1 | c
	s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
	s.toggle ^= 1
	if c == 1 {
		s.state = sdoServerIdle
		s.cancelWatchdog()
		return
	}
	s.armWatchdog()
}

func (s *sdoServer) handleBlockDownloadControl(frame Frame) {
	sub := frame.Data[0] & 0x03
	switch sub {
	case sdoBlockSubInitiate:
		index, subIdx := indexSub(frame)
		entry := s.node.od.Find(index, subIdx)
		if entry == nil {
			s.abort(index, subIdx, AbortObjNotExist)
			return
		}
		if !entry.Writable() {
			s.abort(index, subIdx, AbortReadOnly)
			return
		}
		if err := s.node.od.ResetOffset(index, subIdx, 0); err != nil {
			s.abort(index, subIdx, abortForKind(err.(ErrorKind)))
			return
		}
		s.index, s.sub = index, subIdx
		s.blockCRCEnabled = frame.Data[0]&0x04 != 0
		s.blockCRC = 0
		s.blockSeqno = 0
		s.blockSize = sdoDefaultBlockSize
		s.blockDone = false
		s.state = sdoServerDownloadBlock
		s.armWatchdog()

		cc := byte(0)
		if s.blockCRCEnabled {
			cc = 0x04
		}
		var data [8]byte
		data[0] = 0xA0 | cc
		putUint16(data[1:3], index)
		data[3] = subIdx
		data[4] = s.blockSize
		s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
	case sdoBlockSubEnd:
		if s.blockCRCEnabled {
			crcClient := getUint16(frame.Data[1:3])
			if crcClient != uint16(s.blockCRC) {
				s.abort(s.index, s.sub, AbortCRC)
				return
			}
		}
		var data [8]byte
		data[0] = 0xA1
		s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
		_ = s.node.od.ResetOffset(s.index, s.sub, 0)
		s.state = sdoServerIdle
		s.cancelWatchdog()
	default:
		s.abort(s.index, s.sub, AbortCommandInvalid)
	}
}

// handleBlockDownloadSegment accepts one raw block-transfer segment (CiA
// 301 §7.2.4.3.17): bit 7 of byte 0 marks the last segment of the whole
// transfer, the low 7 bits carry the sequence number. Segments delivered
// out of order are dropped; the client resends the sub-block starting
// after the last acknowledged sequence number.
func (s *sdoServer) handleBlockDownloadSegment(frame Frame) {
	last := frame.Data[0]&0x80 != 0
	seqno := frame.Data[0] & 0x7F
	if seqno == s.blockSeqno+1 {
		if err := s.node.od.WriteBuffer(s.node, s.index, s.sub, frame.Data[1:8]); err != nil {
			s.abort(s.index, s.sub, abortForKind(err.(ErrorKind)))
			return
		}
		if s.blockCRCEnabled {
			s.blockCRC.ccittBlock(frame.Data[1:8])
		}
		s.blockSeqno = seqno
	}
	s.armWatchdog()
	if last {
		s.blockDone = true
	}
	if seqno == s.blockSize || last {
		var data [8]byte
		data[0] = 0xA2
		data[1] = s.blockSeqno
		data[2] = s.blockSize
		s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
		s.blockSeqno = 0
	}
}

func (s *sdoServer) handleBlockUploadControl(frame Frame) {
	sub := frame.Data[0] & 0x03
	switch sub {
	case sdoBlockSubInitiate:
		index, subIdx := indexSub(frame)
		entry := s.node.od.Find(index, subIdx)
		if entry == nil {
			s.abort(index, subIdx, AbortObjNotExist)
			return
		}
		if !entry.Readable() {
			s.abort(index, subIdx, AbortWriteOnly)
			return
		}
		if err := s.node.od.ResetOffset(index, subIdx, 0); err != nil {
			s.abort(index, subIdx, abortForKind(err.(ErrorKind)))
			return
		}
		size := s.node.od.Size(s.node, index, subIdx, 0)
		s.index, s.sub = index, subIdx
		s.remaining = int(size)
		s.blockCRCEnabled = frame.Data[0]&0x04 != 0
		s.blockCRC = 0
		s.blockSeqno = 0
		s.blockSize = frame.Data[4]
		if s.blockSize == 0 {
			s.blockSize = sdoDefaultBlockSize
		}
		s.state = sdoServerUploadBlock
		s.armWatchdog()

		cc := byte(0)
		if s.blockCRCEnabled {
			cc = 0x04
		}
		var data [8]byte
		data[0] = 0xC0 | cc
		putUint16(data[1:3], index)
		data[3] = subIdx
		putUint32(data[4:8], size)
		s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
	case 0x03: // "start upload", client -> server, kicks off segment streaming
		s.sendBlockUploadSegments()
	case sdoBlockSubEnd: // end acknowledgement from client after CRC frame
		s.state = sdoServerIdle
		s.cancelWatchdog()
	default:
		s.abort(s.index, s.sub, AbortCommandInvalid)
	}
}

func (s *sdoServer) sendBlockUploadSegments() {
	for seq := uint8(1); seq <= s.blockSize; seq++ {
		var data [8]byte
		chunk := 7
		if s.remaining < chunk {
			chunk = s.remaining
		}
		n, _ := s.node.od.ReadBuffer(s.node, s.index, s.sub, data[1:1+chunk])
		s.remaining -= n
		if s.blockCRCEnabled {
			s.blockCRC.ccittBlock(data[1 : 1+n])
		}
		last := s.remaining <= 0
		data[0] = seq
		if last {
			data[0] |= 0x80
		}
		s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
		s.armWatchdog()
		if last {
			s.sendBlockUploadEnd()
			return
		}
	}
}

func (s *sdoServer) sendBlockUploadEnd() {
	var data [8]byte
	data[0] = 0xC1
	putUint16(data[1:3], uint16(s.blockCRC))
	s.node.send(Frame{ID: s.txCobID, DLC: 8, Data: data})
}
