package canopen

import log "github.com/sirupsen/logrus"

// nmtOperatingState is the CANopen NMT state machine's operating state,
// CiA 301 §7.3.2. The teacher's nmt.go carried these as loose CO_NMT_*
// constants with an unimplemented state machine; this is the first working
// implementation grounded on that naming.
type nmtOperatingState uint8

const (
	nmtInitialising nmtOperatingState = iota
	nmtPreOperational
	nmtOperational
	nmtStopped
)

// NMT command codes received on COB-ID 0, CiA 301 §7.3.3 table 13.
const (
	nmtCmdStart              uint8 = 1
	nmtCmdStop               uint8 = 2
	nmtCmdEnterPreOperational uint8 = 128
	nmtCmdResetNode          uint8 = 129
	nmtCmdResetComm          uint8 = 130
)

// resetKind distinguishes the two reset commands: ResetComm cancels any
// in-flight SDO server transfer, clears pending TPDO event triggers,
// restarts the heartbeat producer and re-sends bootup; ResetNode first
// resets every OD entry whose type implements Resetter (parameter groups
// back to their defaults, domains emptied). Neither reloads the PDO/SYNC/
// EMCY communication parameters from the OD, spec.md §12 supplement (grounded on original_source's
// co_if.c / co_cfg.h CO_RESET_COMM vs CO_RESET_APP distinction, which the
// teacher's node.go carried as CO_RESET_COMM/CO_RESET_APP but never wired
// to behavior).
type resetKind uint8

const (
	resetNone resetKind = iota
	resetComm
	resetNode
)

type hbConsumerSlot struct {
	active    bool
	nodeID    uint8
	timeoutUs uint32
	timer     TimerHandle
}

// hbConsumerWatch is the FrameHandler registered on a consumed node's
// heartbeat COB-ID; it just forwards to the owning nmtState.
type hbConsumerWatch struct {
	nmt  *nmtState
	slot int
}

func (w *hbConsumerWatch) Handle(frame Frame) { w.nmt.onHeartbeat(w.slot, frame) }

type nmtState struct {
	node  *Node
	state nmtOperatingState

	producerPeriodUs uint32
	producerTimer    TimerHandle

	consumers [128]hbConsumerSlot
	watches   [128]*hbConsumerWatch

	pendingReset resetKind
}

func newNMT(n *Node) *nmtState {
	s := &nmtState{node: n, state: nmtInitialising, producerTimer: noTimer}
	n.bus.Subscribe(uint32(nmtServiceID), s)

	if e := n.od.Find(0x1017, 0); e != nil {
		s.producerPeriodUs = uint32(e.ReadU16()) * 1000
	}

	s.bootup()
	s.enterState(nmtPreOperational)
	return s
}

// Handle processes an incoming NMT command frame (COB-ID 0): byte 0 is the
// command, byte 1 the target node id (0 = broadcast to all, including
// self).
func (s *nmtState) Handle(frame Frame) {
	if frame.DLC < 2 {
		return
	}
	cmd := frame.Data[0]
	target := frame.Data[1]
	if target != 0 && target != s.node.id {
		return
	}
	s.applyCommand(cmd)
}

func (s *nmtState) applyCommand(cmd uint8) {
	switch cmd {
	case nmtCmdStart:
		s.enterState(nmtOperational)
	case nmtCmdStop:
		s.enterState(nmtStopped)
	case nmtCmdEnterPreOperational:
		s.enterState(nmtPreOperational)
	case nmtCmdResetComm:
		s.doReset(resetComm)
	case nmtCmdResetNode:
		s.doReset(resetNode)
	default:
		log.Warnf("[NMT] unknown command 0x%x", cmd)
	}
}

func (s *nmtState) enterState(newState nmtOperatingState) {
	if s.state == newState {
		return
	}
	s.state = newState
	log.Debugf("[NMT] state -> %d", newState)
}

// doReset implements the "reset communication" / "reset node" distinction
// of spec.md §12: reset-node resets every Resetter entry of the OD before
// resetting communication; reset-communication aborts SDO server transfers
// without a response, clears pending TPDO events, restarts the heartbeat
// producer and re-sends bootup.
func (s *nmtState) doReset(kind resetKind) {
	log.Infof("[NMT] reset requested, kind=%d", kind)
	if kind == resetNode {
		for _, e := range s.node.od.All() {
			if r, ok := e.Type.(Resetter); ok {
				_ = r.Reset(e, s.node, 0)
			}
		}
	}
	for _, srv := range s.node.sdoServers {
		srv.cancelWatchdog()
		srv.state = sdoServerIdle
	}
	for _, t := range s.node.tpdos {
		t.pending = false
	}
	if s.producerTimer != noTimer {
		s.node.timers.Delete(s.producerTimer)
		s.producerTimer = noTimer
	}
	s.bootup()
	s.enterState(nmtPreOperational)
}

// bootup sends the mandatory bootup message (state code 0) and arms the
// heartbeat producer if OD 0x1017 configures a non-zero period.
func (s *nmtState) bootup() {
	s.node.send(Frame{ID: uint32(heartbeatBaseID) + uint32(s.node.id), DLC: 1, Data: [8]byte{0}})
	if s.producerPeriodUs > 0 {
		h, err := s.node.timers.Create(s.producerPeriodUs, s.producerPeriodUs, producerHeartbeatTick, s)
		if err == nil {
			s.producerTimer = h
		}
	}
}

func producerHeartbeatTick(node *Node, arg interface{}) {
	s := arg.(*nmtState)
	s.node.send(Frame{ID: uint32(heartbeatBaseID) + uint32(s.node.id), DLC: 1, Data: [8]byte{stateCode(s.state)}})
}

func stateCode(state nmtOperatingState) byte {
	switch state {
	case nmtStopped:
		return 4
	case nmtOperational:
		return 5
	case nmtPreOperational:
		return 127
	default:
		return 0
	}
}

// setHeartbeatConsumer (re)configures consumer slot, called by
// hbConsumerType whenever object 0x1016 sub-index (slot+1) is written or
// initialized. nodeID == 0 or timeoutMs == 0 disables the slot.
func (s *nmtState) setHeartbeatConsumer(slot int, nodeID uint8, timeoutMs uint16) {
	if slot < 0 || slot >= len(s.consumers) {
		return
	}
	old := s.consumers[slot]
	if old.active {
		s.node.bus.Unsubscribe(uint32(heartbeatBaseID) + uint32(old.nodeID))
		s.node.timers.Delete(old.timer)
	}
	if nodeID == 0 || timeoutMs == 0 {
		s.consumers[slot] = hbConsumerSlot{timer: noTimer}
		return
	}
	watch := &hbConsumerWatch{nmt: s, slot: slot}
	s.watches[slot] = watch
	s.node.bus.Subscribe(uint32(heartbeatBaseID)+uint32(nodeID), watch)
	timeoutUs := uint32(timeoutMs) * 1000
	h, _ := s.node.timers.Create(timeoutUs, 0, heartbeatConsumerTimeout, watch)
	s.consumers[slot] = hbConsumerSlot{active: true, nodeID: nodeID, timeoutUs: timeoutUs, timer: h}
}

func (s *nmtState) onHeartbeat(slot int, frame Frame) {
	slotState := s.consumers[slot]
	if !slotState.active {
		return
	}
	s.node.timers.Delete(slotState.timer)
	h, _ := s.node.timers.Create(slotState.timeoutUs, 0, heartbeatConsumerTimeout, s.watches[slot])
	s.consumers[slot].timer = h
}

func heartbeatConsumerTimeout(node *Node, arg interface{}) {
	w := arg.(*hbConsumerWatch)
	log.Warnf("[NMT] heartbeat consumer timeout for node %d", w.nmt.consumers[w.slot].nodeID)
	w.nmt.node.emcy.Raise(true, emErrHeartbeatConsumer, emcHeartbeat, 0)
	w.nmt.consumers[w.slot].active = false
}

func (s *nmtState) process(elapsedUs uint32) {}
