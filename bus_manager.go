package canopen

import (
	log "github.com/sirupsen/logrus"
)

// Max standard CAN identifier is 0x7FF (2047); extended 29-bit frames are
// not used by CiA 301 COB-IDs and are rejected by the dispatcher.
const maxStandardID = 0x7FF

// busManager owns the CANDriver and dispatches received frames to
// subscribers by COB-ID, mirroring the teacher's busManager/CANModule
// rx-buffer table but array-indexed directly on the identifier (no mutex:
// everything here runs from node_process, single threaded, spec.md §5).
type busManager struct {
	drv       CANDriver
	listeners [maxStandardID + 1]FrameHandler
	lastErr   error
}

func newBusManager(drv CANDriver) *busManager {
	return &busManager{drv: drv}
}

// Subscribe registers handler as the receiver for cobID. A COB-ID may have
// at most one subscriber at a time; re-subscribing replaces the previous
// one (this is how re-arming an SDO server or enabling a PDO works).
func (bm *busManager) Subscribe(cobID uint32, handler FrameHandler) error {
	if cobID > maxStandardID {
		return ErrBadArg
	}
	bm.listeners[cobID] = handler
	return nil
}

func (bm *busManager) Unsubscribe(cobID uint32) {
	if cobID > maxStandardID {
		return
	}
	bm.listeners[cobID] = nil
}

// Send transmits a frame through the driver. Failures latch bm.lastErr and
// are returned to the caller; the core never panics or retries on its own
// (spec.md §7).
func (bm *busManager) Send(frame Frame) error {
	err := bm.drv.Send(frame)
	if err != nil {
		bm.lastErr = err
		log.Warnf("[CAN][TX] send failed for id x%x: %v", frame.ID, err)
	}
	return err
}

// drain reads every frame currently queued by the driver and dispatches it
// to the matching subscriber, in driver-return order (spec.md §5 ordering
// guarantee). It is called once per node_process invocation.
func (bm *busManager) drain() {
	for {
		frame, ok, err := bm.drv.Read()
		if err != nil {
			bm.lastErr = err
			log.Warnf("[CAN][RX] read failed: %v", err)
			return
		}
		if !ok {
			return
		}
		id := frame.CobID()
		if frame.IsExtended() || id > maxStandardID {
			continue
		}
		if handler := bm.listeners[id]; handler != nil {
			handler.Handle(frame)
		}
	}
}
