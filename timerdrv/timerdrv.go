// Package timerdrv provides a TimerDriver backed by the host clock, for
// running a node on a Linux/Unix host rather than the bare-metal hardware
// timer/counter the original stack targets (co_if_timer.c).
package timerdrv

import (
	"time"

	"github.com/coriolis-labs/conode"
)

// Host is a TimerDriver measuring elapsed microseconds with time.Now,
// standing in for a hardware free-running counter. Update is polled from
// node.Process and never blocks.
type Host struct {
	freqHz uint32
	last   time.Time
	running bool
}

func NewHost() *Host { return &Host{} }

func (h *Host) Init(freqHz uint32) error {
	h.freqHz = freqHz
	h.last = time.Now()
	return nil
}

func (h *Host) Start() error {
	h.running = true
	h.last = time.Now()
	return nil
}

func (h *Host) Stop() error {
	h.running = false
	return nil
}

func (h *Host) Reload(ticks uint32) error { return nil }

func (h *Host) Delay() uint32 { return 0 }

// Update reports elapsed microseconds since the previous call.
func (h *Host) Update() (uint32, bool) {
	if !h.running {
		return 0, false
	}
	now := time.Now()
	elapsed := now.Sub(h.last)
	h.last = now
	if elapsed <= 0 {
		return 0, false
	}
	return uint32(elapsed.Microseconds()), true
}

var _ canopen.TimerDriver = (*Host)(nil)
