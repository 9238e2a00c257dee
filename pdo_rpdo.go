package canopen

import log "github.com/sirupsen/logrus"

// rpdo implements one Receive PDO channel: communication parameters at
// commIndex (0x1400+n), mapping table at mapIndex (0x1600+n), CiA 301
// §7.5.5. Scatter on receipt happens immediately rather than deferred to
// the next SYNC for every transmission type, a simplification over full
// synchronous-RPDO buffering noted in DESIGN.md; onSync exists so a future
// buffered-apply mode has somewhere to hook in without changing Handle's
// signature.
type rpdo struct {
	node *Node

	commIndex uint16
	mapIndex  uint16

	cobID     uint32
	valid     bool
	transType uint8

	mapped       []pdoMapEntry
	failureCount uint32
}

func newRPDO(n *Node, i int) *rpdo {
	commIndex := uint16(0x1400 + i)
	mapIndex := uint16(0x1600 + i)
	commEntry := n.od.Find(commIndex, 1)
	if commEntry == nil {
		return nil
	}
	r := &rpdo{node: n, commIndex: commIndex, mapIndex: mapIndex}
	r.loadCommParams()
	r.rebuildMap()
	if r.valid {
		n.bus.Subscribe(r.cobID, r)
	}
	return r
}

func (r *rpdo) loadCommParams() {
	od := r.node.od
	if e := od.Find(r.commIndex, 1); e != nil {
		r.valid = !e.IsDisabled()
		r.cobID = e.CobID()
	}
	if e := od.Find(r.commIndex, 2); e != nil {
		r.transType = e.ReadU8()
	}
}

func (r *rpdo) rebuildMap() {
	r.mapped = resolvePDOMap(r.node.od, r.mapIndex)
}

// reloadCommParams re-reads the comm-parameter object after a live SDO
// write to its COB-ID sub-entry and re-subscribes to the bus if the valid
// bit or the identifier itself changed, so enabling/disabling or
// re-targeting an RPDO at runtime takes effect immediately instead of only
// at construction.
func (r *rpdo) reloadCommParams() {
	wasValid, oldCobID := r.valid, r.cobID
	r.loadCommParams()
	if wasValid {
		r.node.bus.Unsubscribe(oldCobID)
	}
	if r.valid {
		r.node.bus.Subscribe(r.cobID, r)
	}
}

// Handle scatters an incoming RPDO frame into its mapped entries. Length
// mismatches and receipt while not Operational are counted but never
// abort the node, spec.md §4.4 "failure counting without node abort".
func (r *rpdo) Handle(frame Frame) {
	if !r.valid {
		r.failureCount++
		return
	}
	if r.node.nmt.state != nmtOperational {
		r.failureCount++
		return
	}
	want := mappedTotalBytes(r.mapped)
	if int(frame.DLC) != want {
		r.failureCount++
		log.Warnf("[RPDO][x%x] length mismatch: got %d, want %d", r.cobID, frame.DLC, want)
		return
	}
	scatterPDOMap(r.mapped, frame.Data[:frame.DLC])
}

func (r *rpdo) onSync(counter uint8) {}
