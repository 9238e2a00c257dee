package canopen

import "bytes"

// paramGroupType implements a parameter-group object (spec.md §4.2): a
// contiguous block of the Object Dictionary that is saved to and restored
// from non-volatile memory as a unit, driven by the store (0x1010) and
// restore (0x1011) command objects (spec.md §12 supplement, grounded on
// original_source/co_para.h). Reset copies the group's compiled-in
// defaults over its live storage, implementing NMT "Restore Default
// Parameters"; Save copies the live storage out to NVM at nvmOffset.
type paramGroupType struct {
	nvmOffset uint32
	defaults  []byte
	dirty     bool
}

func newParamGroupType(nvmOffset uint32, defaults []byte) *paramGroupType {
	cp := make([]byte, len(defaults))
	copy(cp, defaults)
	return &paramGroupType{nvmOffset: nvmOffset, defaults: cp}
}

func (t *paramGroupType) Size(entry *Entry, node *Node, width uint16) uint32 {
	return uint32(len(entry.data))
}

func (t *paramGroupType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if len(buf) < len(entry.data) {
		return 0, ErrDataShort
	}
	return copy(buf, entry.data), nil
}

func (t *paramGroupType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) != len(entry.data) {
		return ErrObjRange
	}
	copy(entry.data, buf)
	t.dirty = true
	return nil
}

// Init loads the group from NVM at boot, falling back to defaults when
// there is no NVM driver or the NVM read fails or returns fewer bytes than
// the group holds. No signature is stored beside the group, so a region that
// was never written (e.g. 0xFF-filled) is loaded as the group's values.
func (t *paramGroupType) Init(entry *Entry, node *Node) error {
	if node == nil || node.NVM() == nil {
		copy(entry.data, t.defaults)
		return nil
	}
	n, err := node.NVM().Read(t.nvmOffset, entry.data)
	if err != nil || n != len(entry.data) {
		copy(entry.data, t.defaults)
	}
	return nil
}

// Reset restores this group's defaults, ignoring param (groups are not
// individually parameterized by signature value beyond "do the restore").
func (t *paramGroupType) Reset(entry *Entry, node *Node, param uint32) error {
	copy(entry.data, t.defaults)
	t.dirty = true
	return nil
}

// Save flushes the group's live values to NVM, invoked by the 0x1010
// store-parameters command object when the client writes the "save"
// signature (ASCII "save", 0x65766173) to the matching sub-index.
func (t *paramGroupType) Save(entry *Entry, node *Node) error {
	if node == nil || node.NVM() == nil {
		return ErrIfInit
	}
	n, err := node.NVM().Write(t.nvmOffset, entry.data)
	if err != nil || n != len(entry.data) {
		return ErrIfInit
	}
	t.dirty = false
	return nil
}

// saveSignature/loadSignature are the ASCII command words CiA 301 §7.5.2.9
// /.10 require on the matching sub-index before a store/restore actually
// takes effect - a defense against a client writing to 0x1010/0x1011 by
// accident.
var (
	saveSignature = []byte{'s', 'a', 'v', 'e'}
	loadSignature = []byte{'l', 'o', 'a', 'd'}
)

// storeCommandType implements object 0x1010 "store parameters": writing the
// save signature to sub-index slot+2 flushes that parameter group (sub-index
// 1, slot -1, addresses every registered group), mirroring original_source's
// co_para.h store command, which the teacher never implemented.
type storeCommandType struct {
	slot int // -1 = every group, >=0 = node.paramGroups[slot]
}

func newStoreCommandType(slot int) *storeCommandType { return &storeCommandType{slot: slot} }

func (t *storeCommandType) Size(entry *Entry, node *Node, width uint16) uint32 { return 4 }

func (t *storeCommandType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrDataShort
	}
	putUint32(buf, 1) // "save on command" supported, no auto-save
	return 4, nil
}

func (t *storeCommandType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) != 4 {
		return ErrObjRange
	}
	if !bytes.Equal(buf, saveSignature) {
		return ErrObjRange
	}
	if node == nil {
		return ErrIfInit
	}
	return t.apply(node)
}

func (t *storeCommandType) apply(node *Node) error {
	if t.slot < 0 {
		for _, g := range node.paramGroups {
			if err := g.Type.(*paramGroupType).Save(g, node); err != nil {
				return err
			}
		}
		return nil
	}
	if t.slot >= len(node.paramGroups) {
		return ErrObjNotFound
	}
	g := node.paramGroups[t.slot]
	return g.Type.(*paramGroupType).Save(g, node)
}

// restoreCommandType implements object 0x1011 "restore default parameters":
// writing the load signature to sub-index slot+2 resets that group (sub-index
// 1, slot -1, addresses every registered group) to its compiled-in defaults, CiA 301
// §7.5.2.10.
type restoreCommandType struct {
	slot int
}

func newRestoreCommandType(slot int) *restoreCommandType { return &restoreCommandType{slot: slot} }

func (t *restoreCommandType) Size(entry *Entry, node *Node, width uint16) uint32 { return 4 }

func (t *restoreCommandType) Read(entry *Entry, node *Node, buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrDataShort
	}
	putUint32(buf, 1)
	return 4, nil
}

func (t *restoreCommandType) Write(entry *Entry, node *Node, buf []byte) error {
	if len(buf) != 4 {
		return ErrObjRange
	}
	if !bytes.Equal(buf, loadSignature) {
		return ErrObjRange
	}
	if node == nil {
		return ErrIfInit
	}
	if t.slot < 0 {
		for _, g := range node.paramGroups {
			if err := resetEntry(g, node, 0); err != nil {
				return err
			}
		}
		return nil
	}
	if t.slot >= len(node.paramGroups) {
		return ErrObjNotFound
	}
	return resetEntry(node.paramGroups[t.slot], node, 0)
}
