package canopen

// Transmission-type values, CiA 301 §7.5.5 table 23. Kept from the
// teacher's pdo_common.go constant names.
const (
	pdoTransmAcyclic  uint8 = 0
	pdoTransmSync1    uint8 = 1
	pdoTransmSync240  uint8 = 240
	pdoTransmEventLow uint8 = 254
	pdoTransmEventHi  uint8 = 255
)

// pdoMapEntry is one resolved slot of a PDO's mapping table: the target OD
// entry plus its mapped byte length. Mapping is assumed byte-aligned
// (every CiA 301 default-profile object is), which keeps gather/scatter a
// plain byte copy instead of a bit-packer - see DESIGN.md for why sub-byte
// packing was not implemented.
type pdoMapEntry struct {
	entry  *Entry
	nbytes uint8
}

// resolvePDOMap reads sub-index 0 (count) and sub-indexes 1..count of the
// mapping object at mapIndex and resolves each into a pdoMapEntry. Invalid
// entries are skipped (they were already rejected at mapping-commit time
// by pdoMappingCountType.Write, so this should always succeed for any
// mapping the OD accepted).
func resolvePDOMap(od *ObjectDictionary, mapIndex uint16) []pdoMapEntry {
	countEntry := od.Find(mapIndex, 0)
	if countEntry == nil {
		return nil
	}
	count := countEntry.ReadU8()
	mapped := make([]pdoMapEntry, 0, count)
	for sub := uint8(1); sub <= count; sub++ {
		e := od.Find(mapIndex, sub)
		if e == nil {
			continue
		}
		raw := e.ReadU32()
		targetIndex := uint16(raw >> 16)
		targetSub := uint8(raw >> 8)
		bitLen := uint8(raw)
		target := od.Find(targetIndex, targetSub)
		if target == nil {
			continue
		}
		mapped = append(mapped, pdoMapEntry{entry: target, nbytes: bitLen / 8})
	}
	return mapped
}

// gatherPDOMap packs every mapped entry's current value into buf in
// order, returning the number of bytes written.
func gatherPDOMap(mapped []pdoMapEntry, buf []byte) int {
	n := 0
	for _, m := range mapped {
		if n+int(m.nbytes) > len(buf) {
			break
		}
		copy(buf[n:n+int(m.nbytes)], m.entry.data[:m.nbytes])
		n += int(m.nbytes)
	}
	return n
}

// scatterPDOMap writes buf's bytes into each mapped entry in order, per
// spec.md §4.4 RPDO receive - it bypasses the entry's own Write validation
// since RPDO scatter is not subject to SDO access-control semantics (CiA
// 301 §7.5.5: PDO writes are unconditional on the mapped variable).
func scatterPDOMap(mapped []pdoMapEntry, buf []byte) {
	n := 0
	for _, m := range mapped {
		if n+int(m.nbytes) > len(buf) {
			break
		}
		copy(m.entry.data[:m.nbytes], buf[n:n+int(m.nbytes)])
		n += int(m.nbytes)
	}
}

func mappedTotalBytes(mapped []pdoMapEntry) int {
	n := 0
	for _, m := range mapped {
		n += int(m.nbytes)
	}
	return n
}
