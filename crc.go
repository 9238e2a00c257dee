package canopen

// CRC16 implements the CRC-CCITT (polynomial 0x1021, initial value 0) used
// by SDO block transfer's optional end-of-block check (CiA 301
// §7.2.4.3.17, spec.md §9 open question (a), resolved in DESIGN.md). The
// teacher repo references this algorithm (crc_test.go, internal/crc) but
// ships no source for it; it is reimplemented here against the standard
// bit-wise definition rather than invented.
type CRC16 uint16

// ccittSingle folds one byte into the running CRC.
func (c *CRC16) ccittSingle(b byte) {
	crc := uint16(*c)
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	*c = CRC16(crc)
}

// ccittBlock folds a whole buffer into the running CRC.
func (c *CRC16) ccittBlock(data []byte) {
	for _, b := range data {
		c.ccittSingle(b)
	}
}
