package canopen

// SDO command specifiers, CiA 301 §7.2.4 table 18/19 - the 3 high bits of
// byte 0 of every SDO frame.
const (
	sdoCcsDownloadSegment uint8 = 0
	sdoCcsDownloadInit    uint8 = 1
	sdoCcsUploadInit      uint8 = 2
	sdoCcsUploadSegment   uint8 = 3
	sdoCcsAbort           uint8 = 4
	sdoCcsBlockUpload     uint8 = 5
	sdoCcsBlockDownload   uint8 = 6
)

const sdoAbortByte uint8 = 0x80

// Block transfer sub-commands, CiA 301 §7.2.4.3.17, carried in the two low
// bits of byte 0 alongside the block ccs.
const (
	sdoBlockSubInitiate uint8 = 0
	sdoBlockSubEnd      uint8 = 1
	sdoBlockSubCRC      uint8 = 2 // "start" acknowledgement carrying cs=3 on some stacks; kept generic
)

const sdoBlockSegmentSize = 7 // 7 data bytes + 1 seqno byte per block segment

func ccs(b byte) uint8 { return b >> 5 }

func buildAbortFrame(cobID uint32, index uint16, sub uint8, code AbortCode) Frame {
	var data [8]byte
	data[0] = sdoAbortByte
	putUint16(data[1:3], index)
	data[3] = sub
	putUint32(data[4:8], uint32(code))
	return Frame{ID: cobID, DLC: 8, Data: data}
}

// sdoWatchdogTimeoutUs bounds how long a multi-segment transfer may sit
// idle before the server/client aborts it (CiA 301 §7.2.4.3 "SDO
// protocol timed out"), spec.md §4.3.
const sdoWatchdogTimeoutUs = 1_000_000
