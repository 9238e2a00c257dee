package canopen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// CiA 306 Electronic Data Sheet object-type codes (the [xxxx]ObjectType key).
const (
	edsObjDomain byte = 0x02
	edsObjVar    byte = 0x07
	edsObjArray  byte = 0x08
	edsObjRecord byte = 0x09
)

// CiA 301 §7.4 data types, the [xxxx]DataType key. Width drives which
// scalarType (or string/domain type) an entry gets.
const (
	edsBoolean       uint16 = 0x0001
	edsInteger8      uint16 = 0x0002
	edsInteger16     uint16 = 0x0003
	edsInteger32     uint16 = 0x0004
	edsUnsigned8     uint16 = 0x0005
	edsUnsigned16    uint16 = 0x0006
	edsUnsigned32    uint16 = 0x0007
	edsReal32        uint16 = 0x0008
	edsVisibleString uint16 = 0x0009
	edsOctetString   uint16 = 0x000A
	edsDomain        uint16 = 0x000F
	edsInteger48     uint16 = 0x0010
	edsUnsigned48    uint16 = 0x0018
	edsReal64        uint16 = 0x0011
	edsInteger64     uint16 = 0x0015
	edsUnsigned64    uint16 = 0x001B
)

var (
	edsIndexRe = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	edsSubRe   = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)
)

// LoadEDS builds an Object Dictionary from a CiA 306 Electronic Data Sheet
// file, the on-disk description format every CANopen configuration tool
// reads and writes. nodeID substitutes any "$NODEID" token in a
// DefaultValue (CiA 306 §3.2) so one EDS serves every unit of a product
// line; ParameterValue keys are not read. Rebuilt from the teacher's od_parser.go section-regex
// scan against the packed-key Entry/ObjectType model instead of the old
// Variable/Array/Record trio.
func LoadEDS(path string, nodeID uint8) (*ObjectDictionary, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("eds: %w", err)
	}
	return buildODFromEDS(f, nodeID)
}

func buildODFromEDS(f *ini.File, nodeID uint8) (*ObjectDictionary, error) {
	od := NewObjectDictionary(nil)
	for _, section := range f.Sections() {
		name := section.Name()

		if edsIndexRe.MatchString(name) {
			idx, _ := strconv.ParseUint(name, 16, 16)
			index := uint16(idx)
			objType := edsObjVar
			if v, err := section.GetKey("ObjectType"); err == nil {
				n, err := strconv.ParseUint(strings.TrimSpace(v.Value()), 0, 8)
				if err == nil {
					objType = byte(n)
				}
			}
			switch objType {
			case edsObjVar, edsObjDomain:
				e, err := buildEDSVariable(section, index, 0, nodeID)
				if err != nil {
					return nil, fmt.Errorf("eds x%x: %w", index, err)
				}
				od.insert(e)
			case edsObjArray, edsObjRecord:
				// sub0 (element count) is built from the section's own
				// DataType/DefaultValue like a plain variable; the element
				// entries themselves arrive as separate "xxxxsubYY" sections.
				e, err := buildEDSVariable(section, index, 0, nodeID)
				if err == nil {
					od.insert(e)
				}
			default:
				log.Warnf("[EDS] x%x: unsupported ObjectType x%x, skipping", index, objType)
			}
			continue
		}

		if m := edsSubRe.FindStringSubmatch(name); m != nil {
			idx, _ := strconv.ParseUint(m[1], 16, 16)
			sub, _ := strconv.ParseUint(m[2], 16, 8)
			e, err := buildEDSVariable(section, uint16(idx), uint8(sub), nodeID)
			if err != nil {
				return nil, fmt.Errorf("eds x%x:x%x: %w", idx, sub, err)
			}
			od.insert(e)
		}
	}
	return od, nil
}

func buildEDSVariable(section *ini.Section, index uint16, sub uint8, nodeID uint8) (*Entry, error) {
	name := section.Key("ParameterName").Value()

	dataType := edsUnsigned32
	if v, err := section.GetKey("DataType"); err == nil {
		n, err := strconv.ParseUint(strings.TrimSpace(v.Value()), 0, 16)
		if err == nil {
			dataType = uint16(n)
		}
	}

	flags := edsFlags(section)

	var typ ObjectType
	var width int
	if special, specialWidth := specialEDSType(index, sub); special != nil {
		typ, width = special, specialWidth
	} else {
		switch dataType {
		case edsBoolean, edsInteger8, edsUnsigned8:
			typ, width = typeU8, 1
		case edsInteger16, edsUnsigned16:
			typ, width = typeU16, 2
		case edsInteger32, edsUnsigned32, edsReal32:
			typ, width = typeU32, 4
		case edsInteger48, edsUnsigned48:
			typ, width = typeU48, 6
		case edsInteger64, edsUnsigned64, edsReal64:
			typ, width = typeU64, 8
		case edsVisibleString, edsOctetString:
			typ = typeString
		case edsDomain:
			typ = newDomainType(0)
		default:
			return nil, fmt.Errorf("unsupported data type x%x", dataType)
		}
	}

	var data []byte
	if def, err := section.GetKey("DefaultValue"); err == nil {
		data = parseEDSValue(def.Value(), width, nodeID)
	} else if width > 0 {
		data = make([]byte, width)
	}
	if width == 0 && data == nil {
		data = []byte{}
	}

	e := NewEntry(index, sub, flags, typ, data)
	e.Name = name
	return e, nil
}

// specialEDSType recognizes the handful of CiA 301 indices whose behavior
// is more than "store N bytes little-endian" - COB-ID entries, PDO
// transmission type, the heartbeat consumer table and the store/restore
// command objects - and returns the object type (plus its fixed width)
// that should back them instead of a plain scalarType. Returns a nil type
// for every ordinary index, so the generic DataType switch in
// buildEDSVariable runs unchanged.
func specialEDSType(index uint16, sub uint8) (ObjectType, int) {
	switch {
	case sub == 1 && ((index >= 0x1200 && index <= 0x12FF) ||
		(index >= 0x1400 && index <= 0x15FF) ||
		(index >= 0x1800 && index <= 0x19FF)):
		return typeCobID, 4
	case sub == 0 && index == 0x1014:
		return typeCobID, 4
	case sub == 2 && ((index >= 0x1400 && index <= 0x15FF) || (index >= 0x1800 && index <= 0x19FF)):
		return typeTransmissionType, 1
	case index == 0x1016 && sub > 0:
		return newHBConsumerType(int(sub) - 1), 4
	case index == 0x1010 && sub > 0:
		slot := int(sub) - 2 // sub 1 = "save all" (slot -1), sub N>1 = group N-2
		return newStoreCommandType(slot), 4
	case index == 0x1011 && sub > 0:
		slot := int(sub) - 2
		return newRestoreCommandType(slot), 4
	default:
		return nil, 0
	}
}

// edsFlags derives an entry's Flags from its AccessType and PDOMapping
// keys, CiA 306 §4.6.3/§4.6.7.
func edsFlags(section *ini.Section) Flags {
	var flags Flags
	access := "rw"
	if v, err := section.GetKey("AccessType"); err == nil {
		access = strings.ToLower(strings.TrimSpace(v.Value()))
	}
	switch access {
	case "ro", "const":
		flags |= FlagReadOnly
	case "wo":
		flags |= FlagWriteOnly
	}
	if v, err := section.GetKey("PDOMapping"); err == nil {
		if b, err := v.Bool(); err == nil && b {
			flags |= FlagPDOMappable
		}
	}
	return flags
}

// parseEDSValue decodes an EDS DefaultValue string into little-endian raw
// bytes. "$NODEID+0x200" style expressions (CiA 306 §3.2) resolve against
// nodeID; anything else is parsed as a plain integer.
func parseEDSValue(raw string, width int, nodeID uint8) []byte {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if width == 0 {
			return []byte{}
		}
		return make([]byte, width)
	}
	if strings.Contains(raw, "$NODEID") {
		expr := strings.ReplaceAll(raw, "$NODEID", strconv.Itoa(int(nodeID)))
		expr = strings.ReplaceAll(expr, "+", " + ")
		return encodeEDSExpr(expr, width)
	}
	if width == 0 {
		return []byte(raw)
	}
	v, err := strconv.ParseUint(raw, 0, width*8)
	if err != nil {
		return make([]byte, width)
	}
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		putUint16(buf, uint16(v))
	case 4:
		putUint32(buf, uint32(v))
	case 6:
		put48(buf, v)
	case 8:
		putUint64(buf, v)
	}
	return buf
}

// encodeEDSExpr evaluates a simple "base + offset" expression such as
// "64 + 0x200" produced after $NODEID substitution.
func encodeEDSExpr(expr string, width int) []byte {
	parts := strings.Fields(expr)
	var total int64
	op := int64(1)
	for _, p := range parts {
		switch p {
		case "+":
			op = 1
			continue
		case "-":
			op = -1
			continue
		}
		n, err := strconv.ParseInt(p, 0, 64)
		if err != nil {
			continue
		}
		total += op * n
	}
	if width == 0 {
		width = 4
	}
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(total)
	case 2:
		putUint16(buf, uint16(total))
	case 4:
		putUint32(buf, uint32(total))
	case 6:
		put48(buf, uint64(total))
	case 8:
		putUint64(buf, uint64(total))
	}
	return buf
}
