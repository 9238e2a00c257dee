package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOD() *ObjectDictionary {
	return NewObjectDictionary([]*Entry{
		NewEntry(0x2000, 0, FlagPDOMappable|FlagAsyncNotify, typeU16, []byte{0, 0}),
		NewEntry(0x2001, 0, FlagReadOnly, typeU8, []byte{42}),
		NewEntry(0x2002, 0, FlagWriteOnly, typeU32, []byte{0, 0, 0, 0}),
	})
}

func TestObjectDictionaryFind(t *testing.T) {
	od := newTestOD()

	e := od.Find(0x2001, 0)
	require.NotNil(t, e)
	assert.Equal(t, uint16(0x2001), e.Index())

	assert.Nil(t, od.Find(0x3000, 0))
}

func TestObjectDictionaryReadWriteValue(t *testing.T) {
	od := newTestOD()
	node := &Node{od: od}

	buf := make([]byte, 2)
	n, err := od.ReadValue(node, 0x2000, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0, 0}, buf)

	err = od.WriteValue(node, 0x2000, 0, []byte{0x34, 0x12})
	require.NoError(t, err)
	n, err = od.ReadValue(node, 0x2000, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x34, 0x12}, buf)
}

func TestObjectDictionaryPermissions(t *testing.T) {
	od := newTestOD()
	node := &Node{od: od}

	_, err := od.ReadValue(node, 0x2002, 0, make([]byte, 4))
	assert.ErrorIs(t, err, ErrObjRead)

	err = od.WriteValue(node, 0x2001, 0, []byte{1})
	assert.ErrorIs(t, err, ErrObjWrite)
}

func TestObjectDictionaryNotFound(t *testing.T) {
	od := newTestOD()
	node := &Node{od: od}

	_, err := od.ReadValue(node, 0x9999, 0, make([]byte, 4))
	assert.ErrorIs(t, err, ErrObjNotFound)
}

func TestScalarNodeIDRelativeRoundTrip(t *testing.T) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x2003, 0, FlagNodeIDRelative, typeU16, []byte{0, 0}),
	})
	n, _ := newTestNode(od, Limits{}) // node id 0x20

	require.NoError(t, n.od.WriteValue(n, 0x2003, 0, []byte{0x88, 0x13})) // 5000

	buf := make([]byte, 2)
	_, err := n.od.ReadValue(n, 0x2003, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(5000), getUint16(buf))
}

func TestObjectDictionaryDuplicateInsertLaterWins(t *testing.T) {
	od := NewObjectDictionary([]*Entry{
		NewEntry(0x2000, 0, 0, typeU8, []byte{1}),
		NewEntry(0x2000, 0, 0, typeU8, []byte{2}),
	})
	e := od.Find(0x2000, 0)
	require.NotNil(t, e)
	assert.Equal(t, uint8(2), e.ReadU8())
	assert.Len(t, od.All(), 1)
}
