package canopen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEDSContent = `[2000]
ParameterName=Test Unsigned16
ObjectType=0x7
DataType=0x0006
AccessType=rw
DefaultValue=0x64
PDOMapping=1

[2001]
ParameterName=Node ID Offset
ObjectType=0x7
DataType=0x0005
AccessType=ro
DefaultValue=$NODEID+0x10

[1014]
ParameterName=COB-ID EMCY
ObjectType=0x7
DataType=0x0007
AccessType=rw
DefaultValue=0x80

[1016]
ParameterName=Consumer Heartbeat Time
ObjectType=0x9
DataType=0x0007
AccessType=rw
SubNumber=2

[1016sub1]
ParameterName=Consumer Heartbeat Time 1
DataType=0x0007
AccessType=rw
DefaultValue=0x00000000

[1010]
ParameterName=Store Parameters
ObjectType=0x9
DataType=0x0007
AccessType=ro
SubNumber=2

[1010sub1]
ParameterName=Save All Parameters
DataType=0x0007
AccessType=rw
DefaultValue=0
`

func writeTestEDS(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.eds")
	require.NoError(t, os.WriteFile(path, []byte(testEDSContent), 0o600))
	return path
}

func TestLoadEDSParsesScalarWithDefault(t *testing.T) {
	path := writeTestEDS(t)

	od, err := LoadEDS(path, 0x20)
	require.NoError(t, err)

	e := od.Find(0x2000, 0)
	require.NotNil(t, e)
	assert.Equal(t, uint16(0x64), e.ReadU16())
	assert.True(t, e.Mappable())
}

func TestLoadEDSSubstitutesNodeID(t *testing.T) {
	path := writeTestEDS(t)

	od, err := LoadEDS(path, 0x20)
	require.NoError(t, err)

	e := od.Find(0x2001, 0)
	require.NotNil(t, e)
	assert.Equal(t, uint8(0x30), e.ReadU8()) // $NODEID(0x20) + 0x10
}

func TestLoadEDSAssignsCobIDType(t *testing.T) {
	path := writeTestEDS(t)

	od, err := LoadEDS(path, 0x20)
	require.NoError(t, err)

	e := od.Find(0x1014, 0)
	require.NotNil(t, e)
	_, ok := e.Type.(*cobIDType)
	assert.True(t, ok)
}

func TestLoadEDSAssignsHeartbeatConsumerType(t *testing.T) {
	path := writeTestEDS(t)

	od, err := LoadEDS(path, 0x20)
	require.NoError(t, err)

	e := od.Find(0x1016, 1)
	require.NotNil(t, e)
	_, ok := e.Type.(*hbConsumerType)
	assert.True(t, ok)
}

func TestLoadEDSAssignsStoreCommandType(t *testing.T) {
	path := writeTestEDS(t)

	od, err := LoadEDS(path, 0x20)
	require.NoError(t, err)

	e := od.Find(0x1010, 1)
	require.NotNil(t, e)
	_, ok := e.Type.(*storeCommandType)
	assert.True(t, ok)
}
