package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/dmxrelay/internal/protocol"
)

func TestLightsReadsFixtureSlots(t *testing.T) {
	buf := make([]byte, UniverseSize)
	for i := 11; i < 22; i++ {
		buf[i] = byte(i - 10)
	}

	got := Lights(buf, []uint32{1})
	require.Len(t, got, 1)
	assert.Equal(t, protocol.Light{ID: 1, Pan: 1, Tilt: 2, Red: 5, Green: 6, Blue: 7, White: 8}, got[0])
}

func TestLightsKeepsIDOrder(t *testing.T) {
	buf := make([]byte, UniverseSize)
	buf[0] = 10
	buf[22] = 30

	got := Lights(buf, []uint32{2, 0})
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].ID)
	assert.Equal(t, uint8(30), got[0].Pan)
	assert.Equal(t, uint32(0), got[1].ID)
	assert.Equal(t, uint8(10), got[1].Pan)
}

func TestLightsSkipsFixturesPastUniverse(t *testing.T) {
	// Fixture 46 spans slots 506..513; its white slot is 513.
	buf := make([]byte, 520)
	for i := range buf {
		buf[i] = 0xff
	}

	got := Lights(buf, []uint32{46, 45})
	require.Len(t, got, 1, "later fixtures are still processed")
	assert.Equal(t, uint32(45), got[0].ID)
	assert.Equal(t, uint8(0xff), got[0].White)
}

func TestLightsSkipsFixturesPastShortBuffer(t *testing.T) {
	buf := make([]byte, 18)

	got := Lights(buf, []uint32{0, 1, 2})
	require.Len(t, got, 1)
	assert.Equal(t, uint32(0), got[0].ID)
}

func TestLightLastSlotBoundary(t *testing.T) {
	buf := make([]byte, UniverseSize)

	// 11*45+7 = 502 fits; nothing with a white slot above 511 does.
	_, ok := Light(buf, 45)
	assert.True(t, ok)
	_, ok = Light(buf, 46)
	assert.False(t, ok)
	_, ok = Light(buf, ^uint32(0))
	assert.False(t, ok)
}

func TestLightsEmpty(t *testing.T) {
	assert.Empty(t, Lights(nil, []uint32{0}))
	assert.Empty(t, Lights(make([]byte, UniverseSize), nil))
}
