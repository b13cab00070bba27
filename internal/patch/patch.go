// Package patch maps a raw DMX universe onto per-fixture light state.
//
// Fixture n occupies the 11 slots starting at 11*n. Within that footprint
// pan, tilt, red, green, blue and white sit at offsets 0, 1, 4, 5, 6 and 7;
// the remaining slots are fine-control channels the relay ignores.
package patch

import "github.com/drblury/dmxrelay/internal/protocol"

const (
	// Footprint is the number of DMX slots reserved per fixture.
	Footprint = 11
	// UniverseSize is the number of slots in one DMX universe.
	UniverseSize = 512

	offsetPan   = 0
	offsetTilt  = 1
	offsetRed   = 4
	offsetGreen = 5
	offsetBlue  = 6
	offsetWhite = 7
)

// Lights returns the light state of every fixture in ids, in order. A fixture
// whose slots fall outside the universe or outside buf is skipped.
func Lights(buf []byte, ids []uint32) []protocol.Light {
	out := make([]protocol.Light, 0, len(ids))
	for _, id := range ids {
		l, ok := Light(buf, id)
		if !ok {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Light reads one fixture from buf.
func Light(buf []byte, id uint32) (protocol.Light, bool) {
	base := uint64(id) * Footprint
	last := base + offsetWhite
	if last >= UniverseSize || last >= uint64(len(buf)) {
		return protocol.Light{}, false
	}
	return protocol.Light{
		ID:    id,
		Pan:   buf[base+offsetPan],
		Tilt:  buf[base+offsetTilt],
		Red:   buf[base+offsetRed],
		Green: buf[base+offsetGreen],
		Blue:  buf[base+offsetBlue],
		White: buf[base+offsetWhite],
	}, true
}
