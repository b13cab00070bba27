package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Art-Net ArtDmx layout.
const (
	artNetHeaderSize = 18
	artNetOpDmx      = 0x5000
	artNetMaxData    = 512
)

var artNetID = []byte("Art-Net\x00")

// ParseArtDmx extracts the universe and slot data of an ArtDmx packet. ok is
// false for anything that is not a well-formed ArtDmx packet, including
// other Art-Net opcodes such as ArtPoll.
func ParseArtDmx(pkt []byte) (universe int, data []byte, ok bool) {
	if len(pkt) < artNetHeaderSize || !bytes.Equal(pkt[:8], artNetID) {
		return 0, nil, false
	}
	if binary.LittleEndian.Uint16(pkt[8:10]) != artNetOpDmx {
		return 0, nil, false
	}
	// SubUni holds the low byte, Net the high seven bits.
	universe = int(pkt[15]&0x7f)<<8 | int(pkt[14])
	length := int(binary.BigEndian.Uint16(pkt[16:18]))
	if length == 0 || length > artNetMaxData || len(pkt) < artNetHeaderSize+length {
		return 0, nil, false
	}
	return universe, pkt[artNetHeaderSize : artNetHeaderSize+length], true
}

// AppendArtDmx appends an ArtDmx packet carrying data for universe to dst.
func AppendArtDmx(dst []byte, universe int, sequence uint8, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > artNetMaxData {
		return dst, fmt.Errorf("artdmx data length %d out of range", len(data))
	}
	if universe < 0 || universe > 0x7fff {
		return dst, fmt.Errorf("artdmx universe %d out of range", universe)
	}
	dst = append(dst, artNetID...)
	dst = binary.LittleEndian.AppendUint16(dst, artNetOpDmx)
	dst = append(dst, 0, 14) // protocol version 14
	dst = append(dst, sequence, 0)
	dst = append(dst, byte(universe&0xff), byte(universe>>8))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...), nil
}
