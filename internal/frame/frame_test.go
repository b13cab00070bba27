package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
)

func sampleEnvelopes() []Envelope {
	return []Envelope{
		{Tag: "light", TypeURL: "type.googleapis.com/light.LightMessage", Body: []byte{0x08, 0x03, 0x10, 0xff, 0x01}},
		{Tag: "light_update", TypeURL: "type.googleapis.com/light.LightsUpdateMessage"},
		{Tag: "build", TypeURL: "type.googleapis.com/build.BuildMessage", Body: bytes.Repeat([]byte{0x42}, 300)},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, env := range sampleEnvelopes() {
		t.Run(env.Tag, func(t *testing.T) {
			wire := Encode(env)

			got, n, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, len(wire), n)
			assert.Equal(t, env.Tag, got.Tag)
			assert.Equal(t, env.TypeURL, got.TypeURL)
			assert.Equal(t, len(env.Body), len(got.Body))
			if len(env.Body) > 0 {
				assert.Equal(t, env.Body, got.Body)
			}
		})
	}
}

func TestPrefixIsExactEnvelopeLength(t *testing.T) {
	env := sampleEnvelopes()[2]
	wire := Encode(env)

	size, n := protowire.ConsumeVarint(wire)
	require.Greater(t, n, 1, "a 300 byte body needs a multi-byte prefix")
	assert.Equal(t, uint64(len(wire)-n), size)
}

func TestEnvelopeMatchesProtobufAny(t *testing.T) {
	env := sampleEnvelopes()[0]
	packed, err := proto.Marshal(&anypb.Any{TypeUrl: env.TypeURL, Value: env.Body})
	require.NoError(t, err)

	var want []byte
	want = protowire.AppendTag(want, fieldKey, protowire.BytesType)
	want = protowire.AppendString(want, env.Tag)
	want = protowire.AppendTag(want, fieldMessage, protowire.BytesType)
	want = protowire.AppendBytes(want, packed)

	wire := Encode(env)
	_, n := protowire.ConsumeVarint(wire)
	assert.Equal(t, want, wire[n:])
}

func TestDecodeTruncatedInputIsIncomplete(t *testing.T) {
	for _, env := range sampleEnvelopes() {
		wire := Encode(env)
		for cut := 0; cut < len(wire); cut++ {
			_, n, err := Decode(wire[:cut])
			require.ErrorIs(t, err, errspkg.ErrFrameIncomplete, "tag %s cut at %d", env.Tag, cut)
			assert.Zero(t, n)
		}
	}
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	var stream []byte
	for _, env := range sampleEnvelopes() {
		stream = Append(stream, env)
	}

	var tags []string
	for len(stream) > 0 {
		env, n, err := Decode(stream)
		require.NoError(t, err)
		tags = append(tags, env.Tag)
		stream = stream[n:]
	}
	assert.Equal(t, []string{"light", "light_update", "build"}, tags)
}

func TestDecodeCorruptBodyReportsSpan(t *testing.T) {
	garbage := []byte{0xff, 0xff, 0xff}
	wire := protowire.AppendVarint(nil, uint64(len(garbage)))
	wire = append(wire, garbage...)
	next := Encode(sampleEnvelopes()[0])
	wire = append(wire, next...)

	_, n, err := Decode(wire)
	require.ErrorIs(t, err, errspkg.ErrFrameCorrupt)
	assert.Equal(t, 1+len(garbage), n)

	env, m, err := Decode(wire[n:])
	require.NoError(t, err)
	assert.Equal(t, "light", env.Tag)
	assert.Equal(t, len(next), m)
}

func TestEmptyTagRoundTrips(t *testing.T) {
	env := Envelope{TypeURL: "type.googleapis.com/light.LightMessage", Body: []byte{0x08, 0x01}}
	wire := Encode(env)

	got, n, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, "", got.Tag)
	assert.Equal(t, env.TypeURL, got.TypeURL)
	assert.Equal(t, env.Body, got.Body)
}

func TestDecodeRejectsEnvelopeWithoutMessage(t *testing.T) {
	body := protowire.AppendTag(nil, fieldKey, protowire.BytesType)
	body = protowire.AppendString(body, "light")
	wire := protowire.AppendVarint(nil, uint64(len(body)))
	wire = append(wire, body...)

	_, n, err := Decode(wire)
	require.ErrorIs(t, err, errspkg.ErrFrameCorrupt)
	assert.Equal(t, len(wire), n)
}

func TestDecodeRejectsWrongWireType(t *testing.T) {
	body := protowire.AppendTag(nil, fieldKey, protowire.VarintType)
	body = protowire.AppendVarint(body, 7)
	wire := protowire.AppendVarint(nil, uint64(len(body)))
	wire = append(wire, body...)

	_, _, err := Decode(wire)
	require.ErrorIs(t, err, errspkg.ErrFrameCorrupt)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	env := sampleEnvelopes()[0]
	wire := Encode(env)
	_, n := protowire.ConsumeVarint(wire)

	body := append([]byte(nil), wire[n:]...)
	body = protowire.AppendTag(body, 15, protowire.VarintType)
	body = protowire.AppendVarint(body, 99)
	extended := protowire.AppendVarint(nil, uint64(len(body)))
	extended = append(extended, body...)

	got, m, err := Decode(extended)
	require.NoError(t, err)
	assert.Equal(t, len(extended), m)
	assert.Equal(t, env.Tag, got.Tag)
	assert.Equal(t, env.Body, got.Body)
}

func TestDecodePrefixInvalid(t *testing.T) {
	t.Run("overflowing varint", func(t *testing.T) {
		wire := bytes.Repeat([]byte{0xff}, 11)
		_, n, err := Decode(wire)
		require.ErrorIs(t, err, errspkg.ErrFramePrefixInvalid)
		assert.Zero(t, n)
	})

	t.Run("declared length above limit", func(t *testing.T) {
		wire := protowire.AppendVarint(nil, 65)
		_, _, err := Decoder{MaxFrameSize: 64}.Decode(wire)
		require.ErrorIs(t, err, errspkg.ErrFramePrefixInvalid)
	})

	t.Run("default limit", func(t *testing.T) {
		wire := protowire.AppendVarint(nil, DefaultMaxFrameSize+1)
		_, _, err := Decode(wire)
		require.ErrorIs(t, err, errspkg.ErrFramePrefixInvalid)
	})
}
