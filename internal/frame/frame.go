// Package frame implements the relay's wire framing: every message is a
// protobuf envelope {key, google.protobuf.Any} preceded by its byte length as
// an unsigned varint.
package frame

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
)

// DefaultMaxFrameSize bounds the declared envelope length accepted by Decode.
const DefaultMaxFrameSize = 1 << 20

const (
	fieldKey     protowire.Number = 1
	fieldMessage protowire.Number = 2

	fieldAnyTypeURL protowire.Number = 1
	fieldAnyValue   protowire.Number = 2
)

// Envelope is one tagged message unit. Body holds the serialized payload
// identified by TypeURL.
type Envelope struct {
	Tag     string
	TypeURL string
	Body    []byte
}

// Append appends the length-prefixed encoding of env to dst.
func Append(dst []byte, env Envelope) []byte {
	anySize := sizeAny(env)
	size := sizeEnvelope(env, anySize)

	dst = protowire.AppendVarint(dst, uint64(size))
	if env.Tag != "" {
		dst = protowire.AppendTag(dst, fieldKey, protowire.BytesType)
		dst = protowire.AppendString(dst, env.Tag)
	}
	dst = protowire.AppendTag(dst, fieldMessage, protowire.BytesType)
	dst = protowire.AppendVarint(dst, uint64(anySize))
	if env.TypeURL != "" {
		dst = protowire.AppendTag(dst, fieldAnyTypeURL, protowire.BytesType)
		dst = protowire.AppendString(dst, env.TypeURL)
	}
	if len(env.Body) > 0 {
		dst = protowire.AppendTag(dst, fieldAnyValue, protowire.BytesType)
		dst = protowire.AppendBytes(dst, env.Body)
	}
	return dst
}

// Encode returns the length-prefixed encoding of env.
func Encode(env Envelope) []byte {
	anySize := sizeAny(env)
	size := sizeEnvelope(env, anySize)
	return Append(make([]byte, 0, protowire.SizeVarint(uint64(size))+size), env)
}

func sizeAny(env Envelope) int {
	n := 0
	if env.TypeURL != "" {
		n += protowire.SizeTag(fieldAnyTypeURL) + protowire.SizeBytes(len(env.TypeURL))
	}
	if len(env.Body) > 0 {
		n += protowire.SizeTag(fieldAnyValue) + protowire.SizeBytes(len(env.Body))
	}
	return n
}

func sizeEnvelope(env Envelope, anySize int) int {
	n := protowire.SizeTag(fieldMessage) + protowire.SizeBytes(anySize)
	if env.Tag != "" {
		n += protowire.SizeTag(fieldKey) + protowire.SizeBytes(len(env.Tag))
	}
	return n
}

// Decoder splits a byte stream into envelopes.
type Decoder struct {
	// MaxFrameSize caps the declared envelope length. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int
}

// Decode decodes with the default frame size limit.
func Decode(buf []byte) (Envelope, int, error) {
	return Decoder{}.Decode(buf)
}

// Decode reads one envelope from the front of buf and reports how many bytes
// it spans.
//
// ErrFrameIncomplete means buf holds a prefix of a frame and nothing was
// consumed. ErrFrameCorrupt comes with the full span of the bad frame so the
// caller can skip it and stay in sync. ErrFramePrefixInvalid means the stream
// cannot be resynchronised.
func (d Decoder) Decode(buf []byte) (Envelope, int, error) {
	if len(buf) == 0 {
		return Envelope{}, 0, errspkg.ErrFrameIncomplete
	}

	size, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		// Below ten bytes a varint can only fail by running out of input.
		if len(buf) < binary.MaxVarintLen64 {
			return Envelope{}, 0, errspkg.ErrFrameIncomplete
		}
		return Envelope{}, 0, fmt.Errorf("%w: %v", errspkg.ErrFramePrefixInvalid, protowire.ParseError(n))
	}

	if size > uint64(d.maxFrameSize()) {
		return Envelope{}, 0, fmt.Errorf("%w: declared length %d exceeds %d", errspkg.ErrFramePrefixInvalid, size, d.maxFrameSize())
	}

	total := n + int(size)
	if len(buf) < total {
		return Envelope{}, 0, errspkg.ErrFrameIncomplete
	}

	env, err := Unmarshal(buf[n:total])
	if err != nil {
		return Envelope{}, total, err
	}
	return env, total, nil
}

func (d Decoder) maxFrameSize() int {
	if d.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return d.MaxFrameSize
}

// Unmarshal parses an envelope without its length prefix. Unknown fields are
// skipped.
func Unmarshal(b []byte) (Envelope, error) {
	var (
		env        Envelope
		sawMessage bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Envelope{}, corrupt(protowire.ParseError(m))
			}
			env.Tag = string(v)
			b = b[m:]
		case num == fieldMessage && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Envelope{}, corrupt(protowire.ParseError(m))
			}
			var packed anypb.Any
			if err := proto.Unmarshal(v, &packed); err != nil {
				return Envelope{}, corrupt(err)
			}
			env.TypeURL = packed.GetTypeUrl()
			env.Body = packed.GetValue()
			sawMessage = true
			b = b[m:]
		case num == fieldKey || num == fieldMessage:
			return Envelope{}, corrupt(fmt.Errorf("field %d has wire type %d", num, typ))
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Envelope{}, corrupt(protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	// An absent key is the empty tag, as with any proto3 string field.
	if !sawMessage {
		return Envelope{}, corrupt(fmt.Errorf("envelope %q has no message", env.Tag))
	}
	return env, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", errspkg.ErrFrameCorrupt, err)
}
