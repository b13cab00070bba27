// Package protocol defines the typed payloads carried inside relay
// envelopes and their protobuf wire encoding.
package protocol

import (
	"fmt"

	"github.com/drblury/dmxrelay/internal/frame"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
)

// Tag discriminates the payload carried by an envelope.
type Tag string

const (
	TagLight       Tag = "light"
	TagLightUpdate Tag = "light_update"
	TagBuild       Tag = "build"
)

const typeURLPrefix = "type.googleapis.com/"

const (
	TypeURLLight        = typeURLPrefix + "light.LightMessage"
	TypeURLLightsUpdate = typeURLPrefix + "light.LightsUpdateMessage"
	TypeURLBuild        = typeURLPrefix + "build.BuildMessage"
)

// Payload is implemented by *Light, *LightsUpdate and *Build only.
type Payload interface {
	Tag() Tag
	TypeURL() string
	MarshalBody() []byte
	unmarshalBody(b []byte) error
}

// Envelope wraps p in a frame envelope.
func Envelope(p Payload) frame.Envelope {
	return frame.Envelope{
		Tag:     string(p.Tag()),
		TypeURL: p.TypeURL(),
		Body:    p.MarshalBody(),
	}
}

// Encode returns the complete length-prefixed frame for p.
func Encode(p Payload) []byte {
	return frame.Encode(Envelope(p))
}

// Decode resolves the payload named by env's tag. Unknown tags, a type URL
// that does not match the tag, and malformed bodies are ErrFrameCorrupt.
func Decode(env frame.Envelope) (Payload, error) {
	var p Payload
	switch Tag(env.Tag) {
	case TagLight:
		p = &Light{}
	case TagLightUpdate:
		p = &LightsUpdate{}
	case TagBuild:
		p = &Build{}
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", errspkg.ErrFrameCorrupt, env.Tag)
	}

	if env.TypeURL != p.TypeURL() {
		return nil, fmt.Errorf("%w: tag %q carries %q", errspkg.ErrFrameCorrupt, env.Tag, env.TypeURL)
	}
	if err := p.unmarshalBody(env.Body); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", errspkg.ErrFrameCorrupt, env.Tag, err)
	}
	return p, nil
}
