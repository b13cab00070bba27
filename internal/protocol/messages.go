package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Fixture describes one managed fixture: its id and position in the rig.
type Fixture struct {
	ID uint32
	X  float64
	Y  float64
	Z  float64
}

// Finite reports whether every coordinate is a finite number.
func (f Fixture) Finite() bool {
	return !math.IsNaN(f.X) && !math.IsInf(f.X, 0) &&
		!math.IsNaN(f.Y) && !math.IsInf(f.Y, 0) &&
		!math.IsNaN(f.Z) && !math.IsInf(f.Z, 0)
}

// Light carries the live channel values of one fixture.
type Light struct {
	ID    uint32
	Pan   uint8
	Tilt  uint8
	Red   uint8
	Green uint8
	Blue  uint8
	White uint8
}

// UpdateType is the kind of registry change announced by a LightsUpdate.
type UpdateType int32

const (
	UpdateSetAll UpdateType = 0
	UpdateAdd    UpdateType = 1
	UpdateRemove UpdateType = 2
)

func (t UpdateType) String() string {
	switch t {
	case UpdateSetAll:
		return "SET_LIGHTS"
	case UpdateAdd:
		return "ADD_LIGHT"
	case UpdateRemove:
		return "REMOVE_LIGHT"
	default:
		return fmt.Sprintf("UpdateType(%d)", int32(t))
	}
}

// LightsUpdate announces a registry change to clients.
type LightsUpdate struct {
	Type     UpdateType
	Fixtures []Fixture
}

// BuildType selects a control command.
type BuildType int32

const (
	BuildLight  BuildType = 0
	ListLights  BuildType = 1
	RemoveLight BuildType = 2
)

func (t BuildType) String() string {
	switch t {
	case BuildLight:
		return "BUILD_LIGHT"
	case ListLights:
		return "LIST_LIGHTS"
	case RemoveLight:
		return "REMOVE_LIGHT"
	default:
		return fmt.Sprintf("BuildType(%d)", int32(t))
	}
}

// Build is a control request from a client, or the reply to LIST_LIGHTS.
type Build struct {
	Type     BuildType
	Fixtures []Fixture
}

func (*Light) Tag() Tag        { return TagLight }
func (*LightsUpdate) Tag() Tag { return TagLightUpdate }
func (*Build) Tag() Tag        { return TagBuild }

func (*Light) TypeURL() string        { return TypeURLLight }
func (*LightsUpdate) TypeURL() string { return TypeURLLightsUpdate }
func (*Build) TypeURL() string        { return TypeURLBuild }

const (
	fieldFixtureID protowire.Number = 1
	fieldFixtureX  protowire.Number = 2
	fieldFixtureY  protowire.Number = 3
	fieldFixtureZ  protowire.Number = 4

	fieldLightID    protowire.Number = 1
	fieldLightPan   protowire.Number = 2
	fieldLightTilt  protowire.Number = 3
	fieldLightRed   protowire.Number = 4
	fieldLightGreen protowire.Number = 5
	fieldLightBlue  protowire.Number = 6
	fieldLightWhite protowire.Number = 7

	fieldListType   protowire.Number = 1
	fieldListLights protowire.Number = 2
)

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func (f Fixture) marshal(b []byte) []byte {
	b = appendUint(b, fieldFixtureID, uint64(f.ID))
	b = appendDouble(b, fieldFixtureX, f.X)
	b = appendDouble(b, fieldFixtureY, f.Y)
	b = appendDouble(b, fieldFixtureZ, f.Z)
	return b
}

func (l *Light) MarshalBody() []byte {
	var b []byte
	b = appendUint(b, fieldLightID, uint64(l.ID))
	b = appendUint(b, fieldLightPan, uint64(l.Pan))
	b = appendUint(b, fieldLightTilt, uint64(l.Tilt))
	b = appendUint(b, fieldLightRed, uint64(l.Red))
	b = appendUint(b, fieldLightGreen, uint64(l.Green))
	b = appendUint(b, fieldLightBlue, uint64(l.Blue))
	b = appendUint(b, fieldLightWhite, uint64(l.White))
	return b
}

func (u *LightsUpdate) MarshalBody() []byte {
	return marshalFixtureList(int32(u.Type), u.Fixtures)
}

func (m *Build) MarshalBody() []byte {
	return marshalFixtureList(int32(m.Type), m.Fixtures)
}

func marshalFixtureList(kind int32, fixtures []Fixture) []byte {
	var b []byte
	b = appendUint(b, fieldListType, uint64(int64(kind)))
	for _, f := range fixtures {
		b = protowire.AppendTag(b, fieldListLights, protowire.BytesType)
		b = protowire.AppendBytes(b, f.marshal(nil))
	}
	return b
}

// fieldFunc handles one decoded field and returns the bytes it consumed from
// b, or skip to leave the field to walkFields.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

// skip tells walkFields to skip the current field.
const skip = -1

func consumeUint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("expected fixed64, got wire type %d", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

func consumeSample(typ protowire.Type, b []byte, dst *uint8) (int, error) {
	var v uint64
	n, err := consumeUint(typ, b, &v)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint8 {
		return 0, fmt.Errorf("channel value %d out of range", v)
	}
	*dst = uint8(v)
	return n, nil
}

func (f *Fixture) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldFixtureID:
			var v uint64
			n, err := consumeUint(typ, b, &v)
			if err != nil {
				return 0, err
			}
			if v > math.MaxUint32 {
				return 0, fmt.Errorf("fixture id %d out of range", v)
			}
			f.ID = uint32(v)
			return n, nil
		case fieldFixtureX:
			return consumeDouble(typ, b, &f.X)
		case fieldFixtureY:
			return consumeDouble(typ, b, &f.Y)
		case fieldFixtureZ:
			return consumeDouble(typ, b, &f.Z)
		}
		return skip, nil
	})
}

func (l *Light) unmarshalBody(b []byte) error {
	*l = Light{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldLightID:
			var v uint64
			n, err := consumeUint(typ, b, &v)
			if err != nil {
				return 0, err
			}
			if v > math.MaxUint32 {
				return 0, fmt.Errorf("light id %d out of range", v)
			}
			l.ID = uint32(v)
			return n, nil
		case fieldLightPan:
			return consumeSample(typ, b, &l.Pan)
		case fieldLightTilt:
			return consumeSample(typ, b, &l.Tilt)
		case fieldLightRed:
			return consumeSample(typ, b, &l.Red)
		case fieldLightGreen:
			return consumeSample(typ, b, &l.Green)
		case fieldLightBlue:
			return consumeSample(typ, b, &l.Blue)
		case fieldLightWhite:
			return consumeSample(typ, b, &l.White)
		}
		return skip, nil
	})
}

func (u *LightsUpdate) unmarshalBody(b []byte) error {
	var kind int32
	fixtures, err := unmarshalFixtureList(b, &kind)
	if err != nil {
		return err
	}
	*u = LightsUpdate{Type: UpdateType(kind), Fixtures: fixtures}
	return nil
}

func (m *Build) unmarshalBody(b []byte) error {
	var kind int32
	fixtures, err := unmarshalFixtureList(b, &kind)
	if err != nil {
		return err
	}
	*m = Build{Type: BuildType(kind), Fixtures: fixtures}
	return nil
}

func unmarshalFixtureList(b []byte, kind *int32) ([]Fixture, error) {
	var fixtures []Fixture
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldListType:
			var v uint64
			n, err := consumeUint(typ, b, &v)
			if err != nil {
				return 0, err
			}
			// Enums are int32 on the wire; negative values arrive sign-extended.
			*kind = int32(v)
			return n, nil
		case fieldListLights:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("expected fixture message, got wire type %d", typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			var f Fixture
			if err := f.unmarshal(v); err != nil {
				return 0, err
			}
			fixtures = append(fixtures, f)
			return n, nil
		}
		return skip, nil
	})
	return fixtures, err
}
