package dmxrelay

import (
	"github.com/drblury/dmxrelay/feed"
	"github.com/drblury/dmxrelay/internal/control"
	"github.com/drblury/dmxrelay/internal/frame"
	"github.com/drblury/dmxrelay/internal/mirror"
	"github.com/drblury/dmxrelay/internal/protocol"
	"github.com/drblury/dmxrelay/internal/reactor"
	runtimepkg "github.com/drblury/dmxrelay/internal/runtime"
	configpkg "github.com/drblury/dmxrelay/internal/runtime/config"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	idspkg "github.com/drblury/dmxrelay/internal/runtime/ids"
	"github.com/drblury/dmxrelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/dmxrelay/internal/runtime/logging"
	"github.com/drblury/dmxrelay/internal/snapshot"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Wire payloads
	Envelope     = frame.Envelope
	Payload      = protocol.Payload
	Tag          = protocol.Tag
	Fixture      = protocol.Fixture
	Light        = protocol.Light
	LightsUpdate = protocol.LightsUpdate
	UpdateType   = protocol.UpdateType
	Build        = protocol.Build
	BuildType    = protocol.BuildType

	// Connection and command hooks
	Hooks       = reactor.Hooks
	ConnContext = reactor.ConnContext
	Command     = control.Command
	CommandHook = control.CommandHook

	// Registry persistence
	SnapshotStore    = snapshot.Store
	SnapshotDocument = snapshot.Document

	MirrorStats = mirror.Stats

	// Feed sources
	FeedSource   = feed.Source
	FeedInjector = feed.Injector
	FeedBuilder  = feed.Builder
	FeedConfig   = feed.Config
	FeedRegistry = feed.Registry
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	// Wire codec
	EncodeFrame   = frame.Encode
	DecodeFrame   = frame.Decode
	EncodePayload = protocol.Encode
	DecodePayload = protocol.Decode

	// Registry persistence
	NewFileSnapshotStore   = snapshot.NewFileStore
	NewMemorySnapshotStore = snapshot.NewMemoryStore
	EmptySnapshot          = snapshot.Empty

	// Feed registry. Built-in sources are registered by the feed/feeds
	// package, which the Service imports.
	DefaultFeedRegistry = feed.DefaultRegistry
	RegisterFeedSource  = feed.Register

	ErrPeerClosed            = errspkg.ErrPeerClosed
	ErrPeerReset             = errspkg.ErrPeerReset
	ErrPeerTimeout           = errspkg.ErrPeerTimeout
	ErrFrameIncomplete       = errspkg.ErrFrameIncomplete
	ErrFrameCorrupt          = errspkg.ErrFrameCorrupt
	ErrFramePrefixInvalid    = errspkg.ErrFramePrefixInvalid
	ErrUnknownControlSubtype = errspkg.ErrUnknownControlSubtype
	ErrEmptyCommand          = errspkg.ErrEmptyCommand
	ErrInvalidFixture        = errspkg.ErrInvalidFixture
	ErrRegistryLoadCorrupt   = errspkg.ErrRegistryLoadCorrupt
	ErrUnknownFeedSource     = errspkg.ErrUnknownFeedSource
	ErrUnknownMirrorSink     = errspkg.ErrUnknownMirrorSink
	ErrConfigRequired        = errspkg.ErrConfigRequired
	ErrLoggerRequired        = errspkg.ErrLoggerRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	CreateULID = idspkg.CreateULID

	// JSON helpers using the same codec as the snapshot store.
	MarshalJSON       = jsoncodec.Marshal
	MarshalIndentJSON = jsoncodec.MarshalIndent
	UnmarshalJSON     = jsoncodec.Unmarshal
)

// Envelope tags.
const (
	TagLight       = protocol.TagLight
	TagLightUpdate = protocol.TagLightUpdate
	TagBuild       = protocol.TagBuild
)

// Registry change kinds announced in LightsUpdate.
const (
	UpdateSetAll = protocol.UpdateSetAll
	UpdateAdd    = protocol.UpdateAdd
	UpdateRemove = protocol.UpdateRemove
)

// Control command subtypes.
const (
	BuildLight  = protocol.BuildLight
	ListLights  = protocol.ListLights
	RemoveLight = protocol.RemoveLight
)

// Mirror sinks.
const (
	MirrorSinkChannel = mirror.SinkChannel
	MirrorSinkNATS    = mirror.SinkNATS
)
