package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrPeerClosed  = sterrors.New("dmxrelay: peer closed connection")
	ErrPeerReset   = sterrors.New("dmxrelay: connection reset by peer")
	ErrPeerTimeout = sterrors.New("dmxrelay: connection timed out")

	ErrFrameIncomplete    = sterrors.New("dmxrelay: frame incomplete")
	ErrFrameCorrupt       = sterrors.New("dmxrelay: frame corrupt")
	ErrFramePrefixInvalid = sterrors.New("dmxrelay: frame length prefix invalid")

	ErrUnknownControlSubtype = sterrors.New("dmxrelay: unknown control subtype")
	ErrEmptyCommand          = sterrors.New("dmxrelay: control command carries no fixture")
	ErrInvalidFixture        = sterrors.New("dmxrelay: fixture coordinates must be finite")

	ErrRegistryLoadCorrupt = sterrors.New("dmxrelay: registry snapshot corrupt")

	ErrUnknownFeedSource = sterrors.New("dmxrelay: unknown feed source")
	ErrUnknownMirrorSink = sterrors.New("dmxrelay: unknown mirror sink")

	ErrConfigRequired = sterrors.New("dmxrelay: configuration is required")
	ErrLoggerRequired = sterrors.New("dmxrelay: logger is required")
)

// ConfigValidationError wraps a configuration problem detected before the
// relay starts.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("dmxrelay: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// IsPeerGone reports whether err means the remote side of a connection is
// gone and the connection must be dropped.
func IsPeerGone(err error) bool {
	return sterrors.Is(err, ErrPeerClosed) || sterrors.Is(err, ErrPeerReset) || sterrors.Is(err, ErrPeerTimeout)
}
