// Package feeds imports every built-in feed source for registration with
// the default feed registry.
package feeds

import (
	_ "github.com/drblury/dmxrelay/feed/channel"
	_ "github.com/drblury/dmxrelay/feed/udp"
)
