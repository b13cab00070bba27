package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a monotonic ULID stamped with the current time.
func New() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// CreateULID returns New encoded as a 26-character string. Connection
// sessions and mirrored messages are identified this way.
func CreateULID() string {
	return New().String()
}

// Age reports how long ago the ULID id was minted. Unparseable ids report zero.
func Age(id string, now time.Time) time.Duration {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return 0
	}
	age := now.Sub(ulid.Time(parsed.Time()))
	if age < 0 {
		return 0
	}
	return age
}
