package polaris

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	"github.com/oklog/ulid"
)

// NewUUID returns a new UUID Version 4.
func NewUUID() string {
	return uuid.New().String()
}

// NewShortUUID returns a new short UUID.
func NewShortUUID() string {
	return shortuuid.New()
}

// NewULID returns a new ULID.
func NewULID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

var (
	monotonicEntropy     = ulid.Monotonic(rand.Reader, 0)
	monotonicEntropyLock sync.Mutex
)

// NewMonotonicULID returns a ULID which sorts strictly after every ULID
// previously returned by this function in the same process.
//
// Correlation ids are generated with it, so an id cannot repeat within the process lifetime.
func NewMonotonicULID() string {
	monotonicEntropyLock.Lock()
	defer monotonicEntropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), monotonicEntropy).String()
}
