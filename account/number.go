package account

import (
	"crypto/rand"
	"github.com/oklog/ulid/v2"
	"io"
	"sync"
	"time"
)

// NumberLength length of an account number
const NumberLength = 10

var (
	entropyLock sync.Mutex
	entropy     io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewNumber generates a 10 character uppercase alphanumeric account number
// from the random part of a ULID
func NewNumber() string {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyLock.Unlock()

	s := id.String()
	return s[len(s)-NumberLength:]
}

// ValidNumber reports whether s has the shape of an account number
func ValidNumber(s string) bool {
	if len(s) != NumberLength {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
