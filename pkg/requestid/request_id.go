// Package requestid generates unique request identifiers.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// counter backs ID generation when the random source fails.
var counter atomic.Uint64

// New returns a unique request ID of the form <unix-ms>-<hex8>,
// for example 1755770400123-a2b3c4d5.
func New() string {
	timestamp := time.Now().UnixMilli()

	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d-%d", timestamp, counter.Add(1))
	}
	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(b[:]))
}
