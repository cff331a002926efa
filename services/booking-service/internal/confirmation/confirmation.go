// Package confirmation issues human-shareable booking references.
package confirmation

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Alphabet omits 0/O/1/I to keep references readable over the phone.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const suffixLen = 6

// NewNumber returns a reference like CD-20260828-7K3QXN: a date prefix plus
// a random suffix. Collision-resistant at single-clinic volume; not a
// cryptographic guarantee. Assigned once at booking creation and never
// regenerated, reschedules included.
func NewNumber(now time.Time) string {
	var b [suffixLen]byte
	_, _ = rand.Read(b[:])
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return fmt.Sprintf("CD-%s-%s", now.UTC().Format("20060102"), b[:])
}
