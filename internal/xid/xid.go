package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a prefixed, time-ordered identifier with a random suffix.
// It never fails: if the random source is unavailable the timestamp alone
// still keeps ids unique enough for a single store.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// NewReceiptNumber returns a unique, time-derived receipt number for a sale.
func NewReceiptNumber() string {
	return fmt.Sprintf("RCP-%d", time.Now().UnixNano())
}
