package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Code returns n upper-case hex characters for document numbers such as
// invoices and receiving slips.
func Code(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		stamp := fmt.Sprintf("%d", time.Now().UnixNano())
		if len(stamp) > n {
			stamp = stamp[len(stamp)-n:]
		}
		return stamp
	}
	code := strings.ToUpper(hex.EncodeToString(buf))
	return code[:n]
}
