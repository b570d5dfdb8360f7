// Package xid generates prefixed, time-ordered identifiers. The prefix
// names the entity family so ids stay readable in logs and audit trails.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Entity prefixes. Every id is "<prefix>-<unix nanos>-<random hex>".
const (
	Booking       = "bkg"
	Sale          = "sal"
	Product       = "prd"
	StockMovement = "stm"
	CashMovement  = "csm"
	Session       = "ses"
	Expense       = "exp"
	Audit         = "aud"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
