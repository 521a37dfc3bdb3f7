// Package invoicelock serializes writes to a single invoice.
package invoicelock

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var ErrLockTimeout = errors.New("invoice_lock_timeout")

// Locker grants exclusive access to one invoice at a time. The returned
// release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, invoiceID snowflake.ID) (func(), error)
}
