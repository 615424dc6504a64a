// Package store provides the durable key-value backends the queue persists into.
package store

import "context"

// KV is the persistence boundary for the spool: an opaque key-value store with
// get/set semantics. Absent keys are reported via ok=false, not an error.
// Setting a nil or empty value clears the key back to absent, so callers can
// reset state without a separate delete operation.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}
