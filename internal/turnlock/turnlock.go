// Package turnlock serializes turns per conversation. At most one turn may
// run against a conversation at a time; a second submission while a turn is
// in flight is rejected rather than queued.
package turnlock

import (
	"context"
	"errors"
	"time"
)

// ErrTurnInFlight is returned when a conversation already has an active turn.
var ErrTurnInFlight = errors.New("turnlock: turn already in flight")

// ErrInvalidDriver is returned for an unrecognized driver name.
var ErrInvalidDriver = errors.New("turnlock: invalid driver")

// DefaultTTL bounds how long a lock can outlive a crashed holder.
const DefaultTTL = 2 * time.Minute

// Locker grants exclusive turn ownership for a conversation.
type Locker interface {
	// Acquire takes the lock for the conversation or returns ErrTurnInFlight.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, conversationID string) (release func(), err error)
	Close() error
}
