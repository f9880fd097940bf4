package schema

import (
	"context"

	"github.com/dusterbloom/nanobot/internal/bus"
)

// Channel is a chat surface the gateway listens on and replies through.
//
// Start blocks until ctx is cancelled or the channel fails fatally.
// Send delivers one outbound message; transient delivery failures are
// returned as errors and logged by the caller, they never stop the channel.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}
