package delivery

import (
	"context"
	"time"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

// Consumer receives every discovered outbound message. Push and pull may both
// deliver the same message, so a Consumer must be idempotent per message ID.
type Consumer func(ctx context.Context, msg *model.OutboundMessage) error

// Status is a health signal emitted by a push subscription.
type Status int

const (
	StatusConfirmed Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusConfirmed {
		return "confirmed"
	}
	return "error"
}

// Subscriber establishes the push channel. onItem is called once per pushed
// message; onStatus reports when the channel becomes healthy or breaks. The
// subscription lives until Unsubscribe or until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, onItem func(*model.OutboundMessage), onStatus func(Status, error)) (Subscription, error)
}

// Subscription is a live push channel.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// Source answers pull queries.
type Source interface {
	// QueryNewItems returns at most limit pending messages positioned after
	// the cursor, oldest first. A zero cursor returns pending messages from
	// the beginning.
	QueryNewItems(ctx context.Context, after model.Cursor, limit int) ([]*model.OutboundMessage, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, after model.Cursor, limit int) ([]*model.OutboundMessage, error)

func (f SourceFunc) QueryNewItems(ctx context.Context, after model.Cursor, limit int) ([]*model.OutboundMessage, error) {
	return f(ctx, after, limit)
}

// Health is a read-only snapshot for monitoring.
type Health struct {
	Mode              Mode          `json:"mode"`
	LastPollTimestamp time.Time     `json:"last_poll_timestamp"`
	PollInterval      time.Duration `json:"poll_interval"`
}

// Ready reports whether work is being discovered through either channel.
func (h Health) Ready() bool {
	return h.Mode == ModePushActive || h.Mode == ModePollFallback
}
