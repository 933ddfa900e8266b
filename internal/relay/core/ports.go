package core

import (
	"context"
	"io"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

// OutboundRepository is the cloud side of outbound messages.
type OutboundRepository interface {
	// QueryPending returns at most limit pending messages positioned after
	// the cursor, oldest first. A zero cursor means no lower bound.
	QueryPending(ctx context.Context, after model.Cursor, limit int) ([]*model.OutboundMessage, error)

	// Claim moves a message from pending to processing. It returns false when
	// the message is no longer pending, which makes it safe to call for a
	// message delivered twice.
	Claim(ctx context.Context, id string) (bool, error)

	// Release moves a processing message back to pending.
	Release(ctx context.Context, id string) error

	// MarkSent and MarkFailed record the terminal outcome.
	MarkSent(ctx context.Context, id string, attempts int) error
	MarkFailed(ctx context.Context, id string, attempts int, reason string) error
}

// InboundRepository is the cloud side of inbound messages.
type InboundRepository interface {
	// Insert stores msg unless its GUID exists. It returns false for a duplicate.
	Insert(ctx context.Context, msg *model.InboundMessage) (bool, error)

	// LastRowID returns the highest local row already stored, or 0.
	LastRowID(ctx context.Context) (int64, error)
}

// Repository groups the cloud datastore ports.
type Repository interface {
	Outbound() OutboundRepository
	Inbound() InboundRepository
}

// MediaStore keeps attachment bodies in object storage.
type MediaStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key, path string) error
}

// LocalStore reads the messaging application's own database.
type LocalStore interface {
	// ReceivedAfter returns up to limit received messages with a row id above rowID, in row order.
	ReceivedAfter(ctx context.Context, rowID int64, limit int) ([]*model.InboundMessage, error)
}

// InboundNotifier announces messages written to the cloud datastore.
type InboundNotifier interface {
	NotifyInbound(ctx context.Context, msg *model.InboundMessage) error
}
