package postgres

import (
	"context"
	"fmt"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

// InboundRepo implements core.InboundRepository.
type InboundRepo struct {
	db DB
}

func (r *InboundRepo) Insert(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}

	tag, err := r.db.Exec(ctx, `
INSERT INTO inbound_messages (guid, row_id, sender, chat_id, service, body, attachments, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (guid) DO NOTHING`,
		msg.GUID, msg.RowID, msg.Sender, msg.ChatID, string(msg.Service), msg.Text, attachments, msg.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert inbound message %s: %w", msg.GUID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *InboundRepo) LastRowID(ctx context.Context) (int64, error) {
	var rowID int64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(row_id), 0) FROM inbound_messages`).Scan(&rowID); err != nil {
		return 0, fmt.Errorf("read inbound watermark: %w", err)
	}
	return rowID, nil
}
