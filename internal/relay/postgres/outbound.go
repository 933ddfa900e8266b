package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

// DefaultQueryLimit applies when QueryPending is called without a limit.
const DefaultQueryLimit = 500

const outboundColumns = `id, recipient, service, body, attachments, status, attempts, COALESCE(error, ''), created_at`

// OutboundRepo implements core.OutboundRepository.
type OutboundRepo struct {
	db DB
}

// QueryPending pages through pending rows in (created_at, id) order. An
// empty cursor ID excludes every row created at the cursor time.
func (r *OutboundRepo) QueryPending(ctx context.Context, after model.Cursor, limit int) ([]*model.OutboundMessage, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	var lower any
	if !after.CreatedAt.IsZero() {
		lower = after.CreatedAt
	}

	rows, err := r.db.Query(ctx, queryPendingSQL, lower, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, scanOutbound)
	if err != nil {
		return nil, fmt.Errorf("scan pending messages: %w", err)
	}
	return msgs, nil
}

const queryPendingSQL = `
SELECT ` + outboundColumns + `
FROM outbound_messages
WHERE status = 'pending'
  AND ($1::timestamptz IS NULL
       OR created_at > $1
       OR (created_at = $1 AND $2::text <> '' AND id > $2))
ORDER BY created_at, id
LIMIT $3`

// Get returns the message with id, or nil when it does not exist.
func (r *OutboundRepo) Get(ctx context.Context, id string) (*model.OutboundMessage, error) {
	rows, err := r.db.Query(ctx, `SELECT `+outboundColumns+` FROM outbound_messages WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	msg, err := pgx.CollectOneRow(rows, scanOutbound)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

func (r *OutboundRepo) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE outbound_messages SET status = 'processing', updated_at = now()
WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OutboundRepo) Release(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
UPDATE outbound_messages SET status = 'pending', updated_at = now()
WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("release message %s: %w", id, err)
	}
	return nil
}

func (r *OutboundRepo) MarkSent(ctx context.Context, id string, attempts int) error {
	_, err := r.db.Exec(ctx, `
UPDATE outbound_messages
SET status = 'sent', attempts = $2, error = NULL, sent_at = now(), updated_at = now()
WHERE id = $1`, id, attempts)
	if err != nil {
		return fmt.Errorf("mark message %s sent: %w", id, err)
	}
	return nil
}

func (r *OutboundRepo) MarkFailed(ctx context.Context, id string, attempts int, reason string) error {
	_, err := r.db.Exec(ctx, `
UPDATE outbound_messages
SET status = 'failed', attempts = $2, error = $3, updated_at = now()
WHERE id = $1`, id, attempts, reason)
	if err != nil {
		return fmt.Errorf("mark message %s failed: %w", id, err)
	}
	return nil
}

func scanOutbound(row pgx.CollectableRow) (*model.OutboundMessage, error) {
	var (
		m       model.OutboundMessage
		service string
		status  string
	)
	if err := row.Scan(&m.ID, &m.Recipient, &service, &m.Text, &m.Attachments, &status, &m.Attempts, &m.Error, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Service = model.Service(service)
	m.Status = model.MessageStatus(status)
	return &m, nil
}
