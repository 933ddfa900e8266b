// Package localstore reads the messaging application's chat database. The
// database is never written.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/autopeer-io/msgrelay/internal/relay/core"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

// appleEpoch is the zero point of message.date.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

const receivedQuery = `
SELECT m.ROWID, m.guid, COALESCE(m.text, ''), COALESCE(m.service, ''), m.date,
       COALESCE(h.id, ''), COALESCE(c.guid, '')
FROM message m
LEFT JOIN handle h ON h.ROWID = m.handle_id
LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
LEFT JOIN chat c ON c.ROWID = cmj.chat_id
WHERE m.ROWID > ? AND m.is_from_me = 0
ORDER BY m.ROWID
LIMIT ?`

const attachmentQuery = `
SELECT COALESCE(a.filename, ''), COALESCE(a.mime_type, ''), COALESCE(a.transfer_name, ''), COALESCE(a.total_bytes, 0)
FROM attachment a
JOIN message_attachment_join maj ON maj.attachment_id = a.ROWID
WHERE maj.message_id = ?
ORDER BY a.ROWID`

// Store implements core.LocalStore.
type Store struct {
	db      *sql.DB
	homeDir string
}

var _ core.LocalStore = (*Store)(nil)

// Open opens the chat database read-only.
func Open(opts *options.LocalStoreOptions) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", filepath.ToSlash(opts.Path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to chat database: %w", err)
	}

	// The application keeps writing; a single reader avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, homeDir: opts.AttachmentsRoot}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ReceivedAfter(ctx context.Context, rowID int64, limit int) ([]*model.InboundMessage, error) {
	rows, err := s.db.QueryContext(ctx, receivedQuery, rowID, limit)
	if err != nil {
		return nil, fmt.Errorf("query received messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.InboundMessage
	for rows.Next() {
		var (
			m       model.InboundMessage
			service string
			date    int64
		)
		if err := rows.Scan(&m.RowID, &m.GUID, &m.Text, &service, &date, &m.Sender, &m.ChatID); err != nil {
			return nil, fmt.Errorf("scan received message: %w", err)
		}
		m.Service = model.Service(service)
		m.ReceivedAt = appleTime(date)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate received messages: %w", err)
	}

	// Attachments are read after rows is drained: the pool has one connection.
	rows.Close()
	for _, m := range msgs {
		if m.Attachments, err = s.attachments(ctx, m.RowID); err != nil {
			return nil, err
		}
	}

	return msgs, nil
}

func (s *Store) attachments(ctx context.Context, messageRowID int64) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, attachmentQuery, messageRowID)
	if err != nil {
		return nil, fmt.Errorf("query attachments of %d: %w", messageRowID, err)
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var path string
		if err := rows.Scan(&path, &a.ContentType, &a.FileName, &a.Size); err != nil {
			return nil, fmt.Errorf("scan attachment of %d: %w", messageRowID, err)
		}
		if path == "" {
			continue
		}
		a.LocalPath = s.expandHome(path)
		if a.FileName == "" {
			a.FileName = filepath.Base(a.LocalPath)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) expandHome(path string) string {
	if path == "~" {
		return s.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(s.homeDir, path[2:])
	}
	return path
}

// appleTime converts message.date. Newer databases store nanoseconds, older
// ones seconds, both since 2001-01-01 UTC.
func appleTime(v int64) time.Time {
	if v > 1_000_000_000_000 || v < -1_000_000_000_000 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}
