package localstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

const chatSchema = `
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT);
CREATE TABLE chat (ROWID INTEGER PRIMARY KEY, guid TEXT);
CREATE TABLE message (ROWID INTEGER PRIMARY KEY, guid TEXT, text TEXT, service TEXT, date INTEGER, handle_id INTEGER, is_from_me INTEGER);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY, filename TEXT, mime_type TEXT, transfer_name TEXT, total_bytes INTEGER);
CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);

INSERT INTO handle VALUES (1, '+15550100'), (2, 'friend@example.com');
INSERT INTO chat VALUES (1, 'iMessage;-;+15550100'), (2, 'iMessage;-;friend@example.com');

INSERT INTO message VALUES (10, 'G-10', 'hello', 'iMessage', 700000000000000000, 1, 0);
INSERT INTO message VALUES (11, 'G-11', 'mine', 'iMessage', 700000001000000000, 1, 1);
INSERT INTO message VALUES (12, 'G-12', NULL, 'SMS', 700000002, 2, 0);
INSERT INTO message VALUES (13, 'G-13', 'third', 'iMessage', 700000003000000000, 2, 0);
INSERT INTO chat_message_join VALUES (1, 10), (1, 11), (2, 12), (2, 13);

INSERT INTO attachment VALUES (5, '~/Library/Messages/Attachments/ab/IMG_1.heic', 'image/heic', 'IMG_1.heic', 2048);
INSERT INTO attachment VALUES (6, NULL, NULL, NULL, NULL);
INSERT INTO message_attachment_join VALUES (12, 5), (12, 6);
`

func newChatDB(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")

	rw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = rw.Exec(chatSchema)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	s, err := Open(&options.LocalStoreOptions{Path: path, AttachmentsRoot: "/Users/relay", BatchSize: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReceivedAfter(t *testing.T) {
	s := newChatDB(t)

	msgs, err := s.ReceivedAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "messages sent from this device are skipped")

	assert.Equal(t, []int64{10, 12, 13}, []int64{msgs[0].RowID, msgs[1].RowID, msgs[2].RowID})

	first := msgs[0]
	assert.Equal(t, "G-10", first.GUID)
	assert.Equal(t, "+15550100", first.Sender)
	assert.Equal(t, "iMessage;-;+15550100", first.ChatID)
	assert.Equal(t, model.ServiceIMessage, first.Service)
	assert.Equal(t, "hello", first.Text)
	assert.Empty(t, first.Attachments)

	sms := msgs[1]
	assert.Equal(t, model.ServiceSMS, sms.Service)
	assert.Empty(t, sms.Text)
	require.Len(t, sms.Attachments, 1, "attachments without a file are skipped")
	assert.Equal(t, model.Attachment{
		FileName:    "IMG_1.heic",
		ContentType: "image/heic",
		Size:        2048,
		LocalPath:   "/Users/relay/Library/Messages/Attachments/ab/IMG_1.heic",
	}, sms.Attachments[0])
}

func TestReceivedAfterWatermarkAndLimit(t *testing.T) {
	s := newChatDB(t)

	msgs, err := s.ReceivedAfter(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(12), msgs[0].RowID)

	msgs, err = s.ReceivedAfter(context.Background(), 13, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(&options.LocalStoreOptions{Path: filepath.Join(t.TempDir(), "missing", "chat.db")})
	assert.Error(t, err)
}

func TestAppleTime(t *testing.T) {
	want := time.Date(2023, 3, 8, 20, 26, 40, 0, time.UTC)
	assert.True(t, want.Equal(appleTime(700000000)), "seconds")
	assert.True(t, want.Equal(appleTime(700000000000000000)), "nanoseconds")
	assert.True(t, appleEpoch.Equal(appleTime(0)))
}

func TestExpandHome(t *testing.T) {
	s := &Store{homeDir: "/Users/relay"}
	assert.Equal(t, "/Users/relay", s.expandHome("~"))
	assert.Equal(t, "/Users/relay/a/b.png", s.expandHome("~/a/b.png"))
	assert.Equal(t, "/var/tmp/c.png", s.expandHome("/var/tmp/c.png"))
}

func TestWatcherSignalsDatabaseWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path+"-wal", []byte("x"), 0o600))

	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change signalled")
	}
}
