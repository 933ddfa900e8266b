package model

import "time"

// MessageStatus is the delivery state of an outbound message in the cloud datastore.
type MessageStatus string

const (
	// MessageStatusPending is the only state the relay picks work up from.
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusFailed     MessageStatus = "failed"
)

// Service is the transport the messaging application uses for a chat.
type Service string

const (
	ServiceIMessage Service = "iMessage"
	ServiceSMS      Service = "SMS"
)

// OutboundMessage is a message queued in the cloud to be sent from the device.
type OutboundMessage struct {
	// ID is assigned by the cloud datastore and identifies the message everywhere.
	ID string `json:"id"`

	// Recipient is a phone number or e-mail handle.
	Recipient string `json:"recipient"`

	Service Service `json:"service,omitempty"`

	Text string `json:"text,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Status MessageStatus `json:"status"`

	// Attempts is the number of automation runs spent on the last send.
	Attempts int `json:"attempts,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Cursor is a position in the pending order (CreatedAt, then ID). The zero
// Cursor precedes every message. A Cursor with an empty ID sits after every
// message created at CreatedAt.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the position of msg.
func CursorOf(msg *OutboundMessage) Cursor {
	return Cursor{CreatedAt: msg.CreatedAt, ID: msg.ID}
}

func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Before reports whether msg lies after c.
func (c Cursor) Before(msg *OutboundMessage) bool {
	switch {
	case c.IsZero():
		return true
	case msg.CreatedAt.After(c.CreatedAt):
		return true
	case msg.CreatedAt.Equal(c.CreatedAt):
		return c.ID != "" && msg.ID > c.ID
	}
	return false
}

// Attachment references a media file in object storage.
type Attachment struct {
	ObjectKey   string `json:"object_key"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`

	// LocalPath is set while the file is on this machine: the spool copy of
	// an outbound attachment or the source of an inbound one.
	LocalPath string `json:"-"`
}

// InboundMessage is a message the device received, as read from the local chat database.
type InboundMessage struct {
	// GUID is the application's own identifier; it is unique across devices.
	GUID string `json:"guid"`

	// RowID orders messages in the local database and serves as the sync watermark.
	RowID int64 `json:"row_id"`

	Sender  string  `json:"sender"`
	ChatID  string  `json:"chat_id,omitempty"`
	Service Service `json:"service,omitempty"`
	Text    string  `json:"text,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}
