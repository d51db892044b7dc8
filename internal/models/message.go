package models

import "time"

// Message belongs to a conversation. ExternalID, when present, is the
// provider-assigned identifier used as the idempotency and threading
// correlation key; it is unique per connector scope.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	ConnectorID    int64     `json:"connectorId"`
	AuthorID       int64     `json:"authorId"`
	Body           string    `json:"body"`
	ParentID       *int64    `json:"parentId,omitempty"`
	ExternalID     *string   `json:"externalId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Attachment holds binary content attached to a message.
type Attachment struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"messageId"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimeType"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reaction records an emoji reaction by a contact on a message.
type Reaction struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"messageId"`
	ContactID int64     `json:"contactId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
