package models

import "time"

// Conversation is the internal thread object mapped to at most one active
// external chat per (connector, contact).
type Conversation struct {
	ID                  int64     `json:"id"`
	ConnectorID         int64     `json:"connectorId"`
	OutgoingDestination string    `json:"outgoingDestination"` // external identifier replies are routed to
	Name                string    `json:"name"`
	Image               string    `json:"image,omitempty"` // base64
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// ConversationMember links a contact (internal agent or external parent
// identity) into a conversation and carries its read cursor.
type ConversationMember struct {
	ID                int64     `json:"id"`
	ConversationID    int64     `json:"conversationId"`
	ContactID         int64     `json:"contactId"`
	LastReadMessageID *int64    `json:"lastReadMessageId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// RoutingMember is an agent eligible for initial conversation routing on a
// connector. AssignmentCount is incremented transactionally each time the
// member is routed into a new conversation.
type RoutingMember struct {
	ID              int64     `json:"id"`
	ConnectorID     int64     `json:"connectorId"`
	ContactID       int64     `json:"contactId"`
	AssignmentCount int64     `json:"assignmentCount"`
	CreatedAt       time.Time `json:"createdAt"`
}
