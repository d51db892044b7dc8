// Package service implements the resolution and dispatch pipeline between
// normalized provider events and the record store: contact and conversation
// resolution, inbound event dispatch and outbound formatting.
package service

import (
	"context"

	"chathub/internal/models"
)

// Store is the record store surface the pipeline depends on. The sqlite
// database implements it; tests may substitute their own.
type Store interface {
	CreateContact(ctx context.Context, c *models.Contact) error
	CreateContactPair(ctx context.Context, parent, channel *models.Contact) error
	GetChannelContact(ctx context.Context, field, identifier, name string) (*models.Contact, error)
	GetContactByID(ctx context.Context, id int64) (*models.Contact, error)
	UpdateContactImages(ctx context.Context, id int64, large, small string) error

	CreateConversation(ctx context.Context, c *models.Conversation, memberIDs []int64) error
	GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error)
	GetLatestConversationForContact(ctx context.Context, connectorID, contactID int64) (*models.Conversation, error)
	SetConversationActive(ctx context.Context, id int64, active bool) error
	AddConversationMember(ctx context.Context, conversationID, contactID int64) error
	GetConversationMember(ctx context.Context, conversationID, contactID int64) (*models.ConversationMember, error)
	MarkMemberRead(ctx context.Context, memberID, messageID int64) error
	ListRoutingMembers(ctx context.Context, connectorID int64) ([]models.RoutingMember, error)
	IncrementRoutingAssignments(ctx context.Context, memberIDs []int64) error

	CreateMessage(ctx context.Context, m *models.Message) error
	StampExternalID(ctx context.Context, messageID int64, externalID string) error
	GetMessageByExternalID(ctx context.Context, connectorID int64, externalID string) (*models.Message, error)
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	UpdateMessageBody(ctx context.Context, id int64, body string) error
	CreateAttachment(ctx context.Context, a *models.Attachment) error
	CreateReaction(ctx context.Context, r *models.Reaction) error
	DeleteAttachmentsByFilename(ctx context.Context, filename string) (int64, error)
}
