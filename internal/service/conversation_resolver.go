package service

import (
	"context"

	"chathub/internal/models"

	"github.com/sirupsen/logrus"
)

// ConversationResolver finds, reopens or creates the conversation for a
// (connector, contact) pair. Newest membership wins the tie-break when a
// contact has several historical conversations.
type ConversationResolver struct {
	store  Store
	router *Router
	logger *logrus.Logger
}

func NewConversationResolver(store Store, router *Router, logger *logrus.Logger) *ConversationResolver {
	return &ConversationResolver{store: store, router: router, logger: logger}
}

// Resolve returns the conversation for the contact's parent identity on
// this connector. An active one is reused; an archived one is reopened
// when the connector allows it; otherwise a new conversation is created
// with the routed agents plus the contact as members.
func (r *ConversationResolver) Resolve(
	ctx context.Context,
	connector *models.Connector,
	contact *models.Contact,
	channelName string,
) (*models.Conversation, error) {
	parentID := contact.AuthorID()

	conv, err := r.store.GetLatestConversationForContact(ctx, connector.ID, parentID)
	if err != nil {
		return nil, err
	}

	if conv != nil && conv.Active {
		r.logger.WithFields(logrus.Fields{
			"connector":    connector.UUID,
			"conversation": conv.ID,
		}).Debug("Reusing active conversation")
		return conv, nil
	}

	if conv != nil && connector.ReopenArchived {
		// Continue the same thread instead of fragmenting history.
		if err := r.store.SetConversationActive(ctx, conv.ID, true); err != nil {
			return nil, err
		}
		routed, err := r.router.AssignInitialMembers(ctx, connector.ID)
		if err != nil {
			return nil, err
		}
		for _, contactID := range routed {
			if err := r.store.AddConversationMember(ctx, conv.ID, contactID); err != nil {
				return nil, err
			}
		}
		conv.Active = true
		r.logger.WithFields(logrus.Fields{
			"connector":    connector.UUID,
			"conversation": conv.ID,
		}).Info("Reopened archived conversation")
		return conv, nil
	}

	routed, err := r.router.AssignInitialMembers(ctx, connector.ID)
	if err != nil {
		return nil, err
	}
	members := append(routed, parentID)

	conv = &models.Conversation{
		ConnectorID:         connector.ID,
		OutgoingDestination: contact.Identifier,
		Name:                channelName,
		Image:               contact.ImageSmall,
		Active:              true,
	}
	if err := r.store.CreateConversation(ctx, conv, members); err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{
		"connector":    connector.UUID,
		"conversation": conv.ID,
		"members":      len(members),
	}).Info("Created conversation")
	return conv, nil
}
