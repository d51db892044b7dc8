package service

import (
	"context"
	"fmt"
	"strings"

	"chathub/internal/adapter"
	"chathub/internal/constants"
	"chathub/internal/models"
	"chathub/pkg/markup"

	"github.com/sirupsen/logrus"
)

// Sender formats and delivers locally authored messages through a provider
// adapter. Delivery is best-effort: a failed provider call returns the error
// to the caller, nothing is retried here.
type Sender struct {
	store  Store
	logger *logrus.Logger
}

func NewSender(store Store, logger *logrus.Logger) *Sender {
	return &Sender{store: store, logger: logger}
}

// Send renders the message through the connector's template, converts the
// HTML to provider markup and delivers it, then stamps the returned external
// id onto the message for later threading and receipts.
func (s *Sender) Send(ctx context.Context, connector *models.Connector, provider adapter.Adapter, msg *models.Message, attachments []*models.Attachment) error {
	conv, err := s.store.GetConversationByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %d not found", msg.ConversationID)
	}

	authorName := ""
	if author, err := s.store.GetContactByID(ctx, msg.AuthorID); err == nil && author != nil {
		authorName = author.Name
	}

	rendered, err := markup.Render(connector.Template(), markup.TemplateContext{
		AuthorName: authorName,
		Body:       msg.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to render outbound template: %w", err)
	}
	text := markup.HTMLToProviderMarkup(rendered)

	quoted, err := s.quotedExternalID(ctx, msg)
	if err != nil {
		return err
	}

	var externalID string
	if strings.TrimSpace(msg.Body) != "" || len(attachments) == 0 {
		externalID, err = provider.SendText(ctx, conv, text, quoted)
		if err != nil {
			return err
		}
	}

	for _, att := range attachments {
		id, err := s.sendAttachment(ctx, provider, conv, att)
		if err != nil {
			return err
		}
		if externalID == "" {
			externalID = id
		}
	}

	if externalID != "" {
		if err := s.store.StampExternalID(ctx, msg.ID, externalID); err != nil {
			s.logger.WithError(err).WithField("message", msg.ID).Warn("Failed to stamp outbound external id")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"connector":   connector.UUID,
		"message":     msg.ID,
		"external_id": externalID,
	}).Info("Delivered outbound message")
	return nil
}

func (s *Sender) sendAttachment(ctx context.Context, provider adapter.Adapter, conv *models.Conversation, att *models.Attachment) (string, error) {
	mediaType := classifyMedia(att.MimeType)
	if mediaType == "audio" {
		// Providers reject audio with arbitrary names.
		normalized := *att
		normalized.Filename = constants.AudioFilename
		att = &normalized
	}
	return provider.SendAttachment(ctx, conv, att, mediaType)
}

// SendReaction delivers an emoji reaction on a previously delivered message.
// The target must already carry an external id.
func (s *Sender) SendReaction(ctx context.Context, connector *models.Connector, provider adapter.Adapter, reaction *models.Reaction) error {
	msg, err := s.store.GetMessageByID(ctx, reaction.MessageID)
	if err != nil {
		return err
	}
	if msg == nil || msg.ExternalID == nil {
		return fmt.Errorf("message %d has no provider id to react to", reaction.MessageID)
	}
	conv, err := s.store.GetConversationByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %d not found", msg.ConversationID)
	}
	return provider.SendReaction(ctx, conv, *msg.ExternalID, reaction.Content)
}

func (s *Sender) quotedExternalID(ctx context.Context, msg *models.Message) (string, error) {
	if msg.ParentID == nil {
		return "", nil
	}
	parent, err := s.store.GetMessageByID(ctx, *msg.ParentID)
	if err != nil {
		return "", err
	}
	if parent == nil || parent.ExternalID == nil {
		return "", nil
	}
	return *parent.ExternalID, nil
}

func classifyMedia(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}
