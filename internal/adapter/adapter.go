// Package adapter implements the provider contract: translating each
// provider's payload shape into canonical inbound events and performing
// provider-specific outbound calls. Adapters never decide resolution
// policy; they normalize and send.
package adapter

import (
	"context"
	"fmt"

	"chathub/internal/errors"
	"chathub/internal/models"

	"github.com/sirupsen/logrus"
)

// Status is the provider-side connection state of an instance.
type Status struct {
	State  string `json:"state"`
	QRCode string `json:"qrcode,omitempty"` // base64 data URI when pairing is pending
}

// Adapter is the polymorphic provider contract. One implementation exists
// per provider kind; a connector selects its adapter at construction time.
type Adapter interface {
	Kind() models.ProviderKind

	GetStatus(ctx context.Context) (*Status, error)

	// Payload field extraction. These parse the raw webhook body; they do
	// not call out to the provider except where noted.
	GetMessageID(payload []byte) string
	GetContactIdentifier(payload []byte) (string, error)
	GetContactName(payload []byte) string
	GetChannelName(payload []byte) string

	// GetProfilePicture returns base64 image content for the payload's
	// contact, fetching from the provider when the payload has no URL.
	GetProfilePicture(ctx context.Context, payload []byte) (string, error)

	// ParsePayload normalizes a raw webhook body into a canonical event.
	ParsePayload(payload []byte) (*models.InboundEvent, error)

	// FetchMessage re-reads a message's current remote content by external
	// id, used to replay provider-side edits.
	FetchMessage(ctx context.Context, externalID string) (*models.InboundEvent, error)

	SendText(ctx context.Context, conv *models.Conversation, text, quotedExternalID string) (string, error)
	SendAttachment(ctx context.Context, conv *models.Conversation, att *models.Attachment, mediaType string) (string, error)
	SendReaction(ctx context.Context, conv *models.Conversation, externalID, emoji string) error

	RestartInstance(ctx context.Context) error
	LogoutInstance(ctx context.Context) error
}

// Base fails every operation with an unimplemented-capability error, so a
// provider only overrides what it supports and misconfiguration surfaces
// as an explicit failure instead of a silent no-op.
type Base struct{}

func (Base) GetStatus(context.Context) (*Status, error) { return nil, errors.ErrNotImplemented }
func (Base) GetMessageID([]byte) string                 { return "" }
func (Base) GetContactIdentifier([]byte) (string, error) {
	return "", errors.ErrNotImplemented
}
func (Base) GetContactName([]byte) string { return "" }
func (Base) GetChannelName([]byte) string { return "" }
func (Base) GetProfilePicture(context.Context, []byte) (string, error) {
	return "", errors.ErrNotImplemented
}
func (Base) ParsePayload([]byte) (*models.InboundEvent, error) {
	return nil, errors.ErrNotImplemented
}
func (Base) FetchMessage(context.Context, string) (*models.InboundEvent, error) {
	return nil, errors.ErrNotImplemented
}
func (Base) SendText(context.Context, *models.Conversation, string, string) (string, error) {
	return "", errors.ErrNotImplemented
}
func (Base) SendAttachment(context.Context, *models.Conversation, *models.Attachment, string) (string, error) {
	return "", errors.ErrNotImplemented
}
func (Base) SendReaction(context.Context, *models.Conversation, string, string) error {
	return errors.ErrNotImplemented
}
func (Base) RestartInstance(context.Context) error { return errors.ErrNotImplemented }
func (Base) LogoutInstance(context.Context) error  { return errors.ErrNotImplemented }

// New constructs the adapter for a connector's provider kind.
func New(connector *models.Connector, logger *logrus.Logger) (Adapter, error) {
	switch connector.Kind {
	case models.ProviderEvolution:
		return NewEvolution(connector, logger), nil
	case models.ProviderWhatsAppCloud:
		return NewWhatsAppCloud(connector, logger), nil
	case models.ProviderGenericWebhook:
		return NewGenericWebhook(connector, logger), nil
	case models.ProviderExample:
		return NewExample(connector, logger), nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown provider kind: %s", connector.Kind))
	}
}
