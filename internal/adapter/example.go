package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"chathub/internal/errors"
	"chathub/internal/models"

	"github.com/sirupsen/logrus"
)

// examplePayload is the reference provider's flat payload. It exists to
// document the minimum a provider has to supply; new adapters usually
// start as a copy of this one.
type examplePayload struct {
	MessageID         json.Number `json:"message_id"`
	MessageType       string      `json:"message_type"`
	Message           string      `json:"message"`
	ContactName       string      `json:"contact_name"`
	ContactIdentifier string      `json:"contact_identifier"`
	ProfilePicture    string      `json:"profile_picture"`
	QuotedID          string      `json:"quoted_id"`
}

// Example is the reference provider implementation.
type Example struct {
	Base
	connector *models.Connector
	logger    *logrus.Logger
}

func NewExample(connector *models.Connector, logger *logrus.Logger) *Example {
	return &Example{connector: connector, logger: logger}
}

func (x *Example) Kind() models.ProviderKind { return models.ProviderExample }

func parseExample(payload []byte) (*examplePayload, error) {
	var p examplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "malformed example payload")
	}
	return &p, nil
}

func (x *Example) GetMessageID(payload []byte) string {
	p, err := parseExample(payload)
	if err != nil {
		return ""
	}
	return p.MessageID.String()
}

func (x *Example) GetContactIdentifier(payload []byte) (string, error) {
	p, err := parseExample(payload)
	if err != nil {
		return "", err
	}
	if p.ContactIdentifier == "" {
		return "", errors.New(errors.ErrCodeInvalidPayload, "no contact identifier")
	}
	return p.ContactIdentifier, nil
}

func (x *Example) GetContactName(payload []byte) string {
	p, err := parseExample(payload)
	if err != nil {
		return ""
	}
	return p.ContactName
}

func (x *Example) GetChannelName(payload []byte) string {
	id, _ := x.GetContactIdentifier(payload)
	return fmt.Sprintf("Example: %s <%s>", x.GetContactName(payload), id)
}

func (x *Example) GetStatus(context.Context) (*Status, error) {
	return &Status{State: "open"}, nil
}

func (x *Example) ParsePayload(payload []byte) (*models.InboundEvent, error) {
	p, err := parseExample(payload)
	if err != nil {
		return nil, err
	}
	switch p.MessageType {
	case "text":
		identifier, err := x.GetContactIdentifier(payload)
		if err != nil {
			return nil, err
		}
		name := p.ContactName
		if name == "" {
			name = identifier
		}
		return &models.InboundEvent{
			Kind:              models.EventText,
			ExternalID:        p.MessageID.String(),
			ContactIdentifier: identifier,
			ContactName:       name,
			Body:              p.Message,
			QuotedExternalID:  p.QuotedID,
		}, nil
	case "read":
		return &models.InboundEvent{
			Kind:              models.EventReadReceipt,
			TargetExternalID:  p.MessageID.String(),
			ContactIdentifier: p.ContactIdentifier,
		}, nil
	}
	return &models.InboundEvent{
		Kind:   models.EventIgnored,
		Reason: fmt.Sprintf("Unknown message type: %s", p.MessageType),
	}, nil
}
