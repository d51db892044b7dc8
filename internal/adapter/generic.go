package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chathub/internal/errors"
	"chathub/internal/models"

	"github.com/sirupsen/logrus"
)

// genericPayload is the wire shape of a generic webhook chat platform:
// a typed envelope with a visitor block and a list of message contents.
type genericPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message struct {
		From    string `json:"from"`
		Channel string `json:"channel"`
		Visitor struct {
			Name      string `json:"name"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"visitor"`
		Contents []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"contents"`
	} `json:"message"`
}

// GenericWebhook handles inbound-only webhook platforms with no provider
// API of their own. Sends and instance management stay unimplemented.
type GenericWebhook struct {
	Base
	connector *models.Connector
	logger    *logrus.Logger
}

func NewGenericWebhook(connector *models.Connector, logger *logrus.Logger) *GenericWebhook {
	return &GenericWebhook{connector: connector, logger: logger}
}

func (g *GenericWebhook) Kind() models.ProviderKind { return models.ProviderGenericWebhook }

func parseGeneric(payload []byte) (*genericPayload, error) {
	var p genericPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "malformed webhook payload")
	}
	return &p, nil
}

func (g *GenericWebhook) GetMessageID(payload []byte) string {
	p, err := parseGeneric(payload)
	if err != nil {
		return ""
	}
	return p.ID
}

func (g *GenericWebhook) GetContactIdentifier(payload []byte) (string, error) {
	p, err := parseGeneric(payload)
	if err != nil {
		return "", err
	}
	if p.Message.From == "" {
		return "", errors.New(errors.ErrCodeInvalidPayload, "no sender in payload")
	}
	return p.Message.From, nil
}

func (g *GenericWebhook) GetContactName(payload []byte) string {
	p, err := parseGeneric(payload)
	if err != nil {
		return ""
	}
	v := p.Message.Visitor
	if v.FirstName != "" {
		return strings.TrimSpace(v.FirstName + " " + v.LastName)
	}
	return v.Name
}

func (g *GenericWebhook) GetChannelName(payload []byte) string {
	p, err := parseGeneric(payload)
	if err != nil {
		return ""
	}
	id, _ := g.GetContactIdentifier(payload)
	return fmt.Sprintf("%s: %s<%s>", p.Message.Channel, g.GetContactName(payload), id)
}

func (g *GenericWebhook) GetStatus(context.Context) (*Status, error) {
	return &Status{State: "not_found"}, nil
}

func (g *GenericWebhook) ParsePayload(payload []byte) (*models.InboundEvent, error) {
	p, err := parseGeneric(payload)
	if err != nil {
		return nil, err
	}
	if p.Type != "MESSAGE" {
		return &models.InboundEvent{Kind: models.EventIgnored, Reason: "unsupported payload type"}, nil
	}
	identifier, err := g.GetContactIdentifier(payload)
	if err != nil {
		return nil, err
	}
	for _, content := range p.Message.Contents {
		if content.Type != "text" {
			continue
		}
		name := g.GetContactName(payload)
		if name == "" {
			name = identifier
		}
		return &models.InboundEvent{
			Kind:              models.EventText,
			ExternalID:        p.ID,
			ContactIdentifier: identifier,
			ContactName:       name,
			Body:              content.Text,
		}, nil
	}
	return &models.InboundEvent{Kind: models.EventIgnored, Reason: "no text content"}, nil
}
