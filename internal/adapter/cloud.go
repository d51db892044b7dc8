package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chathub/internal/errors"
	"chathub/internal/models"

	"github.com/sirupsen/logrus"
)

// cloudPayload is the WhatsApp Cloud API webhook envelope. Verification
// challenges arrive as flat hub.* fields instead.
type cloudPayload struct {
	HubMode        string `json:"hub.mode,omitempty"`
	HubVerifyToken string `json:"hub.verify_token,omitempty"`
	HubChallenge   string `json:"hub.challenge,omitempty"`

	Entry []struct {
		Changes []cloudChange `json:"changes"`
	} `json:"entry"`
}

type cloudChange struct {
	Field string `json:"field,omitempty"`
	Value struct {
		Contacts []struct {
			WaID    string `json:"wa_id"`
			Profile struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"contacts"`
		Messages []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			From string `json:"from"`
			Text struct {
				Body string `json:"body"`
			} `json:"text"`
			Context struct {
				ID string `json:"id"`
			} `json:"context"`
		} `json:"messages"`
		Statuses []struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			RecipientID string `json:"recipient_id"`
		} `json:"statuses"`
	} `json:"value"`
}

// WhatsAppCloud speaks the official WhatsApp Cloud API webhook format.
// Outbound sending is not wired for this provider; the base contract
// surfaces unimplemented capabilities explicitly.
type WhatsAppCloud struct {
	Base
	connector *models.Connector
	logger    *logrus.Logger
}

func NewWhatsAppCloud(connector *models.Connector, logger *logrus.Logger) *WhatsAppCloud {
	return &WhatsAppCloud{connector: connector, logger: logger}
}

func (w *WhatsAppCloud) Kind() models.ProviderKind { return models.ProviderWhatsAppCloud }

func parseCloud(payload []byte) (*cloudPayload, error) {
	var p cloudPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "malformed cloud payload")
	}
	return &p, nil
}

func (p *cloudPayload) change() *cloudChange {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil
	}
	return &p.Entry[0].Changes[0]
}

// GetMessageID takes the first messages[] entry, or the first statuses[]
// entry when no messages are present.
func (w *WhatsAppCloud) GetMessageID(payload []byte) string {
	p, err := parseCloud(payload)
	if err != nil {
		return ""
	}
	change := p.change()
	if change == nil {
		return ""
	}
	if len(change.Value.Messages) > 0 {
		return change.Value.Messages[0].ID
	}
	if len(change.Value.Statuses) > 0 {
		return change.Value.Statuses[0].ID
	}
	return ""
}

func (w *WhatsAppCloud) GetContactIdentifier(payload []byte) (string, error) {
	p, err := parseCloud(payload)
	if err != nil {
		return "", err
	}
	change := p.change()
	if change == nil || len(change.Value.Contacts) == 0 {
		return "", errors.New(errors.ErrCodeInvalidPayload, "no contact in payload")
	}
	return change.Value.Contacts[0].WaID, nil
}

func (w *WhatsAppCloud) GetContactName(payload []byte) string {
	p, err := parseCloud(payload)
	if err != nil {
		return ""
	}
	change := p.change()
	if change == nil || len(change.Value.Contacts) == 0 {
		return "Unknown Contact"
	}
	if name := change.Value.Contacts[0].Profile.Name; name != "" {
		return name
	}
	return "Unknown Contact"
}

func (w *WhatsAppCloud) GetChannelName(payload []byte) string {
	id, _ := w.GetContactIdentifier(payload)
	return fmt.Sprintf("%s whatsapp:<%s>", w.GetContactName(payload), id)
}

func (w *WhatsAppCloud) GetStatus(context.Context) (*Status, error) {
	// Cloud API instances have no pairing lifecycle.
	return &Status{State: "open"}, nil
}

func (w *WhatsAppCloud) ParsePayload(payload []byte) (*models.InboundEvent, error) {
	p, err := parseCloud(payload)
	if err != nil {
		return nil, err
	}

	// Subscription verification challenge: echo the token back, or reject
	// with 403 on verify-token mismatch.
	if p.HubMode == "subscribe" {
		challenge := &models.Challenge{Response: p.HubChallenge}
		if w.connector.VerifyToken != "" && w.connector.VerifyToken == p.HubVerifyToken {
			challenge.Verified = true
		}
		return &models.InboundEvent{Kind: models.EventChallenge, Challenge: challenge}, nil
	}

	change := p.change()
	if change == nil {
		return nil, errors.New(errors.ErrCodeInvalidPayload, "no changes in payload")
	}

	if change.Field == "message_template_status_update" {
		return &models.InboundEvent{
			Kind:  models.EventAdmin,
			Admin: &models.AdminEvent{Event: change.Field, Instance: w.connector.Name},
		}, nil
	}

	if len(change.Value.Messages) > 0 {
		msg := change.Value.Messages[0]
		identifier, err := w.GetContactIdentifier(payload)
		if err != nil {
			identifier = msg.From
		}
		ev := &models.InboundEvent{
			ExternalID:        msg.ID,
			ContactIdentifier: identifier,
			ContactName:       w.GetContactName(payload),
			QuotedExternalID:  msg.Context.ID,
		}
		if msg.Type == "text" {
			ev.Kind = models.EventText
			ev.Body = msg.Text.Body
			return ev, nil
		}
		ev.Kind = models.EventIgnored
		ev.Reason = fmt.Sprintf("Unknown message type: %s", msg.Type)
		return ev, nil
	}

	if len(change.Value.Statuses) > 0 {
		st := change.Value.Statuses[0]
		if st.Status == "read" {
			return &models.InboundEvent{
				Kind:              models.EventReadReceipt,
				TargetExternalID:  st.ID,
				ContactIdentifier: st.RecipientID,
			}, nil
		}
		return &models.InboundEvent{
			Kind:   models.EventIgnored,
			Reason: fmt.Sprintf("unhandled status: %s", st.Status),
		}, nil
	}

	return &models.InboundEvent{Kind: models.EventIgnored, Reason: "empty change value"}, nil
}

// ChallengeResult maps a verification challenge to the HTTP response the
// provider expects: the raw challenge token on success, 403 on mismatch.
func ChallengeResult(c *models.Challenge) models.Result {
	if c.Verified {
		return models.Result{
			Success:    true,
			Action:     "verify_challenge",
			Challenge:  c.Response,
			StatusCode: http.StatusOK,
		}
	}
	return models.Result{
		Success:    false,
		Action:     "verify_challenge",
		Error:      "wrong verify token",
		Challenge:  "wrong verify token",
		StatusCode: http.StatusForbidden,
	}
}
