package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chathub/internal/constants"
	"chathub/internal/errors"
	"chathub/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const statusBroadcastJID = "status@broadcast"

// evolutionPayload is the wire shape of an Evolution-style webhook body.
type evolutionPayload struct {
	Event    string        `json:"event"`
	Instance string        `json:"instance"`
	Data     evolutionData `json:"data"`
}

type evolutionData struct {
	Key           evolutionKey     `json:"key"`
	KeyID         json.RawMessage  `json:"keyId,omitempty"`
	RemoteJid     string           `json:"remoteJid,omitempty"`
	PushName      string           `json:"pushName,omitempty"`
	Status        string           `json:"status,omitempty"`
	ID            string           `json:"id,omitempty"`
	ProfilePicURL string           `json:"profilePicUrl,omitempty"`
	Message       evolutionMessage `json:"message,omitempty"`
	ContextInfo   *evolutionQuote  `json:"contextInfo,omitempty"`
	QRCode        *evolutionQRCode `json:"qrcode,omitempty"`
	State         string           `json:"state,omitempty"`
	StatusReason  int              `json:"statusReason,omitempty"`
}

type evolutionKey struct {
	RemoteJid   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

type evolutionMessage struct {
	Conversation    string             `json:"conversation,omitempty"`
	Base64          string             `json:"base64,omitempty"`
	ReactionMessage *evolutionReaction `json:"reactionMessage,omitempty"`
	ImageMessage    *evolutionMedia    `json:"imageMessage,omitempty"`
	StickerMessage  *evolutionMedia    `json:"stickerMessage,omitempty"`
	VideoMessage    *evolutionMedia    `json:"videoMessage,omitempty"`
	AudioMessage    *evolutionMedia    `json:"audioMessage,omitempty"`
	DocumentMessage *evolutionMedia    `json:"documentMessage,omitempty"`
	LocationMessage *evolutionLocation `json:"locationMessage,omitempty"`
	ContactMessage  *evolutionContact  `json:"contactMessage,omitempty"`
}

type evolutionReaction struct {
	Key  evolutionKey `json:"key"`
	Text string       `json:"text"`
}

type evolutionMedia struct {
	Caption  string `json:"caption,omitempty"`
	Title    string `json:"title,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

type evolutionLocation struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	JpegThumbnail    string  `json:"jpegThumbnail,omitempty"`
}

type evolutionContact struct {
	DisplayName string `json:"displayName,omitempty"`
	VCard       string `json:"vcard,omitempty"`
}

type evolutionQuote struct {
	StanzaID      string          `json:"stanzaId,omitempty"`
	QuotedMessage json.RawMessage `json:"quotedMessage,omitempty"`
}

type evolutionQRCode struct {
	Base64 string `json:"base64,omitempty"`
}

type evolutionContactSeed struct {
	RemoteJid     string `json:"remoteJid"`
	PushName      string `json:"pushName,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

// Evolution speaks to an Evolution-style WhatsApp bridge API.
type Evolution struct {
	Base
	connector *models.Connector
	client    *resty.Client
	logger    *logrus.Logger
}

func NewEvolution(connector *models.Connector, logger *logrus.Logger) *Evolution {
	// Timeouts are applied per call: status checks and lookups short,
	// media uploads long.
	client := resty.New().
		SetBaseURL(connector.URL).
		SetHeader("apikey", connector.APIKey)
	return &Evolution{connector: connector, client: client, logger: logger}
}

func (e *Evolution) Kind() models.ProviderKind { return models.ProviderEvolution }

func parseEvolution(payload []byte) (*evolutionPayload, error) {
	var p evolutionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "malformed evolution payload")
	}
	return &p, nil
}

// NormalizeIdentifier extracts the number from a remoteJid and applies the
// Brazilian mobile rule: 12-digit numbers with country prefix 55 gain a 9
// after the 4-digit area prefix, normalizing to 13 digits.
func NormalizeIdentifier(remoteJid string) string {
	number := strings.Split(strings.Split(remoteJid, "@")[0], ":")[0]
	if strings.HasPrefix(number, "55") && len(number) == 12 {
		number = number[:4] + "9" + number[4:]
	}
	return number
}

func (p *evolutionPayload) remoteJid() string {
	if p.Data.Key.RemoteJid != "" {
		return p.Data.Key.RemoteJid
	}
	return p.Data.RemoteJid
}

func (p *evolutionPayload) messageID() string {
	if len(p.Data.KeyID) > 0 {
		// keyId arrives either as a string or a one-element array
		var single string
		if err := json.Unmarshal(p.Data.KeyID, &single); err == nil && single != "" {
			return single
		}
		var many []string
		if err := json.Unmarshal(p.Data.KeyID, &many); err == nil && len(many) > 0 {
			return many[0]
		}
	}
	return p.Data.Key.ID
}

func (e *Evolution) GetMessageID(payload []byte) string {
	p, err := parseEvolution(payload)
	if err != nil {
		return ""
	}
	return p.messageID()
}

func (e *Evolution) GetContactIdentifier(payload []byte) (string, error) {
	p, err := parseEvolution(payload)
	if err != nil {
		return "", err
	}
	jid := p.remoteJid()
	if jid == "" {
		return "", errors.New(errors.ErrCodeInvalidPayload, "no remoteJid in payload")
	}
	return NormalizeIdentifier(jid), nil
}

func (e *Evolution) GetContactName(payload []byte) string {
	p, err := parseEvolution(payload)
	if err != nil {
		return ""
	}
	if p.Data.PushName != "" {
		return p.Data.PushName
	}
	id, err := e.GetContactIdentifier(payload)
	if err != nil {
		return ""
	}
	return id
}

func (e *Evolution) GetChannelName(payload []byte) string {
	p, err := parseEvolution(payload)
	if err != nil {
		return ""
	}
	id, _ := e.GetContactIdentifier(payload)
	if strings.HasSuffix(p.remoteJid(), "@g.us") {
		return fmt.Sprintf("WGROUP: <%s>", id)
	}
	return fmt.Sprintf("Whatsapp: %s <%s>", e.GetContactName(payload), id)
}

func callTimeout(ctx context.Context, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}

func (e *Evolution) GetStatus(ctx context.Context) (*Status, error) {
	ctx, cancel := callTimeout(ctx, constants.DefaultStatusTimeoutSec)
	defer cancel()
	var body struct {
		Base64   string `json:"base64"`
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/instance/connect/" + e.connector.Name)
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "status check failed")
	}
	switch resp.StatusCode() {
	case 404:
		return &Status{State: "not_found"}, nil
	case 401:
		return &Status{State: "unauthorized"}, nil
	}
	status := &Status{State: body.Instance.State}
	if status.State == "" {
		status.State = "closed"
	}
	if body.Base64 != "" {
		status.QRCode = body.Base64
	}
	return status, nil
}

// ParsePayload normalizes the Evolution webhook body into a canonical
// event. Broadcast handling, group naming and the Brazilian number rule
// happen here; resolution policy does not.
func (e *Evolution) ParsePayload(payload []byte) (*models.InboundEvent, error) {
	p, err := parseEvolution(payload)
	if err != nil {
		return nil, err
	}

	switch p.Event {
	case "qrcode.updated", "connection.update", "logout.instance":
		admin := &models.AdminEvent{
			Event:        p.Event,
			Instance:     p.Instance,
			State:        p.Data.State,
			StatusReason: p.Data.StatusReason,
		}
		if p.Data.QRCode != nil {
			admin.QRCodeData = p.Data.QRCode.Base64
		}
		return &models.InboundEvent{Kind: models.EventAdmin, Admin: admin}, nil

	case "messages.upsert":
		return e.parseUpsert(p)

	case "messages.update":
		return e.parseUpdate(p)

	case "messages.delete":
		return &models.InboundEvent{
			Kind:             models.EventDelete,
			TargetExternalID: p.Data.ID,
		}, nil

	case "contacts.upsert":
		return parseContactsUpsert(payload)
	}

	return &models.InboundEvent{Kind: models.EventIgnored, Reason: "did nothing"}, nil
}

func (e *Evolution) parseUpsert(p *evolutionPayload) (*models.InboundEvent, error) {
	remoteJid := p.remoteJid()
	if remoteJid == "" {
		return nil, errors.New(errors.ErrCodeInvalidPayload, "No remoteJid")
	}

	// Status broadcasts use the participant as the effective sender.
	if remoteJid == statusBroadcastJID {
		if !e.connector.AllowBroadcast {
			return &models.InboundEvent{
				Kind:   models.EventIgnored,
				Reason: "Broadcast messages disabled",
			}, nil
		}
		remoteJid = p.Data.Key.Participant
	}

	ev := &models.InboundEvent{
		ExternalID:        p.messageID(),
		ContactIdentifier: NormalizeIdentifier(remoteJid),
		SenderName:        p.Data.PushName,
		IsGroup:           strings.HasSuffix(p.Data.Key.RemoteJid, "@g.us"),
		FromMe:            p.Data.Key.FromMe,
	}
	ev.ContactName = p.Data.PushName
	if ev.ContactName == "" {
		ev.ContactName = ev.ContactIdentifier
	}
	if p.Data.ContextInfo != nil && len(p.Data.ContextInfo.QuotedMessage) > 0 {
		ev.QuotedExternalID = p.Data.ContextInfo.StanzaID
	}

	msg := p.Data.Message
	switch {
	case msg.Conversation != "":
		ev.Kind = models.EventText
		ev.Body = msg.Conversation

	case msg.ReactionMessage != nil:
		ev.Kind = models.EventReaction
		ev.TargetExternalID = msg.ReactionMessage.Key.ID
		ev.Emoji = msg.ReactionMessage.Text

	case msg.ImageMessage != nil, msg.StickerMessage != nil:
		media := msg.ImageMessage
		if media == nil {
			media = msg.StickerMessage
		}
		ev.Kind = models.EventImage
		ev.Body = media.Caption
		filename := media.Caption
		if filename == "" {
			filename = constants.ImageFilename
		}
		data, err := base64.StdEncoding.DecodeString(msg.Base64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "bad image content")
		}
		ev.Media = &models.Media{Data: data, Filename: filename, MimeType: media.Mimetype}

	case msg.VideoMessage != nil:
		ev.Kind = models.EventVideo
		ev.Body = msg.VideoMessage.Caption
		filename := msg.VideoMessage.Title
		if filename == "" {
			filename = ev.ExternalID
		}
		data, err := base64.StdEncoding.DecodeString(msg.Base64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "bad video content")
		}
		ev.Media = &models.Media{Data: data, Filename: filename + ".mp4", MimeType: msg.VideoMessage.Mimetype}

	case msg.AudioMessage != nil:
		ev.Kind = models.EventAudio
		ev.Body = "audio"
		data, err := base64.StdEncoding.DecodeString(msg.Base64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "bad audio content")
		}
		ev.Media = &models.Media{Data: data, Filename: constants.AudioFilename, MimeType: msg.AudioMessage.Mimetype}

	case msg.LocationMessage != nil:
		ev.Kind = models.EventLocation
		loc := &models.Location{
			Latitude:  msg.LocationMessage.DegreesLatitude,
			Longitude: msg.LocationMessage.DegreesLongitude,
		}
		if msg.LocationMessage.JpegThumbnail != "" {
			thumb, err := base64.StdEncoding.DecodeString(msg.LocationMessage.JpegThumbnail)
			if err == nil {
				loc.Thumbnail = thumb
			}
		}
		ev.Location = loc

	case msg.DocumentMessage != nil:
		ev.Kind = models.EventDocument
		ev.Body = msg.DocumentMessage.Caption
		filename := msg.DocumentMessage.Title
		if filename == "" {
			filename = ev.ExternalID
		}
		data, err := base64.StdEncoding.DecodeString(msg.Base64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "bad document content")
		}
		ev.Media = &models.Media{Data: data, Filename: filename, MimeType: msg.DocumentMessage.Mimetype}

	case msg.ContactMessage != nil:
		ev.Kind = models.EventContactCard
		ev.Body = msg.ContactMessage.VCard

	default:
		ev.Kind = models.EventIgnored
		ev.Reason = "unsupported message shape"
	}

	return ev, nil
}

func (e *Evolution) parseUpdate(p *evolutionPayload) (*models.InboundEvent, error) {
	switch p.Data.Status {
	case "READ":
		return &models.InboundEvent{
			Kind:              models.EventReadReceipt,
			TargetExternalID:  p.messageID(),
			ContactIdentifier: NormalizeIdentifier(p.remoteJid()),
		}, nil
	case "DELETED":
		// Evolution signals an edit as a DELETED status update; the current
		// content is re-fetched and replayed as a new message.
		return &models.InboundEvent{
			Kind:             models.EventEdit,
			TargetExternalID: p.messageID(),
		}, nil
	}
	return &models.InboundEvent{Kind: models.EventIgnored, Reason: "Unhandled update type"}, nil
}

func parseContactsUpsert(payload []byte) (*models.InboundEvent, error) {
	var p struct {
		Data []evolutionContactSeed `json:"data"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "malformed contacts payload")
	}
	ev := &models.InboundEvent{Kind: models.EventContactSync}
	for _, c := range p.Data {
		if c.RemoteJid == "" {
			continue
		}
		name := c.PushName
		identifier := NormalizeIdentifier(c.RemoteJid)
		if name == "" {
			name = identifier
		}
		ev.Contacts = append(ev.Contacts, models.ContactSeed{
			Identifier: identifier,
			Name:       name,
			PictureURL: c.ProfilePicURL,
		})
	}
	return ev, nil
}

// FetchMessage re-reads a message by id from the provider and normalizes
// the newest record as if it had just arrived.
func (e *Evolution) FetchMessage(ctx context.Context, externalID string) (*models.InboundEvent, error) {
	ctx, cancel := callTimeout(ctx, constants.DefaultLookupTimeoutSec)
	defer cancel()
	var body struct {
		Messages struct {
			Records []json.RawMessage `json:"records"`
		} `json:"messages"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"where": map[string]interface{}{"key": map[string]string{"id": externalID}}}).
		SetResult(&body).
		Post("/chat/findMessages/" + e.connector.Name)
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "findMessages failed")
	}
	if resp.IsError() || len(body.Messages.Records) == 0 {
		return nil, errors.New(errors.ErrCodeNotFound, "remote message not found")
	}

	replay, err := json.Marshal(map[string]interface{}{
		"event":    "messages.upsert",
		"instance": e.connector.Name,
		"data":     body.Messages.Records[0],
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "replay encode failed")
	}
	return e.ParsePayload(replay)
}

func (e *Evolution) GetProfilePicture(ctx context.Context, payload []byte) (string, error) {
	p, err := parseEvolution(payload)
	if err != nil {
		return "", err
	}
	imageURL := p.Data.ProfilePicURL
	if imageURL == "" {
		identifier, err := e.GetContactIdentifier(payload)
		if err != nil {
			return "", err
		}
		var body struct {
			ProfilePictureURL string `json:"profilePictureUrl"`
		}
		lookupCtx, cancel := callTimeout(ctx, constants.DefaultLookupTimeoutSec)
		defer cancel()
		resp, err := e.client.R().
			SetContext(lookupCtx).
			SetBody(map[string]string{"number": identifier}).
			SetResult(&body).
			Post("/chat/fetchProfilePictureUrl/" + e.connector.Name)
		if err != nil || resp.IsError() {
			e.logger.WithField("connector", e.connector.Name).Debug("No profile picture URL available")
			return "", nil
		}
		imageURL = body.ProfilePictureURL
	}
	if imageURL == "" {
		return "", nil
	}

	resp, err := resty.New().
		SetTimeout(time.Duration(constants.DefaultProfilePicFetchSec) * time.Second).
		R().SetContext(ctx).Get(imageURL)
	if err != nil || resp.IsError() {
		e.logger.WithField("url", imageURL).Warn("Failed to download profile picture")
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(resp.Body()), nil
}

func (e *Evolution) SendText(ctx context.Context, conv *models.Conversation, text, quotedExternalID string) (string, error) {
	ctx, cancel := callTimeout(ctx, constants.DefaultSendTimeoutSec)
	defer cancel()
	payload := map[string]interface{}{
		"number": conv.OutgoingDestination,
		"text":   text,
	}
	if quotedExternalID != "" {
		payload["quoted"] = map[string]interface{}{
			"key": map[string]string{"id": quotedExternalID},
		}
	}
	var body struct {
		Key evolutionKey `json:"key"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		Post("/message/sendText/" + e.connector.Name)
	if err != nil {
		return "", errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "sendText failed")
	}
	if resp.StatusCode() != 201 {
		return "", errors.New(errors.ErrCodeProviderAPI,
			fmt.Sprintf("sendText returned %d: %s", resp.StatusCode(), resp.String()))
	}
	return body.Key.ID, nil
}

func (e *Evolution) SendAttachment(ctx context.Context, conv *models.Conversation, att *models.Attachment, mediaType string) (string, error) {
	ctx, cancel := callTimeout(ctx, constants.DefaultMediaTimeoutSec)
	defer cancel()
	filename := att.Filename
	if mediaType == "audio" {
		filename = constants.AudioFilename
	}
	payload := map[string]interface{}{
		"number":    conv.OutgoingDestination,
		"mediatype": mediaType,
		"mimetype":  att.MimeType,
		"media":     base64.StdEncoding.EncodeToString(att.Data),
		"fileName":  filename,
	}
	var body struct {
		Key evolutionKey `json:"key"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		SetHeader("Content-Type", "application/json").
		Post("/message/sendMedia/" + e.connector.Name)
	if err != nil {
		return "", errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "sendMedia failed")
	}
	if resp.StatusCode() != 201 {
		return "", errors.New(errors.ErrCodeProviderAPI,
			fmt.Sprintf("sendMedia returned %d: %s", resp.StatusCode(), resp.String()))
	}
	return body.Key.ID, nil
}

func (e *Evolution) SendReaction(ctx context.Context, conv *models.Conversation, externalID, emoji string) error {
	ctx, cancel := callTimeout(ctx, constants.DefaultSendTimeoutSec)
	defer cancel()
	payload := map[string]interface{}{
		"key": map[string]interface{}{
			"remoteJid": conv.OutgoingDestination,
			"fromMe":    false,
			"id":        externalID,
		},
		"reaction": emoji,
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/message/sendReaction/" + e.connector.Name)
	if err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "sendReaction failed")
	}
	if resp.IsError() {
		return errors.New(errors.ErrCodeProviderAPI,
			fmt.Sprintf("sendReaction returned %d", resp.StatusCode()))
	}
	return nil
}

func (e *Evolution) RestartInstance(ctx context.Context) error {
	resp, err := e.client.R().
		SetContext(ctx).
		Post("/instance/restart/" + e.connector.Name)
	if err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "restart failed")
	}
	e.logger.WithFields(logrus.Fields{
		"connector": e.connector.Name,
		"status":    resp.StatusCode(),
	}).Info("Instance restart requested")
	settle(ctx)
	return nil
}

func (e *Evolution) LogoutInstance(ctx context.Context) error {
	resp, err := e.client.R().
		SetContext(ctx).
		Delete("/instance/logout/" + e.connector.Name)
	if err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "logout failed")
	}
	e.logger.WithFields(logrus.Fields{
		"connector": e.connector.Name,
		"status":    resp.StatusCode(),
	}).Info("Instance logout requested")
	settle(ctx)
	return nil
}

// settle waits the fixed post-call delay after instance restart/logout.
func settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(constants.DefaultInstanceSettleSec) * time.Second):
	}
}
