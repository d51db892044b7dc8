package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"chathub/internal/adapter"
	"chathub/internal/constants"
	"chathub/internal/database"
	"chathub/internal/errors"
	"chathub/internal/models"
	"chathub/pkg/markup"

	"github.com/sirupsen/logrus"
	"github.com/vincent-petithory/dataurl"
)

const deletedMessageNotice = "This message was deleted by the user"

// Dispatcher routes normalized inbound events to the correct handler:
// message kinds create records through the resolvers, administrative
// events go to manager conversations, policy-gated kinds no-op.
type Dispatcher struct {
	store         Store
	contacts      *ContactResolver
	conversations *ConversationResolver
	logger        *logrus.Logger
}

func NewDispatcher(store Store, logger *logrus.Logger) *Dispatcher {
	router := NewRouter(store, logger)
	return &Dispatcher{
		store:         store,
		contacts:      NewContactResolver(store, logger),
		conversations: NewConversationResolver(store, router, logger),
		logger:        logger,
	}
}

// Dispatch processes one raw webhook body for a connector and returns the
// structured result written back to the provider. Failures become result
// objects, never errors crossing the HTTP boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, connector *models.Connector, provider adapter.Adapter, payload []byte) models.Result {
	ev, err := provider.ParsePayload(payload)
	if err != nil {
		d.logger.WithError(err).WithField("connector", connector.UUID).Warn("Payload parse failed")
		result := models.Fail("process_payload", "", err.Error())
		if errors.GetCode(err) == errors.ErrCodeInvalidPayload {
			result.StatusCode = http.StatusBadRequest
		}
		return result
	}
	return d.dispatchEvent(ctx, connector, provider, payload, ev)
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, connector *models.Connector, provider adapter.Adapter, payload []byte, ev *models.InboundEvent) models.Result {
	switch ev.Kind {
	case models.EventChallenge:
		return adapter.ChallengeResult(ev.Challenge)

	case models.EventIgnored:
		// The request was valid but intentionally not acted on.
		result := models.Ok("process_payload", "")
		result.Message = ev.Reason
		return result

	case models.EventAdmin:
		return d.handleAdmin(ctx, connector, ev)

	case models.EventContactSync:
		return d.handleContactSync(ctx, connector, provider, ev)

	case models.EventReadReceipt:
		return d.handleReadReceipt(ctx, connector, provider, payload, ev)

	case models.EventReaction:
		return d.handleReaction(ctx, connector, provider, payload, ev)

	case models.EventEdit:
		return d.handleEdit(ctx, connector, provider, payload, ev)

	case models.EventDelete:
		return d.handleDelete(ctx, connector, ev)

	case models.EventText, models.EventImage, models.EventVideo, models.EventAudio,
		models.EventDocument, models.EventLocation, models.EventContactCard:
		return d.handleMessage(ctx, connector, provider, payload, ev)
	}

	return models.Fail("process_payload", string(ev.Kind), "unhandled event kind")
}

// handleMessage ingests every content-bearing kind: resolve contact and
// conversation, thread quotes, persist, stamp the external id.
func (d *Dispatcher) handleMessage(ctx context.Context, connector *models.Connector, provider adapter.Adapter, payload []byte, ev *models.InboundEvent) models.Result {
	event := "messages.upsert." + string(ev.Kind)

	contact, _, err := d.contacts.Resolve(ctx, connector, provider, payload, ev.ContactIdentifier, ev.ContactName, ResolveOptions{
		UpdateProfilePicture: true,
		CreateIfMissing:      true,
	})
	if err != nil {
		d.logger.WithError(err).WithField("connector", connector.UUID).Error("Contact resolution failed")
		return models.Fail("process_payload", event, "Contact creation failed")
	}

	channelName := provider.GetChannelName(payload)
	if channelName == "" {
		channelName = ev.ContactName
	}
	conv, err := d.conversations.Resolve(ctx, connector, contact, channelName)
	if err != nil {
		d.logger.WithError(err).WithField("connector", connector.UUID).Error("Conversation resolution failed")
		return models.Fail("process_payload", event, "Conversation creation failed")
	}

	// Replays of an already seen external id are acknowledged, not
	// re-created. The unique index backs this up under concurrency.
	if ev.ExternalID != "" {
		existing, err := d.store.GetMessageByExternalID(ctx, connector.ID, ev.ExternalID)
		if err != nil {
			return models.Fail("process_payload", event, err.Error())
		}
		if existing != nil {
			result := models.Ok("process_payload", event)
			result.MessageID = existing.ID
			result.Message = "duplicate ignored"
			return result
		}
	}

	author := contact.AuthorID()
	if ev.FromMe {
		author = connector.DefaultActorID
	}

	body := ev.Body
	switch ev.Kind {
	case models.EventText:
		if ev.IsGroup && ev.SenderName != "" {
			body = fmt.Sprintf("%s: %s", ev.SenderName, body)
		}
	case models.EventLocation:
		lat := strconv.FormatFloat(ev.Location.Latitude, 'f', -1, 64)
		lon := strconv.FormatFloat(ev.Location.Longitude, 'f', -1, 64)
		body = fmt.Sprintf(`<a href="https://maps.google.com/?q=%s,%s">📍%s, %s</a>`, lat, lon, lat, lon)
	}

	var parentID *int64
	if ev.QuotedExternalID != "" {
		quoted, err := d.store.GetMessageByExternalID(ctx, connector.ID, ev.QuotedExternalID)
		if err != nil {
			return models.Fail("process_payload", event, err.Error())
		}
		if quoted != nil {
			parentID = &quoted.ID
		}
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		ConnectorID:    connector.ID,
		AuthorID:       author,
		Body:           body,
		ParentID:       parentID,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return models.Fail("process_payload", event, err.Error())
	}

	// Two-step create-then-stamp: the create can fail validation without
	// leaving an orphaned id mapping behind.
	if ev.ExternalID != "" {
		if err := d.store.StampExternalID(ctx, msg.ID, ev.ExternalID); err != nil {
			if !database.IsUniqueViolation(err) {
				return models.Fail("process_payload", event, err.Error())
			}
			// A concurrent delivery stamped this external id first. Drop
			// the row we just created and acknowledge the surviving one.
			d.logger.WithFields(logrus.Fields{
				"connector":   connector.UUID,
				"external_id": ev.ExternalID,
			}).Info("Concurrent duplicate detected on stamp")
			if delErr := d.store.DeleteMessage(ctx, msg.ID); delErr != nil {
				return models.Fail("process_payload", event, delErr.Error())
			}
			existing, lookErr := d.store.GetMessageByExternalID(ctx, connector.ID, ev.ExternalID)
			if lookErr != nil {
				return models.Fail("process_payload", event, lookErr.Error())
			}
			result := models.Ok("process_payload", event)
			if existing != nil {
				result.MessageID = existing.ID
			}
			result.ContactID = contact.AuthorID()
			result.Message = "duplicate ignored"
			return result
		}
	}

	if ev.Media != nil {
		att := &models.Attachment{
			MessageID: msg.ID,
			Filename:  ev.Media.Filename,
			MimeType:  ev.Media.MimeType,
			Data:      ev.Media.Data,
		}
		if err := d.store.CreateAttachment(ctx, att); err != nil {
			return models.Fail("process_payload", event, err.Error())
		}
	}
	if ev.Kind == models.EventLocation && len(ev.Location.Thumbnail) > 0 {
		att := &models.Attachment{
			MessageID: msg.ID,
			Filename:  constants.LocationThumbnail,
			MimeType:  "image/jpeg",
			Data:      ev.Location.Thumbnail,
		}
		if err := d.store.CreateAttachment(ctx, att); err != nil {
			return models.Fail("process_payload", event, err.Error())
		}
	}

	d.logger.WithFields(logrus.Fields{
		"connector":   connector.UUID,
		"event":       event,
		"external_id": ev.ExternalID,
		"message":     msg.ID,
	}).Info("Stored inbound message")

	result := models.Ok("process_payload", event)
	result.MessageID = msg.ID
	result.ContactID = contact.AuthorID()
	return result
}

func (d *Dispatcher) handleReaction(ctx context.Context, connector *models.Connector, provider adapter.Adapter, payload []byte, ev *models.InboundEvent) models.Result {
	const event = "messages.upsert.reaction"

	original, err := d.store.GetMessageByExternalID(ctx, connector.ID, ev.TargetExternalID)
	if err != nil {
		return models.Fail("process_payload", event, err.Error())
	}
	if original == nil {
		return models.Fail("process_payload", event, "Original message not found")
	}

	contact, _, err := d.contacts.Resolve(ctx, connector, provider, payload, ev.ContactIdentifier, ev.ContactName, ResolveOptions{
		CreateIfMissing: true,
	})
	if err != nil {
		return models.Fail("process_payload", event, "Contact creation failed")
	}

	reaction := &models.Reaction{
		MessageID: original.ID,
		ContactID: contact.AuthorID(),
		Content:   ev.Emoji,
	}
	if err := d.store.CreateReaction(ctx, reaction); err != nil {
		return models.Fail("process_payload", event, err.Error())
	}

	if connector.NotifyReactions {
		notice := &models.Message{
			ConversationID: original.ConversationID,
			ConnectorID:    connector.ID,
			AuthorID:       contact.AuthorID(),
			Body:           fmt.Sprintf("Reaction: %s", ev.Emoji),
			ParentID:       &original.ID,
		}
		if err := d.store.CreateMessage(ctx, notice); err != nil {
			d.logger.WithError(err).Warn("Failed to post reaction notice")
		} else if ev.ExternalID != "" {
			if err := d.store.StampExternalID(ctx, notice.ID, ev.ExternalID); err != nil && !database.IsUniqueViolation(err) {
				d.logger.WithError(err).Warn("Failed to stamp reaction notice")
			}
		}
	}

	result := models.Ok("process_payload", event)
	result.ReactionID = reaction.ID
	result.MessageID = original.ID
	return result
}

func (d *Dispatcher) handleReadReceipt(ctx context.Context, connector *models.Connector, provider adapter.Adapter, payload []byte, ev *models.InboundEvent) models.Result {
	const event = "messages.update.mark_read"

	if !connector.ShowReadReceipts {
		result := models.Ok("process_payload", event)
		result.Message = "Read receipts disabled"
		return result
	}

	msg, err := d.store.GetMessageByExternalID(ctx, connector.ID, ev.TargetExternalID)
	if err != nil {
		return models.Fail("process_payload", event, err.Error())
	}
	if msg == nil {
		return models.Fail("process_payload", event, "Message not found")
	}

	contact, _, err := d.contacts.Resolve(ctx, connector, provider, payload, ev.ContactIdentifier, ev.ContactName, ResolveOptions{
		CreateIfMissing: false,
	})
	if err != nil {
		return models.Fail("process_payload", event, err.Error())
	}
	if contact == nil {
		return models.Fail("process_payload", event, "Contact not found")
	}

	member, err := d.store.GetConversationMember(ctx, msg.ConversationID, contact.AuthorID())
	if err != nil {
		return models.Fail("process_payload", event, err.Error())
	}
	if member == nil {
		return models.Fail("process_payload", event, "Contact is not a conversation member")
	}
	if err := d.store.MarkMemberRead(ctx, member.ID, msg.ID); err != nil {
		return models.Fail("process_payload", event, err.Error())
	}

	result := models.Ok("process_payload", event)
	result.MessageID = msg.ID
	result.ContactID = contact.AuthorID()
	return result
}

// handleEdit re-fetches the message's current remote content and replays
// it through the normal ingestion path, threaded under the original. This
// appends a new message instead of mutating history.
func (d *Dispatcher) handleEdit(ctx context.Context, connector *models.Connector, provider adapter.Adapter, payload []byte, ev *models.InboundEvent) models.Result {
	const event = "messages.update.edit"

	replay, err := provider.FetchMessage(ctx, ev.TargetExternalID)
	if err != nil {
		if errors.IsNotFound(err) || errors.IsUnsupported(err) {
			return models.Fail("process_payload", event, "Original message not found")
		}
		return models.Fail("process_payload", event, err.Error())
	}

	// The replayed content is appended as a new message threaded under the
	// original; the external id stays with the original row.
	replay.ExternalID = ""
	replay.QuotedExternalID = ev.TargetExternalID
	result := d.dispatchEvent(ctx, connector, provider, payload, replay)
	result.EditedMessage = true
	return result
}

func (d *Dispatcher) handleDelete(ctx context.Context, connector *models.Connector, ev *models.InboundEvent) models.Result {
	const event = "messages.delete"

	msg, err := d.store.GetMessageByExternalID(ctx, connector.ID, ev.TargetExternalID)
	if err != nil {
		return models.Fail("process_payload", event, err.Error())
	}
	if msg == nil {
		return models.Fail("process_payload", event, "Message Not Found")
	}

	struck := markup.AddStrikethrough(msg.Body)
	if err := d.store.UpdateMessageBody(ctx, msg.ID, struck); err != nil {
		return models.Fail("process_payload", event, err.Error())
	}

	notice := &models.Message{
		ConversationID: msg.ConversationID,
		ConnectorID:    connector.ID,
		AuthorID:       connector.DefaultActorID,
		Body:           deletedMessageNotice,
		ParentID:       &msg.ID,
	}
	if err := d.store.CreateMessage(ctx, notice); err != nil {
		return models.Fail("process_payload", event, err.Error())
	}

	result := models.Ok("process_payload", event)
	result.Message = fmt.Sprintf("deletion was alerted by message id %d", notice.ID)
	result.MessageID = msg.ID
	return result
}

// handleAdmin posts connection/QR/logout status into the connector's
// manager conversations instead of end-user conversations.
func (d *Dispatcher) handleAdmin(ctx context.Context, connector *models.Connector, ev *models.InboundEvent) models.Result {
	const action = "process_administrative_payload"
	admin := ev.Admin

	if len(connector.ManagerConversationIDs) == 0 {
		result := models.Ok(action, admin.Event)
		result.Message = "No manager conversation configured"
		return result
	}

	var body string
	var att *models.Attachment

	switch admin.Event {
	case "qrcode.updated":
		if admin.QRCodeData == "" {
			break
		}
		decoded, err := dataurl.DecodeString(admin.QRCodeData)
		if err != nil {
			return models.Fail(action, admin.Event, "invalid QR code data")
		}
		body = fmt.Sprintf("Instance: %s", admin.Instance)
		att = &models.Attachment{
			Filename: constants.QRCodeAttachmentName + admin.Instance,
			MimeType: decoded.ContentType(),
			Data:     decoded.Data,
		}

	case "connection.update":
		emoji := "🔴"
		if admin.StatusReason == 200 {
			emoji = "🟢"
		}
		if admin.State == "connecting" {
			emoji = "🟡"
		}
		body = fmt.Sprintf("Instance:%s:<b>%s</b>:%s", admin.Instance, strings.ToUpper(admin.State), emoji)

	case "logout.instance":
		body = fmt.Sprintf("Instance:%s:<b>LOGGED OUT:🔴</b>", admin.Instance)
	}

	if body != "" {
		for _, convID := range connector.ManagerConversationIDs {
			msg := &models.Message{
				ConversationID: convID,
				ConnectorID:    connector.ID,
				AuthorID:       connector.DefaultActorID,
				Body:           body,
			}
			if err := d.store.CreateMessage(ctx, msg); err != nil {
				d.logger.WithError(err).WithField("conversation", convID).Error("Failed to post manager message")
				continue
			}
			if att != nil {
				attachment := *att
				attachment.MessageID = msg.ID
				if err := d.store.CreateAttachment(ctx, &attachment); err != nil {
					d.logger.WithError(err).Warn("Failed to attach QR code")
				}
			}
		}
	}

	// A connected state makes stale pairing codes useless.
	if admin.Event == "connection.update" && admin.State == "open" {
		if n, err := d.store.DeleteAttachmentsByFilename(ctx, constants.QRCodeAttachmentName+admin.Instance); err == nil && n > 0 {
			d.logger.WithFields(logrus.Fields{
				"instance": admin.Instance,
				"purged":   n,
			}).Info("Purged QR code attachments")
		}
	}

	return models.Ok(action, admin.Event)
}

func (d *Dispatcher) handleContactSync(ctx context.Context, connector *models.Connector, provider adapter.Adapter, ev *models.InboundEvent) models.Result {
	const event = "contacts.upsert"

	if !connector.ImportContacts {
		result := models.Ok("process_payload", event)
		result.Message = "Contact import disabled"
		return result
	}

	processed := 0
	for _, seed := range ev.Contacts {
		contact, _, err := d.contacts.Resolve(ctx, connector, provider, nil, seed.Identifier, seed.Name, ResolveOptions{
			CreateIfMissing: true,
		})
		if err != nil {
			d.logger.WithError(err).WithField("identifier", seed.Identifier).Warn("Contact sync entry failed")
			continue
		}
		if seed.PictureURL != "" && (contact.ImageSmall == "" || connector.AlwaysUpdatePicture) {
			d.contacts.ApplyPictureURL(ctx, contact, seed.PictureURL)
		}
		processed++
	}

	result := models.Ok("process_payload", event)
	result.Contacts = processed
	return result
}
