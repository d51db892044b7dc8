package service

import (
	"context"
	"testing"

	"chathub/internal/database"
	"chathub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboundFixture(t *testing.T) (*database.Database, *Sender, *models.Connector, *models.Conversation) {
	t.Helper()
	db, _, conn := setupPipeline(t)
	ctx := context.Background()

	conv := &models.Conversation{
		ConnectorID:         conn.ID,
		OutgoingDestination: "5511999999999",
		Name:                "Alice",
		Active:              true,
	}
	require.NoError(t, db.CreateConversation(ctx, conv, []int64{conn.DefaultActorID}))
	return db, NewSender(db, testLogger()), conn, conv
}

func outboundMessage(t *testing.T, db *database.Database, conn *models.Connector, conv *models.Conversation, body string) *models.Message {
	t.Helper()
	msg := &models.Message{
		ConversationID: conv.ID,
		ConnectorID:    conn.ID,
		AuthorID:       conn.DefaultActorID,
		Body:           body,
	}
	require.NoError(t, db.CreateMessage(context.Background(), msg))
	return msg
}

func TestSendRendersTemplateAndStampsID(t *testing.T) {
	db, sender, conn, conv := outboundFixture(t)
	ctx := context.Background()
	msg := outboundMessage(t, db, conn, conv, "hello there")

	var sentText, sentQuote string
	provider := &mockAdapter{
		sendText: func(c *models.Conversation, text, quoted string) (string, error) {
			assert.Equal(t, conv.ID, c.ID)
			sentText = text
			sentQuote = quoted
			return "WAMID-OUT-1", nil
		},
	}

	require.NoError(t, sender.Send(ctx, conn, provider, msg, nil))
	assert.Equal(t, "*[Bridge Bot]*\n\nhello there", sentText)
	assert.Empty(t, sentQuote)

	stored, err := db.GetMessageByExternalID(ctx, conn.ID, "WAMID-OUT-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, msg.ID, stored.ID)
}

func TestSendThreadsQuotedReply(t *testing.T) {
	db, sender, conn, conv := outboundFixture(t)
	ctx := context.Background()

	parent := outboundMessage(t, db, conn, conv, "original")
	require.NoError(t, db.StampExternalID(ctx, parent.ID, "WAMID-PARENT"))

	reply := &models.Message{
		ConversationID: conv.ID,
		ConnectorID:    conn.ID,
		AuthorID:       conn.DefaultActorID,
		Body:           "replying",
		ParentID:       &parent.ID,
	}
	require.NoError(t, db.CreateMessage(ctx, reply))

	var sentQuote string
	provider := &mockAdapter{
		sendText: func(_ *models.Conversation, _, quoted string) (string, error) {
			sentQuote = quoted
			return "WAMID-OUT-2", nil
		},
	}
	require.NoError(t, sender.Send(ctx, conn, provider, reply, nil))
	assert.Equal(t, "WAMID-PARENT", sentQuote)
}

func TestSendAttachmentsClassifiedByMime(t *testing.T) {
	db, sender, conn, conv := outboundFixture(t)
	ctx := context.Background()
	msg := outboundMessage(t, db, conn, conv, "")

	type sent struct {
		filename  string
		mediaType string
	}
	var calls []sent
	provider := &mockAdapter{
		sendAtt: func(_ *models.Conversation, att *models.Attachment, mediaType string) (string, error) {
			calls = append(calls, sent{att.Filename, mediaType})
			return "WAMID-MEDIA", nil
		},
	}

	attachments := []*models.Attachment{
		{Filename: "photo.jpg", MimeType: "image/jpeg"},
		{Filename: "clip.mp4", MimeType: "video/mp4"},
		{Filename: "voice-note-9941.oga", MimeType: "audio/ogg"},
		{Filename: "invoice.pdf", MimeType: "application/pdf"},
	}
	require.NoError(t, sender.Send(ctx, conn, provider, msg, attachments))

	require.Len(t, calls, 4)
	assert.Equal(t, sent{"photo.jpg", "image"}, calls[0])
	assert.Equal(t, sent{"clip.mp4", "video"}, calls[1])
	assert.Equal(t, sent{"audio.ogg", "audio"}, calls[2])
	assert.Equal(t, sent{"invoice.pdf", "document"}, calls[3])

	// Empty body with attachments skips the text send entirely.
	stored, err := db.GetMessageByExternalID(ctx, conn.ID, "WAMID-MEDIA")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, msg.ID, stored.ID)
}

func TestSendUsesConnectorTemplate(t *testing.T) {
	db, sender, conn, conv := outboundFixture(t)
	conn.TextTemplate = "{{.AuthorName}} says: {{.Body}}"
	msg := outboundMessage(t, db, conn, conv, "be brief")

	var sentText string
	provider := &mockAdapter{
		sendText: func(_ *models.Conversation, text, _ string) (string, error) {
			sentText = text
			return "WAMID-OUT-3", nil
		},
	}
	require.NoError(t, sender.Send(context.Background(), conn, provider, msg, nil))
	assert.Equal(t, "Bridge Bot says: be brief", sentText)
}

func TestSendReactionRequiresExternalID(t *testing.T) {
	db, sender, conn, conv := outboundFixture(t)
	ctx := context.Background()
	msg := outboundMessage(t, db, conn, conv, "target")

	reaction := &models.Reaction{MessageID: msg.ID, ContactID: conn.DefaultActorID, Content: "🎉"}
	err := sender.SendReaction(ctx, conn, &mockAdapter{}, reaction)
	require.Error(t, err)

	require.NoError(t, db.StampExternalID(ctx, msg.ID, "WAMID-TGT"))
	var gotID, gotEmoji string
	provider := &mockAdapter{
		sendReact: func(_ *models.Conversation, externalID, emoji string) error {
			gotID = externalID
			gotEmoji = emoji
			return nil
		},
	}
	require.NoError(t, sender.SendReaction(ctx, conn, provider, reaction))
	assert.Equal(t, "WAMID-TGT", gotID)
	assert.Equal(t, "🎉", gotEmoji)
}
