package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chathub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDatabase(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func seedConnector(t *testing.T, db *Database, uuid string) *models.Connector {
	t.Helper()
	c := &models.Connector{
		UUID:    uuid,
		Name:    "Test Evolution",
		Kind:    models.ProviderEvolution,
		Enabled: true,
		URL:     "http://evolution.local",
		APIKey:  "secret",
	}
	require.NoError(t, db.UpsertConnector(context.Background(), c))
	require.NotZero(t, c.ID)
	return c
}

func TestUpsertConnectorUpdatesInPlace(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	c := seedConnector(t, db, "conn-1")
	firstID := c.ID

	c.Name = "Renamed"
	c.Enabled = false
	require.NoError(t, db.UpsertConnector(ctx, c))
	assert.Equal(t, firstID, c.ID)

	got, err := db.GetConnectorByUUID(ctx, "conn-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.Enabled)
}

func TestGetConnectorByUUIDMissing(t *testing.T) {
	db := setupTestDatabase(t)

	got, err := db.GetConnectorByUUID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateContactPair(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	parent := &models.Contact{Name: "Alice", IdentifierField: "phone", Identifier: "5511999999999"}
	channel := &models.Contact{Name: "whatsapp", IdentifierField: "phone", Identifier: "5511999999999"}
	require.NoError(t, db.CreateContactPair(ctx, parent, channel))
	require.NotZero(t, parent.ID)
	require.NotZero(t, channel.ID)
	require.NotNil(t, channel.ParentID)
	assert.Equal(t, parent.ID, *channel.ParentID)

	got, err := db.GetChannelContact(ctx, "phone", "5511999999999", "whatsapp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, channel.ID, got.ID)
	assert.Equal(t, parent.ID, got.AuthorID())
}

func TestChannelContactUniqueness(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	parent := &models.Contact{Name: "Alice", IdentifierField: "phone", Identifier: "111"}
	channel := &models.Contact{Name: "whatsapp", IdentifierField: "phone", Identifier: "111"}
	require.NoError(t, db.CreateContactPair(ctx, parent, channel))

	dupParent := &models.Contact{Name: "Alice Again", IdentifierField: "phone", Identifier: "111"}
	dupChannel := &models.Contact{Name: "whatsapp", IdentifierField: "phone", Identifier: "111"}
	err := db.CreateContactPair(ctx, dupParent, dupChannel)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// The loser of the race re-selects and finds the winner's row.
	got, err := db.GetChannelContact(ctx, "phone", "111", "whatsapp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, channel.ID, got.ID)
}

func TestConversationLatestMembershipWins(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")

	contact := &models.Contact{Name: "Bob", IdentifierField: "phone", Identifier: "222"}
	require.NoError(t, db.CreateContact(ctx, contact))

	older := &models.Conversation{ConnectorID: conn.ID, OutgoingDestination: "222", Name: "Whatsapp: Bob", Active: true}
	require.NoError(t, db.CreateConversation(ctx, older, []int64{contact.ID}))

	newer := &models.Conversation{ConnectorID: conn.ID, OutgoingDestination: "222", Name: "Whatsapp: Bob", Active: false}
	require.NoError(t, db.CreateConversation(ctx, newer, []int64{contact.ID}))

	got, err := db.GetLatestConversationForContact(ctx, conn.ID, contact.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)
	assert.False(t, got.Active)

	require.NoError(t, db.SetConversationActive(ctx, newer.ID, true))
	got, err = db.GetConversationByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestConversationMemberReadCursor(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")

	contact := &models.Contact{Name: "Bob", IdentifierField: "phone", Identifier: "222"}
	require.NoError(t, db.CreateContact(ctx, contact))

	conv := &models.Conversation{ConnectorID: conn.ID, OutgoingDestination: "222", Name: "Bob", Active: true}
	require.NoError(t, db.CreateConversation(ctx, conv, []int64{contact.ID}))

	msg := &models.Message{ConversationID: conv.ID, ConnectorID: conn.ID, AuthorID: contact.ID, Body: "hi"}
	require.NoError(t, db.CreateMessage(ctx, msg))

	member, err := db.GetConversationMember(ctx, conv.ID, contact.ID)
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Nil(t, member.LastReadMessageID)

	require.NoError(t, db.MarkMemberRead(ctx, member.ID, msg.ID))
	member, err = db.GetConversationMember(ctx, conv.ID, contact.ID)
	require.NoError(t, err)
	require.NotNil(t, member.LastReadMessageID)
	assert.Equal(t, msg.ID, *member.LastReadMessageID)
}

func TestMessageExternalIDNewestWins(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")

	contact := &models.Contact{Name: "Bob", IdentifierField: "phone", Identifier: "222"}
	require.NoError(t, db.CreateContact(ctx, contact))
	conv := &models.Conversation{ConnectorID: conn.ID, OutgoingDestination: "222", Name: "Bob", Active: true}
	require.NoError(t, db.CreateConversation(ctx, conv, []int64{contact.ID}))

	first := &models.Message{ConversationID: conv.ID, ConnectorID: conn.ID, AuthorID: contact.ID, Body: "one"}
	require.NoError(t, db.CreateMessage(ctx, first))
	require.NoError(t, db.StampExternalID(ctx, first.ID, "EXT-1"))

	got, err := db.GetMessageByExternalID(ctx, conn.ID, "EXT-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "one", got.Body)

	// Same external id on another connector is a different scope.
	other := seedConnector(t, db, "conn-2")
	none, err := db.GetMessageByExternalID(ctx, other.ID, "EXT-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMessageExternalIDDuplicateRejected(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")

	contact := &models.Contact{Name: "Bob", IdentifierField: "phone", Identifier: "222"}
	require.NoError(t, db.CreateContact(ctx, contact))
	conv := &models.Conversation{ConnectorID: conn.ID, OutgoingDestination: "222", Name: "Bob", Active: true}
	require.NoError(t, db.CreateConversation(ctx, conv, []int64{contact.ID}))

	ext := "EXT-dup"
	first := &models.Message{ConversationID: conv.ID, ConnectorID: conn.ID, AuthorID: contact.ID, Body: "one", ExternalID: &ext}
	require.NoError(t, db.CreateMessage(ctx, first))

	second := &models.Message{ConversationID: conv.ID, ConnectorID: conn.ID, AuthorID: contact.ID, Body: "two", ExternalID: &ext}
	err := db.CreateMessage(ctx, second)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestAttachmentPurgeByFilename(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")

	contact := &models.Contact{Name: "Bob", IdentifierField: "phone", Identifier: "222"}
	require.NoError(t, db.CreateContact(ctx, contact))
	conv := &models.Conversation{ConnectorID: conn.ID, OutgoingDestination: "222", Name: "Bob", Active: true}
	require.NoError(t, db.CreateConversation(ctx, conv, []int64{contact.ID}))

	msg := &models.Message{ConversationID: conv.ID, ConnectorID: conn.ID, AuthorID: contact.ID, Body: "qr"}
	require.NoError(t, db.CreateMessage(ctx, msg))

	qr := &models.Attachment{MessageID: msg.ID, Filename: "QRCODE:main", MimeType: "image/png", Data: []byte{1, 2}}
	keep := &models.Attachment{MessageID: msg.ID, Filename: "image.jpg", MimeType: "image/jpeg", Data: []byte{3}}
	require.NoError(t, db.CreateAttachment(ctx, qr))
	require.NoError(t, db.CreateAttachment(ctx, keep))

	n, err := db.DeleteAttachmentsByFilename(ctx, "QRCODE:main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRoutingMembersOrderedByAssignments(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")

	var ids []int64
	for _, name := range []string{"Ana", "Ben", "Cid"} {
		c := &models.Contact{Name: name, IdentifierField: "phone", Identifier: name}
		require.NoError(t, db.CreateContact(ctx, c))
		require.NoError(t, db.AddRoutingMember(ctx, conn.ID, c.ID))
		ids = append(ids, c.ID)
	}

	members, err := db.ListRoutingMembers(ctx, conn.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)

	require.NoError(t, db.IncrementRoutingAssignments(ctx, []int64{members[0].ID, members[1].ID}))

	members, err = db.ListRoutingMembers(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[2], members[0].ContactID)
	assert.Equal(t, int64(0), members[0].AssignmentCount)
	assert.Equal(t, int64(1), members[1].AssignmentCount)
}

func TestWebhookQueueLifecycle(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	w := &models.Webhook{
		UUID: "hook-1", Name: "CRM", Active: true,
		URL: "http://crm.local/hook", Method: "POST", Headers: "{}",
		AuthType: models.WebhookAuthNone, AuthHeaderName: "X-API-Key",
		MaxRetries: 3, RetryDelaySec: 60, RetryMultiplier: 2.0, TimeoutSec: 30,
		BatchSize: 1, Priority: 10,
	}
	require.NoError(t, db.UpsertWebhook(ctx, w))
	require.NotZero(t, w.ID)

	item := &models.QueueItem{WebhookID: w.ID, Payload: `{"event":"message"}`, EventType: "message"}
	require.NoError(t, db.EnqueueWebhookItem(ctx, item))
	assert.Equal(t, models.QueuePending, item.Status)

	claimed, err := db.ClaimQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses.
	claimed, err = db.ClaimQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	next := time.Now().Add(time.Minute)
	require.NoError(t, db.MarkQueueItemFailed(ctx, item.ID, 1, false, &next, "connection refused"))

	got, err := db.GetQueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "connection refused", got.ErrorMessage)

	// Not due until next_retry passes.
	due, err := db.ListDueQueueItems(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.ListDueQueueItems(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, db.MarkQueueItemFailed(ctx, item.ID, 3, true, nil, "gave up"))
	got, err = db.GetQueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, got.Status)
}

func TestWebhookCountersAndLogs(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	w := &models.Webhook{
		UUID: "hook-1", Name: "CRM", Active: true, URL: "http://crm.local/hook",
		Method: "POST", Headers: "{}", AuthType: models.WebhookAuthNone,
		AuthHeaderName: "X-API-Key", MaxRetries: 3, RetryDelaySec: 60,
		RetryMultiplier: 2.0, TimeoutSec: 30, BatchSize: 1, Priority: 10,
	}
	require.NoError(t, db.UpsertWebhook(ctx, w))

	require.NoError(t, db.RecordWebhookAttempt(ctx, w.ID, true, ""))
	require.NoError(t, db.RecordWebhookAttempt(ctx, w.ID, false, "timeout"))

	got, err := db.GetWebhookByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalCalls)
	assert.Equal(t, int64(1), got.SuccessCount)
	assert.Equal(t, int64(1), got.FailureCount)
	assert.Equal(t, "timeout", got.LastErrorMessage)
	assert.NotNil(t, got.LastSuccessDate)
	assert.NotNil(t, got.LastErrorDate)

	require.NoError(t, db.CreateWebhookLog(ctx, &models.WebhookLog{
		WebhookID: w.ID, RequestPayload: "{}", ResponseStatus: 200,
		ResponseBody: "ok", ResponseTimeMs: 12.5, Status: "success",
	}))
	logs, err := db.ListWebhookLogs(ctx, w.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 200, logs[0].ResponseStatus)

	purged, err := db.PurgeOldWebhookLogs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestListActiveWebhooksFiltersByConnector(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	conn := seedConnector(t, db, "conn-1")
	other := seedConnector(t, db, "conn-2")

	global := &models.Webhook{UUID: "global", Name: "global", Active: true, URL: "http://a", Method: "POST", Headers: "{}", AuthType: models.WebhookAuthNone, AuthHeaderName: "X-API-Key", MaxRetries: 1, RetryDelaySec: 1, RetryMultiplier: 1, TimeoutSec: 1, BatchSize: 1, Priority: 5}
	scoped := &models.Webhook{UUID: "scoped", Name: "scoped", Active: true, URL: "http://b", Method: "POST", Headers: "{}", AuthType: models.WebhookAuthNone, AuthHeaderName: "X-API-Key", MaxRetries: 1, RetryDelaySec: 1, RetryMultiplier: 1, TimeoutSec: 1, BatchSize: 1, Priority: 20, ConnectorID: &conn.ID}
	inactive := &models.Webhook{UUID: "off", Name: "off", Active: false, URL: "http://c", Method: "POST", Headers: "{}", AuthType: models.WebhookAuthNone, AuthHeaderName: "X-API-Key", MaxRetries: 1, RetryDelaySec: 1, RetryMultiplier: 1, TimeoutSec: 1, BatchSize: 1, Priority: 1}
	for _, w := range []*models.Webhook{global, scoped, inactive} {
		require.NoError(t, db.UpsertWebhook(ctx, w))
	}

	hooks, err := db.ListActiveWebhooks(ctx, &conn.ID)
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, "scoped", hooks[0].Name)
	assert.Equal(t, "global", hooks[1].Name)

	hooks, err = db.ListActiveWebhooks(ctx, &other.ID)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "global", hooks[0].Name)
}
