package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chathub/internal/constants"
	"chathub/internal/database"
	"chathub/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (*database.Database, *Manager) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return db, NewManager(db, 0, 0, logger)
}

func seedWebhook(t *testing.T, db *database.Database, url string, mutate func(*models.Webhook)) *models.Webhook {
	t.Helper()
	hook := &models.Webhook{
		UUID:            "hook-" + t.Name(),
		Name:            "notifier",
		Active:          true,
		URL:             url,
		Method:          "POST",
		AuthType:        models.WebhookAuthNone,
		MaxRetries:      3,
		RetryDelaySec:   60,
		RetryMultiplier: 2.0,
		TimeoutSec:      5,
		BatchSize:       1,
		Priority:        10,
	}
	if mutate != nil {
		mutate(hook)
	}
	require.NoError(t, db.UpsertWebhook(context.Background(), hook))
	return hook
}

func TestNewManagerHonorsConfiguredIntervals(t *testing.T) {
	db, _ := setupManager(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	m := NewManager(db, 5*time.Second, 7, logger)
	assert.Equal(t, 5*time.Second, m.sweepInterval)
	assert.Equal(t, 7, m.retentionDays)

	m = NewManager(db, 0, 0, logger)
	assert.Equal(t, constants.DefaultWebhookSweepSec*time.Second, m.sweepInterval)
	assert.Equal(t, constants.DefaultLogRetentionDays, m.retentionDays)
}

func TestTriggerDeliversImmediately(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	var gotBody []byte
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotKey = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := seedWebhook(t, db, server.URL, func(w *models.Webhook) {
		w.AuthType = models.WebhookAuthAPIKey
		w.AuthToken = "secret-key"
	})

	err := m.Trigger(ctx, nil, "messages.upsert.text", map[string]interface{}{"message_id": 42})
	require.NoError(t, err)

	assert.JSONEq(t, `{"message_id":42}`, string(gotBody))
	assert.Equal(t, "secret-key", gotKey)

	pending, err := db.CountPendingForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	stored, err := db.GetWebhookByID(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalCalls)
	assert.Equal(t, int64(1), stored.SuccessCount)
	assert.Zero(t, stored.FailureCount)

	logs, err := db.ListWebhookLogs(ctx, hook.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, http.StatusOK, logs[0].ResponseStatus)
}

func TestTriggerFiltersEventTypes(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	hook := seedWebhook(t, db, server.URL, func(w *models.Webhook) {
		w.EventTypes = "messages.upsert.text, messages.upsert.image"
	})

	require.NoError(t, m.Trigger(ctx, nil, "messages.delete", map[string]interface{}{"id": 1}))
	assert.False(t, called)

	pending, err := db.CountPendingForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, m.Trigger(ctx, nil, "messages.upsert.image", map[string]interface{}{"id": 2}))
	assert.True(t, called)
}

func TestFailedDeliveryScheduled(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	hook := seedWebhook(t, db, server.URL, nil)
	require.NoError(t, m.Trigger(ctx, nil, "messages.upsert.text", map[string]interface{}{"id": 1}))

	items, err := db.ListPendingForWebhook(ctx, hook.ID, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.NextRetry)
	assert.True(t, item.NextRetry.After(time.Now().UTC().Add(50*time.Second)))

	stored, err := db.GetWebhookByID(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.FailureCount)
	assert.Contains(t, stored.LastErrorMessage, "502")
}

func TestRetryDelaySchedule(t *testing.T) {
	hook := &models.Webhook{RetryDelaySec: 60, RetryMultiplier: 2.0}
	assert.Equal(t, 60*time.Second, RetryDelay(hook, 0))
	assert.Equal(t, 120*time.Second, RetryDelay(hook, 1))
	assert.Equal(t, 240*time.Second, RetryDelay(hook, 2))

	// Zero values fall back to defaults.
	assert.Equal(t, 60*time.Second, RetryDelay(&models.Webhook{}, 0))
}

func TestRetryBudgetExhaustedIsTerminal(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	hook := seedWebhook(t, db, "http://127.0.0.1:1/unreachable", nil)
	item := &models.QueueItem{WebhookID: hook.ID, Payload: `{"id":1}`, EventType: "messages.upsert.text"}
	require.NoError(t, db.EnqueueWebhookItem(ctx, item))

	item.RetryCount = hook.MaxRetries
	m.scheduleRetry(ctx, hook, item, "connection refused")

	stored, err := db.GetQueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, stored.Status)
	assert.Nil(t, stored.NextRetry)
	assert.Equal(t, "connection refused", stored.ErrorMessage)
}

func TestRetryBudgetBoundaryIsTerminal(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	hook := seedWebhook(t, db, "http://127.0.0.1:1/unreachable", nil)
	item := &models.QueueItem{WebhookID: hook.ID, Payload: `{"id":1}`, EventType: "messages.upsert.text"}
	require.NoError(t, db.EnqueueWebhookItem(ctx, item))

	// A failure at MaxRetries-1 spends the last attempt in the budget;
	// the item must not be rescheduled once more.
	item.RetryCount = hook.MaxRetries - 1
	m.scheduleRetry(ctx, hook, item, "connection refused")

	stored, err := db.GetQueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, stored.Status)
	assert.Nil(t, stored.NextRetry)
	assert.Equal(t, hook.MaxRetries, stored.RetryCount)
}

func TestBatchedDeliveryFlushesAtBatchSize(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := seedWebhook(t, db, server.URL, func(w *models.Webhook) {
		w.BatchSize = 3
	})

	require.NoError(t, m.Trigger(ctx, nil, "messages.upsert.text", map[string]interface{}{"id": 1}))
	require.NoError(t, m.Trigger(ctx, nil, "messages.upsert.text", map[string]interface{}{"id": 2}))
	require.Empty(t, bodies)

	require.NoError(t, m.Trigger(ctx, nil, "messages.upsert.text", map[string]interface{}{"id": 3}))
	require.Len(t, bodies, 1)

	var batch struct {
		Batch       bool              `json:"batch"`
		Count       int               `json:"count"`
		WebhookUUID string            `json:"webhook_uuid"`
		Items       []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(bodies[0], &batch))
	assert.True(t, batch.Batch)
	assert.Equal(t, 3, batch.Count)
	assert.Equal(t, hook.UUID, batch.WebhookUUID)
	assert.Len(t, batch.Items, 3)

	pending, err := db.CountPendingForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestAuthModes(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bearer := seedWebhook(t, db, server.URL, func(w *models.Webhook) {
		w.UUID = "hook-bearer"
		w.AuthType = models.WebhookAuthBearer
		w.AuthToken = "tok-123"
	})
	require.NoError(t, m.Test(ctx, bearer.ID))
	assert.Equal(t, "Bearer tok-123", auth)

	basic := seedWebhook(t, db, server.URL, func(w *models.Webhook) {
		w.UUID = "hook-basic"
		w.AuthType = models.WebhookAuthBasic
		w.AuthUsername = "user"
		w.AuthPassword = "pass"
	})
	require.NoError(t, m.Test(ctx, basic.ID))
	req, _ := http.NewRequest("POST", server.URL, nil)
	req.SetBasicAuth("user", "pass")
	assert.Equal(t, req.Header.Get("Authorization"), auth)
}

func TestSweepRedeliversDueItems(t *testing.T) {
	db, m := setupManager(t)
	ctx := context.Background()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := seedWebhook(t, db, server.URL, nil)
	// Enqueued without an inline delivery, as if a previous run crashed
	// mid-flight and the item was rescheduled with no next_retry.
	item := &models.QueueItem{WebhookID: hook.ID, Payload: `{"id":9}`, EventType: "messages.upsert.text"}
	require.NoError(t, db.EnqueueWebhookItem(ctx, item))

	m.Sweep(ctx)
	assert.Equal(t, 1, attempts)

	stored, err := db.GetQueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueSuccess, stored.Status)

	// Nothing left due: a second sweep is a no-op.
	m.Sweep(ctx)
	assert.Equal(t, 1, attempts)
}
