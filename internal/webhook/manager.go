// Package webhook implements queue-backed delivery of outgoing notifications
// to subscriber endpoints, with per-webhook auth, batching, exponential retry
// and attempt logging.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"chathub/internal/constants"
	"chathub/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Store is the queue and definition surface the manager depends on.
type Store interface {
	GetWebhookByID(ctx context.Context, id int64) (*models.Webhook, error)
	ListActiveWebhooks(ctx context.Context, connectorID *int64) ([]*models.Webhook, error)
	EnqueueWebhookItem(ctx context.Context, item *models.QueueItem) error
	ClaimQueueItem(ctx context.Context, itemID int64) (bool, error)
	MarkQueueItemSuccess(ctx context.Context, itemID int64) error
	MarkQueueItemFailed(ctx context.Context, itemID int64, retryCount int, terminal bool, nextRetry *time.Time, errMsg string) error
	ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error)
	ListPendingForWebhook(ctx context.Context, webhookID int64, limit int) ([]*models.QueueItem, error)
	CountPendingForWebhook(ctx context.Context, webhookID int64) (int, error)
	CreateWebhookLog(ctx context.Context, l *models.WebhookLog) error
	RecordWebhookAttempt(ctx context.Context, webhookID int64, success bool, errMsg string) error
	PurgeOldWebhookLogs(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalQueueItems(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager triggers, delivers and retries outgoing webhook notifications.
// Trigger enqueues and, for unbatched webhooks, delivers inline; the sweep
// loop picks up retries and batched items later.
type Manager struct {
	store  Store
	logger *logrus.Logger
	client *resty.Client

	sweepInterval time.Duration
	retentionDays int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(store Store, sweepInterval time.Duration, retentionDays int, logger *logrus.Logger) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = constants.DefaultWebhookSweepSec * time.Second
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultLogRetentionDays
	}
	return &Manager{
		store:         store,
		logger:        logger,
		client:        resty.New(),
		sweepInterval: sweepInterval,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
	}
}

// Trigger fans an event out to every matching active webhook. Each delivery
// failure is retried independently; Trigger itself only fails on enqueue
// errors.
func (m *Manager) Trigger(ctx context.Context, connectorID *int64, eventType string, payload interface{}) error {
	hooks, err := m.store.ListActiveWebhooks(ctx, connectorID)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	for _, hook := range hooks {
		if !hook.AllowsEvent(eventType) {
			continue
		}
		item := &models.QueueItem{
			WebhookID: hook.ID,
			Payload:   string(body),
			EventType: eventType,
		}
		if err := m.store.EnqueueWebhookItem(ctx, item); err != nil {
			return fmt.Errorf("failed to enqueue webhook item: %w", err)
		}

		if hook.BatchSize <= 1 {
			m.deliverItem(ctx, hook, item)
			continue
		}

		pending, err := m.store.CountPendingForWebhook(ctx, hook.ID)
		if err != nil {
			m.logger.WithError(err).WithField("webhook", hook.UUID).Warn("Failed to count pending items")
			continue
		}
		if pending >= hook.BatchSize {
			m.deliverBatch(ctx, hook)
		}
	}
	return nil
}

// Test delivers a synthetic payload to the webhook immediately, bypassing
// the queue. Used by administrators to validate endpoint configuration.
func (m *Manager) Test(ctx context.Context, webhookID int64) error {
	hook, err := m.store.GetWebhookByID(ctx, webhookID)
	if err != nil {
		return err
	}
	if hook == nil {
		return fmt.Errorf("webhook %d not found", webhookID)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"test":         true,
		"webhook_uuid": hook.UUID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	_, err = m.attempt(ctx, hook, string(payload))
	return err
}

// Start launches the sweep and retention loops.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.sweepLoop()
	go m.gcLoop()
}

// Stop signals the loops and waits for them to drain.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

func (m *Manager) gcLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collectGarbage(context.Background())
		}
	}
}

// Sweep delivers every due pending item once. Batched webhooks flush when
// their pending count reaches the batch size; overdue retries of batched
// items go out individually so a stalled batch cannot hold them forever.
func (m *Manager) Sweep(ctx context.Context) {
	items, err := m.store.ListDueQueueItems(ctx, time.Now().UTC(), 50)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list due queue items")
		return
	}
	for _, item := range items {
		hook, err := m.store.GetWebhookByID(ctx, item.WebhookID)
		if err != nil || hook == nil {
			m.logger.WithField("item", item.ID).Warn("Queue item references missing webhook")
			continue
		}
		if !hook.Active {
			continue
		}
		if hook.BatchSize > 1 && item.RetryCount == 0 {
			pending, err := m.store.CountPendingForWebhook(ctx, hook.ID)
			if err != nil || pending < hook.BatchSize {
				continue
			}
			m.deliverBatch(ctx, hook)
			continue
		}
		m.deliverItem(ctx, hook, item)
	}
}

func (m *Manager) collectGarbage(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	logs, err := m.store.PurgeOldWebhookLogs(ctx, cutoff)
	if err != nil {
		m.logger.WithError(err).Error("Failed to purge webhook logs")
	}
	items, err := m.store.DeleteTerminalQueueItems(ctx, cutoff)
	if err != nil {
		m.logger.WithError(err).Error("Failed to delete terminal queue items")
	}
	if logs > 0 || items > 0 {
		m.logger.WithFields(logrus.Fields{
			"logs":  logs,
			"items": items,
		}).Info("Webhook retention pass completed")
	}
}

func (m *Manager) deliverItem(ctx context.Context, hook *models.Webhook, item *models.QueueItem) {
	claimed, err := m.store.ClaimQueueItem(ctx, item.ID)
	if err != nil || !claimed {
		return
	}

	success, err := m.attempt(ctx, hook, item.Payload)
	if success {
		if err := m.store.MarkQueueItemSuccess(ctx, item.ID); err != nil {
			m.logger.WithError(err).WithField("item", item.ID).Error("Failed to mark queue item")
		}
		return
	}
	m.scheduleRetry(ctx, hook, item, errText(err))
}

// deliverBatch flushes up to BatchSize pending items as a single request.
// All items share the outcome of the one delivery.
func (m *Manager) deliverBatch(ctx context.Context, hook *models.Webhook) {
	items, err := m.store.ListPendingForWebhook(ctx, hook.ID, hook.BatchSize)
	if err != nil || len(items) == 0 {
		return
	}

	claimed := make([]*models.QueueItem, 0, len(items))
	entries := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		won, err := m.store.ClaimQueueItem(ctx, item.ID)
		if err != nil || !won {
			continue
		}
		claimed = append(claimed, item)
		entries = append(entries, json.RawMessage(item.Payload))
	}
	if len(claimed) == 0 {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"batch":        true,
		"items":        entries,
		"count":        len(entries),
		"webhook_uuid": hook.UUID,
	})
	if err != nil {
		m.logger.WithError(err).Error("Failed to marshal batch payload")
		return
	}

	success, err := m.attempt(ctx, hook, string(body))
	for _, item := range claimed {
		if success {
			if markErr := m.store.MarkQueueItemSuccess(ctx, item.ID); markErr != nil {
				m.logger.WithError(markErr).WithField("item", item.ID).Error("Failed to mark queue item")
			}
			continue
		}
		m.scheduleRetry(ctx, hook, item, errText(err))
	}
}

// attempt performs one HTTP delivery and records it in the log and the
// webhook's counters regardless of outcome.
func (m *Manager) attempt(ctx context.Context, hook *models.Webhook, payload string) (bool, error) {
	timeout := time.Duration(hook.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultWebhookTimeoutSec * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := m.client.R().
		SetContext(reqCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)

	if hook.Headers != "" && hook.Headers != "{}" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(hook.Headers), &headers); err == nil {
			req.SetHeaders(headers)
		}
	}
	applyAuth(req, hook)

	method := hook.Method
	if method == "" {
		method = "POST"
	}

	started := time.Now()
	resp, err := req.Execute(method, hook.URL)
	elapsed := float64(time.Since(started).Microseconds()) / 1000.0

	status := 0
	respBody := ""
	if resp != nil {
		status = resp.StatusCode()
		respBody = truncate(string(resp.Body()), constants.DefaultResponseBodyLimit)
	}
	success := err == nil && status >= 200 && status < 300
	if !success && err == nil {
		err = fmt.Errorf("endpoint returned status %d", status)
	}

	logStatus := "success"
	if !success {
		logStatus = "failed"
	}
	logEntry := &models.WebhookLog{
		WebhookID:      hook.ID,
		RequestPayload: truncate(payload, constants.DefaultResponseBodyLimit),
		ResponseStatus: status,
		ResponseBody:   respBody,
		ResponseTimeMs: elapsed,
		Status:         logStatus,
	}
	if logErr := m.store.CreateWebhookLog(ctx, logEntry); logErr != nil {
		m.logger.WithError(logErr).Warn("Failed to record webhook log")
	}
	if recErr := m.store.RecordWebhookAttempt(ctx, hook.ID, success, errText(err)); recErr != nil {
		m.logger.WithError(recErr).Warn("Failed to record webhook counters")
	}

	if success {
		m.logger.WithFields(logrus.Fields{
			"webhook": hook.UUID,
			"status":  status,
			"ms":      elapsed,
		}).Debug("Webhook delivered")
	} else {
		m.logger.WithFields(logrus.Fields{
			"webhook": hook.UUID,
			"status":  status,
		}).WithError(err).Warn("Webhook delivery failed")
	}
	return success, err
}

// scheduleRetry reschedules a failed item with exponential backoff, or marks
// it terminally failed once the retry budget is spent.
func (m *Manager) scheduleRetry(ctx context.Context, hook *models.Webhook, item *models.QueueItem, errMsg string) {
	newCount := item.RetryCount + 1
	maxRetries := hook.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultWebhookMaxRetries
	}

	if newCount >= maxRetries {
		if err := m.store.MarkQueueItemFailed(ctx, item.ID, newCount, true, nil, errMsg); err != nil {
			m.logger.WithError(err).WithField("item", item.ID).Error("Failed to mark queue item failed")
		}
		m.logger.WithFields(logrus.Fields{
			"webhook": hook.UUID,
			"item":    item.ID,
			"retries": item.RetryCount,
		}).Error("Webhook delivery abandoned")
		return
	}

	delay := RetryDelay(hook, item.RetryCount)
	next := time.Now().UTC().Add(delay)
	if err := m.store.MarkQueueItemFailed(ctx, item.ID, newCount, false, &next, errMsg); err != nil {
		m.logger.WithError(err).WithField("item", item.ID).Error("Failed to reschedule queue item")
		return
	}
	item.RetryCount = newCount
	m.logger.WithFields(logrus.Fields{
		"webhook": hook.UUID,
		"item":    item.ID,
		"retry":   newCount,
		"delay":   delay.String(),
	}).Info("Webhook delivery rescheduled")
}

// RetryDelay returns the backoff before retry attempt retryCount+1:
// delay * multiplier^retryCount.
func RetryDelay(hook *models.Webhook, retryCount int) time.Duration {
	base := hook.RetryDelaySec
	if base <= 0 {
		base = constants.DefaultWebhookRetryDelaySec
	}
	mult := hook.RetryMultiplier
	if mult <= 0 {
		mult = constants.DefaultWebhookRetryMultiplier
	}
	seconds := float64(base) * math.Pow(mult, float64(retryCount))
	return time.Duration(seconds * float64(time.Second))
}

func applyAuth(req *resty.Request, hook *models.Webhook) {
	switch hook.AuthType {
	case models.WebhookAuthBasic:
		req.SetBasicAuth(hook.AuthUsername, hook.AuthPassword)
	case models.WebhookAuthBearer, models.WebhookAuthOAuth2:
		req.SetAuthToken(hook.AuthToken)
	case models.WebhookAuthAPIKey:
		name := hook.AuthHeaderName
		if name == "" {
			name = constants.DefaultAuthHeaderName
		}
		req.SetHeader(name, hook.AuthToken)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
