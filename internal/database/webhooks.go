package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chathub/internal/models"
)

const selectWebhookColumns = `
	id, uuid, name, active, url, method, headers,
	auth_type, auth_username, auth_password, auth_token, auth_header_name,
	max_retries, retry_delay_sec, retry_multiplier, timeout_sec,
	event_types, batch_size, priority, connector_id,
	total_calls, success_count, failure_count,
	last_trigger_date, last_success_date, last_error_date, last_error_message,
	created_at, updated_at
`

func scanWebhook(scan func(dest ...interface{}) error) (*models.Webhook, error) {
	w := &models.Webhook{}
	err := scan(
		&w.ID, &w.UUID, &w.Name, &w.Active, &w.URL, &w.Method, &w.Headers,
		&w.AuthType, &w.AuthUsername, &w.AuthPassword, &w.AuthToken, &w.AuthHeaderName,
		&w.MaxRetries, &w.RetryDelaySec, &w.RetryMultiplier, &w.TimeoutSec,
		&w.EventTypes, &w.BatchSize, &w.Priority, &w.ConnectorID,
		&w.TotalCalls, &w.SuccessCount, &w.FailureCount,
		&w.LastTriggerDate, &w.LastSuccessDate, &w.LastErrorDate, &w.LastErrorMessage,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpsertWebhook inserts a webhook by uuid or updates its definition in
// place. Counters are never touched by the upsert.
func (d *Database) UpsertWebhook(ctx context.Context, w *models.Webhook) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO webhooks (
			uuid, name, active, url, method, headers,
			auth_type, auth_username, auth_password, auth_token, auth_header_name,
			max_retries, retry_delay_sec, retry_multiplier, timeout_sec,
			event_types, batch_size, priority, connector_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			url = excluded.url,
			method = excluded.method,
			headers = excluded.headers,
			auth_type = excluded.auth_type,
			auth_username = excluded.auth_username,
			auth_password = excluded.auth_password,
			auth_token = excluded.auth_token,
			auth_header_name = excluded.auth_header_name,
			max_retries = excluded.max_retries,
			retry_delay_sec = excluded.retry_delay_sec,
			retry_multiplier = excluded.retry_multiplier,
			timeout_sec = excluded.timeout_sec,
			event_types = excluded.event_types,
			batch_size = excluded.batch_size,
			priority = excluded.priority,
			connector_id = excluded.connector_id,
			updated_at = CURRENT_TIMESTAMP
	`, w.UUID, w.Name, w.Active, w.URL, w.Method, w.Headers,
		w.AuthType, w.AuthUsername, w.AuthPassword, w.AuthToken, w.AuthHeaderName,
		w.MaxRetries, w.RetryDelaySec, w.RetryMultiplier, w.TimeoutSec,
		w.EventTypes, w.BatchSize, w.Priority, w.ConnectorID)
	if err != nil {
		return fmt.Errorf("failed to upsert webhook: %w", err)
	}
	return d.db.QueryRowContext(ctx, `SELECT id FROM webhooks WHERE uuid = ?`, w.UUID).Scan(&w.ID)
}

// GetWebhookByID returns a webhook by primary key, or nil.
func (d *Database) GetWebhookByID(ctx context.Context, id int64) (*models.Webhook, error) {
	query := fmt.Sprintf("SELECT %s FROM webhooks WHERE id = ?", selectWebhookColumns)
	row := d.db.QueryRowContext(ctx, query, id)
	w, err := scanWebhook(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

// ListActiveWebhooks returns active webhooks, highest priority first.
// A nil connectorID lists webhooks for every connector; otherwise the list
// includes global webhooks plus those bound to the connector.
func (d *Database) ListActiveWebhooks(ctx context.Context, connectorID *int64) ([]*models.Webhook, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhooks
		WHERE active = 1 AND (connector_id IS NULL OR connector_id = COALESCE(?, connector_id))
		ORDER BY priority DESC, id ASC
	`, selectWebhookColumns)
	rows, err := d.db.QueryContext(ctx, query, connectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// EnqueueWebhookItem adds a pending delivery to the queue.
func (d *Database) EnqueueWebhookItem(ctx context.Context, item *models.QueueItem) error {
	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO webhook_queue (webhook_id, payload, event_type, status, next_retry)
			VALUES (?, ?, ?, ?, ?)
		`, item.WebhookID, item.Payload, item.EventType, models.QueuePending, item.NextRetry)
		if err != nil {
			return fmt.Errorf("failed to enqueue webhook item: %w", err)
		}
		item.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read queue item id: %w", err)
		}
		item.Status = models.QueuePending
		return nil
	}, "enqueue webhook item")
}

// ClaimQueueItem flips a pending item to processing. The guarded update is
// the claim: only one worker wins when the sweep and an immediate trigger
// race on the same item.
func (d *Database) ClaimQueueItem(ctx context.Context, itemID int64) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE webhook_queue SET status = ? WHERE id = ? AND status = ?
	`, models.QueueProcessing, itemID, models.QueuePending)
	if err != nil {
		return false, fmt.Errorf("failed to claim queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count claimed rows: %w", err)
	}
	return n == 1, nil
}

// MarkQueueItemSuccess finishes a delivery.
func (d *Database) MarkQueueItemSuccess(ctx context.Context, itemID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE webhook_queue
		SET status = ?, processed_at = CURRENT_TIMESTAMP, error_message = ''
		WHERE id = ?
	`, models.QueueSuccess, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark queue item success: %w", err)
	}
	return nil
}

// MarkQueueItemFailed records a failed attempt. Items below the retry limit
// go back to pending with the next retry time; items at the limit stay
// failed for good.
func (d *Database) MarkQueueItemFailed(ctx context.Context, itemID int64, retryCount int, terminal bool, nextRetry *time.Time, errMsg string) error {
	status := models.QueuePending
	if terminal {
		status = models.QueueFailed
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE webhook_queue
		SET status = ?, retry_count = ?, next_retry = ?, error_message = ?, processed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, retryCount, nextRetry, errMsg, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return nil
}

const selectQueueColumns = `
	id, webhook_id, payload, event_type, status, retry_count,
	next_retry, processed_at, error_message, created_at
`

func scanQueueItem(scan func(dest ...interface{}) error) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	err := scan(
		&item.ID, &item.WebhookID, &item.Payload, &item.EventType, &item.Status,
		&item.RetryCount, &item.NextRetry, &item.ProcessedAt, &item.ErrorMessage,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (d *Database) collectQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	defer rows.Close()
	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetQueueItemByID returns a queue item, or nil.
func (d *Database) GetQueueItemByID(ctx context.Context, id int64) (*models.QueueItem, error) {
	query := fmt.Sprintf("SELECT %s FROM webhook_queue WHERE id = ?", selectQueueColumns)
	row := d.db.QueryRowContext(ctx, query, id)
	item, err := scanQueueItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// ListDueQueueItems returns pending items whose retry time has passed (or
// was never set), oldest first.
func (d *Database) ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_queue
		WHERE status = ? AND (next_retry IS NULL OR next_retry <= ?)
		ORDER BY id ASC
		LIMIT ?
	`, selectQueueColumns)
	rows, err := d.db.QueryContext(ctx, query, models.QueuePending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due queue items: %w", err)
	}
	return d.collectQueueItems(rows)
}

// ListPendingForWebhook returns pending items for one webhook, oldest
// first, for batch assembly.
func (d *Database) ListPendingForWebhook(ctx context.Context, webhookID int64, limit int) ([]*models.QueueItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_queue
		WHERE webhook_id = ? AND status = ?
		ORDER BY id ASC
		LIMIT ?
	`, selectQueueColumns)
	rows, err := d.db.QueryContext(ctx, query, webhookID, models.QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	return d.collectQueueItems(rows)
}

// CountPendingForWebhook reports how many deliveries a webhook has queued.
func (d *Database) CountPendingForWebhook(ctx context.Context, webhookID int64) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM webhook_queue WHERE webhook_id = ? AND status = ?
	`, webhookID, models.QueuePending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending queue items: %w", err)
	}
	return n, nil
}

// CreateWebhookLog records one delivery attempt.
func (d *Database) CreateWebhookLog(ctx context.Context, l *models.WebhookLog) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (webhook_id, request_payload, response_status, response_body, response_time_ms, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.WebhookID, l.RequestPayload, l.ResponseStatus, l.ResponseBody, l.ResponseTimeMs, l.Status)
	if err != nil {
		return fmt.Errorf("failed to create webhook log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read webhook log id: %w", err)
	}
	return nil
}

// ListWebhookLogs returns the newest attempt logs for a webhook.
func (d *Database) ListWebhookLogs(ctx context.Context, webhookID int64, limit int) ([]*models.WebhookLog, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, webhook_id, request_payload, response_status, response_body, response_time_ms, status, created_at
		FROM webhook_logs
		WHERE webhook_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.WebhookLog
	for rows.Next() {
		l := &models.WebhookLog{}
		if err := rows.Scan(&l.ID, &l.WebhookID, &l.RequestPayload, &l.ResponseStatus,
			&l.ResponseBody, &l.ResponseTimeMs, &l.Status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// RecordWebhookAttempt updates the webhook's lifetime counters after a
// delivery attempt.
func (d *Database) RecordWebhookAttempt(ctx context.Context, webhookID int64, success bool, errMsg string) error {
	var err error
	if success {
		_, err = d.db.ExecContext(ctx, `
			UPDATE webhooks
			SET total_calls = total_calls + 1,
			    success_count = success_count + 1,
			    last_trigger_date = CURRENT_TIMESTAMP,
			    last_success_date = CURRENT_TIMESTAMP,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, webhookID)
	} else {
		_, err = d.db.ExecContext(ctx, `
			UPDATE webhooks
			SET total_calls = total_calls + 1,
			    failure_count = failure_count + 1,
			    last_trigger_date = CURRENT_TIMESTAMP,
			    last_error_date = CURRENT_TIMESTAMP,
			    last_error_message = ?,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, errMsg, webhookID)
	}
	if err != nil {
		return fmt.Errorf("failed to record webhook attempt: %w", err)
	}
	return nil
}

// PurgeOldWebhookLogs removes attempt logs older than the cutoff.
func (d *Database) PurgeOldWebhookLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM webhook_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge webhook logs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminalQueueItems removes finished queue items older than the
// cutoff, both delivered and permanently failed.
func (d *Database) DeleteTerminalQueueItems(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM webhook_queue
		WHERE status IN (?, ?) AND created_at < ?
	`, models.QueueSuccess, models.QueueFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal queue items: %w", err)
	}
	return res.RowsAffected()
}
