package models

import (
	"strings"
	"time"
)

// WebhookAuthType selects how delivery requests authenticate.
type WebhookAuthType string

const (
	WebhookAuthNone   WebhookAuthType = "none"
	WebhookAuthBasic  WebhookAuthType = "basic"
	WebhookAuthBearer WebhookAuthType = "bearer"
	WebhookAuthAPIKey WebhookAuthType = "api_key"
	WebhookAuthOAuth2 WebhookAuthType = "oauth2"
)

// QueueStatus is the webhook queue item state machine:
// pending -> processing -> {success | failed}. Failed items below the retry
// limit are rescheduled back to pending by the sweep.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSuccess    QueueStatus = "success"
	QueueFailed     QueueStatus = "failed"
)

// Webhook is an outgoing notification endpoint definition, distinct from
// provider APIs.
type Webhook struct {
	ID      int64  `json:"id"`
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	URL     string `json:"url"`
	Method  string `json:"method"`
	Headers string `json:"headers"` // extra headers, JSON object

	AuthType       WebhookAuthType `json:"authType"`
	AuthUsername   string          `json:"authUsername,omitempty"`
	AuthPassword   string          `json:"authPassword,omitempty"`
	AuthToken      string          `json:"authToken,omitempty"`
	AuthHeaderName string          `json:"authHeaderName,omitempty"`

	MaxRetries      int     `json:"maxRetries"`
	RetryDelaySec   int     `json:"retryDelaySec"`
	RetryMultiplier float64 `json:"retryMultiplier"`
	TimeoutSec      int     `json:"timeoutSec"`

	EventTypes string `json:"eventTypes,omitempty"` // comma-separated allow-list
	BatchSize  int    `json:"batchSize"`
	Priority   int    `json:"priority"`

	ConnectorID *int64 `json:"connectorId,omitempty"`

	TotalCalls       int64      `json:"totalCalls"`
	SuccessCount     int64      `json:"successCount"`
	FailureCount     int64      `json:"failureCount"`
	LastTriggerDate  *time.Time `json:"lastTriggerDate,omitempty"`
	LastSuccessDate  *time.Time `json:"lastSuccessDate,omitempty"`
	LastErrorDate    *time.Time `json:"lastErrorDate,omitempty"`
	LastErrorMessage string     `json:"lastErrorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllowsEvent reports whether the webhook's event-type filter admits the
// given event type. An empty filter admits everything.
func (w *Webhook) AllowsEvent(eventType string) bool {
	if w.EventTypes == "" || eventType == "" {
		return true
	}
	for _, t := range strings.Split(w.EventTypes, ",") {
		if strings.TrimSpace(t) == eventType {
			return true
		}
	}
	return false
}

// QueueItem is one enqueued delivery.
type QueueItem struct {
	ID           int64       `json:"id"`
	WebhookID    int64       `json:"webhookId"`
	Payload      string      `json:"payload"`
	EventType    string      `json:"eventType,omitempty"`
	Status       QueueStatus `json:"status"`
	RetryCount   int         `json:"retryCount"`
	NextRetry    *time.Time  `json:"nextRetry,omitempty"`
	ProcessedAt  *time.Time  `json:"processedAt,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// WebhookLog records one delivery attempt, independent of the queue item's
// own state.
type WebhookLog struct {
	ID             int64     `json:"id"`
	WebhookID      int64     `json:"webhookId"`
	RequestPayload string    `json:"requestPayload"`
	ResponseStatus int       `json:"responseStatus"`
	ResponseBody   string    `json:"responseBody"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Status         string    `json:"status"` // success | failed
	CreatedAt      time.Time `json:"createdAt"`
}
