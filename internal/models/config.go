package models

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Webhook   WebhookSettings `json:"webhook"`
	LogLevel  string          `json:"log_level"`
	Namespace string          `json:"namespace"` // webhook URL prefix, e.g. "hub"

	// Seed lists upserted into the store at startup; administrators edit the
	// store afterwards.
	Connectors []ConnectorSeed `json:"connectors"`
	Webhooks   []WebhookSeed   `json:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds record store settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// WebhookSettings holds delivery manager settings.
type WebhookSettings struct {
	SweepIntervalSec int `json:"sweepIntervalSec"`
	LogRetentionDays int `json:"logRetentionDays"`
}

// ConnectorSeed is a connector definition from the config file.
type ConnectorSeed struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Enabled     *bool  `json:"enabled,omitempty"`
	URL         string `json:"url"`
	APIKey      string `json:"apiKey"`
	VerifyToken string `json:"verifyToken"`

	ContactField string `json:"contactField"`
	ContactName  string `json:"contactName"`

	AllowBroadcast      bool `json:"allowBroadcast"`
	ReopenArchived      bool `json:"reopenArchived"`
	AlwaysUpdatePicture bool `json:"alwaysUpdatePicture"`
	ShowReadReceipts    bool `json:"showReadReceipts"`
	NotifyReactions     bool `json:"notifyReactions"`
	ImportContacts      bool `json:"importContacts"`

	TextTemplate string `json:"textTemplate"`
}

// WebhookSeed is a webhook endpoint definition from the config file.
type WebhookSeed struct {
	UUID            string  `json:"uuid"`
	Name            string  `json:"name"`
	URL             string  `json:"url"`
	Method          string  `json:"method"`
	AuthType        string  `json:"authType"`
	AuthUsername    string  `json:"authUsername"`
	AuthPassword    string  `json:"authPassword"`
	AuthToken       string  `json:"authToken"`
	AuthHeaderName  string  `json:"authHeaderName"`
	MaxRetries      int     `json:"maxRetries"`
	RetryDelaySec   int     `json:"retryDelaySec"`
	RetryMultiplier float64 `json:"retryMultiplier"`
	TimeoutSec      int     `json:"timeoutSec"`
	EventTypes      string  `json:"eventTypes"`
	BatchSize       int     `json:"batchSize"`
}

// ConfigError reports an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
