package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chathub/internal/constants"
	"chathub/internal/models"
)

var (
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingConnectors = models.ConfigError{Message: "connectors array is required and must contain at least one connector"}
)

// LoadConfig reads, validates and defaults the JSON configuration file.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if len(c.Connectors) == 0 {
		return ErrMissingConnectors
	}

	uuids := make(map[string]bool)
	for i, connector := range c.Connectors {
		if connector.UUID == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty uuid in connector %d", i)}
		}
		if connector.Name == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty name in connector %d", i)}
		}
		switch models.ProviderKind(connector.Kind) {
		case models.ProviderEvolution, models.ProviderWhatsAppCloud,
			models.ProviderGenericWebhook, models.ProviderExample:
		default:
			return models.ConfigError{Message: fmt.Sprintf("unknown provider kind %q in connector %d", connector.Kind, i)}
		}
		if uuids[connector.UUID] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate connector uuid: %s", connector.UUID)}
		}
		uuids[connector.UUID] = true
	}

	for i, webhook := range c.Webhooks {
		if webhook.URL == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty url in webhook %d", i)}
		}
		if webhook.BatchSize < 0 {
			return models.ConfigError{Message: fmt.Sprintf("negative batch size in webhook %d", i)}
		}
	}

	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Namespace == "" {
		c.Namespace = constants.DefaultNamespace
	}
	if c.Webhook.SweepIntervalSec == 0 {
		c.Webhook.SweepIntervalSec = constants.DefaultWebhookSweepSec
	}
	if c.Webhook.LogRetentionDays == 0 {
		c.Webhook.LogRetentionDays = constants.DefaultLogRetentionDays
	}
	for i := range c.Connectors {
		if c.Connectors[i].ContactField == "" {
			c.Connectors[i].ContactField = "phone"
		}
		if c.Connectors[i].ContactName == "" {
			c.Connectors[i].ContactName = "whatsapp"
		}
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("CHATHUB_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CHATHUB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHATHUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}
