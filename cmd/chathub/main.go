package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chathub/internal/config"
	"chathub/internal/constants"
	"chathub/internal/database"
	"chathub/internal/models"
	"chathub/internal/webhook"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chathub %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chathub")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	db, err := openDatabase(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedConnectors(ctx, db, cfg, logger); err != nil {
		return fmt.Errorf("failed to seed connectors: %w", err)
	}
	if err := seedWebhooks(ctx, db, cfg, logger); err != nil {
		return fmt.Errorf("failed to seed webhooks: %w", err)
	}

	hooks := webhook.NewManager(db,
		time.Duration(cfg.Webhook.SweepIntervalSec)*time.Second,
		cfg.Webhook.LogRetentionDays, logger)
	hooks.Start()
	defer hooks.Stop()

	srv := NewServer(cfg, db, hooks, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// openDatabase retries initialization with linear backoff; a container
// startup race against the volume mount is the common cause.
func openDatabase(ctx context.Context, path string, logger *logrus.Logger) (*database.Database, error) {
	var db *database.Database
	var err error
	for attempt := 1; attempt <= constants.DefaultDatabaseRetryAttempts; attempt++ {
		db, err = database.New(path)
		if err == nil {
			return db, nil
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Failed to initialize database")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt*constants.DefaultRetryBackoffMs) * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("failed to initialize database: %w", err)
}

// seedConnectors upserts the configured connectors and provisions each one's
// default actor contact on first sight.
func seedConnectors(ctx context.Context, db *database.Database, cfg *models.Config, logger *logrus.Logger) error {
	for _, seed := range cfg.Connectors {
		connector := connectorFromSeed(seed)
		if err := db.UpsertConnector(ctx, connector); err != nil {
			return err
		}

		stored, err := db.GetConnectorByID(ctx, connector.ID)
		if err != nil {
			return err
		}
		if stored.DefaultActorID == 0 {
			actor := &models.Contact{
				Name:            connector.Name,
				IdentifierField: "internal",
				Identifier:      "connector:" + connector.UUID,
			}
			if err := db.CreateContact(ctx, actor); err != nil {
				return err
			}
			if err := db.SetConnectorDefaultActor(ctx, connector.ID, actor.ID); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"connector": connector.UUID,
				"actor":     actor.ID,
			}).Info("Provisioned default actor")
		}
		logger.WithFields(logrus.Fields{
			"connector": connector.UUID,
			"kind":      connector.Kind,
		}).Info("Connector ready")
	}
	return nil
}

func connectorFromSeed(seed models.ConnectorSeed) *models.Connector {
	enabled := true
	if seed.Enabled != nil {
		enabled = *seed.Enabled
	}
	return &models.Connector{
		UUID:                seed.UUID,
		Name:                seed.Name,
		Kind:                models.ProviderKind(seed.Kind),
		Enabled:             enabled,
		URL:                 seed.URL,
		APIKey:              seed.APIKey,
		VerifyToken:         seed.VerifyToken,
		ContactField:        seed.ContactField,
		ContactName:         seed.ContactName,
		AllowBroadcast:      seed.AllowBroadcast,
		ReopenArchived:      seed.ReopenArchived,
		AlwaysUpdatePicture: seed.AlwaysUpdatePicture,
		ShowReadReceipts:    seed.ShowReadReceipts,
		NotifyReactions:     seed.NotifyReactions,
		ImportContacts:      seed.ImportContacts,
		TextTemplate:        seed.TextTemplate,
	}
}

func seedWebhooks(ctx context.Context, db *database.Database, cfg *models.Config, logger *logrus.Logger) error {
	for _, seed := range cfg.Webhooks {
		hook := webhookFromSeed(seed)
		if err := db.UpsertWebhook(ctx, hook); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"webhook": hook.UUID,
			"url":     hook.URL,
		}).Info("Webhook ready")
	}
	return nil
}

func webhookFromSeed(seed models.WebhookSeed) *models.Webhook {
	hook := &models.Webhook{
		UUID:            seed.UUID,
		Name:            seed.Name,
		Active:          true,
		URL:             seed.URL,
		Method:          seed.Method,
		AuthType:        models.WebhookAuthType(seed.AuthType),
		AuthUsername:    seed.AuthUsername,
		AuthPassword:    seed.AuthPassword,
		AuthToken:       seed.AuthToken,
		AuthHeaderName:  seed.AuthHeaderName,
		MaxRetries:      seed.MaxRetries,
		RetryDelaySec:   seed.RetryDelaySec,
		RetryMultiplier: seed.RetryMultiplier,
		TimeoutSec:      seed.TimeoutSec,
		EventTypes:      seed.EventTypes,
		BatchSize:       seed.BatchSize,
		Priority:        10,
	}
	if hook.UUID == "" {
		hook.UUID = uuid.New().String()
	}
	if hook.Method == "" {
		hook.Method = http.MethodPost
	}
	if hook.AuthType == "" {
		hook.AuthType = models.WebhookAuthNone
	}
	if hook.MaxRetries == 0 {
		hook.MaxRetries = constants.DefaultWebhookMaxRetries
	}
	if hook.RetryDelaySec == 0 {
		hook.RetryDelaySec = constants.DefaultWebhookRetryDelaySec
	}
	if hook.RetryMultiplier == 0 {
		hook.RetryMultiplier = constants.DefaultWebhookRetryMultiplier
	}
	if hook.TimeoutSec == 0 {
		hook.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if hook.BatchSize == 0 {
		hook.BatchSize = constants.DefaultWebhookBatchSize
	}
	return hook
}
