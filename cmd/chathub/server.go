package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chathub/internal/adapter"
	"chathub/internal/constants"
	"chathub/internal/database"
	"chathub/internal/models"
	"chathub/internal/service"
	"chathub/internal/webhook"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const maxPayloadBytes = 1 << 20

// Server exposes the inbound webhook endpoint plus instance administration
// routes. Connector lookups are cached briefly so a webhook burst does not
// hammer the store.
type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	db         *database.Database
	dispatcher *service.Dispatcher
	hooks      *webhook.Manager
	cache      *gocache.Cache
	server     *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, hooks *webhook.Manager, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		db:         db,
		dispatcher: service.NewDispatcher(db, logger),
		hooks:      hooks,
		cache: gocache.New(
			constants.DefaultConnectorCacheSec*time.Second,
			constants.DefaultConnectorCacheSweep*time.Second,
		),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	prefix := fmt.Sprintf("/%s/connector/{uuid}", s.cfg.Namespace)
	s.router.HandleFunc(prefix, s.handleInbound()).Methods(http.MethodPost, http.MethodGet)
	s.router.HandleFunc(prefix+"/status", s.handleStatus()).Methods(http.MethodGet)
	s.router.HandleFunc(prefix+"/restart", s.handleRestart()).Methods(http.MethodPost)
	s.router.HandleFunc(prefix+"/logout", s.handleLogout()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}
	s.logger.WithField("port", s.cfg.Server.Port).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// connector resolves a uuid to an enabled connector, through the TTL cache.
// Disabled connectors are indistinguishable from missing ones.
func (s *Server) connector(ctx context.Context, uuid string) (*models.Connector, error) {
	if cached, found := s.cache.Get(uuid); found {
		return cached.(*models.Connector), nil
	}
	c, err := s.db.GetConnectorByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if c == nil || !c.Enabled {
		return nil, nil
	}
	s.cache.SetDefault(uuid, c)
	return c, nil
}

func (s *Server) handleInbound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connector, err := s.connector(r.Context(), mux.Vars(r)["uuid"])
		if err != nil {
			s.logger.WithError(err).Error("Connector lookup failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if connector == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "connector not found"})
			return
		}

		provider, err := adapter.New(connector, s.logger)
		if err != nil {
			s.logger.WithError(err).WithField("connector", connector.UUID).Error("Adapter construction failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
			return
		}
		if len(bytes.TrimSpace(body)) == 0 {
			body = challengeBody(r)
		}
		if len(body) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty payload"})
			return
		}

		result := s.dispatcher.Dispatch(r.Context(), connector, provider, body)

		// Challenge responses go back as a raw body, everything else as the
		// JSON result object.
		if result.Challenge != "" {
			w.WriteHeader(result.StatusCode)
			_, _ = w.Write([]byte(result.Challenge))
			return
		}
		status := http.StatusOK
		if result.StatusCode != 0 {
			status = result.StatusCode
		}
		writeJSON(w, status, result)

		if result.Success && result.Event != "" {
			if err := s.hooks.Trigger(r.Context(), &connector.ID, result.Event, result); err != nil {
				s.logger.WithError(err).WithField("connector", connector.UUID).Warn("Webhook fan-out failed")
			}
		}
	}
}

// challengeBody converts a bodyless GET verification request into the JSON
// shape the adapters parse. The Cloud API sends hub.* query parameters.
func challengeBody(r *http.Request) []byte {
	q := r.URL.Query()
	if q.Get("hub.mode") == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{
		"hub.mode":         q.Get("hub.mode"),
		"hub.verify_token": q.Get("hub.verify_token"),
		"hub.challenge":    q.Get("hub.challenge"),
	})
	if err != nil {
		return nil
	}
	return body
}

func (s *Server) handleStatus() http.HandlerFunc {
	return s.withAdapter(func(w http.ResponseWriter, r *http.Request, connector *models.Connector, provider adapter.Adapter) {
		status, err := provider.GetStatus(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, status)
	})
}

func (s *Server) handleRestart() http.HandlerFunc {
	return s.withAdapter(func(w http.ResponseWriter, r *http.Request, connector *models.Connector, provider adapter.Adapter) {
		if err := provider.RestartInstance(r.Context()); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})
	})
}

func (s *Server) handleLogout() http.HandlerFunc {
	return s.withAdapter(func(w http.ResponseWriter, r *http.Request, connector *models.Connector, provider adapter.Adapter) {
		if err := provider.LogoutInstance(r.Context()); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	})
}

func (s *Server) withAdapter(handler func(http.ResponseWriter, *http.Request, *models.Connector, adapter.Adapter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connector, err := s.connector(r.Context(), mux.Vars(r)["uuid"])
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if connector == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "connector not found"})
			return
		}
		provider, err := adapter.New(connector, s.logger)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		handler(w, r, connector, provider)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
