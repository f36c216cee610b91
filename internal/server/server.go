// Package server exposes the evaluation engine over a REST API.
package server

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/riskgate/riskgate/internal/engine"
	"github.com/riskgate/riskgate/internal/model"
	"github.com/riskgate/riskgate/internal/policy"
	"github.com/riskgate/riskgate/internal/store"
	"github.com/riskgate/riskgate/internal/webhook"
)

const version = "0.3.0"

// Config wires the HTTP layer. APIKey empty disables auth (local use).
type Config struct {
	Engine     *engine.Engine
	Policies   *policy.Store
	Store      *store.Store
	Dispatcher *webhook.Dispatcher
	Bus        *Bus
	Logger     zerolog.Logger
	APIKey     string
	PolicyPath string
}

// Server is the riskgate HTTP gateway.
type Server struct {
	app        *fiber.App
	engine     *engine.Engine
	policies   *policy.Store
	store      *store.Store
	dispatcher *webhook.Dispatcher
	bus        *Bus
	log        zerolog.Logger
	apiKey     string
	policyPath string
}

// New builds the fiber app and registers all routes.
func New(cfg Config) *Server {
	s := &Server{
		engine:     cfg.Engine,
		policies:   cfg.Policies,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		bus:        cfg.Bus,
		log:        cfg.Logger,
		apiKey:     cfg.APIKey,
		policyPath: cfg.PolicyPath,
	}

	app := fiber.New(fiber.Config{
		AppName:      "riskgate",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(s.requestLogger)

	app.Get("/health", s.handleHealth)

	api := app.Group("/api/v1", s.requireAPIKey)
	api.Post("/evaluate", s.handleEvaluate)
	api.Post("/approve", s.handleApprove)
	api.Post("/near-miss", s.handleNearMiss)
	api.Get("/budget/:session_id", s.handleBudget)
	api.Get("/actions/pending", s.handlePending)
	api.Get("/actions/:id", s.handleAction)
	api.Get("/stats", s.handleStats)
	api.Post("/config/reload", s.handleReload)
	api.Get("/config/webhooks", s.handleListWebhooks)
	api.Post("/config/webhooks", s.handleAddWebhook)
	api.Delete("/config/webhooks/:id", s.handleDeleteWebhook)
	api.Get("/audit/export", s.handleAuditExport)
	api.Get("/events", s.handleEvents)

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("server_listening")
	return s.app.Listen(addr)
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ReloadPolicy re-reads the policy file and swaps the active snapshot.
func (s *Server) ReloadPolicy() error {
	_, err := s.policies.ReloadFile(s.policyPath)
	return err
}

func (s *Server) requestLogger(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("http_request")
	return err
}

func (s *Server) requireAPIKey(c fiber.Ctx) error {
	if s.apiKey == "" {
		return c.Next()
	}
	key := c.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid api key"})
	}
	return c.Next()
}

// httpError maps engine and policy errors onto status codes.
func httpError(c fiber.Ctx, err error) error {
	var conflict *engine.ConflictError
	var invalid *policy.ValidationError
	switch {
	case errors.Is(err, engine.ErrInvalid), errors.As(err, &invalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, store.ErrWebhookNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &conflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func metadataFrom(raw map[string]any) map[string]model.Value {
	if len(raw) == 0 {
		return nil
	}
	return model.FromMap(raw)
}
