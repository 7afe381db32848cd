package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	memoryutils "github.com/papercomputeco/twin/pkg/memory/utils"
)

// HealthReporter reports the health of the store's pools and cache tiers.
type HealthReporter interface {
	Health(ctx context.Context) memoryutils.Health
}

// Server is the API server for the twin memory store
type Server struct {
	config Config
	driver memory.Driver
	health HealthReporter
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The driver is injected so the server shares the store stack with the
// process that owns it; the server never closes it. A nil health reporter
// disables /health.
func NewServer(config Config, driver memory.Driver, health HealthReporter, log *slog.Logger) *Server {
	if config.DefaultListLimit <= 0 {
		config.DefaultListLimit = defaultListLimit
	}
	if config.DefaultSearchLimit <= 0 {
		config.DefaultSearchLimit = defaultSearchLimit
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		driver: driver,
		health: health,
		logger: logger.OrNop(log).With("component", "api"),
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/health", s.handleHealth)

	memories := app.Group("/memories")
	memories.Post("/", s.handleStoreMemory)
	memories.Get("/", s.handleListMemories)
	memories.Post("/search", s.handleSearchMemories)
	memories.Get("/:id", s.handleGetMemory)
	memories.Put("/:id", s.handleUpdateMemory)
	memories.Delete("/:id", s.handleDeleteMemory)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server, waiting for in-flight
// requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
