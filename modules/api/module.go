package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/example/presence-chat/metrics"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/messaging"
	"github.com/example/presence-chat/modules/presence"
	"github.com/example/presence-chat/modules/router"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
)

// Config configures the HTTP and WebSocket surface.
type Config struct {
	Port               string
	CORSAllowedOrigins string
	TrustClientRoom    bool

	RateLimit       float64
	RateBurst       int
	MaxMessageBytes int64

	GatewayTimeout     time.Duration
	GatewayMaxInFlight int64
}

// HealthSource is a module whose health is reported by GET /health.
type HealthSource interface {
	Name() string
	Health(ctx context.Context) mono.HealthStatus
}

// Deps are the collaborators the API module needs from other modules.
type Deps struct {
	Registry *presence.Registry
	Hub      *broadcast.Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Health   []HealthSource
}

// Module is the driving adapter: it owns the Fiber app, the WebSocket
// sessions and the REST routes.
type Module struct {
	cfg        Config
	deps       Deps
	logger     types.Logger
	gateway    messaging.Gateway
	dispatcher *router.Dispatcher
	app        *fiber.App
	addr       net.Addr
	ctx        context.Context
	cancel     context.CancelFunc
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the API module.
func NewModule(cfg Config, deps Deps, logger types.Logger) *Module {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.CORSAllowedOrigins == "" {
		cfg.CORSAllowedOrigins = "*"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 8192
	}
	return &Module{
		cfg:    cfg,
		deps:   deps,
		logger: logger.WithModule("api"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"messaging"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "messaging":
		m.gateway = messaging.NewAdapter(messaging.ContainerTransport(container), messaging.AdapterOptions{
			Timeout:     m.cfg.GatewayTimeout,
			MaxInFlight: m.cfg.GatewayMaxInFlight,
			Metrics:     m.deps.Metrics,
		})
	}
}

// Start builds the router and the Fiber app and starts listening.
func (m *Module) Start(_ context.Context) error {
	if m.gateway == nil {
		return errors.New("messaging dependency not set")
	}
	if m.deps.Registry == nil || m.deps.Hub == nil {
		return errors.New("presence registry and broadcast hub must be set")
	}

	r := router.New(m.deps.Registry, m.gateway, router.Options{TrustClientRoom: m.cfg.TrustClientRoom})
	m.dispatcher = router.NewDispatcher(r, m.deps.Hub, m.logger, m.deps.Metrics)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.app = m.newApp()

	ln, err := net.Listen("tcp", ":"+m.cfg.Port)
	if err != nil {
		m.cancel()
		return fmt.Errorf("failed to listen on port %s: %w", m.cfg.Port, err)
	}
	m.addr = ln.Addr()

	go func() {
		if err := m.app.Listener(ln); err != nil {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	m.logger.Info("HTTP server started", "addr", m.addr.String(), "trust_client_room", m.cfg.TrustClientRoom)
	return nil
}

// Stop closes the live WebSocket sessions and shuts the server down.
func (m *Module) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.cancel()
	closed := m.deps.Hub.CloseAll()
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	m.logger.Info("HTTP server stopped", "closed_sessions", closed)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port": m.cfg.Port,
	}
	if m.deps.Hub != nil {
		details["connected_clients"] = m.deps.Hub.ClientCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// Addr returns the listening address once started.
func (m *Module) Addr() net.Addr {
	return m.addr
}

// newApp creates the Fiber app with middleware and routes.
func (m *Module) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "presence-chat",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderUpgrade) == "websocket"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.cfg.CORSAllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes(app)
	return app
}

// errorHandler handles errors globally.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	} else {
		m.logger.Error("HTTP error", "method", c.Method(), "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
