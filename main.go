package main

import (
	"context"
	"log"
	"os"

	"github.com/example/presence-chat/config"
	"github.com/example/presence-chat/metrics"
	"github.com/example/presence-chat/modules/api"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/cache"
	"github.com/example/presence-chat/modules/messaging"
	"github.com/example/presence-chat/modules/presence"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	log.Println("=== Presence Chat - Fiber + WebSocket + Persistence Gateway ===")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	presenceModule := presence.NewModule(logger)

	// The cache is optional. convCache stays a nil interface without Redis.
	var cacheModule *cache.Module
	var convCache messaging.ConversationCache
	if cfg.RedisAddr != "" {
		cacheModule = cache.NewModule(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, logger)
		convCache = cacheModule.Cache()
	}

	messagingModule := messaging.NewModule(messaging.Config{
		DatabaseURL: cfg.DatabaseURL,
		DBPath:      cfg.DBPath,
		DBDebug:     cfg.DBDebug,
		EmailDomain: cfg.AllowedEmailDomain,
	}, convCache, m, logger)

	broadcastModule := broadcast.NewModule(presenceModule.Registry(), cfg.WSSendBuffer, m, logger)

	health := []api.HealthSource{presenceModule, messagingModule, broadcastModule}
	if cacheModule != nil {
		health = append(health, cacheModule)
	}
	apiModule := api.NewModule(api.Config{
		Port:               cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustClientRoom:    cfg.TrustClientRoom,
		RateLimit:          cfg.WSRateLimit,
		RateBurst:          cfg.WSRateBurst,
		MaxMessageBytes:    cfg.WSMaxMessageBytes,
		GatewayTimeout:     cfg.GatewayTimeout,
		GatewayMaxInFlight: cfg.GatewayMaxInFlight,
	}, api.Deps{
		Registry: presenceModule.Registry(),
		Hub:      broadcastModule.Hub(),
		Metrics:  m,
		Gatherer: reg,
		Health:   health,
	}, logger)

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - presence: room and private-chat bookkeeping
	// - cache: Redis conversation cache (only with REDIS_ADDR)
	// - messaging: persistence gateway (ServiceProviderModule + EventEmitterModule)
	// - broadcast: connection hub + read receipt consumer
	// - api: Fiber HTTP/WebSocket server, depends on messaging
	app.Register(presenceModule)
	if cacheModule != nil {
		app.Register(cacheModule)
	}
	app.Register(messagingModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	backend := "SQLite (" + cfg.DBPath + ")"
	if cfg.DatabaseURL != "" {
		backend = "PostgreSQL"
	}
	cacheInfo := "disabled"
	if cfg.RedisAddr != "" {
		cacheInfo = "Redis at " + cfg.RedisAddr
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("  - Storage: %s", backend)
	log.Printf("  - Conversation cache: %s", cacheInfo)
	log.Printf("  - Client room fallback: %v", cfg.TrustClientRoom)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                          - Health check")
	log.Println("  GET    /metrics                         - Prometheus metrics")
	log.Println("  POST   /api/register                    - Register a user")
	log.Println("  POST   /api/login                       - Log in")
	log.Println("  GET    /api/usuarios?exclude=:id        - List users")
	log.Println("  GET    /api/conversaciones/:id          - Conversation summaries")
	log.Println("  GET    /api/mensajes/:usuario/:contacto - Private conversation")
	log.Println("  GET    /api/mensajes/id/:id             - Single private message")
	log.Println("  POST   /api/mensajes/leer               - Mark messages as read")
	log.Println("  POST   /api/marcar-leidos               - Mark messages as read (alias)")
	log.Println("  GET    /api/salas                       - Active rooms")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println("  Events: join_chat, send_message, typing, join_private_chat, send_private_message")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
