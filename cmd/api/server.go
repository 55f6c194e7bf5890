package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/locomotiv/locomotiv_core/internal/api"
	"github.com/locomotiv/locomotiv_core/internal/cache"
	"github.com/locomotiv/locomotiv_core/internal/db"
	"github.com/locomotiv/locomotiv_core/internal/fixtures"
	"github.com/locomotiv/locomotiv_core/internal/markers"
	"github.com/locomotiv/locomotiv_core/internal/movement"
	"github.com/locomotiv/locomotiv_core/internal/store"
	"github.com/redis/go-redis/v9"
)

// server holds everything main wires together
type server struct {
	rdb     *redis.Client
	repo    *db.Repository
	engine  *movement.Engine
	stream  *markers.Stream
	handler *api.Handler
	cancel  context.CancelFunc
}

// setup connects to Postgres and Redis, loads the yard and builds the engine
func setup() *server {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✓ Database connection established")

	rdb, err := cache.GetClient()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("✓ Redis connection established")

	ctx, cancel := context.WithCancel(context.Background())
	repo := db.NewRepository(pool)

	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	layout := store.NewLayout()
	if err := layout.LoadFrom(ctx, repo); err != nil {
		log.Fatalf("Failed to load yard layout: %v", err)
	}

	if layout.Stats()["blocks"] == 0 && getEnvBool("SEED_LAYOUT", true) {
		log.Println("Database holds no blocks, seeding the built-in layout...")
		seed, err := fixtures.Default()
		if err != nil {
			log.Fatalf("Failed to read built-in layout: %v", err)
		}
		if err := repo.SaveLayout(ctx, seed); err != nil {
			log.Fatalf("Failed to seed layout: %v", err)
		}
		if err := layout.LoadFrom(ctx, repo); err != nil {
			log.Fatalf("Failed to reload yard layout: %v", err)
		}
	}
	layout.SetPersister(repo)
	log.Println("✓ Yard layout loaded into memory")

	redisCfg := cache.LoadConfigFromEnv()
	board := markers.NewBoard()
	stream := markers.NewStream()
	markerStore := cache.NewMarkerStore(rdb, redisCfg.MarkerTTL)
	sink := markers.Fanout{board, stream, markerStore}

	// no train moves yet, markers left by a previous run are stale
	stale, err := markerStore.List(ctx)
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	for _, m := range stale {
		markerStore.RemoveMarker(m.TrainID)
	}
	if len(stale) > 0 {
		log.Printf("Cleared %d stale markers", len(stale))
	}

	engineCfg := movement.LoadConfigFromEnv()
	engine := movement.NewEngine(ctx, layout, sink, engineCfg)
	log.Printf("✓ Movement engine ready (tick every %v)", engineCfg.TickInterval)

	h := api.NewHandler(layout, engine, board)
	h.Checks["database"] = db.HealthCheck
	h.Checks["redis"] = cache.HealthCheck
	h.Lock = func(ctx context.Context) (func(context.Context) error, error) {
		lock, err := cache.AcquireLock(ctx, rdb, cache.DispatchLockKey, redisCfg.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, api.ErrDispatchBusy
		}
		if err != nil {
			return nil, err
		}
		return lock.Release, nil
	}

	return &server{
		rdb:     rdb,
		repo:    repo,
		engine:  engine,
		stream:  stream,
		handler: h,
		cancel:  cancel,
	}
}

// newApp creates the fiber app with the global middleware
func newApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      name,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: api.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(corsConfig))
	return app
}

var corsConfig = cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,POST,DELETE,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

// notFound is the last handler in the chain
func notFound(c *fiber.Ctx) error {
	return c.Status(404).JSON(fiber.Map{
		"error":   "not_found",
		"message": "The requested endpoint does not exist",
		"path":    c.Path(),
	})
}

// serveEvents starts the marker event stream on SSE_PORT. It returns nil when disabled.
func (s *server) serveEvents() *http.Server {
	port := getEnv("SSE_PORT", "8081")
	if port == "off" {
		log.Println("Marker event stream disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/events", s.stream)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Marker event stream stopped: %v", err)
		}
	}()
	log.Printf("✓ Marker events on http://localhost:%s/events?stream=%s", port, markers.StreamID)
	return srv
}

// run listens on API_PORT until SIGINT or SIGTERM, then shuts everything down
func (s *server) run(app *fiber.App) {
	events := s.serveEvents()
	addr := fmt.Sprintf(":%s", getEnv("API_PORT", "8080"))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("⚠️  Received shutdown signal...")
		log.Println("Stopping trains...")
		s.engine.StopAll(context.Background())
		s.cancel()

		if events != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := events.Shutdown(ctx); err != nil {
				log.Printf("Error closing event stream: %v", err)
			}
			cancel()
		}
		s.stream.Close()

		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Println("═══════════════════════════════════════════════════")
	log.Printf("🚂 Locomotiv API Server Started")
	log.Printf("📍 Listening on: http://localhost%s", addr)
	log.Println("═══════════════════════════════════════════════════")
	log.Println("Available Endpoints:")
	log.Printf("  GET  /health                - Health check")
	log.Printf("  GET  /v1/stations           - Stations and their trains")
	log.Printf("  POST /v1/stations/:id/trains/:train_id   - Park a train in a station")
	log.Printf("  DEL  /v1/stations/:id/trains/:train_id   - Take a train off a platform")
	log.Printf("  GET  /v1/blocks             - Blocks and occupants")
	log.Printf("  GET  /v1/routes             - Predefined routes")
	log.Printf("  GET  /v1/trains             - Trains")
	log.Printf("  POST /v1/trains/:id/start   - Start one train on a route")
	log.Printf("  POST /v1/dispatch           - Pair idle trains with routes")
	log.Printf("  POST /v1/stop               - Stop every movement")
	log.Printf("  POST /v1/tick               - Advance once")
	log.Printf("  GET  /v1/movements          - Active movements")
	log.Printf("  GET  /v1/markers            - Train markers")
	log.Println("═══════════════════════════════════════════════════")

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Redis pool at shutdown: %v", cache.Stats())
	db.Close()
	cache.Close()
	log.Println("✓ Server shut down gracefully")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
