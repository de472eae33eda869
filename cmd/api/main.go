package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/buildingai/buildingai/internal/adapters/http"
	natsadapter "github.com/buildingai/buildingai/internal/adapters/nats"
	"github.com/buildingai/buildingai/internal/adapters/postgres"
	temporaladapter "github.com/buildingai/buildingai/internal/adapters/temporal"
	"github.com/buildingai/buildingai/internal/adapters/valkey"
	"github.com/buildingai/buildingai/internal/bootstrap"
	"github.com/buildingai/buildingai/internal/core/ports"
	"github.com/buildingai/buildingai/internal/core/usecases"
	"github.com/buildingai/buildingai/internal/pkg/config"
	"github.com/buildingai/buildingai/internal/pkg/logging"
	"github.com/buildingai/buildingai/internal/pkg/metrics"
	"github.com/buildingai/buildingai/internal/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load("buildingai-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup(logLevel, "json")

	for _, b := range cfg.UnreachableBands() {
		slog.Warn("partition band starts at or above detection.max_tiles and will never apply",
			"min_tiles", b.MinTiles, "cols", b.Cols, "rows", b.Rows, "max_tiles", cfg.Detection.MaxTiles)
	}
	if cfg.BandsUnreachable() {
		slog.Warn("every partition band starts at or above detection.max_tiles; regions will never be split",
			"max_tiles", cfg.Detection.MaxTiles)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	deps := &http.Dependencies{
		Endpoints: len(cfg.Detection.Endpoints),
		Version:   version,
	}

	// Database (run history)
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Warn("database unavailable, run history disabled", "error", err)
	} else {
		defer db.Close()
		deps.DB = db
		deps.Runs = usecases.NewRunService(postgres.NewRunRepo(db))
		go reportPoolStats(ctx, db)
	}

	// Cache
	var cache ports.CacheService
	vc, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vc.Close()
		cache = vc
		deps.Cache = vc
	}

	// NATS
	var events ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		defer natsConn.Close()
		deps.NATS = natsConn
	}

	// Temporal (background jobs)
	tc, err := temporaladapter.Dial(cfg.Temporal)
	if err != nil {
		slog.Warn("temporal unavailable, background jobs disabled", "error", err)
	} else {
		defer tc.Close()
		deps.Jobs = temporaladapter.NewJobs(tc, cfg.Temporal.TaskQueue)
	}

	deps.Detection = bootstrap.DetectionService(cfg, cache, events)

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		AppName:      "BuildingAI API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "X-Run-ID, Content-Disposition, Link",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "endpoints", len(cfg.Detection.Endpoints), "max_tiles", cfg.Detection.MaxTiles)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Detections can run for minutes; give them as long as the write timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Stat())
		}
	}
}
