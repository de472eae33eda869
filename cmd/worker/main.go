// Command worker runs background detection jobs on Temporal.
package main

import (
	"log"
	"log/slog"
	"os"

	"go.temporal.io/sdk/worker"

	natsadapter "github.com/buildingai/buildingai/internal/adapters/nats"
	temporaladapter "github.com/buildingai/buildingai/internal/adapters/temporal"
	"github.com/buildingai/buildingai/internal/adapters/valkey"
	"github.com/buildingai/buildingai/internal/bootstrap"
	"github.com/buildingai/buildingai/internal/core/ports"
	"github.com/buildingai/buildingai/internal/pkg/config"
	"github.com/buildingai/buildingai/internal/pkg/logging"
	"github.com/buildingai/buildingai/internal/workflows"
)

func main() {
	cfg, err := config.Load("buildingai-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(os.Getenv("LOG_LEVEL"), "json")

	var cache ports.CacheService
	if vc, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vc.Close()
		cache = vc
	}

	var events ports.EventPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	c, err := temporaladapter.Dial(cfg.Temporal)
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		// Each activity fans out to the whole endpoint pool already.
		MaxConcurrentActivityExecutionSize: 2,
	})

	w.RegisterWorkflow(workflows.DetectionWorkflow)
	w.RegisterActivity(&workflows.DetectionActivities{
		Detection: bootstrap.DetectionService(cfg, cache, events),
	})

	slog.Info("detection worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
