// Command recorder persists finished detection runs from NATS into Postgres.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natsadapter "github.com/buildingai/buildingai/internal/adapters/nats"
	"github.com/buildingai/buildingai/internal/adapters/postgres"
	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/usecases"
	"github.com/buildingai/buildingai/internal/pkg/config"
	"github.com/buildingai/buildingai/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("buildingai-recorder")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(os.Getenv("LOG_LEVEL"), "json")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	runs := usecases.NewRunService(postgres.NewRunRepo(db))

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	err = sub.SubscribeRuns(ctx, func(ctx context.Context, run *domain.DetectionRun) error {
		if err := runs.Record(ctx, run); err != nil {
			slog.Error("record run failed", "run_id", run.ID, "error", err)
			return err
		}
		slog.Info("run recorded",
			"run_id", run.ID,
			"status", run.Status,
			"buildings", run.Stats.BuildingsDetected,
			"sub_regions", run.Stats.SubRegions,
			"succeeded", run.Stats.SubRegionsSucceeded,
		)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	slog.Info("recorder started", "subject", natsadapter.SubjectRunsFilter)
	<-ctx.Done()
	slog.Info("recorder stopped")
}
