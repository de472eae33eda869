// Command detect runs one building detection from the command line and
// writes the result as buildings_YYYY-MM-DD.geojson.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/buildingai/buildingai/internal/bootstrap"
	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/pkg/config"
	"github.com/buildingai/buildingai/internal/pkg/logging"
)

func main() {
	regionPath := flag.String("region", "", "region file: GeoJSON, {\"bbox\": [...]}, or [[lng, lat], ...] (- for stdin)")
	threshold := flag.Float64("threshold", 0, "confidence threshold in (0, 1], 0 uses the configured default")
	outDir := flag.String("out", ".", "directory for the GeoJSON export")
	estimateOnly := flag.Bool("estimate", false, "print the tile estimate and exit")
	flag.Parse()

	if *regionPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load("buildingai-detect")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(os.Getenv("LOG_LEVEL"), "text")

	data, err := readRegion(*regionPath)
	if err != nil {
		log.Fatalf("read region: %v", err)
	}
	ring, err := parseRegion(data)
	if err != nil {
		log.Fatalf("parse region: %v", err)
	}

	svc := bootstrap.DetectionService(cfg, nil, nil)

	est, err := svc.Estimate(ring)
	if err != nil {
		log.Fatalf("estimate: %v", err)
	}
	slog.Info("region estimate", "tiles", est.Tiles, "limit", est.Limit, "status", est.Status,
		"grid", fmt.Sprintf("%dx%d", est.Cols, est.Rows), "width_m", est.WidthMeters, "height_m", est.HeightMeters)
	if *estimateOnly {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(est)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := svc.Detect(ctx, domain.DetectionInput{Ring: ring, Threshold: *threshold})
	var tooLarge *domain.RegionTooLargeError
	switch {
	case errors.As(err, &tooLarge):
		log.Fatalf("region covers %d tiles, the limit is %d; draw a smaller area", tooLarge.Tiles, tooLarge.Limit)
	case err != nil:
		log.Fatalf("detect: %v", err)
	}

	if !res.Stats.Complete() {
		slog.Warn("some sub-regions failed, result is partial",
			"succeeded", res.Stats.SubRegionsSucceeded, "sub_regions", res.Stats.SubRegions)
	}

	out, err := json.MarshalIndent(res.GeoJSON, "", "  ")
	if err != nil {
		log.Fatalf("encode geojson: %v", err)
	}
	path := filepath.Join(*outDir, domain.ExportFilename(time.Now()))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}

	slog.Info("detection written",
		"path", path,
		"run_id", res.RunID,
		"buildings", res.Stats.BuildingsDetected,
		"border_duplicates_removed", res.Stats.BorderDuplicatesRemoved,
		"tiles_processed", res.Stats.TilesProcessed,
		"processing_time_s", res.Stats.ProcessingTimeSeconds,
	)
}

func readRegion(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
