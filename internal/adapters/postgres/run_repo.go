package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// RunRepo implements ports.RunRepository.
type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Insert records a run. A run ID seen before is overwritten by the outcome
// that finished last, so a retried run ends with its final status and a
// redelivered older event changes nothing.
func (r *RunRepo) Insert(ctx context.Context, run *domain.DetectionRun) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO detection_runs (
			id, status, min_lng, min_lat, max_lng, max_lat,
			tile_estimate, sub_regions, sub_regions_succeeded, buildings_detected,
			stats, error, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status                = EXCLUDED.status,
			tile_estimate         = EXCLUDED.tile_estimate,
			sub_regions           = EXCLUDED.sub_regions,
			sub_regions_succeeded = EXCLUDED.sub_regions_succeeded,
			buildings_detected    = EXCLUDED.buildings_detected,
			stats                 = EXCLUDED.stats,
			error                 = EXCLUDED.error,
			finished_at           = EXCLUDED.finished_at,
			recorded_at           = now()
		WHERE detection_runs.finished_at <= EXCLUDED.finished_at
	`,
		run.ID, string(run.Status),
		run.Bounds.MinLng, run.Bounds.MinLat, run.Bounds.MaxLng, run.Bounds.MaxLat,
		run.Stats.TileEstimate, run.Stats.SubRegions, run.Stats.SubRegionsSucceeded, run.Stats.BuildingsDetected,
		stats, run.Error, run.StartedAt, run.FinishedAt,
	)
	return err
}

const runColumns = `
	id, status, min_lng, min_lat, max_lng, max_lat,
	stats, COALESCE(error, ''), started_at, finished_at`

func (r *RunRepo) GetByID(ctx context.Context, id string) (*domain.DetectionRun, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM detection_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs newest first along with the total count.
func (r *RunRepo) List(ctx context.Context, offset, limit int) ([]domain.DetectionRun, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM detection_runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM detection_runs
		ORDER BY started_at DESC, id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []domain.DetectionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func scanRun(row pgx.Row) (*domain.DetectionRun, error) {
	var (
		run    domain.DetectionRun
		status string
		stats  []byte
		errMsg sql.NullString
	)
	if err := row.Scan(
		&run.ID, &status,
		&run.Bounds.MinLng, &run.Bounds.MinLat, &run.Bounds.MaxLng, &run.Bounds.MaxLat,
		&stats, &errMsg, &run.StartedAt, &run.FinishedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Error = errMsg.String
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("decode stats for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}
