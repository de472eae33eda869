package http

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/usecases"
)

// localRunID is the Locals key detection handlers store the run ID under.
const localRunID = "run_id"

// regionRequest is the body accepted by every region endpoint. Either
// coordinates (a ring of [lng, lat] pairs) or bbox ([minLng, minLat,
// maxLng, maxLat]) must be given.
type regionRequest struct {
	Coordinates orb.Ring  `json:"coordinates"`
	BBox        []float64 `json:"bbox"`
	Threshold   float64   `json:"threshold"`
	RunID       string    `json:"run_id"`
}

func parseRegion(c *fiber.Ctx) (regionRequest, domain.DetectionInput, error) {
	var req regionRequest
	if err := c.BodyParser(&req); err != nil {
		return req, domain.DetectionInput{}, domain.InvalidInput("invalid request body: %v", err)
	}

	ring := req.Coordinates
	if len(req.BBox) > 0 {
		if len(ring) > 0 {
			return req, domain.DetectionInput{}, domain.InvalidInput("give either coordinates or bbox, not both")
		}
		if len(req.BBox) != 4 {
			return req, domain.DetectionInput{}, domain.InvalidInput("bbox must be [minLng, minLat, maxLng, maxLat]")
		}
		b := domain.Bounds{MinLng: req.BBox[0], MinLat: req.BBox[1], MaxLng: req.BBox[2], MaxLat: req.BBox[3]}
		if b.MinLng > b.MaxLng || b.MinLat > b.MaxLat {
			return req, domain.DetectionInput{}, domain.InvalidInput("bbox minimum exceeds maximum")
		}
		ring = b.Ring()
	}

	if req.RunID != "" {
		if _, err := uuid.Parse(req.RunID); err != nil {
			return req, domain.DetectionInput{}, domain.InvalidInput("run_id must be a UUID")
		}
	}

	return req, domain.DetectionInput{Ring: ring, Threshold: req.Threshold}, nil
}

// EstimateHandler reports the tile workload of a region without detecting.
func EstimateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, in, err := parseRegion(c)
		if err != nil {
			return errFromDomain(c, err)
		}

		est, err := deps.Detection.Estimate(in.Ring)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(est)
	}
}

// PartitionHandler returns the sub-regions a region would be split into.
func PartitionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, in, err := parseRegion(c)
		if err != nil {
			return errFromDomain(c, err)
		}

		subs, err := deps.Detection.Partition(in.Ring)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(fiber.Map{
			"sub_regions": subs,
			"count":       len(subs),
		})
	}
}

func detect(c *fiber.Ctx, deps *Dependencies) (*domain.AggregatedResult, error) {
	req, in, err := parseRegion(c)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	c.Locals(localRunID, runID)
	c.Set("X-Run-ID", runID)

	return deps.Detection.DetectRun(c.UserContext(), runID, in)
}

// DetectHandler runs a detection synchronously and returns the merged
// FeatureCollection with its statistics. It can take minutes, so it is
// mounted without the per-request timeout.
func DetectHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := detect(c, deps)
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(res)
	}
}

// ExportHandler runs a detection and returns the FeatureCollection as a
// downloadable GeoJSON file.
func ExportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := detect(c, deps)
		if err != nil {
			return errFromDomain(c, err)
		}

		data, err := json.MarshalIndent(res.GeoJSON, "", "  ")
		if err != nil {
			return errInternal(c, err.Error())
		}

		c.Attachment(domain.ExportFilename(time.Now().UTC()))
		c.Set(fiber.HeaderContentType, "application/geo+json")
		c.Set("Cache-Control", "no-store")
		return c.Send(data)
	}
}

// ListRunsHandler returns recorded detection runs, newest first.
func ListRunsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Runs == nil {
			return errUnavailable(c, "run history not available")
		}

		offset, limit := usecases.ClampPage(c.QueryInt("offset", 0), c.QueryInt("limit", 50))
		runs, total, err := deps.Runs.List(c.UserContext(), offset, limit)
		if err != nil {
			return errInternal(c, err.Error())
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: runs, Pagination: pg})
	}
}

// GetRunHandler returns a single recorded run.
func GetRunHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Runs == nil {
			return errUnavailable(c, "run history not available")
		}

		run, err := deps.Runs.GetByID(c.UserContext(), c.Params("id"))
		if errors.Is(err, domain.ErrNotFound) {
			return errNotFound(c, "run not found")
		}
		if err != nil {
			return errFromDomain(c, err)
		}

		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(run)
	}
}

// StartJobHandler queues a detection as a background job.
func StartJobHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Jobs == nil {
			return errUnavailable(c, "background jobs not available")
		}

		_, in, err := parseRegion(c)
		if err != nil {
			return errFromDomain(c, err)
		}
		// Reject bad and oversized regions now rather than in the worker.
		est, err := deps.Detection.Estimate(in.Ring)
		if err != nil {
			return errFromDomain(c, err)
		}
		if est.Status == domain.EstimateTooLarge {
			return errFromDomain(c, &domain.RegionTooLargeError{Tiles: est.Tiles, Limit: est.Limit})
		}
		if _, err := usecases.NormalizeThreshold(in.Threshold, domain.DefaultThreshold); err != nil {
			return errFromDomain(c, err)
		}

		id, err := deps.Jobs.Start(c.UserContext(), in)
		if err != nil {
			return errInternal(c, err.Error())
		}

		c.Location("/v1/jobs/" + id)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"id":         id,
			"status_url": "/v1/jobs/" + id,
		})
	}
}

// GetJobHandler reports the state of a background job and its result once done.
func GetJobHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Jobs == nil {
			return errUnavailable(c, "background jobs not available")
		}

		st, err := deps.Jobs.Status(c.UserContext(), c.Params("id"))
		if errors.Is(err, domain.ErrNotFound) {
			return errNotFound(c, "job not found")
		}
		if err != nil {
			return errFromDomain(c, err)
		}

		c.Set("Cache-Control", "no-cache")
		return c.JSON(st)
	}
}
