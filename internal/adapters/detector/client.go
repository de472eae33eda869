package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/pkg/telemetry"
)

// maxResponseBytes caps a single sub-region response body.
const maxResponseBytes = 64 << 20

// Client implements ports.DetectionClient over the detection service's
// JSON API (POST {endpoint}/detect).
type Client struct {
	http *http.Client
}

// New creates a Client. Deadlines come from the request context, so the
// underlying http.Client carries no timeout of its own.
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	return &Client{http: hc}
}

type detectRequest struct {
	Coordinates orb.Ring `json:"coordinates"`
	Threshold   float64  `json:"threshold"`
	UseV51      bool     `json:"use_v51"`
}

type detectResponse struct {
	GeoJSON *geojson.FeatureCollection `json:"geojson"`
	Stats   domain.ChunkStats          `json:"stats"`
}

// Detect sends one sub-region to endpoint and decodes the detected features.
// Any non-2xx status is an error.
func (c *Client) Detect(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanHTTPCall)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrEndpoint, endpoint))

	body, err := json.Marshal(detectRequest{
		Coordinates: req.SubRegion.Ring,
		Threshold:   req.Threshold,
		UseV51:      req.UseV51,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + "/detect"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int(telemetry.AttrHTTPStatus, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, strings.TrimSpace(string(snippet)))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var out detectResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("decode response from %s: %w", url, err)
	}

	res := &domain.DetectionResult{
		SubRegion: req.SubRegion.Index,
		Endpoint:  endpoint,
		Stats:     out.Stats,
	}
	if out.GeoJSON != nil {
		res.Features = out.GeoJSON.Features
	}
	span.SetAttributes(
		attribute.Int(telemetry.AttrFeatureCount, len(res.Features)),
		attribute.Float64("detection.elapsed_seconds", time.Since(start).Seconds()),
	)
	return res, nil
}
