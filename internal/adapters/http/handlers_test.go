package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	handler "github.com/buildingai/buildingai/internal/adapters/http"
	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/usecases"
	"github.com/buildingai/buildingai/internal/pkg/geospatial"
)

// ---- Mocks ----

type mockDetector struct {
	detectFn func(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error)

	mu    sync.Mutex
	calls int
}

func (m *mockDetector) Detect(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.detectFn != nil {
		return m.detectFn(ctx, endpoint, req)
	}
	// One building in the middle of every sub-region.
	c := req.SubRegion.Bound().Center()
	return &domain.DetectionResult{
		Features: []*geojson.Feature{building(c[0], c[1], fmt.Sprint(req.SubRegion.Index))},
		Stats:    domain.ChunkStats{TilesProcessed: 3, ProcessingTimeSeconds: 1.5},
	}, nil
}

func (m *mockDetector) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRunRepo struct {
	runs []domain.DetectionRun
}

func (m *mockRunRepo) Insert(ctx context.Context, run *domain.DetectionRun) error {
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockRunRepo) GetByID(ctx context.Context, id string) (*domain.DetectionRun, error) {
	for i := range m.runs {
		if m.runs[i].ID == id {
			return &m.runs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockRunRepo) List(ctx context.Context, offset, limit int) ([]domain.DetectionRun, int, error) {
	if offset >= len(m.runs) {
		return nil, len(m.runs), nil
	}
	end := min(offset+limit, len(m.runs))
	return m.runs[offset:end], len(m.runs), nil
}

type mockJobs struct {
	started []domain.DetectionInput
	status  map[string]*domain.JobStatus
}

func (m *mockJobs) Start(ctx context.Context, in domain.DetectionInput) (string, error) {
	m.started = append(m.started, in)
	return fmt.Sprintf("detect-%d", len(m.started)), nil
}

func (m *mockJobs) Status(ctx context.Context, id string) (*domain.JobStatus, error) {
	if st, ok := m.status[id]; ok {
		return st, nil
	}
	return nil, domain.ErrNotFound
}

// ---- Test helpers ----

const (
	// 6 tiles at zoom 18, split 2x1.
	smallRegion = `[[31.24,30.034],[31.24,30.04],[31.245,30.04],[31.245,30.034]]`
	// 42 tiles.
	largeRegion = `[[31.24,30.025],[31.24,30.04],[31.255,30.04],[31.255,30.025]]`
)

var pool = []string{"http://a", "http://b", "http://c", "http://d"}

func building(cx, cy float64, id string) *geojson.Feature {
	const half = 0.00005
	f := geojson.NewFeature(orb.Polygon{{
		{cx - half, cy - half},
		{cx - half, cy + half},
		{cx + half, cy + half},
		{cx + half, cy - half},
	}})
	f.Properties["id"] = id
	return f
}

func newDetection(client *mockDetector) *usecases.DetectionService {
	d := usecases.NewDispatcher(client, usecases.DispatcherConfig{Endpoints: pool}, nil)
	p := geospatial.NewPartitioner(geospatial.DefaultTileGrid(), nil)
	return usecases.NewDetectionService(p, d, nil, nil, usecases.DetectionConfig{MaxTiles: 12})
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(opts ...func(*handler.Dependencies)) *handler.Dependencies {
	d := &handler.Dependencies{
		Detection: newDetection(&mockDetector{}),
		Runs:      usecases.NewRunService(&mockRunRepo{}),
		Endpoints: len(pool),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func post(t *testing.T, app *fiber.App, path, body string) *httptestResponse {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return &httptestResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: readBody(t, resp.Body)}
}

type httptestResponse struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

func (r *httptestResponse) header(key string) string {
	for k, v := range r.Header {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

type apiError struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Tiles  int    `json:"tiles"`
	Limit  int    `json:"limit"`
}

func decodeError(t *testing.T, body []byte) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e
}

// ---- Estimate / partition ----

func TestEstimate_Success(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/estimate", `{"coordinates":`+smallRegion+`}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	var est domain.TileEstimate
	if err := json.Unmarshal(resp.Body, &est); err != nil {
		t.Fatal(err)
	}
	if est.Tiles != 6 {
		t.Errorf("expected 6 tiles, got %d", est.Tiles)
	}
	if est.Limit != 12 {
		t.Errorf("expected limit 12, got %d", est.Limit)
	}
	if est.Status != domain.EstimateOK {
		t.Errorf("expected status ok, got %s", est.Status)
	}
	if est.Cols != 2 || est.Rows != 1 {
		t.Errorf("expected 2x1 split, got %dx%d", est.Cols, est.Rows)
	}
}

func TestEstimate_BBox(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/estimate", `{"bbox":[31.24,30.034,31.245,30.04]}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var est domain.TileEstimate
	json.Unmarshal(resp.Body, &est)
	if est.Tiles != 6 {
		t.Errorf("expected 6 tiles, got %d", est.Tiles)
	}
}

func TestEstimate_TooLargeIsNotAnError(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/estimate", `{"coordinates":`+largeRegion+`}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var est domain.TileEstimate
	json.Unmarshal(resp.Body, &est)
	if est.Status != domain.EstimateTooLarge {
		t.Errorf("expected too_large, got %s", est.Status)
	}
}

func TestEstimate_BadRegion(t *testing.T) {
	app := setupApp(makeDeps())

	tests := map[string]string{
		"empty":      `{}`,
		"both":       `{"coordinates":` + smallRegion + `,"bbox":[31.24,30.034,31.245,30.04]}`,
		"short bbox": `{"bbox":[31.24,30.034,31.245]}`,
		"flipped":    `{"bbox":[31.245,30.04,31.24,30.034]}`,
		"malformed":  `{"coordinates":"north of here"}`,
		"latitude":   `{"bbox":[0,86,1,87]}`,
		"one point":  `{"coordinates":[[31.24,30.04]]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resp := post(t, app, "/v1/estimate", body)
			if resp.StatusCode != 400 {
				t.Fatalf("expected 400, got %d: %s", resp.StatusCode, resp.Body)
			}
			if e := decodeError(t, resp.Body); e.Code != "bad_request" {
				t.Errorf("expected bad_request, got %s", e.Code)
			}
		})
	}
}

func TestPartition_Success(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/partition", `{"coordinates":`+largeRegion+`}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		SubRegions []domain.SubRegion `json:"sub_regions"`
		Count      int                `json:"count"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Count != 6 || len(result.SubRegions) != 6 {
		t.Fatalf("expected 6 sub-regions, got %d", result.Count)
	}
	for i, s := range result.SubRegions {
		if s.Index != i {
			t.Errorf("sub-region %d has index %d", i, s.Index)
		}
	}
}

// ---- Detections ----

func TestDetect_Success(t *testing.T) {
	client := &mockDetector{}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Detection = newDetection(client)
	}))

	resp := post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`,"threshold":0.6}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	var res domain.AggregatedResult
	if err := json.Unmarshal(resp.Body, &res); err != nil {
		t.Fatal(err)
	}
	if res.Stats.BuildingsDetected != 2 {
		t.Errorf("expected 2 buildings, got %d", res.Stats.BuildingsDetected)
	}
	if len(res.GeoJSON.Features) != 2 {
		t.Errorf("expected 2 features, got %d", len(res.GeoJSON.Features))
	}
	if res.Stats.SubRegions != 2 || res.Stats.SubRegionsSucceeded != 2 {
		t.Errorf("expected 2/2 sub-regions, got %d/%d", res.Stats.SubRegionsSucceeded, res.Stats.SubRegions)
	}
	if res.Stats.Threshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %v", res.Stats.Threshold)
	}
	if res.Stats.TilesProcessed != 6 {
		t.Errorf("expected 6 tiles processed, got %d", res.Stats.TilesProcessed)
	}
	if got := resp.header("X-Run-ID"); got == "" || got != res.RunID {
		t.Errorf("expected X-Run-ID %q, got %q", res.RunID, got)
	}
	if cc := resp.header("Cache-Control"); cc != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", cc)
	}
	if client.callCount() != 2 {
		t.Errorf("expected 2 detector calls, got %d", client.callCount())
	}
}

func TestDetect_CallerRunID(t *testing.T) {
	app := setupApp(makeDeps())
	const runID = "8f14e45f-ceea-467f-a8b0-6f2e4f7b9a10"

	resp := post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`,"run_id":"`+runID+`"}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res domain.AggregatedResult
	json.Unmarshal(resp.Body, &res)
	if res.RunID != runID {
		t.Errorf("expected run id %s, got %s", runID, res.RunID)
	}

	resp = post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`,"run_id":"detection.>"}`)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for non-UUID run_id, got %d", resp.StatusCode)
	}
}

func TestDetect_PartialResult(t *testing.T) {
	client := &mockDetector{
		detectFn: func(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error) {
			if req.SubRegion.Index == 1 {
				return nil, errors.New("HTTP 503 from http://b/detect")
			}
			return &domain.DetectionResult{
				Features: []*geojson.Feature{building(31.241, 30.035, "only")},
			}, nil
		},
	}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Detection = newDetection(client)
	}))

	resp := post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res domain.AggregatedResult
	json.Unmarshal(resp.Body, &res)
	if res.Stats.SubRegionsSucceeded != 1 || res.Stats.SubRegions != 2 {
		t.Errorf("expected 1/2 sub-regions, got %d/%d", res.Stats.SubRegionsSucceeded, res.Stats.SubRegions)
	}
	if res.Stats.BuildingsDetected != 1 {
		t.Errorf("expected 1 building, got %d", res.Stats.BuildingsDetected)
	}
}

func TestDetect_RegionTooLarge(t *testing.T) {
	client := &mockDetector{}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Detection = newDetection(client)
	}))

	resp := post(t, app, "/v1/detections", `{"coordinates":`+largeRegion+`}`)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	e := decodeError(t, resp.Body)
	if e.Code != "region_too_large" {
		t.Errorf("expected region_too_large, got %s", e.Code)
	}
	if e.Tiles != 42 || e.Limit != 12 {
		t.Errorf("expected 42/12 tiles, got %d/%d", e.Tiles, e.Limit)
	}
	if client.callCount() != 0 {
		t.Errorf("expected no detector calls, got %d", client.callCount())
	}
}

func TestDetect_TotalFailure(t *testing.T) {
	client := &mockDetector{
		detectFn: func(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Detection = newDetection(client)
	}))

	resp := post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`}`)
	if resp.StatusCode != 502 {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if e := decodeError(t, resp.Body); e.Code != "total_failure" {
		t.Errorf("expected total_failure, got %s", e.Code)
	}
}

func TestDetect_BadThreshold(t *testing.T) {
	client := &mockDetector{}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Detection = newDetection(client)
	}))

	resp := post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`,"threshold":1.5}`)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if client.callCount() != 0 {
		t.Errorf("expected no detector calls, got %d", client.callCount())
	}
}

func TestLegacyDetect_DeprecationHeaders(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/detect", `{"coordinates":`+smallRegion+`}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.header("Deprecation") != "true" {
		t.Error("expected Deprecation header")
	}
	if resp.header("Sunset") == "" {
		t.Error("expected Sunset header")
	}
	if link := resp.header("Link"); !strings.Contains(link, "/v1/detections") {
		t.Errorf("expected successor link to /v1/detections, got %q", link)
	}

	resp = post(t, app, "/v1/detections", `{"coordinates":`+smallRegion+`}`)
	if resp.header("Deprecation") != "" {
		t.Error("versioned route must not be marked deprecated")
	}
}

func TestExport_Attachment(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/detections/export", `{"coordinates":`+smallRegion+`}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if ct := resp.header("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected application/geo+json, got %q", ct)
	}
	cd := resp.header("Content-Disposition")
	if !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "buildings_") || !strings.Contains(cd, ".geojson") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
	if err != nil {
		t.Fatalf("export is not a FeatureCollection: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Errorf("expected 2 features, got %d", len(fc.Features))
	}
	if !bytes.Contains(resp.Body, []byte("\n  ")) {
		t.Error("expected indented output")
	}
}

// ---- Runs ----

func seededRuns(n int) *mockRunRepo {
	repo := &mockRunRepo{}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		repo.runs = append(repo.runs, domain.DetectionRun{
			ID:        fmt.Sprintf("run-%d", i),
			Status:    domain.RunCompleted,
			StartedAt: start.Add(-time.Duration(i) * time.Minute),
		})
	}
	return repo
}

func TestListRuns_Pagination(t *testing.T) {
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Runs = usecases.NewRunService(seededRuns(10))
	}))

	req := httptest.NewRequest("GET", "/v1/runs?offset=3&limit=3&status=completed", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.DetectionRun `json:"data"`
		Pagination struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
			Total  int `json:"total"`
		} `json:"pagination"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 10 {
		t.Errorf("expected total 10, got %d", result.Pagination.Total)
	}
	if len(result.Data) != 3 || result.Data[0].ID != "run-3" {
		t.Errorf("unexpected page %+v", result.Data)
	}

	link := resp.Header.Get("Link")
	for _, rel := range []string{`rel="first"`, `rel="prev"`, `rel="next"`, `rel="last"`} {
		if !strings.Contains(link, rel) {
			t.Errorf("expected %s in Link header, got %s", rel, link)
		}
	}
	if !strings.Contains(link, "status=completed") {
		t.Errorf("expected other query params carried over, got %s", link)
	}
}

func TestGetRun(t *testing.T) {
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Runs = usecases.NewRunService(seededRuns(2))
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/runs/run-1", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var run domain.DetectionRun
	json.NewDecoder(resp.Body).Decode(&run)
	if run.ID != "run-1" {
		t.Errorf("expected run-1, got %s", run.ID)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/v1/runs/missing", nil), -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetRun_ETagNotModified(t *testing.T) {
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Runs = usecases.NewRunService(seededRuns(1))
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/runs/run-0", nil), -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest("GET", "/v1/runs/run-0", nil)
	req.Header.Set("If-None-Match", `W/"other", `+etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestRuns_Unavailable(t *testing.T) {
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Runs = nil
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/runs", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

// ---- Jobs ----

func TestStartJob_Accepted(t *testing.T) {
	jobs := &mockJobs{}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Jobs = jobs
	}))

	resp := post(t, app, "/v1/jobs", `{"coordinates":`+smallRegion+`,"threshold":0.4}`)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, resp.Body)
	}

	var result struct {
		ID        string `json:"id"`
		StatusURL string `json:"status_url"`
	}
	json.Unmarshal(resp.Body, &result)
	if result.ID != "detect-1" || result.StatusURL != "/v1/jobs/detect-1" {
		t.Errorf("unexpected body %+v", result)
	}
	if loc := resp.header("Location"); loc != "/v1/jobs/detect-1" {
		t.Errorf("expected Location header, got %q", loc)
	}
	if len(jobs.started) != 1 || jobs.started[0].Threshold != 0.4 {
		t.Errorf("unexpected started jobs %+v", jobs.started)
	}
}

func TestStartJob_RejectsBeforeQueueing(t *testing.T) {
	jobs := &mockJobs{}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Jobs = jobs
	}))

	if resp := post(t, app, "/v1/jobs", `{"coordinates":`+largeRegion+`}`); resp.StatusCode != 422 {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
	if resp := post(t, app, "/v1/jobs", `{"coordinates":`+smallRegion+`,"threshold":-1}`); resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if len(jobs.started) != 0 {
		t.Errorf("expected nothing queued, got %d", len(jobs.started))
	}
}

func TestGetJob(t *testing.T) {
	jobs := &mockJobs{status: map[string]*domain.JobStatus{
		"detect-7": {ID: "detect-7", Status: "running"},
	}}
	app := setupApp(makeDeps(func(d *handler.Dependencies) {
		d.Jobs = jobs
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/jobs/detect-7", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/v1/jobs/detect-8", nil), -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestJobs_Unavailable(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/jobs", `{"coordinates":`+smallRegion+`}`)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

// ---- GraphQL ----

func TestGraphQL_TileEstimate(t *testing.T) {
	app := setupApp(makeDeps())

	body, _ := json.Marshal(map[string]string{
		"query": `{ tileEstimate(bbox: [31.24, 30.034, 31.245, 30.04]) { tiles limit status cols rows } }`,
	})
	resp := post(t, app, "/graphql", string(body))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			TileEstimate struct {
				Tiles  int    `json:"tiles"`
				Limit  int    `json:"limit"`
				Status string `json:"status"`
				Cols   int    `json:"cols"`
				Rows   int    `json:"rows"`
			} `json:"tileEstimate"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	est := result.Data.TileEstimate
	if est.Tiles != 6 || est.Limit != 12 || est.Status != "ok" || est.Cols != 2 || est.Rows != 1 {
		t.Errorf("unexpected estimate %+v", est)
	}
}

func TestGraphQL_Partition(t *testing.T) {
	app := setupApp(makeDeps())

	body, _ := json.Marshal(map[string]interface{}{
		"query":     `query($c: [[Float]]) { partition(coordinates: $c) { index coordinates } }`,
		"variables": map[string]interface{}{"c": json.RawMessage(smallRegion)},
	})
	resp := post(t, app, "/graphql", string(body))

	var result struct {
		Data struct {
			Partition []struct {
				Index       int         `json:"index"`
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"partition"`
		} `json:"data"`
	}
	json.Unmarshal(resp.Body, &result)
	if len(result.Data.Partition) != 2 {
		t.Fatalf("expected 2 sub-regions, got %s", resp.Body)
	}
	if len(result.Data.Partition[1].Coordinates) != 4 {
		t.Errorf("expected 4 corners, got %v", result.Data.Partition[1].Coordinates)
	}
}

// ---- Health ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", result["status"])
	}
	if result["endpoints"] != float64(len(pool)) {
		t.Errorf("expected %d endpoints, got %v", len(pool), result["endpoints"])
	}
}

func TestReady_NoDB(t *testing.T) {
	// DB, NATS, Cache are nil → should report not ready
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestAPIVersionHeader(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	v := resp.Header.Get("X-API-Version")
	if v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestErrorCarriesRequestID(t *testing.T) {
	app := setupApp(makeDeps())

	resp := post(t, app, "/v1/estimate", `{}`)
	var body struct {
		RequestID string `json:"request_id"`
	}
	json.Unmarshal(resp.Body, &body)
	if body.RequestID == "" || body.RequestID != resp.header("X-Request-ID") {
		t.Errorf("expected request_id %q in body, got %q", resp.header("X-Request-ID"), body.RequestID)
	}
}

// TestAccessLogMiddleware verifies structured access logging is emitted.
func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(handler.AccessLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-req-123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ok") {
		t.Errorf("expected response body to contain 'ok', got %s", string(body))
	}
}
