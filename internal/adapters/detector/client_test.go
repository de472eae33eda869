package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildingai/buildingai/internal/core/domain"
)

const sampleResponse = `{
  "geojson": {
    "type": "FeatureCollection",
    "features": [
      {"type": "Feature", "properties": {"confidence": 0.91},
       "geometry": {"type": "Polygon", "coordinates": [[[31.2401,30.0391],[31.2401,30.0393],[31.2403,30.0393],[31.2403,30.0391],[31.2401,30.0391]]]}}
    ]
  },
  "stats": {"tiles_processed": 4, "duplicates_removed": 1, "processing_time_seconds": 17.2}
}`

func subRegion() domain.SubRegion {
	return domain.SubRegion{
		Index: 3,
		Ring:  domain.Bounds{MinLng: 31.24, MinLat: 30.039, MaxLng: 31.242, MaxLat: 30.04}.Ring(),
	}
}

func TestClient_Detect(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := New(srv.Client())
	res, err := c.Detect(context.Background(), srv.URL+"/", domain.DetectionRequest{
		SubRegion: subRegion(),
		Threshold: 0.6,
		UseV51:    true,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.6, got["threshold"], 1e-12)
	assert.Equal(t, true, got["use_v51"])
	coords, ok := got["coordinates"].([]any)
	require.True(t, ok)
	assert.Len(t, coords, 4)

	assert.Equal(t, 3, res.SubRegion)
	require.Len(t, res.Features, 1)
	assert.Equal(t, "Polygon", res.Features[0].Geometry.GeoJSONType())
	assert.Equal(t, domain.ChunkStats{TilesProcessed: 4, DuplicatesRemoved: 1, ProcessingTimeSeconds: 17.2}, res.Stats)
}

func TestClient_Detect_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.Client()).Detect(context.Background(), srv.URL, domain.DetectionRequest{SubRegion: subRegion()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestClient_Detect_MissingGeoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"stats": {"tiles_processed": 2}}`))
	}))
	defer srv.Close()

	res, err := New(srv.Client()).Detect(context.Background(), srv.URL, domain.DetectionRequest{SubRegion: subRegion()})
	require.NoError(t, err)
	assert.Empty(t, res.Features)
	assert.Equal(t, 2, res.Stats.TilesProcessed)
}

func TestClient_Detect_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := New(srv.Client()).Detect(context.Background(), srv.URL, domain.DetectionRequest{SubRegion: subRegion()})
	assert.Error(t, err)
}

func TestClient_Detect_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(srv.Client()).Detect(ctx, srv.URL, domain.DetectionRequest{SubRegion: subRegion()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
