// Package bootstrap assembles the detection pipeline from configuration so
// every binary runs the same wiring.
package bootstrap

import (
	"net"
	"net/http"
	"time"

	"github.com/buildingai/buildingai/internal/adapters/detector"
	"github.com/buildingai/buildingai/internal/core/ports"
	"github.com/buildingai/buildingai/internal/core/usecases"
	"github.com/buildingai/buildingai/internal/pkg/config"
	"github.com/buildingai/buildingai/internal/pkg/geospatial"
)

// HTTPClient returns the client used to reach the detection endpoints. It
// has no overall timeout; each sub-region request carries its own deadline.
func HTTPClient(cfg config.DetectionConfig) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
	}
}

// DetectionService builds the detection pipeline. cache and events may be nil.
func DetectionService(cfg *config.Config, cache ports.CacheService, events ports.EventPublisher) *usecases.DetectionService {
	return DetectionServiceWithClient(cfg, detector.New(HTTPClient(cfg.Detection)), cache, events)
}

// DetectionServiceWithClient is DetectionService with a caller-supplied
// detection client.
func DetectionServiceWithClient(cfg *config.Config, client ports.DetectionClient, cache ports.CacheService, events ports.EventPublisher) *usecases.DetectionService {
	d := cfg.Detection

	grid := geospatial.NewTileGrid(d.Zoom, d.TilesPerGroup)
	partitioner := geospatial.NewPartitioner(grid, cfg.Partition.Bands)

	dispatcher := usecases.NewDispatcher(client, usecases.DispatcherConfig{
		Endpoints:       d.Endpoints,
		RequestTimeout:  time.Duration(d.RequestTimeout) * time.Second,
		UseV51:          d.UseV51,
		RatePerEndpoint: d.RatePerEndpoint,
	}, events)

	return usecases.NewDetectionService(partitioner, dispatcher, cache, events, usecases.DetectionConfig{
		MaxTiles:         d.MaxTiles,
		WarnTiles:        d.WarnTiles,
		DefaultThreshold: d.DefaultThreshold,
		DedupEpsilon:     d.DedupEpsilon,
		CacheTTL:         d.CacheTTL,
	})
}
