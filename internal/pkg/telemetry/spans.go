package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for all detection spans.
const TracerName = "github.com/buildingai/buildingai"

// Span names.
const (
	SpanDetect    = "detection.detect"
	SpanSubRegion = "detection.subregion"
	SpanHTTPCall  = "detection.http"
)

// Attribute keys.
const (
	AttrRunID        = "detection.run_id"
	AttrTiles        = "detection.tiles"
	AttrSubRegions   = "detection.sub_regions"
	AttrSubRegion    = "detection.sub_region"
	AttrEndpoint     = "detection.endpoint"
	AttrThreshold    = "detection.threshold"
	AttrBuildings    = "detection.buildings"
	AttrDuplicates   = "detection.border_duplicates"
	AttrHTTPStatus   = "http.status_code"
	AttrFeatureCount = "detection.features"
)

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
