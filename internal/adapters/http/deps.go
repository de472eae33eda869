package http

import (
	"github.com/nats-io/nats.go"

	"github.com/buildingai/buildingai/internal/adapters/postgres"
	"github.com/buildingai/buildingai/internal/adapters/valkey"
	"github.com/buildingai/buildingai/internal/core/ports"
	"github.com/buildingai/buildingai/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
// Everything except Detection is optional.
type Dependencies struct {
	Detection *usecases.DetectionService
	Runs      *usecases.RunService
	Jobs      ports.JobRunner
	NATS      *nats.Conn
	DB        *postgres.DB
	Cache     *valkey.Cache
	Endpoints int    // size of the detection endpoint pool, reported by /v1/health
	Version   string // build version, reported by /v1/health
	DocsPath  string // OpenAPI document served at /docs/openapi.yaml
}
