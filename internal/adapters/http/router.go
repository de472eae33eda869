package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/buildingai/buildingai/internal/pkg/metrics"
)

// requestTimeout bounds every route except the detection ones, which wait
// on the remote detectors for minutes.
const requestTimeout = 15 * time.Second

// legacyDetectSunset is when the unversioned /detect alias goes away.
var legacyDetectSunset = time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC)

func rateLimit(max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	})
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// 120 requests per minute per IP
	app.Use(rateLimit(120, time.Minute))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(DeprecationMiddleware([]DeprecatedRoute{
		{Path: "/detect", SunsetDate: legacyDetectSunset, Alternative: "/v1/detections"},
	}))

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Post("/estimate", timeout.NewWithContext(EstimateHandler(deps), requestTimeout))
	v1.Post("/partition", timeout.NewWithContext(PartitionHandler(deps), requestTimeout))
	v1.Get("/runs", timeout.NewWithContext(ListRunsHandler(deps), requestTimeout))
	v1.Get("/runs/:id", timeout.NewWithContext(GetRunHandler(deps), requestTimeout))
	v1.Post("/jobs", rateLimit(10, time.Minute), timeout.NewWithContext(StartJobHandler(deps), requestTimeout))
	v1.Get("/jobs/:id", timeout.NewWithContext(GetJobHandler(deps), requestTimeout))

	// Detections fan out to the whole endpoint pool, so they get a tighter
	// per-IP budget and no request timeout.
	detectLimit := rateLimit(10, time.Minute)
	v1.Post("/detections", detectLimit, DetectHandler(deps))
	v1.Post("/detections/export", detectLimit, ExportHandler(deps))
	app.Post("/detect", detectLimit, DetectHandler(deps))

	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), requestTimeout))

	SetupDocs(app, deps.DocsPath)

	if deps.NATS != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
	}
}
