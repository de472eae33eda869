package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/buildingai/buildingai/internal/pkg/geospatial"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Detection DetectionConfig `mapstructure:"detection"`
	Partition PartitionConfig `mapstructure:"partition"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	BodyLimit    int `mapstructure:"body_limit"`
}

// DetectionConfig controls tile estimation, the size gate and the
// detection endpoint pool.
type DetectionConfig struct {
	Zoom             int      `mapstructure:"zoom"`
	TilesPerGroup    int      `mapstructure:"tiles_per_group"`
	MaxTiles         int      `mapstructure:"max_tiles"`
	WarnTiles        int      `mapstructure:"warn_tiles"`
	DefaultThreshold float64  `mapstructure:"default_threshold"`
	RequestTimeout   int      `mapstructure:"request_timeout"` // seconds, per sub-region
	DedupEpsilon     float64  `mapstructure:"dedup_epsilon"`
	Endpoints        []string `mapstructure:"endpoints"`
	UseV51           bool     `mapstructure:"use_v51"`
	RatePerEndpoint  float64  `mapstructure:"rate_per_endpoint"` // requests per second, 0 disables
	CacheTTL         int      `mapstructure:"cache_ttl"`         // seconds, 0 disables
}

// PartitionConfig overrides the default split bands. Empty means defaults.
type PartitionConfig struct {
	Bands []geospatial.Band `mapstructure:"bands"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// DefaultEndpoints are the public detection spaces used when none are configured.
var DefaultEndpoints = []string{
	"https://yusef75-building-detection.hf.space",
	"https://yusef75-building-detection-2.hf.space",
	"https://yusef75-building-detection-3.hf.space",
	"https://yusef75-building-detection-4.hf.space",
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: BUILDINGAI_DETECTION_MAX_TILES → detection.max_tiles
	v.SetEnvPrefix("BUILDINGAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma separated env value arrives as a single element.
	if len(cfg.Detection.Endpoints) == 1 && strings.Contains(cfg.Detection.Endpoints[0], ",") {
		cfg.Detection.Endpoints = splitList(cfg.Detection.Endpoints[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 600)
	v.SetDefault("server.body_limit", 1024*1024)
	v.SetDefault("detection.zoom", geospatial.DefaultZoom)
	v.SetDefault("detection.tiles_per_group", geospatial.DefaultTilesPerGroup)
	v.SetDefault("detection.max_tiles", 12)
	v.SetDefault("detection.warn_tiles", 60)
	v.SetDefault("detection.default_threshold", 0.5)
	v.SetDefault("detection.request_timeout", 500)
	v.SetDefault("detection.dedup_epsilon", geospatial.DefaultDedupEpsilon)
	v.SetDefault("detection.endpoints", DefaultEndpoints)
	v.SetDefault("detection.use_v51", true)
	v.SetDefault("detection.rate_per_endpoint", 0)
	v.SetDefault("detection.cache_ttl", 600)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "buildingai")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "buildingai")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "detection-queue")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.BodyLimit <= 0 {
		errs = append(errs, "server.body_limit must be positive")
	}

	d := c.Detection
	if d.Zoom < 1 || d.Zoom > 22 {
		errs = append(errs, fmt.Sprintf("detection.zoom must be 1-22, got %d", d.Zoom))
	}
	if d.TilesPerGroup <= 0 {
		errs = append(errs, "detection.tiles_per_group must be positive")
	}
	if d.MaxTiles <= 0 {
		errs = append(errs, "detection.max_tiles must be positive")
	}
	if d.WarnTiles < 0 {
		errs = append(errs, "detection.warn_tiles must not be negative")
	}
	if math.IsNaN(d.DefaultThreshold) || d.DefaultThreshold <= 0 || d.DefaultThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detection.default_threshold must be in (0, 1], got %v", d.DefaultThreshold))
	}
	if d.RequestTimeout <= 0 {
		errs = append(errs, "detection.request_timeout must be positive")
	}
	if d.DedupEpsilon <= 0 {
		errs = append(errs, "detection.dedup_epsilon must be positive")
	}
	if d.RatePerEndpoint < 0 {
		errs = append(errs, "detection.rate_per_endpoint must not be negative")
	}
	if d.CacheTTL < 0 {
		errs = append(errs, "detection.cache_ttl must not be negative")
	}
	if len(d.Endpoints) == 0 {
		errs = append(errs, "detection.endpoints must list at least one endpoint")
	}
	for i, e := range d.Endpoints {
		u, err := url.Parse(e)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("detection.endpoints[%d] is not an http(s) URL: %q", i, e))
		}
	}
	for i, b := range c.Partition.Bands {
		if b.MinTiles < 0 || b.Cols <= 0 || b.Rows <= 0 {
			errs = append(errs, fmt.Sprintf("partition.bands[%d] needs min_tiles >= 0 and positive cols/rows", i))
		}
	}

	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// UnreachableBands returns the split bands that start at or above the tile
// ceiling. The size gate rejects every region such a band would apply to.
func (c *Config) UnreachableBands() []geospatial.Band {
	var dead []geospatial.Band
	for _, b := range c.bands() {
		if b.MinTiles >= c.Detection.MaxTiles {
			dead = append(dead, b)
		}
	}
	return dead
}

// BandsUnreachable reports whether every split band is unreachable, which
// means no region is ever split.
func (c *Config) BandsUnreachable() bool {
	return len(c.UnreachableBands()) == len(c.bands())
}

func (c *Config) bands() []geospatial.Band {
	if len(c.Partition.Bands) == 0 {
		return geospatial.DefaultBands()
	}
	return c.Partition.Bands
}
