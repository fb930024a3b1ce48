package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prl900/dem_prep/georast"
)

const dateLayout = "2006-01-02"

type TilesConfig struct {
	// Dir is a local tile directory. Bucket and Prefix select a GCS bucket
	// instead.
	Dir        string `json:"dir"`
	Bucket     string `json:"bucket"`
	Prefix     string `json:"prefix"`
	LayersFile string `json:"layers_file"`
	Workers    int    `json:"workers"`
}

type BoundaryConfig struct {
	// Path is a GeoJSON file or shapefile. When Table is set and POSTGRES_URL
	// is available the boundary comes from PostGIS instead.
	Path       string `json:"path"`
	Field      string `json:"field"`
	Table      string `json:"table"`
	GeomColumn string `json:"geom_column"`
}

type WaterConfig struct {
	Paths    []string `json:"paths"`
	Overpass bool     `json:"overpass"`
}

type SatelliteConfig struct {
	Enabled      bool     `json:"enabled"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	MaxCloud     int      `json:"max_cloud"`
	Bands        []string `json:"bands"`
	Resampling   string   `json:"resampling"`
	AllowPartial bool     `json:"allow_partial"`
}

type RenderConfig struct {
	Bits int `json:"bits"`
	// Stretch is "percentile" or "minmax".
	Stretch     string     `json:"stretch"`
	Percentiles [2]float64 `json:"percentiles"`
}

// Config drives one pipeline run. Secrets and endpoints are not part of the
// file; they come from the environment (see ApplyEnv).
type Config struct {
	CountryID       string          `json:"country_id"`
	TargetCRS       string          `json:"target_crs"`
	OutputDir       string          `json:"output_dir"`
	Tiles           TilesConfig     `json:"tiles"`
	Boundary        BoundaryConfig  `json:"boundary"`
	Water           WaterConfig     `json:"water"`
	Satellite       SatelliteConfig `json:"satellite"`
	Render          RenderConfig    `json:"render"`
	MergePolicy     string          `json:"merge_policy"`
	Resampling      string          `json:"resampling"`
	LineWidthPixels float64         `json:"line_width_pixels"`

	SentinelClientID     string `json:"-"`
	SentinelClientSecret string `json:"-"`
	SentinelTokenURL     string `json:"-"`
	SentinelProcessURL   string `json:"-"`
	RedisAddr            string `json:"-"`
	PostgresURL          string `json:"-"`
	OverpassURL          string `json:"-"`
	PushgatewayURL       string `json:"-"`
}

// DefaultConfig mirrors the settings of the original South Korea run.
func DefaultConfig() Config {
	return Config{
		CountryID: "KR",
		TargetCRS: "EPSG:5179",
		OutputDir: "output",
		Tiles:     TilesConfig{Dir: "tiles"},
		Boundary:  BoundaryConfig{Field: "CNTR_ID"},
		Satellite: SatelliteConfig{
			From:     "2023-07-01",
			To:       "2023-09-15",
			MaxCloud: 5,
		},
		Render:          RenderConfig{Bits: 16, Stretch: "percentile", Percentiles: [2]float64{0.1, 99.9}},
		MergePolicy:     "first",
		LineWidthPixels: 1,
	}
}

// ReadConfig loads a JSON config over DefaultConfig and overlays the
// environment.
func ReadConfig(fileName string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(fileName)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", fileName, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", fileName, err)
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv fills secrets and endpoints from the environment. Variables
// loaded from a .env file count as environment.
func (c *Config) ApplyEnv() {
	for name, dst := range map[string]*string{
		"SH_CLIENT_ID":     &c.SentinelClientID,
		"SH_CLIENT_SECRET": &c.SentinelClientSecret,
		"SH_TOKEN_URL":     &c.SentinelTokenURL,
		"SH_PROCESS_URL":   &c.SentinelProcessURL,
		"REDIS_ADDR":       &c.RedisAddr,
		"POSTGRES_URL":     &c.PostgresURL,
		"OVERPASS_URL":     &c.OverpassURL,
		"PUSHGATEWAY_URL":  &c.PushgatewayURL,
	} {
		if v, ok := os.LookupEnv(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
}

func (c Config) Validate() error {
	if c.CountryID == "" {
		return fmt.Errorf("config: country_id is required")
	}
	if _, err := georast.ParseCRS(c.TargetCRS); err != nil {
		return fmt.Errorf("config: target_crs: %w", err)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir is required")
	}
	if c.Tiles.Dir == "" && c.Tiles.Bucket == "" {
		return fmt.Errorf("config: tiles.dir or tiles.bucket is required")
	}
	if c.Boundary.Path == "" && c.Boundary.Table == "" {
		return fmt.Errorf("config: boundary.path or boundary.table is required")
	}
	if _, err := georast.ParseMergePolicy(c.MergePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := georast.ParseResampling(c.Resampling, georast.Bilinear); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := georast.ParseResampling(c.Satellite.Resampling, georast.Bilinear); err != nil {
		return fmt.Errorf("config: satellite: %w", err)
	}
	if c.Render.Bits != 8 && c.Render.Bits != 16 {
		return fmt.Errorf("config: render.bits must be 8 or 16, got %d", c.Render.Bits)
	}
	switch c.Render.Stretch {
	case "", "minmax", "percentile":
	default:
		return fmt.Errorf("config: unknown render.stretch %q", c.Render.Stretch)
	}
	if n := len(c.Satellite.Bands); n != 0 && n != 1 && n != 3 {
		return fmt.Errorf("config: satellite.bands has %d bands, want 1 or 3", n)
	}
	if c.Satellite.Enabled {
		if _, _, err := c.Satellite.window(); err != nil {
			return err
		}
	}
	return nil
}

// window returns the acquisition dates as inclusive days.
func (s SatelliteConfig) window() (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, s.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: satellite.from: %w", err)
	}
	to, err := time.Parse(dateLayout, s.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: satellite.to: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("config: satellite window %s..%s is empty", s.From, s.To)
	}
	return from, to, nil
}

func (r RenderConfig) percentiles() *[2]float64 {
	if r.Stretch == "minmax" {
		return nil
	}
	p := r.Percentiles
	return &p
}
