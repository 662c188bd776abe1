package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/julienmarie/spatial/internal/geo"
)

// BoundsFilter rejects points outside a geographic envelope before they
// enter the builder. A disabled filter accepts everything.
type BoundsFilter struct {
	Box     geo.BBox
	Enabled bool
}

// Accept reports whether a point passes the filter.
func (f BoundsFilter) Accept(lon, lat float64) bool {
	return !f.Enabled || f.Box.Contains(lon, lat)
}

// ParseBounds parses a filter string in format "minlon,minlat,maxlon,maxlat".
// An empty string yields a disabled filter.
func ParseBounds(s string) (BoundsFilter, error) {
	if s == "" {
		return BoundsFilter{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundsFilter{}, fmt.Errorf("bounds must have 4 values: minlon,minlat,maxlon,maxlat")
	}
	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundsFilter{}, fmt.Errorf("invalid bounds coordinate %q: %w", p, err)
		}
		coords[i] = v
	}
	if coords[0] > coords[2] {
		return BoundsFilter{}, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", coords[0], coords[2])
	}
	if coords[1] > coords[3] {
		return BoundsFilter{}, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", coords[1], coords[3])
	}
	box := geo.NewBBox(coords[0], coords[1])
	box.Include(coords[2], coords[3])
	return BoundsFilter{Box: box, Enabled: true}, nil
}

// Config holds the global configuration for the import process.
type Config struct {
	// Input settings
	InputFile string
	Bounds    BoundsFilter

	// Graph store settings
	StoreDir string
	Dataset  string

	// Processing settings
	CommitInterval int  // creation operations per transaction batch
	AllPoints      bool // attach point geometry to untagged points too
	StyleFile      string
	ScriptFile     string
	LocIndexFile   string // point coordinate cache, empty = disabled

	// Bulk loader (offline PostgreSQL backend)
	BulkMode   bool
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Export settings
	OutputFile string

	// Logging and metrics
	Verbose         bool
	LogFile         string
	MetricsInterval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StoreDir:        "./osm_graph",
		Dataset:         "osm",
		CommitInterval:  5000,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		MetricsInterval: 30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string for the bulk
// loader backend.
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is usable for an import.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Dataset == "" {
		return fmt.Errorf("dataset name is required")
	}
	if c.CommitInterval < 1 {
		return fmt.Errorf("commit interval must be at least 1")
	}
	return nil
}
