package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	FlushInterval time.Duration `yaml:"flush_interval"` // write-behind of land and scene changes
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Region describes the simulated region and its place on the grid.
type Region struct {
	Name      string `yaml:"name"`
	LocationX uint32 `yaml:"location_x"` // grid coordinates (in regions)
	LocationY uint32 `yaml:"location_y"`
	SizeX     uint32 `yaml:"size_x"` // meters
	SizeY     uint32 `yaml:"size_y"`
}

// Interest holds culling and update prioritization settings.
type Interest struct {
	UseCulling                    bool          `yaml:"use_culling"`
	UseDistanceBasedCulling       bool          `yaml:"use_distance_based_culling"`
	UpdatePrioritizationScheme    string        `yaml:"update_prioritization_scheme"`
	ChildReprioritizationDistance float64       `yaml:"child_reprioritization_distance"`
	TickInterval                  time.Duration `yaml:"tick_interval"`
	Workers                       int           `yaml:"workers"` // 0 = runtime.NumCPU()
}

// PrimCounts holds parcel accounting report settings.
type PrimCounts struct {
	ReportInterval time.Duration `yaml:"report_interval"`
	AuditDir       string        `yaml:"audit_dir"` // empty disables the compressed audit log
}

// Metrics holds the Prometheus/debug HTTP listener settings.
type Metrics struct {
	ListenAddress string `yaml:"listen_address"` // empty disables the listener
}

// RegionServer holds all configuration for the region server.
type RegionServer struct {
	LogLevel string `yaml:"log_level"`

	Region     Region         `yaml:"region"`
	Interest   Interest       `yaml:"interest"`
	PrimCounts PrimCounts     `yaml:"prim_counts"`
	Metrics    Metrics        `yaml:"metrics"`
	Database   DatabaseConfig `yaml:"database"`
}

// DefaultInterest returns Interest with culling enabled and the default scheme.
func DefaultInterest() Interest {
	return Interest{
		UseCulling:                    true,
		UseDistanceBasedCulling:       true,
		UpdatePrioritizationScheme:    "BestAvatarResponsiveness",
		ChildReprioritizationDistance: 20.0,
		TickInterval:                  100 * time.Millisecond,
	}
}

// DefaultRegionServer returns RegionServer config with sensible defaults.
func DefaultRegionServer() RegionServer {
	return RegionServer{
		LogLevel: "info",
		Region: Region{
			Name:      "Default Region",
			LocationX: 1000,
			LocationY: 1000,
			SizeX:     256,
			SizeY:     256,
		},
		Interest: DefaultInterest(),
		PrimCounts: PrimCounts{
			ReportInterval: 60 * time.Second,
		},
		Metrics: Metrics{
			ListenAddress: ":9102",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "gridsim",
			Password: "gridsim",
			DBName:   "gridsim",
			SSLMode:  "disable",

			FlushInterval: 5 * time.Second,
		},
	}
}

// LoadRegionServer loads region server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadRegionServer(path string) (RegionServer, error) {
	cfg := DefaultRegionServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
