package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RunConfig is the batch configuration shared by every command.
type RunConfig struct {
	DataDir      string `yaml:"data_dir"`
	OutputDir    string `yaml:"output_dir"`
	CacheDir     string `yaml:"cache_dir"`
	CostInputDir string `yaml:"cost_input_dir"`

	CountriesShapefile string `yaml:"countries_shapefile"`
	CountryField       string `yaml:"country_field"`
	CoastlineShapefile string `yaml:"coastline_shapefile"`

	Regions     []string  `yaml:"regions"`
	Percentiles []float64 `yaml:"percentiles"`

	BaseYear          int `yaml:"base_year"`
	InvestmentYear    int `yaml:"investment_year"`
	InvestmentHorizon int `yaml:"investment_horizon"`
	// ProfileYear selects the weather year of the profile datasets; 0 uses
	// the investment year.
	ProfileYear       int `yaml:"profile_year"`

	BaseloadDemandMW float64 `yaml:"baseload_demand_mw"`
	Samples          int     `yaml:"samples"`
	Seed             uint64  `yaml:"seed"`
	Workers          int     `yaml:"workers"`

	LearningRates        LearningRates `yaml:"learning_rates"`
	BatteryScalingFactor float64       `yaml:"battery_scaling_factor"`
	BatteryLifetimeYears int           `yaml:"battery_lifetime_years"`

	GlobalResolution float64           `yaml:"global_resolution"`
	CountryRemap     map[string]string `yaml:"country_remap"`

	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	PostgresDSN string           `yaml:"postgres_dsn"`
}

// LearningRates are the fractional cost reductions per capacity doubling.
type LearningRates struct {
	Solar float64 `yaml:"solar"`
	Wind  float64 `yaml:"wind"`
}

// ClickHouseConfig enables mirroring solutions into ClickHouse.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultRunConfig returns the configuration used when no file is given.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		DataDir:              "data",
		OutputDir:            "output",
		CacheDir:             "cache",
		CostInputDir:         "data/costs",
		CountryField:         "ISO_A3",
		Percentiles:          []float64{15},
		BaseYear:             2022,
		InvestmentYear:       2030,
		InvestmentHorizon:    20,
		BaseloadDemandMW:     100,
		Samples:              1000,
		Seed:                 12,
		Workers:              4,
		LearningRates:        LearningRates{Solar: 0.23, Wind: 0.12},
		BatteryScalingFactor: -0.1,
		BatteryLifetimeYears: 10,
		GlobalResolution:     0.25,
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "steelsite",
			Username: "default",
		},
	}
}

// LoadRunConfig reads a YAML file over the defaults and applies environment
// overrides. An empty path yields the defaults plus overrides.
func LoadRunConfig(path string) (*RunConfig, error) {
	cfg := DefaultRunConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RunConfig) applyEnv() {
	c.DataDir = GetEnv("STEELSITE_DATA_DIR", c.DataDir)
	c.OutputDir = GetEnv("STEELSITE_OUTPUT_DIR", c.OutputDir)
	c.CacheDir = GetEnv("STEELSITE_CACHE_DIR", c.CacheDir)
	c.Workers = GetEnvInt("STEELSITE_WORKERS", c.Workers)
	c.Samples = GetEnvInt("STEELSITE_SAMPLES", c.Samples)
	c.PostgresDSN = GetEnv("STEELSITE_POSTGRES_DSN", c.PostgresDSN)
	c.ClickHouse.Enabled = GetEnvBool("STEELSITE_CLICKHOUSE_ENABLED", c.ClickHouse.Enabled)
	c.ClickHouse.Password = GetEnv("CLICKHOUSE_PASSWORD", c.ClickHouse.Password)
}

// Validate checks for invalid configuration values.
func (c *RunConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Samples < 1 {
		return fmt.Errorf("samples must be >= 1, got %d", c.Samples)
	}
	if c.InvestmentHorizon < 1 {
		return fmt.Errorf("investment_horizon must be >= 1, got %d", c.InvestmentHorizon)
	}
	if c.InvestmentYear < c.BaseYear {
		return fmt.Errorf("investment_year %d precedes base_year %d", c.InvestmentYear, c.BaseYear)
	}
	if c.BaseloadDemandMW <= 0 {
		return fmt.Errorf("baseload_demand_mw must be > 0, got %.2f", c.BaseloadDemandMW)
	}
	for _, p := range c.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("percentile must be between 0 and 100, got %.2f", p)
		}
	}
	for _, lr := range []float64{c.LearningRates.Solar, c.LearningRates.Wind} {
		if lr < 0 || lr >= 1 {
			return fmt.Errorf("learning rate must be in [0, 1), got %.2f", lr)
		}
	}
	if c.GlobalResolution <= 0 {
		return fmt.Errorf("global_resolution must be > 0, got %.4f", c.GlobalResolution)
	}
	return nil
}

// GetEnv reads an environment variable with a default.
func GetEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func GetEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func GetEnvBool(key string, defaultVal bool) bool {
	if val, exists := os.LookupEnv(key); exists {
		if strings.ToLower(val) == "true" || val == "1" {
			return true
		}
		return false
	}
	return defaultVal
}
