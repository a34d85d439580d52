// Package clickhouse mirrors solution rasters into ClickHouse for analytics
// across regions, years and percentiles.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"steel-siting/internal/raster"
	"steel-siting/pkg/api"
)

// SolutionRun is one mirrored solution raster.
type SolutionRun struct {
	ID         uuid.UUID `ch:"id"`
	Year       int32     `ch:"year"`
	Region     string    `ch:"region"`
	Percentile float64   `ch:"percentile"`
	Cells      uint64    `ch:"cells"`
	Solved     uint64    `ch:"solved"`
	CreatedAt  time.Time `ch:"created_at"`
}

// SolutionCell is one grid cell of a mirrored run. LCOE is nil for cells
// without an accepted design.
type SolutionCell struct {
	RunID            uuid.UUID       `ch:"run_id"`
	Lat              float64         `ch:"lat"`
	Lon              float64         `ch:"lon"`
	LCOE             *float64        `ch:"lcoe"`
	InstallationCost decimal.Decimal `ch:"installation_cost"`
	SolarFactor      float64         `ch:"solar_factor"`
	WindFactor       float64         `ch:"wind_factor"`
	BatteryFactor    float64         `ch:"battery_factor"`
}

// RunSummary aggregates the cells of the latest run for a key.
type RunSummary struct {
	RunID   uuid.UUID
	Solved  uint64
	MinLCOE float64
	AvgLCOE float64
}

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "steelsite",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Store mirrors solutions into ClickHouse.
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewStore opens a ClickHouse connection.
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS solution_runs (
		id UUID,
		year Int32,
		region LowCardinality(String),
		percentile Float64,
		cells UInt64,
		solved UInt64,
		created_at DateTime64(3)
	) ENGINE = MergeTree ORDER BY (year, region, percentile, created_at)`,
	`CREATE TABLE IF NOT EXISTS solution_cells (
		run_id UUID,
		lat Float64,
		lon Float64,
		lcoe Nullable(Float64),
		installation_cost Decimal(18, 2),
		solar_factor Float64,
		wind_factor Float64,
		battery_factor Float64
	) ENGINE = MergeTree ORDER BY (run_id, lat, lon)`,
}

// EnsureSchema creates the mirror tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// MIRROR OPERATIONS
// =============================================================================

// MirrorGrid records g as a new run and batch-inserts its cells.
func (s *Store) MirrorGrid(ctx context.Context, runID uuid.UUID, key api.RunKey, g *raster.Grid) error {
	cells := CellsFromGrid(runID, g)
	run := &SolutionRun{
		ID:         runID,
		Year:       int32(key.Year),
		Region:     key.Region,
		Percentile: key.Percentile,
		Cells:      uint64(len(cells)),
		Solved:     uint64(g.ValidCount(raster.LayerLCOE)),
		CreatedAt:  time.Now(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		return err
	}
	return s.BulkInsertCells(ctx, cells)
}

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, run *SolutionRun) error {
	query := `
		INSERT INTO solution_runs (
			id, year, region, percentile, cells, solved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := s.conn.Exec(ctx, query,
		run.ID, run.Year, run.Region, run.Percentile, run.Cells, run.Solved, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// BulkInsertCells inserts cells using a single batch.
func (s *Store) BulkInsertCells(ctx context.Context, cells []SolutionCell) error {
	if len(cells) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO solution_cells (
			run_id, lat, lon, lcoe, installation_cost,
			solar_factor, wind_factor, battery_factor
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, c := range cells {
		if err := batch.Append(
			c.RunID, c.Lat, c.Lon, c.LCOE, c.InstallationCost,
			c.SolarFactor, c.WindFactor, c.BatteryFactor,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// LatestSummary aggregates the most recent run mirrored for key. It returns
// nil when nothing was mirrored.
func (s *Store) LatestSummary(ctx context.Context, key api.RunKey) (*RunSummary, error) {
	query := `
		SELECT r.id, count(c.lcoe), min(c.lcoe), avg(c.lcoe)
		FROM solution_cells AS c
		INNER JOIN (
			SELECT id FROM solution_runs
			WHERE year = ? AND region = ? AND percentile = ?
			ORDER BY created_at DESC
			LIMIT 1
		) AS r ON c.run_id = r.id
		GROUP BY r.id
	`
	row := s.conn.QueryRow(ctx, query, int32(key.Year), key.Region, key.Percentile)

	var sum RunSummary
	var minLCOE, avgLCOE *float64
	err := row.Scan(&sum.RunID, &sum.Solved, &minLCOE, &avgLCOE)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", key, err)
	}
	if minLCOE != nil {
		sum.MinLCOE = *minLCOE
	}
	if avgLCOE != nil {
		sum.AvgLCOE = *avgLCOE
	}
	return &sum, nil
}

// CellsFromGrid flattens every cell of a solution grid that has an
// installation cost. Land cells without an accepted design are kept with a
// nil LCOE; cells outside the land mask carry no data and are skipped.
func CellsFromGrid(runID uuid.UUID, g *raster.Grid) []SolutionCell {
	var cells []SolutionCell
	for i, lat := range g.Lats {
		for j, lon := range g.Lons {
			cost, ok := g.Value(raster.LayerInstallationCost, i, j)
			if !ok {
				continue
			}
			c := SolutionCell{
				RunID:            runID,
				Lat:              lat,
				Lon:              lon,
				InstallationCost: decimal.NewFromFloat(cost).Round(2),
			}
			if v, ok := g.Value(raster.LayerLCOE, i, j); ok {
				lcoe := v
				c.LCOE = &lcoe
			}
			c.SolarFactor = valueOrZero(g, raster.LayerSolarFactor, i, j)
			c.WindFactor = valueOrZero(g, raster.LayerWindFactor, i, j)
			c.BatteryFactor = valueOrZero(g, raster.LayerBatteryFactor, i, j)
			cells = append(cells, c)
		}
	}
	return cells
}

func valueOrZero(g *raster.Grid, layer string, i, j int) float64 {
	if v, ok := g.Value(layer, i, j); ok {
		return v
	}
	return 0
}
