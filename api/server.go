// Package api serves run status and metrics for a steelsite output directory.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"steel-siting/db/clickhouse"
	"steel-siting/db/postgres"
	"steel-siting/internal/raster"
	sapi "steel-siting/pkg/api"
	"steel-siting/pkg/platform"
)

var version = "0.1.0"

// SolutionIndex reads persisted solutions.
type SolutionIndex interface {
	Exists(key sapi.RunKey) bool
	Load(ctx context.Context, key sapi.RunKey) (*raster.Grid, bool, error)
}

// RunHistory returns the latest ledger entry of a run.
type RunHistory interface {
	Latest(ctx context.Context, key sapi.RunKey) (*postgres.RunRecord, error)
}

// Warehouse summarizes mirrored runs.
type Warehouse interface {
	LatestSummary(ctx context.Context, key sapi.RunKey) (*clickhouse.RunSummary, error)
}

// Config holds server configuration
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	APIKey       string
	Regions      []string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Server is the status HTTP server
type Server struct {
	httpServer *http.Server
	solutions  SolutionIndex
	history    RunHistory
	warehouse  Warehouse
	metrics    http.Handler
	config     *Config
	log        zerolog.Logger
	startTime  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithWarehouse adds the mirrored summary to run status responses.
func WithWarehouse(w Warehouse) Option {
	return func(s *Server) { s.warehouse = w }
}

// NewServer creates a status server. history and metrics may be nil.
func NewServer(solutions SolutionIndex, history RunHistory, metrics http.Handler, config *Config, log zerolog.Logger, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		solutions: solutions,
		history:   history,
		metrics:   metrics,
		config:    config,
		log:       log,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(platform.APIKeyMiddleware(s.config.APIKey))
		r.Get("/runs/{year}/{region}/{percentile}", s.handleRun)
		r.Get("/global/{year}/{percentile}", s.handleGlobal)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.config.Port).Str("version", version).Msg("Starting status server")
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// RunStatus describes one persisted solution.
type RunStatus struct {
	Run     string     `json:"run"`
	Ready   bool       `json:"ready"`
	Cells   int        `json:"cells,omitempty"`
	Solved  int        `json:"solved,omitempty"`
	MinLCOE *float64   `json:"min_lcoe,omitempty"`
	Ledger  *LedgerRow `json:"ledger,omitempty"`
	Mirror  *MirrorRow `json:"mirror,omitempty"`
}

// MirrorRow summarizes the latest mirrored run.
type MirrorRow struct {
	RunID   string  `json:"run_id"`
	Solved  uint64  `json:"solved"`
	MinLCOE float64 `json:"min_lcoe"`
	AvgLCOE float64 `json:"avg_lcoe"`
}

// LedgerRow is the latest ledger entry of a run.
type LedgerRow struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Points     int    `json:"points"`
	Solved     int    `json:"solved"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// GlobalStatus describes the readiness of a global raster.
type GlobalStatus struct {
	Run     string   `json:"run"`
	Ready   bool     `json:"ready"`
	Merged  bool     `json:"merged"`
	Missing []string `json:"missing,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(chi.URLParam(r, "year"), chi.URLParam(r, "region"), chi.URLParam(r, "percentile"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	resp := RunStatus{Run: key.String()}
	g, ok, err := s.solutions.Load(ctx, key)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load solution: %v", err))
		return
	}
	if ok {
		resp.Ready = true
		resp.Cells = g.ValidCount(raster.LayerInstallationCost)
		resp.Solved = g.ValidCount(raster.LayerLCOE)
		resp.MinLCOE = minLCOE(g)
	}

	if s.history != nil {
		rec, err := s.history.Latest(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("run", key.String()).Msg("Run ledger unavailable")
		} else if rec != nil {
			resp.Ledger = ledgerRow(rec)
		}
	}

	if s.warehouse != nil {
		sum, err := s.warehouse.LatestSummary(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("run", key.String()).Msg("Mirror summary unavailable")
		} else if sum != nil {
			resp.Mirror = &MirrorRow{RunID: sum.RunID.String(), Solved: sum.Solved, MinLCOE: sum.MinLCOE, AvgLCOE: sum.AvgLCOE}
		}
	}

	status := http.StatusOK
	if !resp.Ready && resp.Ledger == nil {
		status = http.StatusNotFound
	}
	s.jsonResponse(w, status, resp)
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(chi.URLParam(r, "year"), sapi.GlobalRegion, chi.URLParam(r, "percentile"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := GlobalStatus{Run: key.String(), Merged: s.solutions.Exists(key)}
	for _, region := range s.config.Regions {
		if !s.solutions.Exists(sapi.RunKey{Year: key.Year, Region: region, Percentile: key.Percentile}) {
			resp.Missing = append(resp.Missing, region)
		}
	}
	resp.Ready = resp.Merged || len(resp.Missing) == 0
	s.jsonResponse(w, http.StatusOK, resp)
}

func parseKey(year, region, percentile string) (sapi.RunKey, error) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return sapi.RunKey{}, fmt.Errorf("invalid year %q", year)
	}
	if len(percentile) > 1 && percentile[0] == 'p' {
		percentile = percentile[1:]
	}
	p, err := strconv.ParseFloat(percentile, 64)
	if err != nil || p < 0 || p > 100 {
		return sapi.RunKey{}, fmt.Errorf("invalid percentile %q", percentile)
	}
	if region == "" {
		return sapi.RunKey{}, fmt.Errorf("region is required")
	}
	return sapi.RunKey{Year: y, Region: region, Percentile: p}, nil
}

func minLCOE(g *raster.Grid) *float64 {
	l, ok := g.Layer(raster.LayerLCOE)
	if !ok {
		return nil
	}
	best := math.Inf(1)
	for idx, valid := range l.Valid {
		if valid && l.Data.Elements[idx] < best {
			best = l.Data.Elements[idx]
		}
	}
	if math.IsInf(best, 1) {
		return nil
	}
	return &best
}

func ledgerRow(rec *postgres.RunRecord) *LedgerRow {
	row := &LedgerRow{
		ID:        rec.ID.String(),
		Status:    string(rec.Status),
		Points:    rec.Points,
		Solved:    rec.Solved,
		Error:     rec.Error,
		StartedAt: rec.StartedAt.Format(time.RFC3339),
	}
	if rec.FinishedAt != nil {
		row.FinishedAt = rec.FinishedAt.Format(time.RFC3339)
	}
	return row
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
