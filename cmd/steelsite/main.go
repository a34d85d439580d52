// steelsite computes the least-cost renewable supply for baseload steel
// production on a latitude/longitude grid.
//
// Usage:
//
//	steelsite --config run.yaml costs --year 2030
//	steelsite --config run.yaml region --year 2030 --region europe --percentile 15
//	steelsite --config run.yaml run --year 2030
//	steelsite --config run.yaml global --year 2030 --percentile 15
//	steelsite --config run.yaml serve --port 8080
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"steel-siting/api"
	"steel-siting/db/clickhouse"
	"steel-siting/db/files"
	"steel-siting/db/postgres"
	"steel-siting/decision/costs"
	"steel-siting/decision/global"
	"steel-siting/decision/optimizer"
	"steel-siting/decision/regional"
	"steel-siting/internal/geo"
	"steel-siting/internal/metrics"
	"steel-siting/internal/raster"
	sapi "steel-siting/pkg/api"
	"steel-siting/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitNotReady is returned by the global command when a region is missing.
const exitNotReady = 3

func main() {
	app := &cli.App{
		Name:    "steelsite",
		Usage:   "Least-cost renewable siting for baseload steel production",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to run configuration YAML",
				EnvVars: []string{"STEELSITE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"STEELSITE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "Log format (json, console)",
				EnvVars: []string{"STEELSITE_LOG_FORMAT"},
			},
		},

		Commands: []*cli.Command{
			costsCommand(),
			regionCommand(),
			runCommand(),
			globalCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// env holds everything a command needs. close releases the optional stores.
type env struct {
	cfg     *platform.RunConfig
	log     zerolog.Logger
	metrics *metrics.Batch
	store   *files.SolutionStore
	ledger  *postgres.Ledger
	mirror  *clickhouse.Store
}

func setup(c *cli.Context) (*env, error) {
	log := platform.InitLogger(c.String("log-level"), c.String("log-format"))
	cfg, err := platform.LoadRunConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewBatch(),
		store:   files.NewSolutionStore(cfg.OutputDir),
	}, nil
}

// connect opens the ledger and mirror when configured.
func (e *env) connect(ctx context.Context) error {
	if e.cfg.PostgresDSN != "" {
		ledger, err := postgres.Open(ctx, e.cfg.PostgresDSN)
		if err != nil {
			return err
		}
		if err := ledger.EnsureSchema(ctx); err != nil {
			ledger.Close()
			return err
		}
		e.ledger = ledger
	}
	if e.cfg.ClickHouse.Enabled {
		ch := e.cfg.ClickHouse
		store, err := clickhouse.NewStore(&clickhouse.Config{
			Host:     ch.Host,
			Port:     ch.Port,
			Database: ch.Database,
			Username: ch.Username,
			Password: ch.Password,
		})
		if err != nil {
			return err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return err
		}
		e.mirror = store
	}
	return nil
}

func (e *env) close() {
	if e.ledger != nil {
		e.ledger.Close()
	}
	if e.mirror != nil {
		e.mirror.Close()
	}
}

func (e *env) projector() *costs.Projector {
	cfg := e.cfg
	return costs.NewProjector(costs.Config{
		BaseYear: cfg.BaseYear,
		Horizon:  cfg.InvestmentHorizon,
		LearningRates: costs.LearningRates{
			Solar: cfg.LearningRates.Solar,
			Wind:  cfg.LearningRates.Wind,
		},
		BatteryScalingFactor: cfg.BatteryScalingFactor,
		CacheDir:             cfg.CacheDir,
	}, func() (*costs.Inputs, error) {
		return costs.LoadInputs(cfg.CostInputDir)
	}, e.log)
}

func (e *env) executor() (*regional.Executor, error) {
	cfg := e.cfg
	countries, err := geo.LoadCountries(cfg.CountriesShapefile, cfg.CountryField)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int("countries", len(countries)).Msg("Loaded country boundaries")

	// Each worker gets its own index; the last-hit cache is not shared.
	factory := func() (optimizer.Geocoder, error) {
		return geo.NewIndex(countries), nil
	}

	opts := []regional.Option{regional.WithReporter(e.metrics)}
	if cfg.CoastlineShapefile != "" {
		coast, err := geo.LoadLandMask(cfg.CoastlineShapefile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, regional.WithCoastline(coast))
	}
	if e.ledger != nil {
		opts = append(opts, regional.WithLedger(e.ledger))
	}
	if e.mirror != nil {
		opts = append(opts, regional.WithMirror(e.mirror))
	}

	return regional.NewExecutor(regional.Config{
		Workers:              cfg.Workers,
		Samples:              cfg.Samples,
		Seed:                 cfg.Seed,
		BaseloadDemandMW:     cfg.BaseloadDemandMW,
		BatteryLifetimeYears: cfg.BatteryLifetimeYears,
		ProfileYear:          cfg.ProfileYear,
		Remap:                optimizer.DefaultRemapTable().With(cfg.CountryRemap),
	},
		e.store,
		e.projector(),
		regional.NewFileInputs(files.DataLayout{Root: cfg.DataDir}),
		factory,
		e.log,
		opts...,
	), nil
}

func (e *env) aggregator() *global.Aggregator {
	return global.NewAggregator(e.store, e.cfg.Regions, e.cfg.GlobalResolution, e.log,
		global.WithReporter(e.metrics))
}

// serveMetrics exposes batch metrics on addr until ctx is done.
func (e *env) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: e.metrics.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.Warn().Err(err).Str("addr", addr).Msg("Metrics listener stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func yearOrDefault(c *cli.Context, cfg *platform.RunConfig) int {
	if c.IsSet("year") {
		return c.Int("year")
	}
	return cfg.InvestmentYear
}

var metricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Usage:   "Serve batch metrics on this address while running (e.g. :9102)",
	EnvVars: []string{"STEELSITE_METRICS_ADDR"},
}

// =============================================================================
// COSTS COMMAND
// =============================================================================

func costsCommand() *cli.Command {
	return &cli.Command{
		Name:  "costs",
		Usage: "Project and cache the cost table of an investment year",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Investment year"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			year := yearOrDefault(c, e.cfg)
			table, err := e.projector().Project(ctx, year)
			if err != nil {
				return fmt.Errorf("cost projection failed: %w", err)
			}
			e.log.Info().
				Int("year", year).
				Int("countries", len(table.Countries)).
				Msg("Cost table ready")
			return nil
		},
	}
}

// =============================================================================
// REGION COMMAND
// =============================================================================

func regionCommand() *cli.Command {
	return &cli.Command{
		Name:  "region",
		Usage: "Compute the solution raster of one region",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Investment year"},
			&cli.StringFlag{Name: "region", Aliases: []string{"r"}, Usage: "Region name", Required: true},
			&cli.Float64Flag{Name: "percentile", Aliases: []string{"p"}, Value: 15, Usage: "Design percentile"},
			metricsAddrFlag,
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if err := e.connect(ctx); err != nil {
				return err
			}
			defer e.close()
			e.serveMetrics(ctx, c.String("metrics-addr"))

			exec, err := e.executor()
			if err != nil {
				return err
			}
			key := sapi.RunKey{Year: yearOrDefault(c, e.cfg), Region: c.String("region"), Percentile: c.Float64("percentile")}
			g, err := exec.RunRegion(ctx, key)
			if err != nil {
				return fmt.Errorf("region %s failed: %w", key, err)
			}
			e.log.Info().
				Str("run", key.String()).
				Str("path", e.store.Path(key)).
				Int("solved", g.ValidCount(raster.LayerLCOE)).
				Msg("Region ready")
			return nil
		},
	}
}

// =============================================================================
// RUN COMMAND
// =============================================================================

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Project costs, run every configured region and percentile, then merge",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Investment year"},
			metricsAddrFlag,
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if err := e.connect(ctx); err != nil {
				return err
			}
			defer e.close()
			e.serveMetrics(ctx, c.String("metrics-addr"))

			exec, err := e.executor()
			if err != nil {
				return err
			}
			year := yearOrDefault(c, e.cfg)
			start := time.Now()
			runErr := exec.RunAll(ctx, year, e.cfg.Regions, e.cfg.Percentiles)
			if runErr != nil {
				e.log.Error().Err(runErr).Int("year", year).Msg("Some regions failed")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			agg := e.aggregator()
			notReady := 0
			for _, p := range e.cfg.Percentiles {
				res, err := agg.Aggregate(ctx, year, p)
				if err != nil {
					return err
				}
				if !res.Ready {
					notReady++
				}
			}
			e.log.Info().
				Int("year", year).
				Dur("elapsed", time.Since(start)).
				Int("global_not_ready", notReady).
				Msg("Run finished")
			return runErr
		},
	}
}

// =============================================================================
// GLOBAL COMMAND
// =============================================================================

func globalCommand() *cli.Command {
	return &cli.Command{
		Name:  "global",
		Usage: "Merge the regional rasters of a year and percentile",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Investment year"},
			&cli.Float64Flag{Name: "percentile", Aliases: []string{"p"}, Value: 15, Usage: "Design percentile"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			year := yearOrDefault(c, e.cfg)
			p := c.Float64("percentile")
			res, err := e.aggregator().Aggregate(ctx, year, p)
			if err != nil {
				return err
			}
			if !res.Ready {
				return cli.Exit(fmt.Sprintf("global raster not ready, missing regions: %v", res.Missing), exitNotReady)
			}
			key := sapi.RunKey{Year: year, Percentile: p}.Global()
			e.log.Info().Str("path", e.store.Path(key)).Msg("Global raster ready")
			return nil
		},
	}
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the status API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "Server port",
				EnvVars: []string{"PORT"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this X-API-Key on /api routes",
				EnvVars: []string{"STEELSITE_API_KEY"},
			},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if err := e.connect(ctx); err != nil {
				return err
			}
			defer e.close()

			cfg := api.DefaultConfig()
			cfg.Port = c.Int("port")
			cfg.APIKey = c.String("api-key")
			cfg.Regions = e.cfg.Regions

			var opts []api.Option
			if e.mirror != nil {
				opts = append(opts, api.WithWarehouse(e.mirror))
			}
			var history api.RunHistory
			if e.ledger != nil {
				history = e.ledger
			}
			return api.NewServer(e.store, history, e.metrics.Handler(), cfg, e.log, opts...).Start(ctx)
		},
	}
}
