// Command sensorlog runs the sensor data collector.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sensorlog/internal/catalog"
	"sensorlog/internal/collector"
	"sensorlog/internal/config"
	"sensorlog/internal/home"
	"sensorlog/internal/logging"
	"sensorlog/internal/sink"
	"sensorlog/internal/sink/measure"
	"sensorlog/internal/sink/rawlog"
	"sensorlog/internal/source"
	"sensorlog/internal/source/kafka"
	"sensorlog/internal/source/mqtt"
	"sensorlog/internal/source/simulate"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sensorlog",
		Short: "IoT sensor data collector",
	}

	rootCmd.PersistentFlags().String("config", "", "configuration file (default: config.json in the data directory)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (default: platform config dir, e.g. ~/.config/sensorlog)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringSlice("debug-component", nil, "components to log at debug level (e.g. collector,dualwriter)")

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Ingest sensor readings until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cmd)
			if err != nil {
				return err
			}
			hd, err := resolveHome(cmd)
			if err != nil {
				return err
			}
			if err := hd.EnsureExists(); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyOverrides(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			id, err := hd.CollectorID()
			if err != nil {
				return err
			}
			logger = logger.With("instance", id)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, logger, cfg)
		},
	}
	collectCmd.Flags().Int("batch-size", 0, "override batch.size")
	collectCmd.Flags().Duration("batch-age", 0, "override batch.maxAge")
	collectCmd.Flags().Duration("drain-timeout", 0, "override batch.drainTimeout")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and catalog, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return check(cmd.Context(), cfg)
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed <sensors.json>",
		Short: "Import sensor metadata into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return seed(cmd.Context(), logger, cfg, args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(collectCmd, checkCmd, seedCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLogger creates the base logger with a ComponentFilterHandler so
// individual components can be turned up to debug without drowning the
// rest.
func buildLogger(cmd *cobra.Command) (*slog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // allow all levels; filtering done by ComponentFilterHandler
	})
	filter := logging.NewComponentFilterHandler(baseHandler, level)

	components, _ := cmd.Flags().GetStringSlice("debug-component")
	for _, c := range components {
		filter.SetLevel(c, slog.LevelDebug)
	}
	return slog.New(filter), nil
}

// resolveHome picks the data directory: an explicit --data-dir wins,
// otherwise the platform default is used.
func resolveHome(cmd *cobra.Command) (home.Dir, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir != "" {
		return home.New(dataDir), nil
	}
	return home.Default()
}

// loadConfig reads the file named by --config. Without the flag, a
// config.json in the data directory is used when present, and the
// built-in default otherwise.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	hd, err := resolveHome(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(hd.ConfigPath()); err == nil {
		return config.Load(hd.ConfigPath())
	}
	return config.Default(hd.Root()), nil
}

// applyOverrides copies changed command line flags over the loaded
// configuration.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("batch-size") {
		v, _ := cmd.Flags().GetInt("batch-size")
		cfg.Batch.Size = v
	}
	if cmd.Flags().Changed("batch-age") {
		v, _ := cmd.Flags().GetDuration("batch-age")
		cfg.Batch.MaxAge = v.String()
	}
	if cmd.Flags().Changed("drain-timeout") {
		v, _ := cmd.Flags().GetDuration("drain-timeout")
		cfg.Batch.DrainTimeout = v.String()
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	maxAge, err := cfg.Batch.MaxAgeDuration()
	if err != nil {
		return err
	}
	drainTimeout, err := cfg.Batch.DrainTimeoutDuration()
	if err != nil {
		return err
	}
	policy, err := cfg.Retry.ToPolicy()
	if err != nil {
		return err
	}

	// The store opens first: its migrations create the sensors table the
	// sqlite catalog reads from.
	store, err := measure.New(measure.Config{Path: cfg.Store.Path, Logger: logger})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var cat *catalog.Catalog
	if cfg.Catalog.Type == config.CatalogSQLite {
		cat, err = store.LoadCatalog(ctx)
	} else {
		cat, err = cfg.LoadCatalog(ctx)
	}
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog loaded", "type", cfg.Catalog.Type, "sensors", cat.Len())

	raw, err := rawlog.NewWriter(rawlog.Config{Dir: cfg.RawLog.Dir, Logger: logger})
	if err != nil {
		return fmt.Errorf("open raw log: %w", err)
	}
	defer raw.Close()

	writer, err := sink.NewDualWriter(sink.Config{
		Structured: store,
		Raw:        raw,
		Retry:      policy,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var maintenance *rawlog.Maintenance
	if cfg.RawLog.CompressAfterDays > 0 || cfg.RawLog.RetentionDays > 0 {
		maintenance, err = rawlog.NewMaintenance(rawlog.MaintenanceConfig{
			Dir:               cfg.RawLog.Dir,
			CompressAfterDays: cfg.RawLog.CompressAfterDays,
			RetentionDays:     cfg.RawLog.RetentionDays,
			Logger:            logger,
		})
		if err != nil {
			return fmt.Errorf("raw log maintenance: %w", err)
		}
	}

	col, err := collector.New(collector.Config{
		Catalog:       cat,
		Writer:        writer,
		Sources:       cfg.SourceSpecs(),
		Factories:     buildFactories(cat),
		BatchSize:     cfg.Batch.Size,
		BatchAge:      maxAge,
		DrainTimeout:  drainTimeout,
		QueueSize:     cfg.Batch.QueueSize,
		Maintenance:   maintenance,
		SweepSchedule: cfg.RawLog.SweepSchedule,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting collector",
		"version", version,
		"sources", len(cfg.Sources),
		"store", cfg.Store.Path,
		"rawlog", cfg.RawLog.Dir)
	return col.Run(ctx)
}

// buildFactories creates the factory map for all supported source types.
func buildFactories(cat *catalog.Catalog) map[string]source.Factory {
	return map[string]source.Factory{
		"mqtt":     mqtt.NewFactory(),
		"kafka":    kafka.NewFactory(),
		"simulate": simulate.NewFactory(cat),
	}
}

// check validates the configuration and prints a short summary. The
// sqlite catalog is only verifiable once the store exists, so it is
// reported but not loaded.
func check(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Println("config: ok")
	if cfg.Catalog.Type == config.CatalogSQLite {
		fmt.Printf("catalog: sqlite (%s, verified at startup)\n", cfg.Store.Path)
	} else {
		cat, err := cfg.LoadCatalog(ctx)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		fmt.Printf("catalog: %d sensors (%s)\n", cat.Len(), cfg.Catalog.Type)
	}
	fmt.Printf("store: %s\n", cfg.Store.Path)
	fmt.Printf("raw log: %s (compress after %dd, keep %dd)\n",
		cfg.RawLog.Dir, cfg.RawLog.CompressAfterDays, cfg.RawLog.RetentionDays)
	for _, s := range cfg.Sources {
		id := s.ID
		if id == "" {
			id = "(auto)"
		}
		fmt.Printf("source: %s type=%s\n", id, s.Type)
	}
	return nil
}

// seed imports a sensors file into the store's sensors table so the
// sqlite catalog has something to read.
func seed(ctx context.Context, logger *slog.Logger, cfg *config.Config, sensorsPath string) error {
	cat, err := catalog.LoadFile(sensorsPath)
	if err != nil {
		return fmt.Errorf("load sensors file: %w", err)
	}

	store, err := measure.New(measure.Config{Path: cfg.Store.Path, Logger: logger})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	entries := make([]catalog.Metadata, 0, cat.Len())
	for _, id := range cat.IDs() {
		m, _ := cat.Lookup(id)
		entries = append(entries, m)
	}
	if err := store.SeedSensors(ctx, entries); err != nil {
		return fmt.Errorf("seed sensors: %w", err)
	}

	logger.Info("sensors seeded", "count", len(entries), "store", cfg.Store.Path)
	return nil
}
