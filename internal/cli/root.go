package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"Go2NetSentinel/internal/ai"
	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/analysis"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/geo"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/notification"
	"Go2NetSentinel/internal/sink"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is injected via ldflags at build time.
var Version = "dev"

const defaultConfigPath = "configs/config.yaml"

var (
	// Global flags
	configPath string
	logLevel   string

	// Loaded config and logger
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ns-sentinel",
	Short: "Go2NetSentinel - packet analytics and heuristic threat detection",
	Long: `ns-sentinel computes traffic statistics, time series and security findings
over captured packets.

Examples:
  ns-sentinel analyze capture.pcap          # Analyze a capture and print the report
  ns-sentinel analyze capture.pcap --write  # Also persist the report to the configured sinks
  ns-sentinel serve                         # Run the HTTP analysis API and gRPC health service
  ns-sentinel stream                        # Analyze packets arriving over NATS in windows
  ns-sentinel publish capture.pcap          # Replay a capture onto the NATS packet subject
  ns-sentinel validate                      # Check the configuration
`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to a YAML or TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(analyzeCmd, serveCmd, streamCmd, publishCmd, validateCmd)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loadConfig reads path. A missing default file falls back to the built-in
// configuration; an explicitly requested file must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	c, err := config.LoadConfig(path)
	if err == nil {
		return c, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

// configProblems combines the structural checks with the detector names,
// which only the detector registry can resolve.
func configProblems(c *config.Config) []string {
	return append(c.Validate(), detector.CheckNames(c.Detectors.Enabled)...)
}

// components holds everything built from the configuration for one command.
type components struct {
	pipeline *analysis.Pipeline
	writers  []model.Writer
	alerter  *alerter.Alerter
	recorder *metrics.Recorder
	querier  sink.Querier
	closers  []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

type buildOptions struct {
	writers bool
	alerts  bool
	querier bool
}

// build wires the pipeline and, on request, the sinks and alerter.
func build(ctx context.Context, opts buildOptions) (*components, error) {
	if problems := configProblems(cfg); len(problems) > 0 {
		for _, p := range problems {
			logger.Error("configuration problem", zap.String("problem", p))
		}
		return nil, fmt.Errorf("configuration has %d problem(s)", len(problems))
	}

	c := &components{recorder: metrics.New()}
	pipelineOpts := []analysis.Option{analysis.WithMetrics(c.recorder)}

	if cfg.Enrichment.Enabled {
		chain, err := geo.FromConfig(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build location providers: %w", err)
		}
		c.closers = append(c.closers, func() { chain.Close() })
		pipelineOpts = append(pipelineOpts, analysis.WithLocationLookup(chain))
	}

	pipeline, err := analysis.NewPipeline(cfg, logger, pipelineOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	c.pipeline = pipeline

	if opts.writers {
		if err := c.buildWriters(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	if opts.querier {
		if err := c.buildQuerier(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	if opts.alerts && cfg.Alerter.Enabled {
		var analyst model.Analyzer
		if cfg.Alerter.AIAnalysis.Enabled {
			a, err := ai.NewAnalyst(&cfg.AI)
			if err != nil {
				logger.Warn("AI analysis disabled", zap.Error(err))
			} else {
				analyst = a
			}
		}
		al, err := alerter.NewAlerter(&cfg.Alerter, cfg.AI.Timeout, notification.NewEmailNotifier(cfg.SMTP), analyst, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create alerter: %w", err)
		}
		c.alerter = al
	}
	return c, nil
}

func (c *components) buildWriters(ctx context.Context) error {
	if cfg.Writers.File.Enabled {
		c.writers = append(c.writers, sink.NewFileWriter(cfg.Writers.File.RootPath, logger))
	}
	if cfg.Writers.ClickHouse.Enabled {
		w, err := sink.NewClickHouseWriter(ctx, cfg.Writers.ClickHouse, logger)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse writer: %w", err)
		}
		c.writers = append(c.writers, w)
		c.closers = append(c.closers, func() { w.Close() })
	}
	return nil
}

func (c *components) buildQuerier(ctx context.Context) error {
	switch {
	case cfg.Writers.ClickHouse.Enabled:
		q, err := sink.NewClickHouseQuerier(ctx, cfg.Writers.ClickHouse)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse querier: %w", err)
		}
		c.querier = q
	case cfg.Writers.File.Enabled:
		c.querier = sink.NewFileQuerier(cfg.Writers.File.RootPath)
	}
	return nil
}

// deliver writes the report to every sink and raises alerts. Failures are
// logged; one broken sink does not stop the others.
func (c *components) deliver(ctx context.Context, report *model.Report) {
	timestamp := report.GeneratedAt.Format(sink.TimestampLayout)
	for _, w := range c.writers {
		if err := w.Write(ctx, report, timestamp); err != nil {
			logger.Error("failed to write report", zap.String("writer", w.Name()), zap.Error(err))
		}
	}
	if c.alerter != nil {
		if _, err := c.alerter.Notify(ctx, report); err != nil {
			logger.Error("failed to send alert", zap.Error(err))
		}
	}
}
