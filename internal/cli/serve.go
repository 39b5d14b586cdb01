package cli

import (
	"os"
	"os/signal"
	"syscall"

	"Go2NetSentinel/internal/api"
	"Go2NetSentinel/internal/cache"

	"github.com/spf13/cobra"
)

var (
	serveHTTPAddr  string
	serveGRPCAddr  string
	serveCacheSize int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis API and the gRPC health service",
	Long: `Serve the analysis API:

  POST /api/v1/analyze     analyze a JSON list of packet records
  GET  /api/v1/detectors   list the enabled detectors
  GET  /api/v1/findings    query persisted findings (since, detector, min_severity, limit)
  GET  /healthz            liveness
  GET  /metrics            Prometheus metrics

Identical packet collections are analyzed once and served from a cache.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := build(ctx, buildOptions{querier: true})
		if err != nil {
			return err
		}
		defer c.Close()

		httpAddr, grpcAddr := cfg.API.HTTPListenAddr, cfg.API.GRPCListenAddr
		if cmd.Flags().Changed("http") {
			httpAddr = serveHTTPAddr
		}
		if cmd.Flags().Changed("grpc") {
			grpcAddr = serveGRPCAddr
		}

		memo := cache.NewMemoizer(c.pipeline.Analyze, serveCacheSize, logger)
		srv := api.NewServer(memo, c.pipeline.Detectors(), c.querier, c.recorder, logger)
		return srv.Serve(ctx, httpAddr, grpcAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (overrides api.http_listen_addr)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc", "", "gRPC listen address, empty to disable (overrides api.grpc_listen_addr)")
	serveCmd.Flags().IntVar(&serveCacheSize, "cache-size", 64, "Maximum number of cached reports")
}
