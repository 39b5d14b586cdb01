package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"Go2NetSentinel/internal/api"
	"Go2NetSentinel/internal/cache"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/stream"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultWindow = 10 * time.Second

var streamListen string

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Analyze packets arriving over NATS in fixed windows",
	Long: `Subscribe to the configured packet subject, analyze the buffered packets
once per window (or earlier when the window fills), write each report to the
configured sinks, raise alerts and publish the findings on the findings subject.
`,
	Args: cobra.NoArgs,
	RunE: streamCommand,
}

func init() {
	streamCmd.Flags().StringVar(&streamListen, "listen", "", "Also serve the HTTP API and /metrics on this address")
}

func streamCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Build the pipeline, sinks and alerter
	c, err := build(ctx, buildOptions{writers: true, alerts: true, querier: streamListen != ""})
	if err != nil {
		return err
	}
	defer c.Close()

	// 2. Connect the findings publisher
	var pub *stream.Publisher
	if cfg.Probe.FindingsSubject != "" {
		pub, err = stream.NewPublisher(cfg.Probe.NATSURL, cfg.Probe.FindingsSubject, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	handle := func(ctx context.Context, report *model.Report) {
		logger.Info("window analyzed",
			zap.Int64("packets", report.Statistics.TotalPackets),
			zap.Int("findings", len(report.Findings)),
			zap.Duration("duration", report.Duration))
		c.deliver(ctx, report)
		if pub == nil || len(report.Findings) == 0 {
			return
		}
		if err := pub.PublishFindings(report.Findings); err != nil {
			logger.Error("failed to publish findings", zap.Error(err))
			return
		}
		c.recorder.ObservePublished(len(report.Findings))
	}

	windower := stream.NewWindower(c.pipeline.Analyze,
		config.Duration(cfg.Probe.Window, defaultWindow), cfg.Probe.MaxWindowPackets, logger, handle)

	// 3. Subscribe to packets
	sub, err := stream.NewSubscriber(cfg.Probe.NATSURL, cfg.Probe.Subject, logger)
	if err != nil {
		return err
	}
	defer sub.Close()
	if err := sub.Start(windower.Add); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		windower.Run(ctx)
	}()

	// 4. Optionally expose the API next to the stream
	var serveErr error
	if streamListen != "" {
		memo := cache.NewMemoizer(c.pipeline.Analyze, 0, logger)
		srv := api.NewServer(memo, c.pipeline.Detectors(), c.querier, c.recorder, logger)
		serveErr = srv.Serve(ctx, streamListen, "")
		stop()
	} else {
		<-ctx.Done()
	}

	logger.Info("Shutdown signal received, flushing the last window...")
	wg.Wait()
	return serveErr
}
