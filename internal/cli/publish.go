package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/stream"
	"Go2NetSentinel/pkg/pcap"

	"github.com/google/gopacket"
	libpcap "github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	logEvery          = 1000
)

var (
	publishIface string
	publishRate  int
)

var publishCmd = &cobra.Command{
	Use:   "publish [pcap]",
	Short: "Publish packet records to NATS from a capture file or a live interface",
	Long: `Decode packets and publish them on the configured packet subject, where
'ns-sentinel stream' picks them up.

Examples:
  ns-sentinel publish capture.pcap              # replay a file as fast as possible
  ns-sentinel publish capture.pcap --rate 500   # replay at 500 packets per second
  ns-sentinel publish --iface eth0              # capture live (requires libpcap)
`,
	Args: cobra.MaximumNArgs(1),
	RunE: publishCommand,
}

func init() {
	publishCmd.Flags().StringVar(&publishIface, "iface", "", "Capture live from this interface instead of a file")
	publishCmd.Flags().IntVar(&publishRate, "rate", 0, "Packets per second when replaying a file, 0 for unlimited")
}

func publishCommand(cmd *cobra.Command, args []string) error {
	if (publishIface == "") == (len(args) == 0) {
		return errors.New("specify exactly one of a pcap file or --iface")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := stream.NewPublisher(cfg.Probe.NATSURL, cfg.Probe.Subject, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	published := 0
	send := func(rec *model.PacketRecord) {
		if err := pub.PublishPacket(rec); err != nil {
			logger.Warn("failed to publish packet", zap.Int64("frame", rec.FrameNumber), zap.Error(err))
			return
		}
		published++
		if published%logEvery == 0 {
			logger.Info("packets published", zap.Int("count", published))
		}
	}

	if publishIface != "" {
		handle, err := libpcap.OpenLive(publishIface, snapshotLen, promiscuous, libpcap.BlockForever)
		if err != nil {
			return fmt.Errorf("error opening device %s: %w", publishIface, err)
		}
		defer handle.Close()
		logger.Info("capture started", zap.String("iface", publishIface))

		source := gopacket.NewPacketSource(handle, handle.LinkType())
		packets := source.Packets()
		var frame int64
		for {
			select {
			case <-ctx.Done():
				logger.Info("capture stopped", zap.Int("published", published))
				return nil
			case packet, ok := <-packets:
				if !ok {
					return nil
				}
				frame++
				rec, err := pcap.Decode(packet, frame)
				if err != nil {
					continue
				}
				send(&rec)
			}
		}
	}

	reader, err := pcap.NewReader(args[0], logger)
	if err != nil {
		return err
	}
	defer reader.Close()

	records := make(chan model.PacketRecord, 1024)
	errc := make(chan error, 1)
	go func() { errc <- reader.ReadPackets(ctx, records) }()

	var tick <-chan time.Time
	if publishRate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(publishRate))
		defer ticker.Stop()
		tick = ticker.C
	}
	for rec := range records {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
			}
		}
		send(&rec)
	}
	if err := <-errc; err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	logger.Info("replay finished", zap.String("path", args[0]), zap.Int("published", published))
	return nil
}
