package detector

import (
	"fmt"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/timeseries"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameDDoS = "ddos"

func init() {
	Register(NameDDoS, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewDDoS(cfg.DDoS, logger)
	})
}

// DDoS flags destinations receiving more packets per window than the
// threshold.
type DDoS struct {
	base
	window    time.Duration
	threshold int
	logger    *zap.Logger
}

// NewDDoS creates a volumetric detector.
func NewDDoS(cfg config.DDoSConfig, logger *zap.Logger) *DDoS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DDoS{
		base:      base{name: NameDDoS},
		window:    config.Duration(cfg.Window, 10*time.Second),
		threshold: cfg.Threshold,
		logger:    logger,
	}
}

func (d *DDoS) CanDetect(packets []model.PacketRecord) bool {
	return len(packets) > d.threshold
}

func (d *DDoS) Detect(packets []model.PacketRecord) []model.Finding {
	g := newGroup[string]()
	for i := range packets {
		if packets[i].DstIP != "" {
			g.add(packets[i].DstIP, &packets[i])
		}
	}

	var findings []model.Finding
	g.each(func(dst string, members []*model.PacketRecord) {
		if len(members) <= d.threshold {
			return
		}
		view := make([]model.PacketRecord, len(members))
		for i, p := range members {
			view[i] = *p
		}
		start, end, _ := timeseries.Bounds(view)
		peak := timeseries.MaxInWindow(view, d.window, start, end)
		if peak <= d.threshold {
			return
		}

		f := d.newFinding(model.KindThreat, "DDoS", "Denial of Service", model.SeverityCritical, members)
		f.DestinationIP = dst
		f.Evidence["MaxPacketsPerWindow"] = peak
		f.Evidence["WindowSeconds"] = d.window.Seconds()
		f.Evidence["TotalPackets"] = len(members)
		f.Evidence["UniqueSources"] = distinct(members, srcOf)
		f.Evidence["TotalBytes"] = sumBytes(members)
		f.Description = fmt.Sprintf("%s received up to %d packets in a %s window from %d sources",
			dst, peak, d.window, distinct(members, srcOf))
		f.Recommendation = "Engage upstream filtering or rate limiting for the targeted host."
		d.logger.Debug("ddos detected", zap.String("target", dst), zap.Int("peak", peak))
		findings = append(findings, f)
	})
	return findings
}
