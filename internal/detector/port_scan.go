package detector

import (
	"fmt"
	"sort"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NamePortScan = "port_scan"

func init() {
	Register(NamePortScan, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewPortScan(cfg.PortScan, logger)
	})
}

// PortScan flags a source probing many destination ports on one host.
type PortScan struct {
	base
	cfg         config.PortScanConfig
	burstWindow time.Duration
	logger      *zap.Logger
}

// NewPortScan creates a port-scan detector.
func NewPortScan(cfg config.PortScanConfig, logger *zap.Logger) *PortScan {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortScan{
		base:        base{name: NamePortScan},
		cfg:         cfg,
		burstWindow: config.Duration(cfg.BurstWindow, 5*time.Second),
		logger:      logger,
	}
}

// CanDetect needs more port-bearing packets than the smallest rule allows.
func (d *PortScan) CanDetect(packets []model.PacketRecord) bool {
	floor := min(d.cfg.BurstPortCount, d.cfg.FastPortCount, d.cfg.HighPortCount)
	n := 0
	for i := range packets {
		if packets[i].DstPort > 0 {
			n++
			if n > floor {
				return true
			}
		}
	}
	return false
}

func (d *PortScan) Detect(packets []model.PacketRecord) []model.Finding {
	g := newGroup[pair]()
	for i := range packets {
		p := &packets[i]
		if p.SrcIP == "" || p.DstIP == "" || p.DstPort <= 0 {
			continue
		}
		g.add(pair{p.SrcIP, p.DstIP}, p)
	}

	var findings []model.Finding
	g.each(func(key pair, members []*model.PacketRecord) {
		ports := make(map[int]struct{})
		for _, p := range members {
			ports[p.DstPort] = struct{}{}
		}
		unique := len(ports)
		if unique <= d.cfg.BurstPortCount && unique <= d.cfg.FastPortCount && unique <= d.cfg.HighPortCount {
			return
		}

		first, last := span(members)
		elapsed := last.Sub(first)
		rate := perSecond(unique, elapsed, time.Millisecond)

		rule := ""
		switch {
		case unique > d.cfg.HighPortCount:
			rule = "volume"
		case unique > d.cfg.FastPortCount && rate > d.cfg.FastRate:
			rule = "fast"
		case unique > d.cfg.BurstPortCount && elapsed <= d.burstWindow && rate > d.cfg.BurstRate:
			rule = "burst"
		default:
			return
		}

		sev := portScanSeverity(unique)
		if d.cfg.EscalationRate > 0 && rate > d.cfg.EscalationRate {
			sev = sev.Escalate()
		}

		f := d.newFinding(model.KindThreat, "Port Scan", "Reconnaissance", sev, members)
		f.SourceIP = key.src
		f.DestinationIP = key.dst
		f.Evidence["UniquePorts"] = unique
		f.Evidence["PortsPerSecond"] = round(rate, 2)
		f.Evidence["DurationSeconds"] = round(elapsed.Seconds(), 3)
		f.Evidence["PacketCount"] = len(members)
		f.Evidence["Rule"] = rule
		f.Evidence["SamplePorts"] = samplePorts(ports, 20)
		f.Description = fmt.Sprintf("%s probed %d distinct ports on %s in %.1fs (%.1f ports/s)",
			key.src, unique, key.dst, elapsed.Seconds(), rate)
		f.Recommendation = "Block or rate-limit the scanning source and review exposed services on the target."
		d.logger.Debug("port scan detected", zap.String("source", key.src), zap.String("target", key.dst), zap.Int("ports", unique))
		findings = append(findings, f)
	})
	return findings
}

func portScanSeverity(unique int) model.Severity {
	switch {
	case unique > 1000:
		return model.SeverityCritical
	case unique > 500:
		return model.SeverityHigh
	case unique > 200:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func samplePorts(ports map[int]struct{}, n int) []int {
	out := make([]int, 0, len(ports))
	for p := range ports {
		out = append(out, p)
	}
	sort.Ints(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}
