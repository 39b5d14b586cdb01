package detector

import (
	"fmt"
	"net/netip"
	"regexp"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameDataExfiltration = "data_exfiltration"

var base64Token = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)

func init() {
	Register(NameDataExfiltration, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewDataExfiltration(cfg.Exfiltration, logger)
	})
}

// DataExfiltration flags internal hosts moving data out of the network.
type DataExfiltration struct {
	base
	cfg           config.ExfiltrationConfig
	standardPorts map[int]bool
	slowMin       time.Duration
	logger        *zap.Logger
}

// NewDataExfiltration creates an exfiltration detector.
func NewDataExfiltration(cfg config.ExfiltrationConfig, logger *zap.Logger) *DataExfiltration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataExfiltration{
		base:          base{name: NameDataExfiltration},
		cfg:           cfg,
		standardPorts: portSet(cfg.StandardPorts),
		slowMin:       config.Duration(cfg.SlowMinDuration, time.Hour),
		logger:        logger,
	}
}

// isExternal reports whether addr parses and is not an internal address.
func isExternal(addr string) bool {
	if _, err := netip.ParseAddr(addr); err != nil {
		return false
	}
	return !model.IsInternalAddress(addr)
}

func outbound(p *model.PacketRecord) bool {
	return model.IsInternalAddress(p.SrcIP) && isExternal(p.DstIP)
}

func (d *DataExfiltration) CanDetect(packets []model.PacketRecord) bool {
	for i := range packets {
		if outbound(&packets[i]) || packets[i].Info != "" {
			return true
		}
	}
	return false
}

func (d *DataExfiltration) Detect(packets []model.PacketRecord) []model.Finding {
	byDest := newGroup[string]()
	flows := newGroup[pair]()
	encoded := newGroup[string]()
	var hostOrder []string
	out := make(map[string]int64)
	in := make(map[string]int64)
	outPackets := make(map[string][]*model.PacketRecord)

	for i := range packets {
		p := &packets[i]
		if outbound(p) {
			byDest.add(p.DstIP, p)
			flows.add(pair{p.SrcIP, p.DstIP}, p)
			if _, ok := out[p.SrcIP]; !ok {
				if _, seen := in[p.SrcIP]; !seen {
					hostOrder = append(hostOrder, p.SrcIP)
				}
			}
			out[p.SrcIP] += int64(p.Length)
			outPackets[p.SrcIP] = append(outPackets[p.SrcIP], p)
		} else if model.IsInternalAddress(p.DstIP) && isExternal(p.SrcIP) {
			if _, ok := in[p.DstIP]; !ok {
				if _, seen := out[p.DstIP]; !seen {
					hostOrder = append(hostOrder, p.DstIP)
				}
			}
			in[p.DstIP] += int64(p.Length)
		}
		if p.SrcIP != "" && p.Info != "" && base64Token.MatchString(p.Info) {
			encoded.add(p.SrcIP, p)
		}
	}

	var findings []model.Finding
	byDest.each(func(dst string, members []*model.PacketRecord) {
		if f, ok := d.volume(dst, members); ok {
			findings = append(findings, f)
		}
	})
	flows.each(func(key pair, members []*model.PacketRecord) {
		if f, ok := d.slow(key, members); ok {
			findings = append(findings, f)
		}
	})
	encoded.each(func(src string, members []*model.PacketRecord) {
		if len(members) < d.cfg.EncodedMinPackets {
			return
		}
		f := d.newFinding(model.KindThreat, "Encoded Data Transfer", "Data Exfiltration", model.SeverityHigh, members)
		f.SourceIP = src
		if distinct(members, dstOf) == 1 {
			f.DestinationIP = members[0].DstIP
		}
		f.Evidence["PacketCount"] = len(members)
		f.Evidence["UniqueDestinations"] = distinct(members, dstOf)
		f.Description = fmt.Sprintf("%s sent %d packets carrying base64-like payload tokens", src, len(members))
		f.Recommendation = "Capture full payloads for the flow and check for staged data."
		findings = append(findings, f)
	})
	for _, host := range hostOrder {
		if f, ok := d.ratio(host, out[host], in[host], outPackets[host]); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func (d *DataExfiltration) volume(dst string, members []*model.PacketRecord) (model.Finding, bool) {
	bytes := sumBytes(members)
	var sev model.Severity
	switch {
	case bytes > d.cfg.CriticalVolumeBytes:
		sev = model.SeverityCritical
	case bytes > d.cfg.HighVolumeBytes:
		sev = model.SeverityHigh
	case bytes > d.cfg.VolumeBytes:
		sev = model.SeverityMedium
	default:
		return model.Finding{}, false
	}

	ports := make(map[int]struct{})
	nonStandard := false
	for _, p := range members {
		ports[p.DstPort] = struct{}{}
		if !d.standardPorts[p.DstPort] {
			nonStandard = true
		}
	}
	if nonStandard {
		sev = sev.Escalate()
	}

	f := d.newFinding(model.KindThreat, "Data Exfiltration", "Data Exfiltration", sev, members)
	f.DestinationIP = dst
	f.SourceIP = dominant(members, srcOf)
	f.Evidence["TotalBytes"] = bytes
	f.Evidence["MegaBytes"] = round(float64(bytes)/(1024*1024), 2)
	f.Evidence["UniqueSources"] = distinct(members, srcOf)
	f.Evidence["Ports"] = samplePorts(ports, 10)
	f.Evidence["NonStandardPort"] = nonStandard
	f.Description = fmt.Sprintf("%.1f MB uploaded from internal hosts to %s", float64(bytes)/(1024*1024), dst)
	f.Recommendation = "Confirm the transfer is sanctioned and review the destination's reputation."
	return f, true
}

func (d *DataExfiltration) slow(key pair, members []*model.PacketRecord) (model.Finding, bool) {
	if len(members) < 3 {
		return model.Finding{}, false
	}
	first, last := span(members)
	elapsed := last.Sub(first)
	if elapsed < d.slowMin {
		return model.Finding{}, false
	}
	bytes := sumBytes(members)
	rate := float64(bytes) / elapsed.Seconds()
	if bytes < d.cfg.SlowMinBytes || rate > d.cfg.SlowMaxRate {
		return model.Finding{}, false
	}

	mean, std := meanStdDev(intervals(byTime(members)))
	regular := mean > 0 && std/mean < 0.1

	f := d.newFinding(model.KindThreat, "Slow Exfiltration", "Data Exfiltration", model.SeverityHigh, members)
	f.SourceIP = key.src
	f.DestinationIP = key.dst
	f.Evidence["TotalBytes"] = bytes
	f.Evidence["DurationHours"] = round(elapsed.Hours(), 2)
	f.Evidence["BytesPerSecond"] = round(rate, 2)
	f.Evidence["Regular"] = regular
	f.Evidence["MeanIntervalSeconds"] = round(mean, 3)
	f.Description = fmt.Sprintf("%s trickled %d bytes to %s over %s", key.src, bytes, key.dst, elapsed.Round(time.Second))
	if regular {
		f.Description += " at near-constant intervals"
	}
	f.Recommendation = "Look for beaconing malware on the source host."
	return f, true
}

func (d *DataExfiltration) ratio(host string, outBytes, inBytes int64, members []*model.PacketRecord) (model.Finding, bool) {
	if outBytes < d.cfg.OutboundMinBytes || len(members) == 0 {
		return model.Finding{}, false
	}
	r := float64(outBytes) / float64(max(inBytes, 1))
	if r < d.cfg.OutboundRatio {
		return model.Finding{}, false
	}
	f := d.newFinding(model.KindThreat, "Unusual Outbound Traffic", "Data Exfiltration", model.SeverityMedium, members)
	f.SourceIP = host
	f.Evidence["OutboundBytes"] = outBytes
	f.Evidence["InboundBytes"] = inBytes
	f.Evidence["Ratio"] = round(r, 2)
	f.Description = fmt.Sprintf("%s sent %.1fx more data out than it received", host, r)
	f.Recommendation = "Review which processes on the host are sending data externally."
	return f, true
}
