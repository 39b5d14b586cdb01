package detector

import (
	"fmt"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameCryptoMining = "crypto_mining"

// Stratum JSON-RPC methods seen in mining traffic.
var stratumMethods = []string{"mining.subscribe", "mining.authorize", "mining.submit", "mining.notify", "mining.set_difficulty"}

func init() {
	Register(NameCryptoMining, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewCryptoMining(cfg.Mining, logger)
	})
}

// CryptoMining flags hosts talking to mining pools.
type CryptoMining struct {
	base
	cfg    config.MiningConfig
	ports  map[int]bool
	logger *zap.Logger
}

// NewCryptoMining creates a mining detector.
func NewCryptoMining(cfg config.MiningConfig, logger *zap.Logger) *CryptoMining {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinDestinations <= 0 {
		cfg.MinDestinations = 5
	}
	return &CryptoMining{base: base{name: NameCryptoMining}, cfg: cfg, ports: portSet(cfg.Ports), logger: logger}
}

func (d *CryptoMining) toMiningPort(p *model.PacketRecord) bool {
	return d.ports[p.DstPort]
}

func (d *CryptoMining) CanDetect(packets []model.PacketRecord) bool {
	for i := range packets {
		p := &packets[i]
		if d.toMiningPort(p) || strings.Contains(p.Info, "mining.") {
			return true
		}
		if _, ok := containsFold(p.Info, d.cfg.PoolDomains); ok {
			return true
		}
	}
	return false
}

type miningHost struct {
	portDests    map[string]struct{}
	poolDests    map[string]struct{}
	methods      map[string]struct{}
	portBytes    int64
	portPackets  []*model.PacketRecord
	poolPackets  []*model.PacketRecord
	stratumPkts  []*model.PacketRecord
	poolKeywords map[string]struct{}
}

func (d *CryptoMining) Detect(packets []model.PacketRecord) []model.Finding {
	var order []string
	hosts := make(map[string]*miningHost)
	host := func(src string) *miningHost {
		h, ok := hosts[src]
		if !ok {
			h = &miningHost{
				portDests:    make(map[string]struct{}),
				poolDests:    make(map[string]struct{}),
				methods:      make(map[string]struct{}),
				poolKeywords: make(map[string]struct{}),
			}
			hosts[src] = h
			order = append(order, src)
		}
		return h
	}

	for i := range packets {
		p := &packets[i]
		if p.SrcIP == "" {
			continue
		}
		if d.toMiningPort(p) {
			h := host(p.SrcIP)
			if p.DstIP != "" {
				h.portDests[p.DstIP] = struct{}{}
			}
			h.portBytes += int64(p.Length)
			h.portPackets = append(h.portPackets, p)
		}
		if p.Info == "" {
			continue
		}
		if kw, ok := containsFold(p.Info, d.cfg.PoolDomains); ok && p.DstIP != "" {
			h := host(p.SrcIP)
			h.poolDests[p.DstIP] = struct{}{}
			h.poolKeywords[kw] = struct{}{}
			h.poolPackets = append(h.poolPackets, p)
		}
		for _, m := range stratumMethods {
			if strings.Contains(p.Info, m) {
				h := host(p.SrcIP)
				h.methods[m] = struct{}{}
				h.stratumPkts = append(h.stratumPkts, p)
				break
			}
		}
	}

	var findings []model.Finding
	for _, src := range order {
		h := hosts[src]
		if len(h.methods) > 0 {
			f := d.newFinding(model.KindThreat, "Stratum Mining Protocol", "Cryptojacking", model.SeverityCritical, h.stratumPkts)
			f.SourceIP = src
			if distinct(h.stratumPkts, dstOf) == 1 {
				f.DestinationIP = h.stratumPkts[0].DstIP
			}
			f.Evidence["Methods"] = sortedKeys(h.methods)
			f.Evidence["PacketCount"] = len(h.stratumPkts)
			f.Description = fmt.Sprintf("%s exchanged Stratum mining messages (%s)", src, strings.Join(sortedKeys(h.methods), ", "))
			f.Recommendation = "Isolate the host and look for unauthorized mining software."
			findings = append(findings, f)
		}
		if len(h.portDests) >= d.cfg.MinDestinations {
			f := d.newFinding(model.KindThreat, "Mining Pool Scanning", "Cryptojacking", model.SeverityHigh, h.portPackets)
			f.SourceIP = src
			f.Evidence["UniqueDestinations"] = len(h.portDests)
			f.Evidence["Destinations"] = sortedKeys(h.portDests)
			f.Description = fmt.Sprintf("%s contacted %d hosts on known mining ports", src, len(h.portDests))
			f.Recommendation = "Block outbound traffic to mining ports and inspect the host."
			findings = append(findings, f)
		}
		if len(h.poolDests) >= d.cfg.MinDestinations {
			f := d.newFinding(model.KindThreat, "Mining Pool Connections", "Cryptojacking", model.SeverityHigh, h.poolPackets)
			f.SourceIP = src
			f.Evidence["UniqueDestinations"] = len(h.poolDests)
			f.Evidence["Keywords"] = sortedKeys(h.poolKeywords)
			f.Description = fmt.Sprintf("%s connected to %d mining-pool labelled destinations", src, len(h.poolDests))
			f.Recommendation = "Block the pool domains at the DNS resolver and inspect the host."
			findings = append(findings, f)
		}
		if sev, ok := d.volumeSeverity(h.portBytes); ok {
			f := d.newFinding(model.KindThreat, "Mining Traffic Volume", "Cryptojacking", sev, h.portPackets)
			f.SourceIP = src
			if len(h.portDests) == 1 {
				f.DestinationIP = h.portPackets[0].DstIP
			}
			f.Evidence["TotalBytes"] = h.portBytes
			f.Evidence["MegaBytes"] = round(float64(h.portBytes)/(1024*1024), 2)
			f.Evidence["PacketCount"] = len(h.portPackets)
			f.Description = fmt.Sprintf("%s sent %.1f MB to mining ports", src, float64(h.portBytes)/(1024*1024))
			f.Recommendation = "Investigate sustained traffic to mining ports."
			findings = append(findings, f)
		}
	}
	return findings
}

func (d *CryptoMining) volumeSeverity(bytes int64) (model.Severity, bool) {
	switch {
	case d.cfg.CriticalVolumeBytes > 0 && bytes > d.cfg.CriticalVolumeBytes:
		return model.SeverityCritical, true
	case d.cfg.HighVolumeBytes > 0 && bytes > d.cfg.HighVolumeBytes:
		return model.SeverityHigh, true
	case d.cfg.VolumeBytes > 0 && bytes > d.cfg.VolumeBytes:
		return model.SeverityMedium, true
	}
	return model.SeverityLow, false
}
