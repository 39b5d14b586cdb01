package detector

import (
	"fmt"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameSuspiciousProtocol = "suspicious_protocol"

func init() {
	Register(NameSuspiciousProtocol, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewSuspiciousProtocol(cfg.SuspiciousProtocol.Denylist, logger)
	})
}

// SuspiciousProtocol flags traffic carried by a denylisted protocol.
type SuspiciousProtocol struct {
	base
	denylist map[string]string // lower-case label -> configured spelling
	logger   *zap.Logger
}

// NewSuspiciousProtocol creates a denylist detector. Matching ignores case.
func NewSuspiciousProtocol(denylist []string, logger *zap.Logger) *SuspiciousProtocol {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]string, len(denylist))
	for _, p := range denylist {
		if p = strings.TrimSpace(p); p != "" {
			m[strings.ToLower(p)] = p
		}
	}
	return &SuspiciousProtocol{base: base{name: NameSuspiciousProtocol}, denylist: m, logger: logger}
}

func (d *SuspiciousProtocol) match(p *model.PacketRecord) (string, bool) {
	if name, ok := d.denylist[strings.ToLower(p.AppProtocol)]; ok {
		return name, true
	}
	name, ok := d.denylist[strings.ToLower(p.Protocol)]
	return name, ok
}

func (d *SuspiciousProtocol) CanDetect(packets []model.PacketRecord) bool {
	if len(d.denylist) == 0 {
		return false
	}
	for i := range packets {
		if _, ok := d.match(&packets[i]); ok {
			return true
		}
	}
	return false
}

func (d *SuspiciousProtocol) Detect(packets []model.PacketRecord) []model.Finding {
	g := newGroup[string]()
	for i := range packets {
		if name, ok := d.match(&packets[i]); ok {
			g.add(name, &packets[i])
		}
	}

	var findings []model.Finding
	g.each(func(proto string, members []*model.PacketRecord) {
		f := d.newFinding(model.KindThreat, "Suspicious Protocol", "Policy Violation", model.SeverityMedium, members)
		if distinct(members, srcOf) == 1 {
			f.SourceIP = members[0].SrcIP
		}
		if distinct(members, dstOf) == 1 {
			f.DestinationIP = members[0].DstIP
		}
		f.Evidence["Protocol"] = proto
		f.Evidence["PacketCount"] = len(members)
		f.Evidence["ByteCount"] = sumBytes(members)
		f.Evidence["UniqueSources"] = distinct(members, srcOf)
		f.Evidence["UniqueDestinations"] = distinct(members, dstOf)
		f.Description = fmt.Sprintf("%d packets used the insecure protocol %s", len(members), proto)
		f.Recommendation = fmt.Sprintf("Replace %s with an encrypted alternative or block it at the perimeter.", proto)
		findings = append(findings, f)
	})
	return findings
}
