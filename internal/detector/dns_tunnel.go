package detector

import (
	"fmt"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const NameDNSTunnel = "dns_tunnel"

// minEncodedLabel is the shortest label treated as a possible encoded payload.
const minEncodedLabel = 12

// multiPartTLDs backs base-domain extraction when the public suffix list
// cannot classify a name.
var multiPartTLDs = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "ne.jp": true, "or.jp": true,
	"com.br": true, "com.cn": true, "net.cn": true, "org.cn": true,
	"co.nz": true, "co.za": true, "co.in": true, "com.mx": true,
}

func init() {
	Register(NameDNSTunnel, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewDNSTunnel(cfg.DNSTunnel, logger)
	})
}

// DNSTunnel flags base domains receiving many high-entropy or high-rate
// subdomain queries.
type DNSTunnel struct {
	base
	cfg       config.DNSTunnelConfig
	whitelist []string
	logger    *zap.Logger
}

// NewDNSTunnel creates a DNS tunnelling detector.
func NewDNSTunnel(cfg config.DNSTunnelConfig, logger *zap.Logger) *DNSTunnel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinQueries <= 0 {
		cfg.MinQueries = 10
	}
	wl := make([]string, 0, len(cfg.Whitelist))
	for _, w := range cfg.Whitelist {
		if w = strings.Trim(strings.ToLower(strings.TrimSpace(w)), "."); w != "" {
			wl = append(wl, w)
		}
	}
	return &DNSTunnel{base: base{name: NameDNSTunnel}, cfg: cfg, whitelist: wl, logger: logger}
}

func isDNS(p *model.PacketRecord) bool {
	return p.HasLabel("DNS") || p.UsesPort(53)
}

func (d *DNSTunnel) CanDetect(packets []model.PacketRecord) bool {
	n := 0
	for i := range packets {
		if isDNS(&packets[i]) {
			n++
			if n >= d.cfg.MinQueries {
				return true
			}
		}
	}
	return false
}

type domainQueries struct {
	members    []*model.PacketRecord
	subdomains map[string]struct{}
	entropy    float64
	encoded    int
	samples    []string
}

func (d *DNSTunnel) Detect(packets []model.PacketRecord) []model.Finding {
	var order []string
	domains := make(map[string]*domainQueries)

	for i := range packets {
		p := &packets[i]
		if !isDNS(p) || isDNSResponse(p.Info) {
			continue
		}
		name := QueryName(p.Info)
		if name == "" {
			continue
		}
		baseDomain := BaseDomain(name)
		if baseDomain == "" || d.whitelisted(name, baseDomain) {
			continue
		}
		sub := strings.TrimSuffix(strings.TrimSuffix(name, baseDomain), ".")
		if sub == "" {
			continue
		}

		dq, ok := domains[baseDomain]
		if !ok {
			dq = &domainQueries{subdomains: make(map[string]struct{})}
			domains[baseDomain] = dq
			order = append(order, baseDomain)
		}
		dq.members = append(dq.members, p)
		dq.subdomains[sub] = struct{}{}
		if encodedLooking(sub) {
			dq.entropy += shannonEntropy(strings.ReplaceAll(sub, ".", ""))
			dq.encoded++
		}
		if len(dq.samples) < 5 {
			dq.samples = append(dq.samples, name)
		}
	}

	var findings []model.Finding
	for _, domain := range order {
		dq := domains[domain]
		count := len(dq.members)
		if count < d.cfg.MinQueries {
			continue
		}
		var avgEntropy float64
		if dq.encoded > 0 {
			avgEntropy = dq.entropy / float64(dq.encoded)
		}
		first, last := span(dq.members)
		perMinute := float64(count) / max(last.Sub(first).Minutes(), 1)

		highEntropy := dq.encoded >= d.cfg.MinQueries && avgEntropy >= d.cfg.EntropyThreshold
		highRate := d.cfg.QueriesPerMinute > 0 && perMinute >= d.cfg.QueriesPerMinute
		var sev model.Severity
		switch {
		case highEntropy && highRate:
			sev = model.SeverityCritical
		case highEntropy:
			sev = model.SeverityHigh
		case highRate:
			sev = model.SeverityMedium
		default:
			continue
		}

		f := d.newFinding(model.KindThreat, "DNS Tunneling", "Data Exfiltration", sev, dq.members)
		f.SourceIP = dominant(dq.members, srcOf)
		f.Evidence["Domain"] = domain
		f.Evidence["QueryCount"] = count
		f.Evidence["UniqueSubdomains"] = len(dq.subdomains)
		f.Evidence["EncodedQueries"] = dq.encoded
		f.Evidence["AverageEntropy"] = round(avgEntropy, 3)
		f.Evidence["QueriesPerMinute"] = round(perMinute, 2)
		f.Evidence["SampleQueries"] = dq.samples
		f.Description = fmt.Sprintf("%d queries under %s (entropy %.2f, %.1f queries/min)", count, domain, avgEntropy, perMinute)
		f.Recommendation = "Inspect the resolving host and block the domain if it is not a known service."
		d.logger.Debug("dns tunnel detected", zap.String("domain", domain), zap.Int("queries", count))
		findings = append(findings, f)
	}
	return findings
}

// encodedLooking reports whether a subdomain carries a label long enough to
// hold an encoded payload. Short labels such as "www" or "mail" are skipped
// so they do not dilute the average entropy.
func encodedLooking(sub string) bool {
	for _, label := range strings.Split(sub, ".") {
		if len(label) >= minEncodedLabel {
			return true
		}
	}
	return false
}

func (d *DNSTunnel) whitelisted(name, baseDomain string) bool {
	for _, w := range d.whitelist {
		if baseDomain == w || name == w || strings.HasSuffix(name, "."+w) {
			return true
		}
	}
	return false
}

// isDNSResponse recognises the "Standard query response" info line.
func isDNSResponse(info string) bool {
	return strings.Contains(strings.ToLower(info), "response")
}

// QueryName extracts the queried name from a DNS info line such as
// "Standard query 0x1a2b A www.example.com".
func QueryName(info string) string {
	for _, tok := range strings.Fields(info) {
		tok = strings.ToLower(strings.TrimSuffix(tok, "."))
		if strings.Count(tok, ".") >= 1 && isHostname(tok) {
			return tok
		}
	}
	return ""
}

func isHostname(s string) bool {
	if len(s) > 253 || strings.HasPrefix(s, ".") || strings.Contains(s, "..") {
		return false
	}
	letter := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			letter = true
		case r >= '0' && r <= '9', r == '-', r == '.', r == '_':
		default:
			return false
		}
	}
	return letter
}

// BaseDomain returns the registrable domain (eTLD+1) of name.
func BaseDomain(name string) string {
	name = strings.Trim(strings.ToLower(name), ".")
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(name); err == nil {
		return etld1
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return ""
	}
	if len(labels) >= 3 && multiPartTLDs[strings.Join(labels[len(labels)-2:], ".")] {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// dominant returns the most frequent non-empty field value, first seen
// winning ties.
func dominant(members []*model.PacketRecord, field func(*model.PacketRecord) string) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, p := range members {
		v := field(p)
		if v == "" {
			continue
		}
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}
