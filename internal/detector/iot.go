package detector

import (
	"fmt"
	"strings"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameIoTAbuse = "iot_abuse"

func init() {
	Register(NameIoTAbuse, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewIoTAbuse(cfg.IoT, logger)
	})
}

// IoTAbuse covers MQTT flooding, broker hopping, CoAP amplification and
// connection probing.
type IoTAbuse struct {
	base
	cfg         config.IoTConfig
	mqttPorts   map[int]bool
	coapPorts   map[int]bool
	probeWindow time.Duration
	logger      *zap.Logger
}

// NewIoTAbuse creates an IoT abuse detector.
func NewIoTAbuse(cfg config.IoTConfig, logger *zap.Logger) *IoTAbuse {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IoTAbuse{
		base:        base{name: NameIoTAbuse},
		cfg:         cfg,
		mqttPorts:   portSet(cfg.MQTTPorts),
		coapPorts:   portSet(cfg.CoAPPorts),
		probeWindow: config.Duration(cfg.ProbeWindow, time.Minute),
		logger:      logger,
	}
}

func (d *IoTAbuse) isMQTT(p *model.PacketRecord) bool {
	return p.HasLabel("MQTT") || d.mqttPorts[p.DstPort] || d.mqttPorts[p.SrcPort]
}

func (d *IoTAbuse) isCoAP(p *model.PacketRecord) bool {
	return p.HasLabel("CoAP") || d.coapPorts[p.DstPort] || d.coapPorts[p.SrcPort]
}

// toBroker reports whether the packet travels client to server.
func (d *IoTAbuse) toBroker(p *model.PacketRecord) bool {
	return d.mqttPorts[p.DstPort] || d.coapPorts[p.DstPort]
}

func (d *IoTAbuse) CanDetect(packets []model.PacketRecord) bool {
	for i := range packets {
		if d.isMQTT(&packets[i]) || d.isCoAP(&packets[i]) {
			return true
		}
	}
	return false
}

// isConnectAttempt recognises MQTT CONNECT packets and bare TCP SYNs.
func isConnectAttempt(info string) bool {
	upper := strings.ToUpper(info)
	if strings.Contains(upper, "CONNECT COMMAND") || strings.Contains(upper, "[SYN]") {
		return true
	}
	for _, f := range strings.Fields(upper) {
		if f == "CONNECT" {
			return true
		}
	}
	return false
}

type coapExchange struct {
	requestBytes  int64
	responseBytes int64
	members       []*model.PacketRecord
}

func (d *IoTAbuse) Detect(packets []model.PacketRecord) []model.Finding {
	mqttBySource := newGroup[string]()
	brokers := newGroup[string]()
	attempts := newGroup[pair]()
	var coapOrder []pair
	coap := make(map[pair]*coapExchange)

	for i := range packets {
		p := &packets[i]
		if p.SrcIP == "" || p.DstIP == "" {
			continue
		}
		mqtt, isCoap := d.isMQTT(p), d.isCoAP(p)
		if !mqtt && !isCoap {
			continue
		}
		if mqtt && !d.mqttPorts[p.SrcPort] {
			mqttBySource.add(p.SrcIP, p)
		}
		if d.toBroker(p) {
			brokers.add(p.SrcIP, p)
			if mqtt && isConnectAttempt(p.Info) {
				attempts.add(pair{p.SrcIP, p.DstIP}, p)
			}
		}
		if isCoap {
			var key pair
			request := d.coapPorts[p.DstPort]
			if request {
				key = pair{src: p.DstIP, dst: p.SrcIP} // server, client
			} else if d.coapPorts[p.SrcPort] {
				key = pair{src: p.SrcIP, dst: p.DstIP}
			} else {
				continue
			}
			ex, ok := coap[key]
			if !ok {
				ex = &coapExchange{}
				coap[key] = ex
				coapOrder = append(coapOrder, key)
			}
			if request {
				ex.requestBytes += int64(p.Length)
			} else {
				ex.responseBytes += int64(p.Length)
			}
			ex.members = append(ex.members, p)
		}
	}

	var findings []model.Finding
	findings = append(findings, d.mqttFlood(mqttBySource)...)
	findings = append(findings, d.multipleBrokers(brokers)...)
	for _, key := range coapOrder {
		if f, ok := d.amplification(key, coap[key]); ok {
			findings = append(findings, f)
		}
	}
	findings = append(findings, d.probing(attempts)...)
	return findings
}

func (d *IoTAbuse) mqttFlood(bySource *group[string]) []model.Finding {
	var findings []model.Finding
	bySource.each(func(src string, members []*model.PacketRecord) {
		first, last := span(members)
		rate := perSecond(len(members), last.Sub(first), time.Second)
		var sev model.Severity
		switch {
		case rate > d.cfg.CriticalFloodRate:
			sev = model.SeverityCritical
		case rate > d.cfg.FloodRate:
			sev = model.SeverityHigh
		default:
			return
		}
		f := d.newFinding(model.KindThreat, "MQTT Flooding", "IoT Abuse", sev, members)
		f.SourceIP = src
		if distinct(members, dstOf) == 1 {
			f.DestinationIP = members[0].DstIP
		}
		f.Evidence["MessagesPerSecond"] = round(rate, 2)
		f.Evidence["MessageCount"] = len(members)
		f.Description = fmt.Sprintf("%s published %d MQTT messages at %.1f/s", src, len(members), rate)
		f.Recommendation = "Apply per-client rate limits on the broker."
		findings = append(findings, f)
	})
	return findings
}

func (d *IoTAbuse) multipleBrokers(bySource *group[string]) []model.Finding {
	var findings []model.Finding
	bySource.each(func(src string, members []*model.PacketRecord) {
		n := distinct(members, dstOf)
		var sev model.Severity
		switch {
		case n >= d.cfg.HighBrokerCount:
			sev = model.SeverityHigh
		case n >= d.cfg.BrokerCount:
			sev = model.SeverityMedium
		default:
			return
		}
		f := d.newFinding(model.KindThreat, "Multiple Brokers", "IoT Abuse", sev, members)
		f.SourceIP = src
		f.Evidence["BrokerCount"] = n
		f.Description = fmt.Sprintf("%s connected to %d distinct MQTT/CoAP servers", src, n)
		f.Recommendation = "Verify the device's intended broker and block unexpected destinations."
		findings = append(findings, f)
	})
	return findings
}

// amplification compares CoAP response bytes with request bytes for one
// server/client pair. key.src is the server.
func (d *IoTAbuse) amplification(key pair, ex *coapExchange) (model.Finding, bool) {
	if ex.requestBytes == 0 || ex.responseBytes == 0 {
		return model.Finding{}, false
	}
	ratio := float64(ex.responseBytes) / float64(ex.requestBytes)
	var sev model.Severity
	switch {
	case ratio >= d.cfg.CriticalAmplificationRatio:
		sev = model.SeverityCritical
	case ratio >= d.cfg.AmplificationRatio:
		sev = model.SeverityHigh
	default:
		return model.Finding{}, false
	}
	f := d.newFinding(model.KindThreat, "CoAP Amplification", "IoT Abuse", sev, ex.members)
	f.SourceIP = key.src
	f.DestinationIP = key.dst
	f.Evidence["AmplificationRatio"] = round(ratio, 2)
	f.Evidence["RequestBytes"] = ex.requestBytes
	f.Evidence["ResponseBytes"] = ex.responseBytes
	f.Description = fmt.Sprintf("CoAP server %s returned %.1fx the request volume to %s", key.src, ratio, key.dst)
	f.Recommendation = "Disable unauthenticated CoAP responses or restrict the server to known clients."
	return f, true
}

func (d *IoTAbuse) probing(attempts *group[pair]) []model.Finding {
	var findings []model.Finding
	attempts.each(func(key pair, members []*model.PacketRecord) {
		if len(members) < d.cfg.ProbeAttempts {
			return
		}
		sorted := byTime(members)
		best, lo := 0, 0
		for hi := range sorted {
			for sorted[hi].Timestamp.Sub(sorted[lo].Timestamp) > d.probeWindow {
				lo++
			}
			best = max(best, hi-lo+1)
		}
		if best < d.cfg.ProbeAttempts {
			return
		}
		perMinute := float64(best) / d.probeWindow.Minutes()
		sev := model.SeverityMedium
		switch {
		case perMinute >= 60:
			sev = model.SeverityCritical
		case perMinute >= 30:
			sev = model.SeverityHigh
		}
		f := d.newFinding(model.KindThreat, "Unauthorized Access Probing", "IoT Abuse", sev, members)
		f.SourceIP = key.src
		f.DestinationIP = key.dst
		f.Evidence["Attempts"] = best
		f.Evidence["AttemptsPerMinute"] = round(perMinute, 2)
		f.Evidence["WindowSeconds"] = d.probeWindow.Seconds()
		f.Description = fmt.Sprintf("%s made %d connection attempts to %s within %s", key.src, best, key.dst, d.probeWindow)
		f.Recommendation = "Require client authentication on the broker and block the probing source."
		findings = append(findings, f)
	})
	return findings
}
