package detector

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameVoIPAbuse = "voip_abuse"

func init() {
	Register(NameVoIPAbuse, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewVoIPAbuse(cfg.VoIP, logger)
	})
}

// VoIPAbuse covers SIP flooding, ghost calls, RTP quality and toll fraud.
type VoIPAbuse struct {
	base
	cfg       config.VoIPConfig
	sipPorts  map[int]bool
	tollFraud time.Duration
	logger    *zap.Logger
}

// NewVoIPAbuse creates a VoIP abuse detector.
func NewVoIPAbuse(cfg config.VoIPConfig, logger *zap.Logger) *VoIPAbuse {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinRTPPackets < 3 {
		cfg.MinRTPPackets = 10
	}
	return &VoIPAbuse{
		base:      base{name: NameVoIPAbuse},
		cfg:       cfg,
		sipPorts:  portSet(cfg.SIPPorts),
		tollFraud: config.Duration(cfg.TollFraudWindow, 3*time.Hour),
		logger:    logger,
	}
}

func (d *VoIPAbuse) isSIP(p *model.PacketRecord) bool {
	return p.HasLabel("SIP") || d.sipPorts[p.SrcPort] || d.sipPorts[p.DstPort]
}

func isRTP(p *model.PacketRecord) bool {
	return p.HasLabel("RTP")
}

func (d *VoIPAbuse) CanDetect(packets []model.PacketRecord) bool {
	for i := range packets {
		if d.isSIP(&packets[i]) || isRTP(&packets[i]) {
			return true
		}
	}
	return false
}

// sipMessage splits a SIP info line into a request method or a response
// status code. It accepts both the raw start line ("INVITE sip:bob@x SIP/2.0",
// "SIP/2.0 200 OK") and the "Request: "/"Status: " prefixed form.
func sipMessage(info string) (method string, status int, uri string) {
	info = strings.TrimSpace(info)
	info = strings.TrimPrefix(info, "Request: ")
	info = strings.TrimPrefix(info, "Status: ")
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return "", 0, ""
	}
	if strings.HasPrefix(fields[0], "SIP/") {
		if len(fields) > 1 {
			fmt.Sscanf(fields[1], "%d", &status)
		}
		return "", status, ""
	}
	if n, err := fmt.Sscanf(fields[0], "%d", &status); err == nil && n == 1 {
		return "", status, ""
	}
	method = strings.ToUpper(fields[0])
	if len(fields) > 1 && strings.HasPrefix(strings.ToLower(fields[1]), "sip") {
		uri = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(fields[1]), "sips:"), "sip:")
	}
	return method, 0, uri
}

// sipPair is a caller/callee address pair.
type sipPair struct{ caller, callee string }

type sipEvent struct {
	p      *model.PacketRecord
	invite bool
}

// answeredInvites counts, per callee, the 200 OK responses that answer an
// outstanding INVITE from the same caller. Events are paired in time order.
// A 200 for OPTIONS, REGISTER or BYE sent while an INVITE is still pending
// on the same pair is indistinguishable from the start line alone and is
// counted as an answer.
func answeredInvites(events []sipEvent) map[string]int {
	sort.SliceStable(events, func(i, j int) bool { return events[i].p.Timestamp.Before(events[j].p.Timestamp) })
	pending := make(map[sipPair]int)
	answered := make(map[string]int)
	for _, ev := range events {
		if ev.invite {
			pending[sipPair{caller: ev.p.SrcIP, callee: ev.p.DstIP}]++
			continue
		}
		pair := sipPair{caller: ev.p.DstIP, callee: ev.p.SrcIP}
		if pending[pair] > 0 {
			pending[pair]--
			answered[pair.callee]++
		}
	}
	return answered
}

type callAttempt struct {
	at   time.Time
	dest string
	p    *model.PacketRecord
}

func (d *VoIPAbuse) Detect(packets []model.PacketRecord) []model.Finding {
	sipBySource := newGroup[string]()
	invitesByCallee := newGroup[string]()
	var dialog []sipEvent
	callsBySource := make(map[string][]callAttempt)
	var callers []string
	rtpFlows := newGroup[model.ConversationKey]()

	for i := range packets {
		p := &packets[i]
		if isRTP(p) {
			rtpFlows.add(model.ConversationKey{AddressA: p.SrcIP, PortA: p.SrcPort, AddressB: p.DstIP, PortB: p.DstPort, Protocol: "RTP"}, p)
			continue
		}
		if !d.isSIP(p) || p.SrcIP == "" {
			continue
		}
		sipBySource.add(p.SrcIP, p)

		method, status, uri := sipMessage(p.Info)
		switch {
		case method == "INVITE":
			if p.DstIP != "" {
				invitesByCallee.add(p.DstIP, p)
				dialog = append(dialog, sipEvent{p: p, invite: true})
			}
			dest := uri
			if dest == "" {
				dest = p.DstIP
			}
			if _, ok := callsBySource[p.SrcIP]; !ok {
				callers = append(callers, p.SrcIP)
			}
			callsBySource[p.SrcIP] = append(callsBySource[p.SrcIP], callAttempt{at: p.Timestamp, dest: dest, p: p})
		case status == 200 && p.DstIP != "":
			dialog = append(dialog, sipEvent{p: p})
		}
	}

	var findings []model.Finding
	findings = append(findings, d.sipFlood(sipBySource)...)
	findings = append(findings, d.ghostCalls(invitesByCallee, answeredInvites(dialog))...)
	findings = append(findings, d.rtpQuality(rtpFlows)...)
	for _, src := range callers {
		if f, ok := d.tollFraudFor(src, callsBySource[src]); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func (d *VoIPAbuse) sipFlood(bySource *group[string]) []model.Finding {
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
		f := d.newFinding(model.KindThreat, "SIP Flooding", "VoIP Abuse", sev, members)
		f.SourceIP = src
		f.Evidence["MessagesPerSecond"] = round(rate, 2)
		f.Evidence["MessageCount"] = len(members)
		f.Evidence["UniqueTargets"] = distinct(members, dstOf)
		f.Description = fmt.Sprintf("%s sent %d SIP messages at %.1f/s", src, len(members), rate)
		f.Recommendation = "Rate-limit SIP signalling from this source and check for registration attacks."
		findings = append(findings, f)
	})
	return findings
}

func (d *VoIPAbuse) ghostCalls(byCallee *group[string], answeredByCallee map[string]int) []model.Finding {
	var findings []model.Finding
	byCallee.each(func(callee string, invites []*model.PacketRecord) {
		if len(invites) < d.cfg.MinInvites {
			return
		}
		answered := answeredByCallee[callee]
		ratio := float64(answered) / float64(len(invites))
		if ratio >= d.cfg.AnswerRatio {
			return
		}
		f := d.newFinding(model.KindThreat, "Ghost Calls", "VoIP Abuse", model.SeverityHigh, invites)
		f.DestinationIP = callee
		if distinct(invites, srcOf) == 1 {
			f.SourceIP = invites[0].SrcIP
		}
		f.Evidence["Invites"] = len(invites)
		f.Evidence["Answered"] = answered
		f.Evidence["AnswerRatio"] = round(ratio, 3)
		f.Description = fmt.Sprintf("%s received %d INVITEs but answered only %d", callee, len(invites), answered)
		f.Recommendation = "Restrict SIP to trusted peers and enable authentication on the endpoint."
		findings = append(findings, f)
	})
	return findings
}

func (d *VoIPAbuse) rtpQuality(flows *group[model.ConversationKey]) []model.Finding {
	var findings []model.Finding
	flows.each(func(key model.ConversationKey, members []*model.PacketRecord) {
		if len(members) < d.cfg.MinRTPPackets {
			return
		}
		gaps := intervals(byTime(members))
		jitter := rtpJitter(gaps) * 1000
		med := median(gaps)
		late := 0
		if med > 0 {
			for _, g := range gaps {
				if g > 2*med {
					late++
				}
			}
		}
		gapRatio := float64(late) / float64(len(gaps))

		var issues []string
		sev := model.SeverityLow
		if jitter > d.cfg.JitterMillis {
			issues = append(issues, "jitter")
			sev = model.SeverityMedium
		}
		if gapRatio > d.cfg.GapRatio {
			issues = append(issues, "packet gaps")
			sev = model.SeverityHigh
		}
		if len(issues) == 0 {
			return
		}

		f := d.newFinding(model.KindAnomaly, "RTP Quality Degradation", "VoIP Quality", sev, members)
		f.SourceIP = key.AddressA
		f.DestinationIP = key.AddressB
		f.Evidence["JitterMs"] = round(jitter, 2)
		f.Evidence["GapRatio"] = round(gapRatio, 3)
		f.Evidence["MedianIntervalMs"] = round(med*1000, 2)
		f.Evidence["PacketCount"] = len(members)
		f.Evidence["Issues"] = issues
		f.Description = fmt.Sprintf("RTP stream %s:%d -> %s:%d shows %s (jitter %.1f ms, %.0f%% gaps)",
			key.AddressA, key.PortA, key.AddressB, key.PortB, strings.Join(issues, " and "), jitter, gapRatio*100)
		f.Recommendation = "Check link congestion and QoS marking along the media path."
		findings = append(findings, f)
	})
	return findings
}

// rtpJitter is the RFC 3550 running estimate over inter-arrival deltas.
func rtpJitter(gaps []float64) float64 {
	var j float64
	for i := 1; i < len(gaps); i++ {
		diff := math.Abs(gaps[i] - gaps[i-1])
		j += (diff - j) / 16
	}
	return j
}

// tollFraudFor finds the most distinct call destinations a source reached
// inside any rolling window.
func (d *VoIPAbuse) tollFraudFor(src string, calls []callAttempt) (model.Finding, bool) {
	if len(calls) <= d.cfg.TollFraudDestinations {
		return model.Finding{}, false
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].at.Before(calls[j].at) })

	inWindow := make(map[string]int)
	best, bestStart, bestEnd := 0, 0, 0
	lo := 0
	for hi := range calls {
		inWindow[calls[hi].dest]++
		for calls[hi].at.Sub(calls[lo].at) > d.tollFraud {
			inWindow[calls[lo].dest]--
			if inWindow[calls[lo].dest] == 0 {
				delete(inWindow, calls[lo].dest)
			}
			lo++
		}
		if len(inWindow) > best {
			best, bestStart, bestEnd = len(inWindow), lo, hi
		}
	}
	if best <= d.cfg.TollFraudDestinations {
		return model.Finding{}, false
	}

	members := make([]*model.PacketRecord, 0, bestEnd-bestStart+1)
	for _, c := range calls[bestStart : bestEnd+1] {
		members = append(members, c.p)
	}
	confidence := math.Min(1, 0.5+0.5*float64(best-d.cfg.TollFraudDestinations)/float64(max(d.cfg.TollFraudDestinations, 1)))

	f := d.newFinding(model.KindThreat, "Toll Fraud", "VoIP Abuse", model.SeverityCritical, members)
	f.SourceIP = src
	f.Evidence["UniqueDestinations"] = best
	f.Evidence["CallAttempts"] = len(members)
	f.Evidence["WindowHours"] = round(d.tollFraud.Hours(), 2)
	f.Evidence["Confidence"] = round(confidence, 2)
	f.Description = fmt.Sprintf("%s called %d distinct destinations within %s", src, best, d.tollFraud)
	f.Recommendation = "Suspend outbound calling for the account and review dial plans and credentials."
	return f, true
}
