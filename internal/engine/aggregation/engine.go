package aggregation

import (
	"fmt"
	"hash/fnv"
	"strings"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const (
	// DefaultTopN bounds the endpoint, conversation, port and service lists.
	DefaultTopN = 30
	// DefaultTopProtocols bounds the protocol list, including the "Other" row.
	DefaultTopProtocols = 10

	unknownLabel = "Unknown"
	otherLabel   = "Other"
)

var fallbackPalette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Engine computes single-pass and ranked statistics over packet collections.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	logger       *zap.Logger
	topN         int
	topProtocols int
}

// NewEngine creates an engine. Non-positive sizes fall back to the defaults.
func NewEngine(logger *zap.Logger, topN, topProtocols int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topProtocols <= 0 {
		topProtocols = DefaultTopProtocols
	}
	return &Engine{
		logger:       logger.Named("aggregation"),
		topN:         topN,
		topProtocols: topProtocols,
	}
}

// BasicStats computes the totals and distinct counts in one pass.
func (e *Engine) BasicStats(packets []model.PacketRecord) (stats model.BasicStatistics) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("basic statistics failed", zap.Error(fmt.Errorf("panic: %v", r)), zap.Int("packets", len(packets)))
			stats = model.BasicStatistics{}
		}
	}()

	ips := make(map[string]struct{})
	destPorts := make(map[int]struct{})
	conversations := make(map[model.ConversationKey]struct{})
	protocols := make(map[string]struct{})

	for i := range packets {
		p := &packets[i]
		stats.TotalPackets++
		stats.TotalBytes += int64(p.Length)

		if p.SrcIP != "" {
			ips[p.SrcIP] = struct{}{}
		}
		if p.DstIP != "" {
			ips[p.DstIP] = struct{}{}
		}
		if p.DstPort > 0 {
			destPorts[p.DstPort] = struct{}{}
		}
		if p.SrcPort > 0 && p.DstPort > 0 {
			conversations[conversationKey(p)] = struct{}{}
		}
		protocols[protocolLabel(p)] = struct{}{}
	}

	stats.UniqueIPs = len(ips)
	stats.UniqueDestPorts = len(destPorts)
	stats.UniqueConversations = len(conversations)
	stats.UniqueProtocols = len(protocols)
	return stats
}

// RankedStats groups packets by protocol, endpoint, conversation, port and
// service. colors maps protocol labels to display colors; wellKnown maps
// port numbers to service names. Both may be nil.
func (e *Engine) RankedStats(packets []model.PacketRecord, colors map[string]string, wellKnown map[int]string) (ranked model.RankedStatistics) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("ranked statistics failed", zap.Error(fmt.Errorf("panic: %v", r)), zap.Int("packets", len(packets)))
			ranked = model.RankedStatistics{}
		}
	}()

	total := int64(len(packets))
	ranked.Protocols = e.protocolStats(packets, total, colors)
	ranked.TopEndpoints = e.endpointStats(packets, total)
	ranked.TopConversations, ranked.TotalConversations = e.conversationStats(packets, total)
	ranked.TopPorts, ranked.UniquePortCount, ranked.PortlessByProtocol = e.portStats(packets, total, wellKnown)
	ranked.Services = e.serviceStats(packets, total, wellKnown)
	return ranked
}

// Aggregate runs BasicStats and RankedStats.
func (e *Engine) Aggregate(packets []model.PacketRecord, colors map[string]string, wellKnown map[int]string) model.AggregateStatistics {
	return model.AggregateStatistics{
		BasicStatistics:  e.BasicStats(packets),
		RankedStatistics: e.RankedStats(packets, colors, wellKnown),
	}
}

func (e *Engine) protocolStats(packets []model.PacketRecord, total int64, colors map[string]string) []model.ProtocolStat {
	g := newGroups[string, model.ProtocolStat]()
	for i := range packets {
		p := &packets[i]
		label := protocolLabel(p)
		s := g.get(label, func() *model.ProtocolStat { return &model.ProtocolStat{Protocol: label} })
		s.PacketCount++
		s.ByteCount += int64(p.Length)
	}

	all := rank(g.values(), func(s *model.ProtocolStat) int64 { return s.PacketCount })
	all = foldProtocols(all, e.topProtocols)

	out := make([]model.ProtocolStat, 0, len(all))
	for _, s := range all {
		s.Percentage = percentage(s.PacketCount, total)
		s.Color = colorFor(s.Protocol, colors)
		out = append(out, *s)
	}
	return out
}

// foldProtocols keeps the first limit-1 rows and merges the tail into an
// "Other" row, so per-protocol counts still sum to the total.
func foldProtocols(all []*model.ProtocolStat, limit int) []*model.ProtocolStat {
	if len(all) <= limit {
		return all
	}
	kept := append([]*model.ProtocolStat(nil), all[:limit-1]...)
	var other *model.ProtocolStat
	for _, s := range kept {
		if s.Protocol == otherLabel {
			other = s
		}
	}
	if other == nil {
		other = &model.ProtocolStat{Protocol: otherLabel}
		kept = append(kept, other)
	}
	for _, s := range all[limit-1:] {
		other.PacketCount += s.PacketCount
		other.ByteCount += s.ByteCount
	}
	return rank(kept, func(s *model.ProtocolStat) int64 { return s.PacketCount })
}

func (e *Engine) endpointStats(packets []model.PacketRecord, total int64) []model.EndpointStat {
	g := newGroups[string, model.EndpointStat]()
	touch := func(addr string, p *model.PacketRecord) *model.EndpointStat {
		s := g.get(addr, func() *model.EndpointStat {
			return &model.EndpointStat{
				Address:    addr,
				IsInternal: model.IsInternalAddress(addr),
				FirstSeen:  p.Timestamp,
				LastSeen:   p.Timestamp,
			}
		})
		s.PacketCount++
		s.ByteCount += int64(p.Length)
		if p.Timestamp.Before(s.FirstSeen) {
			s.FirstSeen = p.Timestamp
		}
		if p.Timestamp.After(s.LastSeen) {
			s.LastSeen = p.Timestamp
		}
		return s
	}

	for i := range packets {
		p := &packets[i]
		if p.SrcIP != "" {
			s := touch(p.SrcIP, p)
			s.PacketsSent++
			s.BytesSent += int64(p.Length)
		}
		if p.DstIP != "" && p.DstIP != p.SrcIP {
			s := touch(p.DstIP, p)
			s.PacketsReceived++
			s.BytesReceived += int64(p.Length)
		}
	}

	all := rank(g.values(), func(s *model.EndpointStat) int64 { return s.PacketCount })
	out := make([]model.EndpointStat, 0, min(len(all), e.topN))
	for _, s := range all[:min(len(all), e.topN)] {
		s.Percentage = percentage(s.PacketCount, total)
		out = append(out, *s)
	}
	return out
}

func (e *Engine) conversationStats(packets []model.PacketRecord, total int64) ([]model.ConversationStat, int) {
	g := newGroups[model.ConversationKey, model.ConversationStat]()
	for i := range packets {
		p := &packets[i]
		if p.SrcIP == "" || p.DstIP == "" {
			continue
		}
		key := conversationKey(p)
		s := g.get(key, func() *model.ConversationStat {
			return &model.ConversationStat{Key: key, StartTime: p.Timestamp, EndTime: p.Timestamp}
		})
		s.PacketCount++
		s.ByteCount += int64(p.Length)
		if p.Timestamp.Before(s.StartTime) {
			s.StartTime = p.Timestamp
		}
		if p.Timestamp.After(s.EndTime) {
			s.EndTime = p.Timestamp
		}
	}

	all := rank(g.values(), func(s *model.ConversationStat) int64 { return s.PacketCount })
	out := make([]model.ConversationStat, 0, min(len(all), e.topN))
	for _, s := range all[:min(len(all), e.topN)] {
		s.Percentage = percentage(s.PacketCount, total)
		out = append(out, *s)
	}
	return out, len(all)
}

type portKey struct {
	port     int
	protocol string
}

func (e *Engine) portStats(packets []model.PacketRecord, total int64, wellKnown map[int]string) ([]model.PortStat, int, map[string]int64) {
	g := newGroups[portKey, model.PortStat]()
	portless := make(map[string]int64)
	observe := func(port int, p *model.PacketRecord) {
		key := portKey{port: port, protocol: transportLabel(p)}
		s := g.get(key, func() *model.PortStat {
			return &model.PortStat{Port: port, Protocol: key.protocol, Service: wellKnown[port]}
		})
		s.PacketCount++
		s.ByteCount += int64(p.Length)
	}

	for i := range packets {
		p := &packets[i]
		if p.SrcPort <= 0 && p.DstPort <= 0 {
			portless[protocolLabel(p)]++
			continue
		}
		if p.SrcPort > 0 {
			observe(p.SrcPort, p)
		}
		if p.DstPort > 0 && p.DstPort != p.SrcPort {
			observe(p.DstPort, p)
		}
	}

	all := rank(g.values(), func(s *model.PortStat) int64 { return s.PacketCount })
	out := make([]model.PortStat, 0, min(len(all), e.topN))
	for _, s := range all[:min(len(all), e.topN)] {
		s.Percentage = percentage(s.PacketCount, total)
		out = append(out, *s)
	}
	if len(portless) == 0 {
		portless = nil
	}
	return out, len(all), portless
}

// serviceStats assigns every packet to exactly one service: the well-known
// destination port, then the well-known source port, then the application
// label, else "Other".
func (e *Engine) serviceStats(packets []model.PacketRecord, total int64, wellKnown map[int]string) []model.ServiceStat {
	g := newGroups[string, model.ServiceStat]()
	for i := range packets {
		p := &packets[i]
		name, port := otherLabel, 0
		switch {
		case wellKnown[p.DstPort] != "":
			name, port = wellKnown[p.DstPort], p.DstPort
		case wellKnown[p.SrcPort] != "":
			name, port = wellKnown[p.SrcPort], p.SrcPort
		case p.AppProtocol != "":
			name = p.AppProtocol
		}
		s := g.get(name, func() *model.ServiceStat {
			return &model.ServiceStat{Service: name, Port: port, Protocol: transportLabel(p)}
		})
		s.PacketCount++
		s.ByteCount += int64(p.Length)
	}

	all := rank(g.values(), func(s *model.ServiceStat) int64 { return s.PacketCount })
	out := make([]model.ServiceStat, 0, min(len(all), e.topN))
	for _, s := range all[:min(len(all), e.topN)] {
		s.Percentage = percentage(s.PacketCount, total)
		out = append(out, *s)
	}
	return out
}

func protocolLabel(p *model.PacketRecord) string {
	if l := p.ProtocolLabel(); l != "" {
		return l
	}
	return unknownLabel
}

func transportLabel(p *model.PacketRecord) string {
	if p.Protocol == "" {
		return unknownLabel
	}
	return strings.ToUpper(p.Protocol)
}

func conversationKey(p *model.PacketRecord) model.ConversationKey {
	return model.NewConversationKey(p.SrcIP, p.SrcPort, p.DstIP, p.DstPort, transportLabel(p))
}

func percentage(count, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) * 100 / float64(total)
}

// colorFor picks the configured color, else a stable palette entry derived
// from the label.
func colorFor(label string, colors map[string]string) string {
	if c, ok := colors[label]; ok && c != "" {
		return c
	}
	h := fnv.New32a()
	h.Write([]byte(label))
	return fallbackPalette[h.Sum32()%uint32(len(fallbackPalette))]
}
