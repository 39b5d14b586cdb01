package model

import (
	"strings"
	"time"
)

// PacketRecord is the read-only view of one captured frame, as produced by
// the capture/decode stage.
type PacketRecord struct {
	FrameNumber int64     `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	SrcPort     int       `json:"src_port"`
	DstPort     int       `json:"dst_port"`
	// Protocol is the transport protocol name, e.g. "TCP", "UDP", "ICMP".
	Protocol string `json:"protocol"`
	// AppProtocol is the application-layer label, e.g. "DNS", "HTTP". Optional.
	AppProtocol string `json:"app_protocol,omitempty"`
	Length      int    `json:"length"`
	Info        string `json:"info,omitempty"`
}

// ProtocolLabel returns the application-layer label when present, else the
// transport protocol name.
func (p *PacketRecord) ProtocolLabel() string {
	if p.AppProtocol != "" {
		return p.AppProtocol
	}
	return p.Protocol
}

// IsTransport reports whether the packet's transport protocol equals name,
// ignoring case.
func (p *PacketRecord) IsTransport(name string) bool {
	return strings.EqualFold(p.Protocol, name)
}

// HasLabel reports whether either the application label or the transport
// protocol equals label, ignoring case.
func (p *PacketRecord) HasLabel(label string) bool {
	return strings.EqualFold(p.AppProtocol, label) || strings.EqualFold(p.Protocol, label)
}

// UsesPort reports whether the packet's source or destination port is port.
func (p *PacketRecord) UsesPort(port int) bool {
	return port > 0 && (p.SrcPort == port || p.DstPort == port)
}
