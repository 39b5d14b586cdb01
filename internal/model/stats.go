package model

import "time"

// BasicStatistics holds the single-pass totals over a packet collection.
type BasicStatistics struct {
	TotalPackets        int64 `json:"total_packets"`
	TotalBytes          int64 `json:"total_bytes"`
	UniqueIPs           int   `json:"unique_ips"`
	UniqueDestPorts     int   `json:"unique_dest_ports"`
	UniqueConversations int   `json:"unique_conversations"`
	UniqueProtocols     int   `json:"unique_protocols"`
}

// ProtocolStat is one row of the per-protocol breakdown.
type ProtocolStat struct {
	Protocol    string  `json:"protocol"`
	PacketCount int64   `json:"packet_count"`
	ByteCount   int64   `json:"byte_count"`
	Percentage  float64 `json:"percentage"`
	Color       string  `json:"color"`
}

// Location is the geographic attribution attached to an address.
type Location struct {
	CountryName string `json:"country_name"`
	CountryCode string `json:"country_code"`
	City        string `json:"city"`
	IsHighRisk  bool   `json:"is_high_risk"`
}

// EndpointStat is one row of the per-address breakdown. A packet counts
// toward both its source and destination endpoint.
type EndpointStat struct {
	Address         string    `json:"address"`
	PacketCount     int64     `json:"packet_count"`
	ByteCount       int64     `json:"byte_count"`
	PacketsSent     int64     `json:"packets_sent"`
	PacketsReceived int64     `json:"packets_received"`
	BytesSent       int64     `json:"bytes_sent"`
	BytesReceived   int64     `json:"bytes_received"`
	Percentage      float64   `json:"percentage"`
	IsInternal      bool      `json:"is_internal"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Location        *Location `json:"location,omitempty"`
}

// ConversationKey is the canonical, direction-independent 4-tuple plus
// protocol of a flow. Build it with NewConversationKey.
type ConversationKey struct {
	AddressA string `json:"address_a"`
	PortA    int    `json:"port_a"`
	AddressB string `json:"address_b"`
	PortB    int    `json:"port_b"`
	Protocol string `json:"protocol"`
}

// NewConversationKey orders the two endpoints so that A->B and B->A yield
// the same key.
func NewConversationKey(srcIP string, srcPort int, dstIP string, dstPort int, protocol string) ConversationKey {
	if endpointLess(dstIP, dstPort, srcIP, srcPort) {
		srcIP, dstIP = dstIP, srcIP
		srcPort, dstPort = dstPort, srcPort
	}
	return ConversationKey{AddressA: srcIP, PortA: srcPort, AddressB: dstIP, PortB: dstPort, Protocol: protocol}
}

func endpointLess(ipA string, portA int, ipB string, portB int) bool {
	if ipA != ipB {
		return ipA < ipB
	}
	return portA < portB
}

// ConversationStat is one row of the per-conversation breakdown.
type ConversationStat struct {
	Key           ConversationKey `json:"key"`
	PacketCount   int64           `json:"packet_count"`
	ByteCount     int64           `json:"byte_count"`
	Percentage    float64         `json:"percentage"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	LocationA     *Location       `json:"location_a,omitempty"`
	LocationB     *Location       `json:"location_b,omitempty"`
	IsCrossBorder bool            `json:"is_cross_border"`
	IsHighRisk    bool            `json:"is_high_risk"`
}

// Duration is the time between the first and last packet of the conversation.
func (c *ConversationStat) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

// PortStat is one row of the per-port breakdown. TCP and UDP on the same
// number are separate rows.
type PortStat struct {
	Port        int     `json:"port"`
	Protocol    string  `json:"protocol"`
	Service     string  `json:"service,omitempty"`
	PacketCount int64   `json:"packet_count"`
	ByteCount   int64   `json:"byte_count"`
	Percentage  float64 `json:"percentage"`
}

// ServiceStat is one row of the per-service breakdown.
type ServiceStat struct {
	Service     string  `json:"service"`
	Port        int     `json:"port"`
	Protocol    string  `json:"protocol"`
	PacketCount int64   `json:"packet_count"`
	ByteCount   int64   `json:"byte_count"`
	Percentage  float64 `json:"percentage"`
}

// RankedStatistics holds the grouped breakdowns. Every list is a truncated
// view over a fully computed ranking.
type RankedStatistics struct {
	Protocols          []ProtocolStat     `json:"protocols"`
	TopEndpoints       []EndpointStat     `json:"top_endpoints"`
	TopConversations   []ConversationStat `json:"top_conversations"`
	TotalConversations int                `json:"total_conversations"`
	TopPorts           []PortStat         `json:"top_ports"`
	UniquePortCount    int                `json:"unique_port_count"`
	PortlessByProtocol map[string]int64   `json:"portless_by_protocol,omitempty"`
	Services           []ServiceStat      `json:"services"`
}

// AggregateStatistics combines the single-pass totals with the ranked
// breakdowns.
type AggregateStatistics struct {
	BasicStatistics
	RankedStatistics
}
