package pcap

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrUnsupported marks frames that carry neither IP nor ARP.
var ErrUnsupported = errors.New("unsupported frame")

const maxInfoLen = 200

// appByPort labels well-known ports with their application protocol.
var appByPort = map[int]string{
	20: "FTP", 21: "FTP", 22: "SSH", 23: "Telnet", 25: "SMTP", 53: "DNS",
	67: "DHCP", 68: "DHCP", 69: "TFTP", 80: "HTTP", 110: "POP3", 123: "NTP",
	137: "NetBIOS", 138: "NetBIOS", 139: "NetBIOS", 143: "IMAP", 161: "SNMP",
	194: "IRC", 443: "TLS", 445: "SMB", 513: "rlogin", 514: "rsh", 993: "IMAPS",
	1883: "MQTT", 3306: "MySQL", 3389: "RDP", 5060: "SIP", 5061: "SIP",
	5432: "PostgreSQL", 5683: "CoAP", 5684: "CoAP", 6667: "IRC", 8080: "HTTP",
	8883: "MQTT",
}

// Decode converts one captured frame into a packet record.
func Decode(packet gopacket.Packet, frame int64) (model.PacketRecord, error) {
	rec := model.PacketRecord{FrameNumber: frame, Length: len(packet.Data())}
	if md := packet.Metadata(); md != nil {
		rec.Timestamp = md.Timestamp
		if md.Length > 0 {
			rec.Length = md.Length
		}
	}

	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		rec.SrcIP, rec.DstIP = ip.SrcIP.String(), ip.DstIP.String()
		rec.Protocol = ipProtocolName(ip.Protocol)
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		rec.SrcIP, rec.DstIP = ip.SrcIP.String(), ip.DstIP.String()
		rec.Protocol = ipProtocolName(ip.NextHeader)
	case packet.Layer(layers.LayerTypeARP) != nil:
		arp := packet.Layer(layers.LayerTypeARP).(*layers.ARP)
		rec.Protocol = "ARP"
		if arp.Operation == layers.ARPRequest {
			rec.Info = fmt.Sprintf("Who has %s?", ipString(arp.DstProtAddress))
		} else {
			rec.Info = fmt.Sprintf("%s is at %s", ipString(arp.SourceProtAddress), macString(arp.SourceHwAddress))
		}
		return rec, nil
	default:
		return rec, fmt.Errorf("frame %d: %w", frame, ErrUnsupported)
	}

	var payload []byte
	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		rec.Protocol = "TCP"
		rec.SrcPort, rec.DstPort = int(tcp.SrcPort), int(tcp.DstPort)
		payload = tcp.Payload
		if tcp.SYN && !tcp.ACK {
			rec.Info = fmt.Sprintf("%d -> %d [SYN]", rec.SrcPort, rec.DstPort)
		}
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		rec.Protocol = "UDP"
		rec.SrcPort, rec.DstPort = int(udp.SrcPort), int(udp.DstPort)
		payload = udp.Payload
	}

	if l := packet.Layer(layers.LayerTypeDNS); l != nil {
		rec.AppProtocol = "DNS"
		rec.Info = dnsInfo(l.(*layers.DNS))
		return rec, nil
	}

	rec.AppProtocol = appLabel(rec.SrcPort, rec.DstPort)
	if info := payloadInfo(&rec, payload); info != "" {
		rec.Info = info
	}
	return rec, nil
}

func ipProtocolName(p layers.IPProtocol) string {
	switch p {
	case layers.IPProtocolICMPv4:
		return "ICMP"
	case layers.IPProtocolICMPv6:
		return "ICMPv6"
	case layers.IPProtocolTCP:
		return "TCP"
	case layers.IPProtocolUDP:
		return "UDP"
	}
	return p.String()
}

func appLabel(srcPort, dstPort int) string {
	if app, ok := appByPort[dstPort]; ok {
		return app
	}
	return appByPort[srcPort]
}

func dnsInfo(dns *layers.DNS) string {
	kind := "Standard query"
	if dns.QR {
		kind = "Standard query response"
	}
	if len(dns.Questions) == 0 {
		return fmt.Sprintf("%s 0x%04x", kind, dns.ID)
	}
	q := dns.Questions[0]
	return fmt.Sprintf("%s 0x%04x %s %s", kind, dns.ID, q.Type, string(q.Name))
}

// payloadInfo derives a summary line from the application payload and may
// refine the application label.
func payloadInfo(rec *model.PacketRecord, payload []byte) string {
	if len(payload) == 0 {
		return ""
	}

	if rec.AppProtocol == "MQTT" {
		switch payload[0] >> 4 {
		case 1:
			return "Connect Command"
		case 2:
			return "Connect Ack"
		case 3:
			return "Publish Message"
		case 8:
			return "Subscribe Request"
		}
	}

	if rec.Protocol == "UDP" && rec.AppProtocol == "" && isRTP(rec, payload) {
		rec.AppProtocol = "RTP"
		return fmt.Sprintf("PT=%d, SSRC=0x%X, Seq=%d", payload[1]&0x7f,
			uint32(payload[8])<<24|uint32(payload[9])<<16|uint32(payload[10])<<8|uint32(payload[11]),
			int(payload[2])<<8|int(payload[3]))
	}

	line := firstLine(payload)
	if line == "" {
		return ""
	}
	if strings.Contains(line, "SIP/2.0") {
		rec.AppProtocol = "SIP"
	}
	return line
}

// isRTP recognises version-2 RTP on the dynamic port range.
func isRTP(rec *model.PacketRecord, payload []byte) bool {
	if len(payload) < 12 || payload[0]>>6 != 2 {
		return false
	}
	inRange := func(p int) bool { return p >= 16384 && p <= 32767 }
	return inRange(rec.SrcPort) || inRange(rec.DstPort)
}

// firstLine returns the first line of a mostly printable payload.
func firstLine(payload []byte) string {
	if len(payload) > 4*maxInfoLen {
		payload = payload[:4*maxInfoLen]
	}
	s := string(payload)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	printable := 0
	for _, r := range s {
		if unicode.IsPrint(r) {
			printable++
		}
	}
	if len(s) == 0 || printable*10 < len(s)*9 {
		return ""
	}
	if len(s) > maxInfoLen {
		s = s[:maxInfoLen]
	}
	return strings.TrimSpace(s)
}

func ipString(b []byte) string {
	if len(b) == 4 {
		return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
	}
	return fmt.Sprintf("%x", b)
}

func macString(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}
