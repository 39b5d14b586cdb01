package detector

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"Go2NetSentinel/internal/model"
)

func scan(ports int, spacing time.Duration) []model.PacketRecord {
	b := &packetBuilder{}
	for i := 0; i < ports; i++ {
		b.add(model.PacketRecord{
			Timestamp: t0.Add(time.Duration(i) * spacing),
			SrcIP:     "1.2.3.4",
			SrcPort:   40000,
			DstIP:     "5.6.7.8",
			DstPort:   i + 1,
			Length:    60,
		})
	}
	return b.packets
}

func TestPortScan_SeverityMonotonic(t *testing.T) {
	steady := time.Second / 60
	tests := []struct {
		name    string
		ports   int
		spacing time.Duration
		want    model.Severity
		none    bool
	}{
		{"1200 ports", 1200, steady, model.SeverityCritical, false},
		{"600 ports", 600, steady, model.SeverityHigh, false},
		{"250 ports", 250, steady, model.SeverityMedium, false},
		{"60 ports", 60, time.Second, 0, true},
	}

	d := NewPortScan(defaults().PortScan, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packets := scan(tt.ports, tt.spacing)
			var findings []model.Finding
			if d.CanDetect(packets) {
				findings = d.Detect(packets)
			}
			if tt.none {
				if len(findings) != 0 {
					t.Fatalf("Expected no finding, got %+v", findings)
				}
				return
			}
			if len(findings) != 1 {
				t.Fatalf("Expected 1 finding, got %d", len(findings))
			}
			if findings[0].Severity != tt.want {
				t.Errorf("Severity = %s, want %s", findings[0].Severity, tt.want)
			}
		})
	}
}

func TestPortScan_FastScanScenario(t *testing.T) {
	// 600 distinct ports inside 3 seconds.
	packets := scan(600, 5*time.Millisecond)
	d := NewPortScan(defaults().PortScan, nil)
	if !d.CanDetect(packets) {
		t.Fatal("CanDetect should pass")
	}
	findings := d.Detect(packets)
	if len(findings) != 1 {
		t.Fatalf("Expected exactly one finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Type != "Port Scan" || f.Severity != model.SeverityCritical {
		t.Errorf("Expected Critical Port Scan, got %s %s", f.Severity, f.Type)
	}
	if f.Evidence["UniquePorts"] != 600 {
		t.Errorf("Expected UniquePorts 600, got %v", f.Evidence["UniquePorts"])
	}
	if f.SourceIP != "1.2.3.4" || f.DestinationIP != "5.6.7.8" {
		t.Errorf("Unexpected endpoints %s -> %s", f.SourceIP, f.DestinationIP)
	}
	if !f.DetectedAt.Equal(packets[len(packets)-1].Timestamp) {
		t.Errorf("DetectedAt should be the last packet time, got %s", f.DetectedAt)
	}
	if len(f.AffectedFrames) != model.MaxAffectedFrames {
		t.Errorf("Expected bounded affected frames, got %d", len(f.AffectedFrames))
	}
}

func TestDDoS(t *testing.T) {
	burst := &packetBuilder{}
	for i := 0; i < 1500; i++ {
		burst.add(model.PacketRecord{
			Timestamp: t0.Add(time.Duration(i) * 3 * time.Millisecond),
			SrcIP:     fmt.Sprintf("198.51.100.%d", i%200),
			DstIP:     "203.0.113.10",
			DstPort:   80,
		})
	}
	spread := &packetBuilder{}
	for i := 0; i < 1500; i++ {
		spread.add(model.PacketRecord{
			Timestamp: t0.Add(time.Duration(i) * 100 * time.Millisecond),
			SrcIP:     "198.51.100.1",
			DstIP:     "203.0.113.10",
			DstPort:   80,
		})
	}

	d := NewDDoS(defaults().DDoS, nil)
	findings := d.Detect(burst.packets)
	if len(findings) != 1 || findings[0].Severity != model.SeverityCritical {
		t.Fatalf("Expected one Critical DDoS finding, got %+v", findings)
	}
	if findings[0].Evidence["UniqueSources"] != 200 {
		t.Errorf("Expected 200 sources, got %v", findings[0].Evidence["UniqueSources"])
	}
	if got := d.Detect(spread.packets); len(got) != 0 {
		t.Errorf("Expected no finding for 10 packets/s, got %d", len(got))
	}
	if d.CanDetect(burst.packets[:500]) {
		t.Error("CanDetect should fail below the threshold")
	}
}

func TestSuspiciousProtocol(t *testing.T) {
	b := &packetBuilder{}
	b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 23, AppProtocol: "telnet"})
	b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 23, AppProtocol: "TELNET"})
	b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.3", DstIP: "10.0.0.4", DstPort: 21, AppProtocol: "FTP"})
	b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.3", DstIP: "10.0.0.4", DstPort: 22, AppProtocol: "SSH"})

	d := NewSuspiciousProtocol(defaults().SuspiciousProtocol.Denylist, nil)
	if !d.CanDetect(b.packets) {
		t.Fatal("CanDetect should pass")
	}
	findings := d.Detect(b.packets)
	if len(findings) != 2 {
		t.Fatalf("Expected one finding per protocol, got %d", len(findings))
	}
	if findings[0].Evidence["Protocol"] != "Telnet" || findings[0].Evidence["PacketCount"] != 2 {
		t.Errorf("Unexpected telnet evidence: %v", findings[0].Evidence)
	}
	for _, f := range findings {
		if f.Severity != model.SeverityMedium {
			t.Errorf("Expected Medium, got %s", f.Severity)
		}
	}
	if d.CanDetect(b.packets[3:]) {
		t.Error("SSH alone should not pass CanDetect")
	}
}

func TestAnomalousSize(t *testing.T) {
	b := &packetBuilder{}
	for i := 0; i < 100; i++ {
		b.add(model.PacketRecord{Timestamp: t0, Length: 500})
	}
	b.add(model.PacketRecord{Timestamp: t0.Add(time.Second), Length: 9000})

	d := NewAnomalousSize(defaults().Size, nil)
	if !d.CanDetect(b.packets) {
		t.Fatal("CanDetect should pass")
	}
	findings := d.Detect(b.packets)
	if len(findings) != 1 {
		t.Fatalf("Expected one finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Kind != model.KindAnomaly || f.Severity != model.SeverityLow {
		t.Errorf("Expected a Low anomaly, got %s %s", f.Kind, f.Severity)
	}
	if f.Evidence["AffectedCount"] != 1 || f.Evidence["MaxSize"] != 9000 {
		t.Errorf("Unexpected evidence: %v", f.Evidence)
	}
	if len(f.AffectedFrames) != 1 || f.AffectedFrames[0] != 101 {
		t.Errorf("Expected frame 101, got %v", f.AffectedFrames)
	}
	if d.CanDetect(b.packets[:100]) {
		t.Error("CanDetect should fail when nothing exceeds the size floor")
	}
}

func TestCryptoMining(t *testing.T) {
	t.Run("pool scanning", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 6; i++ {
			b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.5", DstIP: fmt.Sprintf("198.51.100.%d", i+1), DstPort: 3333})
		}
		findings := NewCryptoMining(defaults().Mining, nil).Detect(b.packets)
		got := ofType(findings, "Mining Pool Scanning")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh || got[0].Evidence["UniqueDestinations"] != 6 {
			t.Fatalf("Expected High pool scanning over 6 hosts, got %+v", findings)
		}
	})

	t.Run("stratum", func(t *testing.T) {
		b := &packetBuilder{}
		b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.6", DstIP: "198.51.100.9", DstPort: 443,
			Info: `{"id":1,"method":"mining.subscribe","params":["xmrig/6.0"]}`})
		d := NewCryptoMining(defaults().Mining, nil)
		if !d.CanDetect(b.packets) {
			t.Fatal("CanDetect should pass")
		}
		got := ofType(d.Detect(b.packets), "Stratum Mining Protocol")
		if len(got) != 1 || got[0].Severity != model.SeverityCritical {
			t.Fatalf("Expected Critical stratum finding, got %+v", got)
		}
	})

	t.Run("volume", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 11; i++ {
			b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.7", DstIP: "198.51.100.10", DstPort: 4444, Length: 1 << 20})
		}
		got := ofType(NewCryptoMining(defaults().Mining, nil).Detect(b.packets), "Mining Traffic Volume")
		if len(got) != 1 || got[0].Severity != model.SeverityMedium {
			t.Fatalf("Expected Medium volume finding, got %+v", got)
		}
	})

	poolConnections := func(dests int) []model.PacketRecord {
		b := &packetBuilder{}
		for i := 0; i < dests; i++ {
			b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.9", DstIP: fmt.Sprintf("203.0.113.%d", i+1), DstPort: 443,
				Info: fmt.Sprintf("Client Hello (SNI=eu%d.nanopool.org)", i+1)})
		}
		return b.packets
	}

	t.Run("pool connections", func(t *testing.T) {
		d := NewCryptoMining(defaults().Mining, nil)
		packets := poolConnections(5)
		if !d.CanDetect(packets) {
			t.Fatal("CanDetect should pass for pool-labelled destinations")
		}
		got := ofType(d.Detect(packets), "Mining Pool Connections")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh || got[0].Evidence["UniqueDestinations"] != 5 {
			t.Fatalf("Expected High pool connections over 5 hosts, got %+v", got)
		}
	})

	t.Run("four pool destinations", func(t *testing.T) {
		if findings := NewCryptoMining(defaults().Mining, nil).Detect(poolConnections(4)); len(findings) != 0 {
			t.Fatalf("Expected no finding below 5 destinations, got %+v", findings)
		}
	})

	t.Run("quiet", func(t *testing.T) {
		b := &packetBuilder{}
		b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.8", DstIP: "198.51.100.11", DstPort: 443})
		if NewCryptoMining(defaults().Mining, nil).CanDetect(b.packets) {
			t.Error("CanDetect should fail for ordinary HTTPS")
		}
	})
}

func dnsQuery(b *packetBuilder, at time.Time, name string) {
	b.add(model.PacketRecord{
		Timestamp:   at,
		SrcIP:       "10.0.0.53",
		SrcPort:     53000,
		DstIP:       "10.0.0.1",
		DstPort:     53,
		Protocol:    "UDP",
		AppProtocol: "DNS",
		Info:        "Standard query 0x1a2b TXT " + name,
	})
}

func rotate(s string, n int) string {
	n %= len(s)
	return s[n:] + s[:n]
}

func TestDNSTunnel(t *testing.T) {
	d := NewDNSTunnel(defaults().DNSTunnel, nil)

	t.Run("whitelisted busy domain", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 200; i++ {
			dnsQuery(b, t0.Add(time.Duration(i)*300*time.Millisecond), "www.d111111abcdef8.cloudfront.net")
		}
		if !d.CanDetect(b.packets) {
			t.Fatal("CanDetect should pass")
		}
		if got := d.Detect(b.packets); len(got) != 0 {
			t.Fatalf("Whitelisted domain produced %d findings", len(got))
		}
	})

	t.Run("busy low entropy domain", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 200; i++ {
			dnsQuery(b, t0.Add(time.Duration(i)*300*time.Millisecond), "www.busy-example.org")
		}
		got := d.Detect(b.packets)
		if len(got) != 1 || got[0].Severity != model.SeverityMedium {
			t.Fatalf("Expected a Medium rate finding, got %+v", got)
		}
		if got[0].Evidence["Domain"] != "busy-example.org" {
			t.Errorf("Unexpected domain %v", got[0].Evidence["Domain"])
		}
	})

	t.Run("high entropy slow", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 20; i++ {
			dnsQuery(b, t0.Add(time.Duration(i)*30*time.Second), rotate("abcdefghijklmnopqrst", i)+".evil-tunnel.com")
		}
		got := d.Detect(b.packets)
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected a High entropy finding, got %+v", got)
		}
	})

	t.Run("high entropy fast", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 200; i++ {
			dnsQuery(b, t0.Add(time.Duration(i)*200*time.Millisecond), rotate("abcdefghijklmnopqrst", i)+".evil-tunnel.co.uk")
		}
		got := d.Detect(b.packets)
		if len(got) != 1 || got[0].Severity != model.SeverityCritical {
			t.Fatalf("Expected a Critical finding, got %+v", got)
		}
		if got[0].Evidence["Domain"] != "evil-tunnel.co.uk" {
			t.Errorf("Expected eTLD+1 evil-tunnel.co.uk, got %v", got[0].Evidence["Domain"])
		}
	})

	t.Run("encoded queries mixed with plain names", func(t *testing.T) {
		b := &packetBuilder{}
		// 1. Interleave plain "www" lookups with encoded chunks at a slow rate.
		for i := 0; i < 15; i++ {
			dnsQuery(b, t0.Add(time.Duration(2*i)*30*time.Second), "www.mixed-tunnel.net")
			dnsQuery(b, t0.Add(time.Duration(2*i+1)*30*time.Second), rotate("abcdefghijklmnopqrst", i)+".mixed-tunnel.net")
		}
		// 2. The plain names must not pull the average below the threshold.
		got := d.Detect(b.packets)
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected a High entropy finding, got %+v", got)
		}
		if got[0].Evidence["EncodedQueries"] != 15 || got[0].Evidence["QueryCount"] != 30 {
			t.Errorf("Unexpected evidence %+v", got[0].Evidence)
		}
	})

	t.Run("below minimum", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 9; i++ {
			dnsQuery(b, t0, rotate("abcdefghijklmnopqrst", i)+".evil-tunnel.com")
		}
		if got := d.Detect(b.packets); len(got) != 0 {
			t.Errorf("Expected no finding below the minimum, got %d", len(got))
		}
	})
}

func TestBaseDomainAndQueryName(t *testing.T) {
	tests := map[string]string{
		"a.b.example.co.uk": "example.co.uk",
		"www.example.com":   "example.com",
		"example.com":       "example.com",
	}
	for in, want := range tests {
		if got := BaseDomain(in); got != want {
			t.Errorf("BaseDomain(%q) = %q, want %q", in, got, want)
		}
	}
	if got := QueryName("Standard query 0x0001 A Mail.Example.com."); got != "mail.example.com" {
		t.Errorf("QueryName = %q", got)
	}
	if got := QueryName("Standard query 0x0001 A"); got != "" {
		t.Errorf("Expected no name, got %q", got)
	}
}

func sip(b *packetBuilder, at time.Time, src, dst, info string) {
	b.add(model.PacketRecord{
		Timestamp: at, SrcIP: src, SrcPort: 5060, DstIP: dst, DstPort: 5060,
		Protocol: "UDP", AppProtocol: "SIP", Info: info,
	})
}

func TestVoIPAbuse(t *testing.T) {
	d := NewVoIPAbuse(defaults().VoIP, nil)

	t.Run("flood", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 300; i++ {
			sip(b, t0.Add(time.Duration(i)*(2*time.Second/300)), "10.0.0.9", "10.0.0.10", "REGISTER sip:pbx.example SIP/2.0")
		}
		got := ofType(d.Detect(b.packets), "SIP Flooding")
		if len(got) != 1 || got[0].Severity != model.SeverityCritical {
			t.Fatalf("Expected Critical flooding, got %+v", got)
		}
	})

	t.Run("ghost calls", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 12; i++ {
			sip(b, t0.Add(time.Duration(i)*time.Second), "198.51.100.5", "10.0.0.20", "INVITE sip:100@10.0.0.20 SIP/2.0")
		}
		sip(b, t0.Add(13*time.Second), "10.0.0.20", "198.51.100.5", "SIP/2.0 200 OK")
		got := ofType(d.Detect(b.packets), "Ghost Calls")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected High ghost call finding, got %+v", got)
		}
		if got[0].Evidence["Invites"] != 12 || got[0].Evidence["Answered"] != 1 {
			t.Errorf("Unexpected evidence %v", got[0].Evidence)
		}
	})

	t.Run("ghost calls behind keep-alives", func(t *testing.T) {
		b := &packetBuilder{}
		// A monitoring host polls the callee with OPTIONS, each answered with 200 OK.
		for i := 0; i < 10; i++ {
			at := t0.Add(time.Duration(i) * time.Second)
			sip(b, at, "198.51.100.7", "10.0.0.21", "OPTIONS sip:10.0.0.21 SIP/2.0")
			sip(b, at.Add(10*time.Millisecond), "10.0.0.21", "198.51.100.7", "SIP/2.0 200 OK")
		}
		for i := 0; i < 12; i++ {
			sip(b, t0.Add(time.Duration(20+i)*time.Second), "198.51.100.6", "10.0.0.21", "INVITE sip:101@10.0.0.21 SIP/2.0")
		}
		got := ofType(d.Detect(b.packets), "Ghost Calls")
		if len(got) != 1 || got[0].Evidence["Answered"] != 0 {
			t.Fatalf("Expected unanswered INVITEs despite OPTIONS replies, got %+v", got)
		}
	})

	t.Run("toll fraud", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 25; i++ {
			sip(b, t0.Add(time.Duration(i)*time.Minute), "10.0.0.30", "203.0.113.50",
				fmt.Sprintf("INVITE sip:+44200000%04d@carrier.example SIP/2.0", i))
		}
		got := ofType(d.Detect(b.packets), "Toll Fraud")
		if len(got) != 1 || got[0].Severity != model.SeverityCritical {
			t.Fatalf("Expected Critical toll fraud, got %+v", got)
		}
		if got[0].Evidence["UniqueDestinations"] != 25 {
			t.Errorf("Expected 25 destinations, got %v", got[0].Evidence["UniqueDestinations"])
		}
	})

	t.Run("toll fraud outside window", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 25; i++ {
			sip(b, t0.Add(time.Duration(i)*20*time.Minute), "10.0.0.31", "203.0.113.50",
				fmt.Sprintf("INVITE sip:+44200000%04d@carrier.example SIP/2.0", i))
		}
		if got := ofType(d.Detect(b.packets), "Toll Fraud"); len(got) != 0 {
			t.Errorf("Calls spread over 8 hours should not trip a 3 hour window, got %+v", got)
		}
	})

	rtp := func(gaps []time.Duration) []model.PacketRecord {
		b := &packetBuilder{}
		at := t0
		for _, g := range gaps {
			at = at.Add(g)
			b.add(model.PacketRecord{Timestamp: at, SrcIP: "10.0.0.40", SrcPort: 16384, DstIP: "10.0.0.41", DstPort: 16386,
				Protocol: "UDP", AppProtocol: "RTP", Length: 214})
		}
		return b.packets
	}

	t.Run("clean rtp", func(t *testing.T) {
		gaps := make([]time.Duration, 50)
		for i := range gaps {
			gaps[i] = 20 * time.Millisecond
		}
		if got := ofType(d.Detect(rtp(gaps)), "RTP Quality Degradation"); len(got) != 0 {
			t.Errorf("Steady stream flagged: %+v", got)
		}
	})

	t.Run("rtp jitter", func(t *testing.T) {
		gaps := make([]time.Duration, 50)
		for i := range gaps {
			gaps[i] = 20 * time.Millisecond
			if i%2 == 1 {
				gaps[i] = 80 * time.Millisecond
			}
		}
		got := ofType(d.Detect(rtp(gaps)), "RTP Quality Degradation")
		if len(got) != 1 || got[0].Severity != model.SeverityMedium {
			t.Fatalf("Expected Medium RTP finding, got %+v", got)
		}
		issues, _ := got[0].Evidence["Issues"].([]string)
		if strings.Join(issues, ",") != "jitter" {
			t.Errorf("Expected jitter as the only issue, got %v", issues)
		}
	})

	t.Run("rtp gaps", func(t *testing.T) {
		gaps := make([]time.Duration, 50)
		for i := range gaps {
			gaps[i] = 20 * time.Millisecond
			if i%5 == 4 {
				gaps[i] = 100 * time.Millisecond
			}
		}
		got := ofType(d.Detect(rtp(gaps)), "RTP Quality Degradation")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected High RTP finding, got %+v", got)
		}
		issues, _ := got[0].Evidence["Issues"].([]string)
		if !strings.Contains(strings.Join(issues, ","), "packet gaps") {
			t.Errorf("Expected packet gaps issue, got %v", issues)
		}
	})
}

func TestIoTAbuse(t *testing.T) {
	d := NewIoTAbuse(defaults().IoT, nil)

	t.Run("multiple brokers", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 5; i++ {
			b.add(model.PacketRecord{Timestamp: t0.Add(time.Duration(i) * time.Second), SrcIP: "10.0.0.40", SrcPort: 50000 + i,
				DstIP: fmt.Sprintf("198.51.100.%d", 20+i), DstPort: 1883, AppProtocol: "MQTT", Info: "Publish Message"})
		}
		got := ofType(d.Detect(b.packets), "Multiple Brokers")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected High multiple brokers finding, got %+v", got)
		}
	})

	t.Run("four brokers", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 4; i++ {
			b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.41", SrcPort: 50000, DstIP: fmt.Sprintf("198.51.100.%d", 30+i), DstPort: 5683, Protocol: "UDP"})
		}
		got := ofType(d.Detect(b.packets), "Multiple Brokers")
		if len(got) != 1 || got[0].Severity != model.SeverityMedium {
			t.Fatalf("Expected Medium multiple brokers finding, got %+v", got)
		}
	})

	t.Run("coap amplification", func(t *testing.T) {
		b := &packetBuilder{}
		b.add(model.PacketRecord{Timestamp: t0, SrcIP: "203.0.113.7", SrcPort: 40000, DstIP: "10.0.0.42", DstPort: 5683, Protocol: "UDP", Length: 50})
		b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.42", SrcPort: 5683, DstIP: "203.0.113.7", DstPort: 40000, Protocol: "UDP", Length: 5000})
		got := ofType(d.Detect(b.packets), "CoAP Amplification")
		if len(got) != 1 || got[0].Severity != model.SeverityCritical {
			t.Fatalf("Expected Critical amplification, got %+v", got)
		}
		if got[0].SourceIP != "10.0.0.42" || got[0].DestinationIP != "203.0.113.7" {
			t.Errorf("Expected server -> client, got %s -> %s", got[0].SourceIP, got[0].DestinationIP)
		}
	})

	t.Run("probing", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 15; i++ {
			b.add(model.PacketRecord{Timestamp: t0.Add(time.Duration(i) * 2 * time.Second), SrcIP: "198.51.100.99", SrcPort: 40000 + i,
				DstIP: "10.0.0.43", DstPort: 1883, AppProtocol: "MQTT", Info: "Connect Command"})
		}
		got := ofType(d.Detect(b.packets), "Unauthorized Access Probing")
		if len(got) != 1 || got[0].Severity != model.SeverityMedium {
			t.Fatalf("Expected Medium probing finding, got %+v", got)
		}
		if got[0].Evidence["Attempts"] != 15 {
			t.Errorf("Expected 15 attempts, got %v", got[0].Evidence["Attempts"])
		}
	})

	t.Run("mqtt flood", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i < 500; i++ {
			b.add(model.PacketRecord{Timestamp: t0.Add(time.Duration(i) * 4 * time.Millisecond), SrcIP: "10.0.0.44", SrcPort: 50000,
				DstIP: "10.0.0.45", DstPort: 1883, AppProtocol: "MQTT", Info: "Publish Message"})
		}
		got := ofType(d.Detect(b.packets), "MQTT Flooding")
		if len(got) != 1 || got[0].Severity != model.SeverityCritical {
			t.Fatalf("Expected Critical MQTT flood, got %+v", got)
		}
	})
}

func TestDataExfiltration(t *testing.T) {
	d := NewDataExfiltration(defaults().Exfiltration, nil)
	upload := func(port int) []model.PacketRecord {
		b := &packetBuilder{}
		for i := 0; i < 12; i++ {
			b.add(model.PacketRecord{Timestamp: t0.Add(time.Duration(i) * time.Second), SrcIP: "10.0.0.50", SrcPort: 50000,
				DstIP: "203.0.113.9", DstPort: port, Length: 1 << 20})
		}
		return b.packets
	}

	t.Run("standard port volume", func(t *testing.T) {
		got := ofType(d.Detect(upload(443)), "Data Exfiltration")
		if len(got) != 1 || got[0].Severity != model.SeverityMedium {
			t.Fatalf("Expected Medium exfiltration, got %+v", got)
		}
		if got[0].Evidence["NonStandardPort"] != false {
			t.Errorf("Port 443 should be standard")
		}
	})

	t.Run("non-standard port volume", func(t *testing.T) {
		got := ofType(d.Detect(upload(9999)), "Data Exfiltration")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected escalated High exfiltration, got %+v", got)
		}
	})

	t.Run("outbound ratio", func(t *testing.T) {
		got := ofType(d.Detect(upload(443)), "Unusual Outbound Traffic")
		if len(got) != 1 || got[0].SourceIP != "10.0.0.50" {
			t.Fatalf("Expected outbound ratio finding, got %+v", got)
		}
	})

	t.Run("encoded transfer", func(t *testing.T) {
		b := &packetBuilder{}
		token := strings.Repeat("QUJDREVGR0hJSktMTU5PUA", 3) + "=="
		for i := 0; i < 5; i++ {
			b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.51", DstIP: "203.0.113.10", DstPort: 80, Info: "POST /upload data=" + token})
		}
		got := ofType(d.Detect(b.packets), "Encoded Data Transfer")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected High encoded transfer, got %+v", got)
		}
	})

	t.Run("slow exfiltration", func(t *testing.T) {
		b := &packetBuilder{}
		for i := 0; i <= 60; i++ {
			b.add(model.PacketRecord{Timestamp: t0.Add(time.Duration(i) * time.Minute), SrcIP: "10.0.0.60", SrcPort: 50000,
				DstIP: "198.51.100.7", DstPort: 443, Length: 20 * 1024})
		}
		got := ofType(d.Detect(b.packets), "Slow Exfiltration")
		if len(got) != 1 || got[0].Severity != model.SeverityHigh {
			t.Fatalf("Expected High slow exfiltration, got %+v", got)
		}
		if got[0].Evidence["Regular"] != true {
			t.Errorf("Expected the regular flag for fixed one-minute spacing")
		}
	})

	t.Run("internal only", func(t *testing.T) {
		b := &packetBuilder{}
		b.add(model.PacketRecord{Timestamp: t0, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Length: 1 << 30})
		if d.CanDetect(b.packets) {
			t.Error("Internal traffic without info should not pass CanDetect")
		}
	})
}
