package model

import (
	"encoding/json"
	"testing"
)

func TestNewConversationKey_Symmetric(t *testing.T) {
	ab := NewConversationKey("10.0.0.1", 1000, "10.0.0.2", 80, "TCP")
	ba := NewConversationKey("10.0.0.2", 80, "10.0.0.1", 1000, "TCP")
	if ab != ba {
		t.Fatalf("Expected symmetric keys, got %+v and %+v", ab, ba)
	}
	if ab.AddressA != "10.0.0.1" || ab.PortA != 1000 {
		t.Errorf("Expected lower endpoint first, got %+v", ab)
	}

	// Same address on both sides orders by port.
	self := NewConversationKey("10.0.0.1", 9000, "10.0.0.1", 53, "UDP")
	if self.PortA != 53 || self.PortB != 9000 {
		t.Errorf("Expected ports ordered for identical addresses, got %+v", self)
	}
}

func TestIsInternalAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"8.8.8.8", false},
		{"fd00::1", false},
		{"::ffff:10.0.0.1", true},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsInternalAddress(tt.addr); got != tt.want {
			t.Errorf("IsInternalAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestSeverity(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("Severity levels are not ordered")
	}
	if SeverityHigh.Escalate() != SeverityCritical || SeverityCritical.Escalate() != SeverityCritical {
		t.Error("Escalate should step up and cap at Critical")
	}

	data, err := json.Marshal(struct{ S Severity }{SeverityMedium})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"S":"Medium"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}
	var out struct{ S Severity }
	if err := json.Unmarshal([]byte(`{"S":"critical"}`), &out); err != nil || out.S != SeverityCritical {
		t.Errorf("Expected Critical, got %v (err %v)", out.S, err)
	}
	if _, err := ParseSeverity("urgent"); err == nil {
		t.Error("Expected an error for an unknown severity")
	}
}

func TestPacketRecord_Labels(t *testing.T) {
	p := PacketRecord{Protocol: "UDP", AppProtocol: "DNS", SrcPort: 5353, DstPort: 53}
	if p.ProtocolLabel() != "DNS" {
		t.Errorf("Expected DNS label, got %s", p.ProtocolLabel())
	}
	if !p.HasLabel("udp") || !p.HasLabel("dns") || p.HasLabel("tcp") {
		t.Error("HasLabel mismatch")
	}
	if !p.UsesPort(53) || p.UsesPort(0) {
		t.Error("UsesPort mismatch")
	}
}
