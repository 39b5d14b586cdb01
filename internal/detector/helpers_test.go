package detector

import (
	"math"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type packetBuilder struct {
	frame   int64
	packets []model.PacketRecord
}

func (b *packetBuilder) add(p model.PacketRecord) *packetBuilder {
	b.frame++
	p.FrameNumber = b.frame
	if p.Protocol == "" {
		p.Protocol = "TCP"
	}
	if p.Length == 0 {
		p.Length = 100
	}
	b.packets = append(b.packets, p)
	return b
}

func defaults() *config.DetectorsConfig {
	return &config.Default().Detectors
}

func ofType(findings []model.Finding, typ string) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestShannonEntropy(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"aaaa", 0},
		{"ab", 1},
		{"0123456789abcdef", 4},
	}
	for _, tt := range tests {
		if got := shannonEntropy(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("shannonEntropy(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestFramesAreBounded(t *testing.T) {
	b := &packetBuilder{}
	for i := 0; i < 250; i++ {
		b.add(model.PacketRecord{Timestamp: t0})
	}
	members := make([]*model.PacketRecord, len(b.packets))
	for i := range b.packets {
		members[i] = &b.packets[i]
	}
	f := base{name: "x"}.newFinding(model.KindThreat, "T", "C", model.SeverityLow, members)
	if len(f.AffectedFrames) != model.MaxAffectedFrames {
		t.Errorf("Expected %d affected frames, got %d", model.MaxAffectedFrames, len(f.AffectedFrames))
	}
	if f.ID == "" || f.Detector != "x" {
		t.Errorf("Finding identity not set: %+v", f)
	}
}

func TestMedianAndMeanStdDev(t *testing.T) {
	if m := median([]float64{3, 1, 2}); m != 2 {
		t.Errorf("Expected median 2, got %f", m)
	}
	if m := median([]float64{4, 1, 2, 3}); m != 2.5 {
		t.Errorf("Expected median 2.5, got %f", m)
	}
	mean, std := meanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || std != 2 {
		t.Errorf("Expected mean 5 std 2, got %f %f", mean, std)
	}
}
