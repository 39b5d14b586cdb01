package detector

import (
	"math"
	"sort"
	"strings"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/google/uuid"
)

// base carries what every detector shares.
type base struct {
	name string
}

func (b base) Name() string { return b.name }

// newFinding stamps identity, detection time and affected frames onto a
// finding. DetectedAt is the latest timestamp among members.
func (b base) newFinding(kind model.FindingKind, typ, category string, sev model.Severity, members []*model.PacketRecord) model.Finding {
	return model.Finding{
		ID:             uuid.NewString(),
		Kind:           kind,
		Detector:       b.name,
		Type:           typ,
		Category:       category,
		Severity:       sev,
		DetectedAt:     latest(members),
		Evidence:       make(map[string]any),
		AffectedFrames: frames(members),
	}
}

// group is an insertion-ordered bucket of packets.
type group[K comparable] struct {
	keys    []K
	members map[K][]*model.PacketRecord
}

func newGroup[K comparable]() *group[K] {
	return &group[K]{members: make(map[K][]*model.PacketRecord)}
}

func (g *group[K]) add(key K, p *model.PacketRecord) {
	if _, ok := g.members[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.members[key] = append(g.members[key], p)
}

func (g *group[K]) each(fn func(key K, members []*model.PacketRecord)) {
	for _, k := range g.keys {
		fn(k, g.members[k])
	}
}

type pair struct {
	src, dst string
}

func latest(members []*model.PacketRecord) time.Time {
	var t time.Time
	for _, p := range members {
		if p.Timestamp.After(t) {
			t = p.Timestamp
		}
	}
	return t
}

func span(members []*model.PacketRecord) (first, last time.Time) {
	for i, p := range members {
		if i == 0 || p.Timestamp.Before(first) {
			first = p.Timestamp
		}
		if i == 0 || p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	return first, last
}

func frames(members []*model.PacketRecord) []int64 {
	n := min(len(members), model.MaxAffectedFrames)
	if n == 0 {
		return nil
	}
	out := make([]int64, 0, n)
	for _, p := range members[:n] {
		out = append(out, p.FrameNumber)
	}
	return out
}

func byTime(members []*model.PacketRecord) []*model.PacketRecord {
	sorted := append([]*model.PacketRecord(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}

// perSecond divides count by the span in seconds, never by less than floor.
func perSecond(count int, d, floor time.Duration) float64 {
	if d < floor {
		d = floor
	}
	return float64(count) / d.Seconds()
}

func sumBytes(members []*model.PacketRecord) int64 {
	var n int64
	for _, p := range members {
		n += int64(p.Length)
	}
	return n
}

func distinct(members []*model.PacketRecord, field func(*model.PacketRecord) string) int {
	seen := make(map[string]struct{})
	for _, p := range members {
		if v := field(p); v != "" {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

func srcOf(p *model.PacketRecord) string { return p.SrcIP }
func dstOf(p *model.PacketRecord) string { return p.DstIP }

// shannonEntropy returns the entropy of s in bits per character.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func meanStdDev(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// intervals returns the gaps between consecutive timestamps in seconds.
func intervals(sorted []*model.PacketRecord) []float64 {
	if len(sorted) < 2 {
		return nil
	}
	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out = append(out, sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Seconds())
	}
	return out
}

func portSet(ports []int) map[int]bool {
	out := make(map[int]bool, len(ports))
	for _, p := range ports {
		out[p] = true
	}
	return out
}

func containsFold(s string, needles []string) (string, bool) {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
