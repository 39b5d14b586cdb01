package detector

import (
	"fmt"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

const NameAnomalousSize = "anomalous_size"

func init() {
	Register(NameAnomalousSize, func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector {
		return NewAnomalousSize(cfg.Size, logger)
	})
}

// AnomalousSize flags packets far above the mean length of the collection.
type AnomalousSize struct {
	base
	sigma   float64
	minSize int
	logger  *zap.Logger
}

// NewAnomalousSize creates a size-outlier detector.
func NewAnomalousSize(cfg config.SizeConfig, logger *zap.Logger) *AnomalousSize {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalousSize{base: base{name: NameAnomalousSize}, sigma: cfg.Sigma, minSize: cfg.MinSize, logger: logger}
}

func (d *AnomalousSize) CanDetect(packets []model.PacketRecord) bool {
	for i := range packets {
		if packets[i].Length > d.minSize {
			return true
		}
	}
	return false
}

func (d *AnomalousSize) Detect(packets []model.PacketRecord) []model.Finding {
	if len(packets) == 0 {
		return nil
	}
	sizes := make([]float64, len(packets))
	maxSize := 0
	for i := range packets {
		sizes[i] = float64(packets[i].Length)
		maxSize = max(maxSize, packets[i].Length)
	}
	mean, std := meanStdDev(sizes)
	threshold := mean + d.sigma*std

	var affected []*model.PacketRecord
	for i := range packets {
		l := packets[i].Length
		if float64(l) > threshold && l > d.minSize {
			affected = append(affected, &packets[i])
		}
	}
	if len(affected) == 0 {
		return nil
	}

	f := d.newFinding(model.KindAnomaly, "Anomalous Packet Size", "Traffic Anomaly", model.SeverityLow, affected)
	f.Evidence["MeanSize"] = round(mean, 2)
	f.Evidence["StdDev"] = round(std, 2)
	f.Evidence["Threshold"] = round(threshold, 2)
	f.Evidence["MaxSize"] = maxSize
	f.Evidence["AffectedCount"] = len(affected)
	f.Description = fmt.Sprintf("%d packets exceeded %.0f bytes (mean %.0f, max %d)", len(affected), threshold, mean, maxSize)
	f.Recommendation = "Check for jumbo frames, fragmentation issues or tunnelled payloads."
	return []model.Finding{f}
}
