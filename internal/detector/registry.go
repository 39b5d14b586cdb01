package detector

import (
	"fmt"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Factory builds a detector from its section of the detector configuration.
type Factory func(cfg *config.DetectorsConfig, logger *zap.Logger) model.Detector

// registry holds the mapping of detector names to their factory functions,
// plus the order they were registered in.
var (
	registry = make(map[string]Factory)
	order    []string
)

// Register registers a new detector with its factory function.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("detector '%s' already registered", name))
	}
	registry[name] = factory
	order = append(order, name)
}

// Names lists every registered detector in registration order.
func Names() []string {
	return append([]string(nil), order...)
}

// CheckNames returns one message per name that is not registered.
func CheckNames(names []string) []string {
	var problems []string
	for _, n := range names {
		if _, ok := registry[n]; !ok {
			problems = append(problems, fmt.Sprintf("unknown detector '%s'", n))
		}
	}
	return problems
}

// Build creates the detectors named in cfg.Enabled, or all registered
// detectors when the list is empty. The result follows registration order.
func Build(cfg *config.DetectorsConfig, logger *zap.Logger) ([]model.Detector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if problems := CheckNames(cfg.Enabled); len(problems) > 0 {
		return nil, fmt.Errorf("invalid detector configuration: %v", problems)
	}

	enabled := make(map[string]bool, len(cfg.Enabled))
	for _, n := range cfg.Enabled {
		enabled[n] = true
	}

	var detectors []model.Detector
	for _, name := range order {
		if len(enabled) > 0 && !enabled[name] {
			continue
		}
		logger.Debug("creating detector", zap.String("detector", name))
		detectors = append(detectors, registry[name](cfg, logger.Named(name)))
	}
	return detectors, nil
}
