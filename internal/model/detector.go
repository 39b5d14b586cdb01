package model

// Detector is one heuristic over a packet collection. Implementations are
// side-effect free and keep no state between calls, so several may run
// concurrently over the same slice.
type Detector interface {
	// Name is the registry name, e.g. "port_scan".
	Name() string

	// CanDetect is a cheap necessary-condition pre-filter.
	CanDetect(packets []PacketRecord) bool

	// Detect performs the full pass and returns zero or more findings.
	Detect(packets []PacketRecord) []Finding
}
