package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "console"
}

// AnalysisConfig holds the aggregation and time-series settings.
type AnalysisConfig struct {
	Interval       string            `yaml:"interval" toml:"interval"`
	TopN           int               `yaml:"top_n" toml:"top_n"`
	TopProtocols   int               `yaml:"top_protocols" toml:"top_protocols"`
	ProtocolColors map[string]string `yaml:"protocol_colors" toml:"protocol_colors"`
	// WellKnownPorts maps a port number (as a string key, for TOML) to a
	// service name.
	WellKnownPorts map[string]string `yaml:"well_known_ports" toml:"well_known_ports"`
}

// PortScanConfig holds the port-scan thresholds.
type PortScanConfig struct {
	HighPortCount  int     `yaml:"high_port_count" toml:"high_port_count"`
	FastPortCount  int     `yaml:"fast_port_count" toml:"fast_port_count"`
	FastRate       float64 `yaml:"fast_rate" toml:"fast_rate"`
	BurstPortCount int     `yaml:"burst_port_count" toml:"burst_port_count"`
	BurstWindow    string  `yaml:"burst_window" toml:"burst_window"`
	BurstRate      float64 `yaml:"burst_rate" toml:"burst_rate"`
	EscalationRate float64 `yaml:"escalation_rate" toml:"escalation_rate"`
}

// DDoSConfig holds the volumetric thresholds.
type DDoSConfig struct {
	Window    string `yaml:"window" toml:"window"`
	Threshold int    `yaml:"threshold" toml:"threshold"`
}

// SuspiciousProtocolConfig holds the protocol denylist.
type SuspiciousProtocolConfig struct {
	Denylist []string `yaml:"denylist" toml:"denylist"`
}

// SizeConfig holds the packet-size outlier thresholds.
type SizeConfig struct {
	Sigma   float64 `yaml:"sigma" toml:"sigma"`
	MinSize int     `yaml:"min_size" toml:"min_size"`
}

// MiningConfig holds the crypto-mining signatures.
type MiningConfig struct {
	Ports               []int    `yaml:"ports" toml:"ports"`
	PoolDomains         []string `yaml:"pool_domains" toml:"pool_domains"`
	MinDestinations     int      `yaml:"min_destinations" toml:"min_destinations"`
	VolumeBytes         int64    `yaml:"volume_bytes" toml:"volume_bytes"`
	HighVolumeBytes     int64    `yaml:"high_volume_bytes" toml:"high_volume_bytes"`
	CriticalVolumeBytes int64    `yaml:"critical_volume_bytes" toml:"critical_volume_bytes"`
}

// DNSTunnelConfig holds the DNS tunnelling thresholds.
type DNSTunnelConfig struct {
	EntropyThreshold float64  `yaml:"entropy_threshold" toml:"entropy_threshold"`
	QueriesPerMinute float64  `yaml:"queries_per_minute" toml:"queries_per_minute"`
	MinQueries       int      `yaml:"min_queries" toml:"min_queries"`
	Whitelist        []string `yaml:"whitelist" toml:"whitelist"`
}

// VoIPConfig holds the SIP/RTP abuse thresholds.
type VoIPConfig struct {
	SIPPorts              []int   `yaml:"sip_ports" toml:"sip_ports"`
	FloodRate             float64 `yaml:"flood_rate" toml:"flood_rate"`
	CriticalFloodRate     float64 `yaml:"critical_flood_rate" toml:"critical_flood_rate"`
	MinInvites            int     `yaml:"min_invites" toml:"min_invites"`
	AnswerRatio           float64 `yaml:"answer_ratio" toml:"answer_ratio"`
	JitterMillis          float64 `yaml:"jitter_ms" toml:"jitter_ms"`
	GapRatio              float64 `yaml:"gap_ratio" toml:"gap_ratio"`
	MinRTPPackets         int     `yaml:"min_rtp_packets" toml:"min_rtp_packets"`
	TollFraudDestinations int     `yaml:"toll_fraud_destinations" toml:"toll_fraud_destinations"`
	TollFraudWindow       string  `yaml:"toll_fraud_window" toml:"toll_fraud_window"`
}

// IoTConfig holds the MQTT/CoAP abuse thresholds.
type IoTConfig struct {
	MQTTPorts                  []int   `yaml:"mqtt_ports" toml:"mqtt_ports"`
	CoAPPorts                  []int   `yaml:"coap_ports" toml:"coap_ports"`
	FloodRate                  float64 `yaml:"flood_rate" toml:"flood_rate"`
	CriticalFloodRate          float64 `yaml:"critical_flood_rate" toml:"critical_flood_rate"`
	BrokerCount                int     `yaml:"broker_count" toml:"broker_count"`
	HighBrokerCount            int     `yaml:"high_broker_count" toml:"high_broker_count"`
	AmplificationRatio         float64 `yaml:"amplification_ratio" toml:"amplification_ratio"`
	CriticalAmplificationRatio float64 `yaml:"critical_amplification_ratio" toml:"critical_amplification_ratio"`
	ProbeAttempts              int     `yaml:"probe_attempts" toml:"probe_attempts"`
	ProbeWindow                string  `yaml:"probe_window" toml:"probe_window"`
}

// ExfiltrationConfig holds the data-exfiltration thresholds.
type ExfiltrationConfig struct {
	VolumeBytes         int64   `yaml:"volume_bytes" toml:"volume_bytes"`
	HighVolumeBytes     int64   `yaml:"high_volume_bytes" toml:"high_volume_bytes"`
	CriticalVolumeBytes int64   `yaml:"critical_volume_bytes" toml:"critical_volume_bytes"`
	StandardPorts       []int   `yaml:"standard_ports" toml:"standard_ports"`
	SlowMinDuration     string  `yaml:"slow_min_duration" toml:"slow_min_duration"`
	SlowMaxRate         float64 `yaml:"slow_max_rate" toml:"slow_max_rate"` // bytes per second
	SlowMinBytes        int64   `yaml:"slow_min_bytes" toml:"slow_min_bytes"`
	EncodedMinPackets   int     `yaml:"encoded_min_packets" toml:"encoded_min_packets"`
	OutboundRatio       float64 `yaml:"outbound_ratio" toml:"outbound_ratio"`
	OutboundMinBytes    int64   `yaml:"outbound_min_bytes" toml:"outbound_min_bytes"`
}

// DetectorsConfig selects and tunes detectors. An empty Enabled list
// enables every registered detector.
type DetectorsConfig struct {
	Enabled            []string                 `yaml:"enabled" toml:"enabled"`
	PortScan           PortScanConfig           `yaml:"port_scan" toml:"port_scan"`
	DDoS               DDoSConfig               `yaml:"ddos" toml:"ddos"`
	SuspiciousProtocol SuspiciousProtocolConfig `yaml:"suspicious_protocol" toml:"suspicious_protocol"`
	Size               SizeConfig               `yaml:"anomalous_size" toml:"anomalous_size"`
	Mining             MiningConfig             `yaml:"crypto_mining" toml:"crypto_mining"`
	DNSTunnel          DNSTunnelConfig          `yaml:"dns_tunnel" toml:"dns_tunnel"`
	VoIP               VoIPConfig               `yaml:"voip" toml:"voip"`
	IoT                IoTConfig                `yaml:"iot" toml:"iot"`
	Exfiltration       ExfiltrationConfig       `yaml:"exfiltration" toml:"exfiltration"`
}

// EnrichmentConfig controls the location enrichment fan-out.
type EnrichmentConfig struct {
	Enabled           bool     `yaml:"enabled" toml:"enabled"`
	MaxParallel       int      `yaml:"max_parallel" toml:"max_parallel"`
	HighRiskCountries []string `yaml:"high_risk_countries" toml:"high_risk_countries"`
}

// StaticEntry maps a CIDR to a fixed location.
type StaticEntry struct {
	CIDR        string `yaml:"cidr" toml:"cidr"`
	CountryName string `yaml:"country_name" toml:"country_name"`
	CountryCode string `yaml:"country_code" toml:"country_code"`
	City        string `yaml:"city" toml:"city"`
}

// ProviderConfig is one entry of the location provider priority chain.
type ProviderConfig struct {
	Name         string        `yaml:"name" toml:"name"`
	Type         string        `yaml:"type" toml:"type"` // "geoip2" or "static"
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
	Priority     int           `yaml:"priority" toml:"priority"`
	RetryCount   int           `yaml:"retry_count" toml:"retry_count"`
	RetryDelay   string        `yaml:"retry_delay" toml:"retry_delay"`
	Timeout      string        `yaml:"timeout" toml:"timeout"`
	DatabasePath string        `yaml:"database_path" toml:"database_path"`
	Entries      []StaticEntry `yaml:"entries" toml:"entries"`
}

// ProbeConfig holds the NATS stream settings.
type ProbeConfig struct {
	NATSURL          string `yaml:"nats_url" toml:"nats_url"`
	Subject          string `yaml:"subject" toml:"subject"`
	FindingsSubject  string `yaml:"findings_subject" toml:"findings_subject"`
	Window           string `yaml:"window" toml:"window"`
	MaxWindowPackets int    `yaml:"max_window_packets" toml:"max_window_packets"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Database string `yaml:"database" toml:"database"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// FileWriterConfig holds the on-disk report writer settings.
type FileWriterConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	RootPath string `yaml:"root_path" toml:"root_path"`
}

// WritersConfig groups the report sinks.
type WritersConfig struct {
	File       FileWriterConfig `yaml:"file" toml:"file"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" toml:"clickhouse"`
}

// AIAnalysisConfig toggles the AI section of alert notifications.
type AIAnalysisConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// AlerterConfig holds the alerting settings.
type AlerterConfig struct {
	Enabled     bool             `yaml:"enabled" toml:"enabled"`
	MinSeverity string           `yaml:"min_severity" toml:"min_severity"`
	AIAnalysis  AIAnalysisConfig `yaml:"ai_analysis" toml:"ai_analysis"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
	To       string `yaml:"to" toml:"to"`
}

// AIConfig holds the OpenAI-compatible endpoint settings.
type AIConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

// APIConfig holds the listen addresses of the serve command.
type APIConfig struct {
	HTTPListenAddr string `yaml:"http_listen_addr" toml:"http_listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr" toml:"grpc_listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Analysis   AnalysisConfig   `yaml:"analysis" toml:"analysis"`
	Detectors  DetectorsConfig  `yaml:"detectors" toml:"detectors"`
	Enrichment EnrichmentConfig `yaml:"enrichment" toml:"enrichment"`
	Providers  []ProviderConfig `yaml:"providers" toml:"providers"`
	Probe      ProbeConfig      `yaml:"probe" toml:"probe"`
	Writers    WritersConfig    `yaml:"writers" toml:"writers"`
	Alerter    AlerterConfig    `yaml:"alerter" toml:"alerter"`
	SMTP       SMTPConfig       `yaml:"smtp" toml:"smtp"`
	AI         AIConfig         `yaml:"ai" toml:"ai"`
	API        APIConfig        `yaml:"api" toml:"api"`
}

// LoadConfig reads the configuration from a YAML or TOML file (chosen by
// extension) on top of Default().
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	return cfg, nil
}

// IntervalDuration returns the time-series bucket width.
func (a AnalysisConfig) IntervalDuration() time.Duration {
	return parseDuration(a.Interval, time.Second)
}

// PortMap converts WellKnownPorts to numeric keys, skipping malformed ones.
func (a AnalysisConfig) PortMap() map[int]string {
	out := make(map[int]string, len(a.WellKnownPorts))
	for k, v := range a.WellKnownPorts {
		port, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || port <= 0 || port > 65535 {
			continue
		}
		out[port] = v
	}
	return out
}

// parseDuration parses s, returning def when s is empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Duration parses s with the same fallback rules the loaders use.
func Duration(s string, def time.Duration) time.Duration {
	return parseDuration(s, def)
}
