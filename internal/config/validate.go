package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"Go2NetSentinel/internal/model"
)

// Provider types understood by the geo package.
const (
	ProviderGeoIP2 = "geoip2"
	ProviderStatic = "static"
)

// Validate checks the configuration up front and returns one message per
// problem. An empty result means the configuration is usable.
func (c *Config) Validate() []string {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		add("logging.format %q must be json or console", c.Logging.Format)
	}

	checkDuration(add, "analysis.interval", c.Analysis.Interval, false)
	if c.Analysis.TopN <= 0 {
		add("analysis.top_n must be positive, got %d", c.Analysis.TopN)
	}
	if c.Analysis.TopProtocols <= 0 {
		add("analysis.top_protocols must be positive, got %d", c.Analysis.TopProtocols)
	}

	d := c.Detectors
	checkDuration(add, "detectors.port_scan.burst_window", d.PortScan.BurstWindow, false)
	checkDuration(add, "detectors.ddos.window", d.DDoS.Window, false)
	checkDuration(add, "detectors.voip.toll_fraud_window", d.VoIP.TollFraudWindow, false)
	checkDuration(add, "detectors.iot.probe_window", d.IoT.ProbeWindow, false)
	checkDuration(add, "detectors.exfiltration.slow_min_duration", d.Exfiltration.SlowMinDuration, false)
	if d.DDoS.Threshold <= 0 {
		add("detectors.ddos.threshold must be positive")
	}
	if d.DNSTunnel.EntropyThreshold <= 0 {
		add("detectors.dns_tunnel.entropy_threshold must be positive")
	}
	if d.Size.Sigma <= 0 {
		add("detectors.anomalous_size.sigma must be positive")
	}
	if d.VoIP.AnswerRatio < 0 || d.VoIP.AnswerRatio > 1 {
		add("detectors.voip.answer_ratio must be within [0,1]")
	}
	for _, p := range d.Mining.Ports {
		if p <= 0 || p > 65535 {
			add("detectors.crypto_mining.ports contains invalid port %d", p)
		}
	}

	if c.Enrichment.MaxParallel < 0 {
		add("enrichment.max_parallel must not be negative")
	}
	errs = append(errs, c.validateProviders()...)

	checkDuration(add, "probe.window", c.Probe.Window, false)
	checkDuration(add, "ai.timeout", c.AI.Timeout, true)

	if c.Alerter.Enabled {
		if _, err := model.ParseSeverity(c.Alerter.MinSeverity); err != nil {
			add("alerter.min_severity: %v", err)
		}
		if c.SMTP.Host == "" || c.SMTP.To == "" {
			add("alerter is enabled but smtp.host or smtp.to is empty")
		}
	}
	if c.Writers.ClickHouse.Enabled && c.Writers.ClickHouse.Host == "" {
		add("writers.clickhouse.host must be set when clickhouse is enabled")
	}
	if c.Writers.File.Enabled && c.Writers.File.RootPath == "" {
		add("writers.file.root_path must be set when the file writer is enabled")
	}

	return errs
}

func (c *Config) validateProviders() []string {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	enabled := 0
	priorities := make(map[int]string)
	names := make(map[string]bool)
	for i, p := range c.Providers {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("providers[%d]", i)
			add("%s: name must not be empty", label)
		} else if names[p.Name] {
			add("provider %q is defined more than once", p.Name)
		}
		names[p.Name] = true

		if other, ok := priorities[p.Priority]; ok {
			add("provider %q has the same priority (%d) as %q", label, p.Priority, other)
		} else {
			priorities[p.Priority] = label
		}

		if p.RetryCount < 0 {
			add("provider %q: retry_count must not be negative", label)
		}
		if p.RetryDelay != "" {
			if d, err := time.ParseDuration(p.RetryDelay); err != nil || d < 0 {
				add("provider %q: retry_delay %q must be a non-negative duration", label, p.RetryDelay)
			}
		}
		checkDuration(add, "provider "+label+" timeout", p.Timeout, true)

		switch p.Type {
		case ProviderGeoIP2:
			if p.Enabled && p.DatabasePath == "" {
				add("provider %q: database_path is required for type geoip2", label)
			}
		case ProviderStatic:
			if p.Enabled && len(p.Entries) == 0 {
				add("provider %q: entries are required for type static", label)
			}
			for _, e := range p.Entries {
				if _, err := netip.ParsePrefix(e.CIDR); err != nil {
					add("provider %q: invalid cidr %q", label, e.CIDR)
				}
			}
		default:
			add("provider %q: unknown type %q", label, p.Type)
		}

		if p.Enabled {
			enabled++
		}
	}

	if c.Enrichment.Enabled && enabled == 0 {
		add("enrichment is enabled but no location provider is enabled")
	}
	return errs
}

// checkDuration reports a malformed or non-positive duration. Empty values
// are accepted when optional is true; a value that is set must be positive.
func checkDuration(add func(string, ...any), field, value string, optional bool) {
	if value == "" {
		if !optional {
			add("%s must be set", field)
		}
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		add("%s: invalid duration %q", field, value)
		return
	}
	if d <= 0 {
		add("%s must be positive, got %s", field, value)
	}
}
