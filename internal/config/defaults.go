package config

const (
	megabyte = 1024 * 1024
)

// Default returns a configuration populated with the built-in thresholds.
// LoadConfig decodes on top of it, so a file only has to name overrides.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Analysis: AnalysisConfig{
			Interval:     "1s",
			TopN:         30,
			TopProtocols: 10,
			ProtocolColors: map[string]string{
				"TCP":   "#1f77b4",
				"UDP":   "#ff7f0e",
				"ICMP":  "#d62728",
				"DNS":   "#2ca02c",
				"HTTP":  "#9467bd",
				"HTTPS": "#8c564b",
				"TLS":   "#8c564b",
				"SSH":   "#e377c2",
				"SIP":   "#7f7f7f",
				"RTP":   "#bcbd22",
				"MQTT":  "#17becf",
				"CoAP":  "#aec7e8",
				"Other": "#c7c7c7",
			},
			WellKnownPorts: map[string]string{
				"20": "FTP-Data", "21": "FTP", "22": "SSH", "23": "Telnet",
				"25": "SMTP", "53": "DNS", "67": "DHCP", "68": "DHCP",
				"69": "TFTP", "80": "HTTP", "110": "POP3", "123": "NTP",
				"143": "IMAP", "161": "SNMP", "389": "LDAP", "443": "HTTPS",
				"445": "SMB", "514": "Syslog", "993": "IMAPS", "995": "POP3S",
				"1883": "MQTT", "3306": "MySQL", "3389": "RDP", "5060": "SIP",
				"5061": "SIPS", "5432": "PostgreSQL", "5683": "CoAP",
				"6379": "Redis", "8080": "HTTP-Alt", "8443": "HTTPS-Alt",
				"8883": "MQTTS", "9000": "ClickHouse", "27017": "MongoDB",
			},
		},
		Detectors: DetectorsConfig{
			PortScan: PortScanConfig{
				HighPortCount:  500,
				FastPortCount:  100,
				FastRate:       50,
				BurstPortCount: 50,
				BurstWindow:    "5s",
				BurstRate:      20,
				EscalationRate: 100,
			},
			DDoS: DDoSConfig{Window: "10s", Threshold: 1000},
			SuspiciousProtocol: SuspiciousProtocolConfig{
				Denylist: []string{"Telnet", "FTP", "TFTP", "rlogin", "rsh", "SMBv1", "IRC", "NetBIOS"},
			},
			Size: SizeConfig{Sigma: 3, MinSize: 1500},
			Mining: MiningConfig{
				Ports: []int{3333, 4444, 5555, 7777, 8333, 9332, 9999, 14444, 14433, 45560},
				PoolDomains: []string{
					"pool", "mining", "nicehash", "ethermine", "f2pool", "nanopool",
					"minergate", "slushpool", "antpool", "2miners", "xmrpool", "supportxmr",
				},
				MinDestinations:     5,
				VolumeBytes:         10 * megabyte,
				HighVolumeBytes:     50 * megabyte,
				CriticalVolumeBytes: 100 * megabyte,
			},
			DNSTunnel: DNSTunnelConfig{
				EntropyThreshold: 3.5,
				QueriesPerMinute: 100,
				MinQueries:       10,
				Whitelist: []string{
					"akamaiedge.net", "akamaized.net", "cloudfront.net", "amazonaws.com",
					"googleapis.com", "gstatic.com", "cloudflare.com", "fastly.net",
					"azureedge.net", "windowsupdate.com", "apple.com", "icloud.com",
				},
			},
			VoIP: VoIPConfig{
				SIPPorts:              []int{5060, 5061},
				FloodRate:             50,
				CriticalFloodRate:     100,
				MinInvites:            10,
				AnswerRatio:           0.2,
				JitterMillis:          30,
				GapRatio:              0.1,
				MinRTPPackets:         10,
				TollFraudDestinations: 20,
				TollFraudWindow:       "3h",
			},
			IoT: IoTConfig{
				MQTTPorts:                  []int{1883, 8883},
				CoAPPorts:                  []int{5683, 5684},
				FloodRate:                  100,
				CriticalFloodRate:          200,
				BrokerCount:                4,
				HighBrokerCount:            5,
				AmplificationRatio:         10,
				CriticalAmplificationRatio: 100,
				ProbeAttempts:              10,
				ProbeWindow:                "60s",
			},
			Exfiltration: ExfiltrationConfig{
				VolumeBytes:         10 * megabyte,
				HighVolumeBytes:     50 * megabyte,
				CriticalVolumeBytes: 100 * megabyte,
				StandardPorts:       []int{443, 22, 8443},
				SlowMinDuration:     "1h",
				SlowMaxRate:         10 * 1024,
				SlowMinBytes:        megabyte,
				EncodedMinPackets:   5,
				OutboundRatio:       3,
				OutboundMinBytes:    megabyte,
			},
		},
		Enrichment: EnrichmentConfig{
			MaxParallel:       16,
			HighRiskCountries: []string{"KP", "IR", "SY", "CU"},
		},
		Probe: ProbeConfig{
			NATSURL:          "nats://127.0.0.1:4222",
			Subject:          "sentinel.packets",
			FindingsSubject:  "sentinel.findings",
			Window:           "10s",
			MaxWindowPackets: 100000,
		},
		Writers: WritersConfig{
			File: FileWriterConfig{RootPath: "./reports"},
			ClickHouse: ClickHouseConfig{
				Host:     "127.0.0.1",
				Port:     9000,
				Database: "sentinel",
				Username: "default",
			},
		},
		Alerter: AlerterConfig{MinSeverity: "High"},
		SMTP:    SMTPConfig{Port: 587},
		AI:      AIConfig{Model: "gpt-4o-mini", Timeout: "60s"},
		API:     APIConfig{HTTPListenAddr: ":8080", GRPCListenAddr: ":9090"},
	}
}
