package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/moolen/kubeaudit/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// LogLevel is the default logging level (debug, info, warn, error)
	LogLevel string `koanf:"log_level"`

	// LogFile enables a rotated JSON log file when set
	LogFile string `koanf:"log_file"`

	// Pricing are the hourly unit prices used by the cost estimator
	Pricing PricingConfig `koanf:"pricing"`

	// Weights map severities to risk weights
	Weights WeightsConfig `koanf:"weights"`

	// Rules tunes individual rule thresholds
	Rules RulesConfig `koanf:"rules"`

	// MaxSignals caps the deduplicated signal set
	MaxSignals int `koanf:"max_signals"`

	// EventWindow drops collected events older than this
	EventWindow time.Duration `koanf:"event_window"`

	// Collector throttles API list calls during collection
	Collector CollectorConfig `koanf:"collector"`

	Tracing TracingConfig `koanf:"tracing"`

	Serve ServeConfig `koanf:"serve"`
}

// PricingConfig holds USD prices per hour
type PricingConfig struct {
	CPUHour   float64 `koanf:"cpu_hour"`
	RAMGBHour float64 `koanf:"ram_gb_hour"`
}

// WeightsConfig holds severity weights for findings and signals
type WeightsConfig struct {
	Findings map[string]int `koanf:"findings"`
	Signals  map[string]int `koanf:"signals"`
}

// RulesConfig holds rule thresholds
type RulesConfig struct {
	// SystemNamespaces are skipped by the network policy rule
	SystemNamespaces []string `koanf:"system_namespaces"`

	// OverprovisionRatio is the share of the largest node's allocatable
	// CPU a single pod may request before it is flagged
	OverprovisionRatio float64 `koanf:"overprovision_ratio"`

	// HPACPUThreshold is the CPU request (cores) above which a deployment
	// is expected to have an HPA
	HPACPUThreshold float64 `koanf:"hpa_cpu_threshold"`
}

// CollectorConfig limits the rate of list calls against the API server.
// QPS 0 disables throttling.
type CollectorConfig struct {
	QPS   float64 `koanf:"qps"`
	Burst int     `koanf:"burst"`
}

// TracingConfig configures OTLP trace export
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	TLSCAPath   string `koanf:"tls_ca_path"`
	TLSInsecure bool   `koanf:"tls_insecure"`
}

// ServeConfig configures the periodic audit server
type ServeConfig struct {
	ListenAddr string        `koanf:"listen_addr"`
	Interval   time.Duration `koanf:"interval"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Pricing: PricingConfig{
			CPUHour:   0.03,
			RAMGBHour: 0.004,
		},
		Weights: WeightsConfig{
			Findings: map[string]int{
				string(models.SeverityCritical): 25,
				string(models.SeverityHigh):     15,
				string(models.SeverityMedium):   8,
				string(models.SeverityLow):      3,
			},
			Signals: map[string]int{
				string(models.SeverityCritical): 15,
				string(models.SeverityHigh):     8,
				string(models.SeverityMedium):   3,
				string(models.SeverityLow):      1,
			},
		},
		Rules: RulesConfig{
			SystemNamespaces:   []string{"kube-system", "kube-public", "kube-node-lease"},
			OverprovisionRatio: 0.5,
			HPACPUThreshold:    0.5,
		},
		MaxSignals:  200,
		EventWindow: 24 * time.Hour,
		Collector: CollectorConfig{
			QPS:   20,
			Burst: 10,
		},
		Serve: ServeConfig{
			ListenAddr: ":9090",
			Interval:   5 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pricing.CPUHour < 0 || c.Pricing.RAMGBHour < 0 {
		return NewConfigError("pricing must not be negative")
	}

	if err := validateWeights("weights.findings", c.Weights.Findings); err != nil {
		return err
	}
	if err := validateWeights("weights.signals", c.Weights.Signals); err != nil {
		return err
	}

	if c.Rules.OverprovisionRatio <= 0 || c.Rules.OverprovisionRatio > 1 {
		return NewConfigError("rules.overprovision_ratio must be in (0, 1]")
	}

	if c.Rules.HPACPUThreshold < 0 {
		return NewConfigError("rules.hpa_cpu_threshold must not be negative")
	}

	if c.MaxSignals < 1 {
		return NewConfigError("max_signals must be at least 1")
	}

	if c.EventWindow < 0 {
		return NewConfigError("event_window must not be negative")
	}

	if c.Collector.QPS < 0 {
		return NewConfigError("collector.qps must not be negative")
	}
	if c.Collector.QPS > 0 && c.Collector.Burst < 1 {
		return NewConfigError("collector.burst must be at least 1 when collector.qps is set")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	if c.Serve.Interval < time.Second {
		return NewConfigError("serve.interval must be at least 1s")
	}

	return nil
}

func validateWeights(name string, table map[string]int) error {
	keys := make([]string, 0, len(table))
	for sev := range table {
		keys = append(keys, sev)
	}
	sort.Strings(keys)

	for _, sev := range keys {
		if !models.Severity(sev).IsValid() {
			return NewConfigError(fmt.Sprintf("%s: unknown severity %q", name, sev))
		}
		if table[sev] < 0 {
			return NewConfigError(fmt.Sprintf("%s: weight for %q must not be negative", name, sev))
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
