package audit

import (
	"fmt"

	"github.com/moolen/kubeaudit/internal/aggregate"
	"github.com/moolen/kubeaudit/internal/config"
	"github.com/moolen/kubeaudit/internal/cost"
	"github.com/moolen/kubeaudit/internal/risk"
	"github.com/moolen/kubeaudit/internal/rules"
)

// Options tunes an Auditor
type Options struct {
	Rules          rules.Options
	Pricing        cost.Pricing
	FindingWeights risk.WeightTable
	SignalWeights  risk.WeightTable
	MaxSignals     int
}

// DefaultOptions returns the built-in thresholds, prices and weights
func DefaultOptions() Options {
	return Options{
		Rules:          rules.DefaultOptions(),
		Pricing:        cost.DefaultPricing(),
		FindingWeights: risk.FindingWeights(),
		SignalWeights:  risk.SignalWeights(),
		MaxSignals:     aggregate.DefaultMaxSignals,
	}
}

// OptionsFromConfig derives auditor options from a validated configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	findings, err := risk.WeightTableFromMap(cfg.Weights.Findings)
	if err != nil {
		return Options{}, fmt.Errorf("invalid finding weights: %w", err)
	}
	signals, err := risk.WeightTableFromMap(cfg.Weights.Signals)
	if err != nil {
		return Options{}, fmt.Errorf("invalid signal weights: %w", err)
	}

	return Options{
		Rules: rules.Options{
			SystemNamespaces:   cfg.Rules.SystemNamespaces,
			OverprovisionRatio: cfg.Rules.OverprovisionRatio,
			HPACPUThreshold:    cfg.Rules.HPACPUThreshold,
		},
		Pricing: cost.Pricing{
			CPUHour:   cfg.Pricing.CPUHour,
			RAMGBHour: cfg.Pricing.RAMGBHour,
		},
		FindingWeights: findings,
		SignalWeights:  signals,
		MaxSignals:     cfg.MaxSignals,
	}, nil
}
