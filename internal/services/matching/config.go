package matching

import (
	"github.com/kevin07696/fee-reconciliation/internal/config"
	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

// Config holds the tunable weights and bands for one engine instance
type Config struct {
	Weights           domain.MatchWeights
	Thresholds        domain.MatchThresholds
	ImplausibleFactor float64
	MaxCandidates     int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Weights: domain.MatchWeights{
			Reference:     45,
			Phone:         25,
			Name:          10,
			ExactAmount:   15,
			PartialAmount: 5,
		},
		Thresholds: domain.MatchThresholds{
			High:            55,
			Low:             20,
			AmbiguityMargin: 5,
		},
		ImplausibleFactor: 3,
		MaxCandidates:     25,
	}
}

// FromConfig builds an engine config from validated application config
func FromConfig(c config.MatchingConfig) Config {
	cfg := DefaultConfig()
	cfg.Weights = domain.MatchWeights{
		Reference:     c.WeightReference,
		Phone:         c.WeightPhone,
		Name:          c.WeightName,
		ExactAmount:   c.WeightExactAmount,
		PartialAmount: c.WeightPartialAmount,
	}
	cfg.Thresholds = domain.MatchThresholds{
		High:            c.HighThreshold,
		Low:             c.LowThreshold,
		AmbiguityMargin: c.AmbiguityMargin,
	}
	cfg.ImplausibleFactor = c.ImplausibleFactor
	return cfg
}
