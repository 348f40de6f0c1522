// Package modelpolicy enforces the hard ceiling on language-model settings.
// The ceiling is fixed at process start and checked before any external call;
// nothing at runtime may loosen it.
package modelpolicy

import (
	"github.com/kbguard/kbguard-go/internal/contract"
)

// Default ceiling values.
const (
	// DefaultMaxTemperature caps sampling temperature for production answers.
	DefaultMaxTemperature = 0.3

	// DefaultMaxOutputTokens caps answer length, bounding how far a bad
	// generation can run.
	DefaultMaxOutputTokens = 1000
)

// Ceiling is the hard limit set for language-model calls.
type Ceiling struct {
	// ForbiddenModels lists model names that must never serve production
	// answers, regardless of other settings.
	ForbiddenModels []string

	// MaxTemperature is the inclusive upper bound on sampling temperature.
	MaxTemperature float64

	// MaxOutputTokens is the inclusive upper bound on output tokens.
	MaxOutputTokens int
}

// DefaultCeiling returns the standard production ceiling: the small-tier
// OpenAI models are forbidden for answering, temperature at most 0.3, output
// at most 1000 tokens.
func DefaultCeiling() Ceiling {
	return Ceiling{
		ForbiddenModels: []string{
			"gpt-4o-mini",
			"gpt-3.5-turbo",
			"gpt-3.5-turbo-16k",
		},
		MaxTemperature:  DefaultMaxTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// Validate checks the requested settings against the ceiling. A violation is
// returned as a *contract.ConfigViolationError and means the external call
// must not be made.
func (c Ceiling) Validate(model string, temperature float64, maxTokens int) error {
	for _, forbidden := range c.ForbiddenModels {
		if model == forbidden {
			return contract.ConfigViolationf(
				"model %q is forbidden for production answering; use a full-tier model", model)
		}
	}
	if temperature > c.MaxTemperature {
		return contract.ConfigViolationf(
			"temperature %g exceeds the ceiling %g", temperature, c.MaxTemperature)
	}
	if maxTokens > c.MaxOutputTokens {
		return contract.ConfigViolationf(
			"max output tokens %d exceeds the ceiling %d", maxTokens, c.MaxOutputTokens)
	}
	return nil
}
