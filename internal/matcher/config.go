// Package matcher scores bank statement line items against recorded
// transactions and resolves a one-to-one assignment for a whole statement.
//
// Matching runs in two stages:
//  1. Candidate generation: every unmatched recorded transaction within the
//     date window is scored on amount, date proximity and text similarity.
//  2. Planning: all (item, candidate, score) triples of the statement are
//     ordered globally and assigned greedily, skipping any triple whose item
//     or transaction is already taken.
//
// Greedy assignment approximates an optimal weighted bipartite matching. It is
// deterministic and cheap, and the score design keeps true pairs well
// separated from near-misses, so the approximation is kept on purpose.
//
// Both stages are pure functions over a snapshot and never fail; persistence
// of the resulting plan is the caller's job.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	engine, err := matcher.NewEngine(config, nil)
//	plan := engine.Plan(items, pool)
//	for _, d := range plan.Decisions { ... }
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DecisionKind is the outcome the engine proposes for one line item.
type DecisionKind int

const (
	// DecisionConfirm commits a Match: the best assigned score reached the high threshold.
	DecisionConfirm DecisionKind = iota

	// DecisionSuggest marks the item as a discrepancy with a suggested
	// transaction for manual review. No Match is created.
	DecisionSuggest

	// DecisionNone leaves the item unmatched.
	DecisionNone
)

// String returns the string representation of DecisionKind
func (d DecisionKind) String() string {
	switch d {
	case DecisionConfirm:
		return "confirm"
	case DecisionSuggest:
		return "suggest"
	case DecisionNone:
		return "none"
	default:
		return "unknown"
	}
}

// MatchingConfig holds the tunable constants of candidate scoring and planning.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the documented production defaults
//   - StrictMatchingConfig(): exact dates and a higher confirmation bar
//   - RelaxedMatchingConfig(): wider window for statements that post late
type MatchingConfig struct {
	// DateWindowDays is the calendar-day distance at which the date score
	// reaches zero. Candidates further apart are excluded.
	DateWindowDays int `json:"date_window_days" mapstructure:"date_window_days"`

	// AmountDecayRatio is the relative amount difference at which the amount
	// score reaches zero.
	AmountDecayRatio float64 `json:"amount_decay_ratio" mapstructure:"amount_decay_ratio"`

	// DefaultEpsilon is the exact-amount tolerance for currencies without an
	// entry in CurrencyEpsilons.
	DefaultEpsilon decimal.Decimal `json:"default_epsilon" mapstructure:"-"`

	// CurrencyEpsilons holds one minor unit per ISO currency code.
	CurrencyEpsilons map[string]decimal.Decimal `json:"currency_epsilons" mapstructure:"-"`

	// HighThreshold is the minimum score for an automatic Match.
	HighThreshold float64 `json:"high_threshold" mapstructure:"high_threshold"`

	// LowThreshold is the minimum score for a discrepancy suggestion.
	LowThreshold float64 `json:"low_threshold" mapstructure:"low_threshold"`

	// MaxCandidates caps the ranked candidate list per item.
	MaxCandidates int `json:"max_candidates" mapstructure:"max_candidates"`

	// Workers bounds parallel scoring. Zero means GOMAXPROCS.
	Workers int `json:"workers" mapstructure:"workers"`

	Weights MatchingWeights `json:"weights" mapstructure:"weights"`
}

// MatchingWeights defines the relative importance of the scoring signals.
// The final score is the weighted sum divided by the weight total.
type MatchingWeights struct {
	AmountWeight float64 `json:"amount_weight" mapstructure:"amount"`
	DateWeight   float64 `json:"date_weight" mapstructure:"date"`
	TextWeight   float64 `json:"text_weight" mapstructure:"text"`
}

// Total returns the sum of all weights
func (mw MatchingWeights) Total() float64 {
	return mw.AmountWeight + mw.DateWeight + mw.TextWeight
}

// DefaultCurrencyEpsilons returns one minor unit for currencies whose minor
// unit is not a cent.
func DefaultCurrencyEpsilons() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"JPY": decimal.NewFromInt(1),
		"KRW": decimal.NewFromInt(1),
		"VND": decimal.NewFromInt(1),
		"BHD": decimal.New(1, -3),
		"KWD": decimal.New(1, -3),
		"OMR": decimal.New(1, -3),
		"JOD": decimal.New(1, -3),
	}
}

// DefaultMatchingConfig returns the documented defaults: weights 0.5/0.3/0.2,
// a 3 day window, confirm at 0.85 and suggest from 0.5.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:   3,
		AmountDecayRatio: 0.10,
		DefaultEpsilon:   decimal.New(1, -2),
		CurrencyEpsilons: DefaultCurrencyEpsilons(),
		HighThreshold:    0.85,
		LowThreshold:     0.5,
		MaxCandidates:    10,
		Weights: MatchingWeights{
			AmountWeight: 0.5,
			DateWeight:   0.3,
			TextWeight:   0.2,
		},
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.DateWindowDays = 0
	config.AmountDecayRatio = 0.01
	config.HighThreshold = 0.95
	config.LowThreshold = 0.7
	config.MaxCandidates = 5
	config.Weights = MatchingWeights{AmountWeight: 0.6, DateWeight: 0.3, TextWeight: 0.1}
	return config
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.DateWindowDays = 7
	config.AmountDecayRatio = 0.25
	config.HighThreshold = 0.8
	config.LowThreshold = 0.4
	config.MaxCandidates = 20
	config.Weights = MatchingWeights{AmountWeight: 0.5, DateWeight: 0.25, TextWeight: 0.25}
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}

	if mc.AmountDecayRatio <= 0.0 || mc.AmountDecayRatio > 1.0 {
		return fmt.Errorf("amount decay ratio must be in (0.0, 1.0]: %f", mc.AmountDecayRatio)
	}

	if mc.DefaultEpsilon.IsNegative() {
		return fmt.Errorf("default epsilon cannot be negative: %s", mc.DefaultEpsilon)
	}
	for code, eps := range mc.CurrencyEpsilons {
		if eps.IsNegative() {
			return fmt.Errorf("epsilon for %s cannot be negative: %s", code, eps)
		}
	}

	if mc.LowThreshold < 0.0 || mc.HighThreshold > 1.0 || mc.LowThreshold > mc.HighThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= low <= high <= 1: low=%f high=%f",
			mc.LowThreshold, mc.HighThreshold)
	}

	if mc.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive: %d", mc.MaxCandidates)
	}

	if mc.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: %d", mc.Workers)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Validate checks if the matching weights are valid
func (mw *MatchingWeights) Validate() error {
	if mw.AmountWeight < 0.0 || mw.AmountWeight > 1.0 {
		return fmt.Errorf("amount weight must be between 0.0 and 1.0: %f", mw.AmountWeight)
	}

	if mw.DateWeight < 0.0 || mw.DateWeight > 1.0 {
		return fmt.Errorf("date weight must be between 0.0 and 1.0: %f", mw.DateWeight)
	}

	if mw.TextWeight < 0.0 || mw.TextWeight > 1.0 {
		return fmt.Errorf("text weight must be between 0.0 and 1.0: %f", mw.TextWeight)
	}

	if mw.Total() <= 0 {
		return fmt.Errorf("at least one weight must be positive")
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	clone.CurrencyEpsilons = make(map[string]decimal.Decimal, len(mc.CurrencyEpsilons))
	for code, eps := range mc.CurrencyEpsilons {
		clone.CurrencyEpsilons[code] = eps
	}
	return &clone
}

// EpsilonFor returns the exact-amount tolerance for a currency
func (mc *MatchingConfig) EpsilonFor(currency string) decimal.Decimal {
	if eps, ok := mc.CurrencyEpsilons[strings.ToUpper(currency)]; ok {
		return eps
	}
	return mc.DefaultEpsilon
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	codes := make([]string, 0, len(mc.CurrencyEpsilons))
	for code := range mc.CurrencyEpsilons {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return fmt.Sprintf("MatchingConfig{Window: %d days, Weights: %.2f/%.2f/%.2f, High: %.2f, Low: %.2f, Epsilon: %s, Overrides: %s}",
		mc.DateWindowDays, mc.Weights.AmountWeight, mc.Weights.DateWeight, mc.Weights.TextWeight,
		mc.HighThreshold, mc.LowThreshold, mc.DefaultEpsilon, strings.Join(codes, ","))
}
