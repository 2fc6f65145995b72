package matcher

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr string
	}{
		{"default is valid", func(*MatchingConfig) {}, ""},
		{"negative window", func(c *MatchingConfig) { c.DateWindowDays = -1 }, "date window"},
		{"zero decay", func(c *MatchingConfig) { c.AmountDecayRatio = 0 }, "decay ratio"},
		{"negative epsilon", func(c *MatchingConfig) { c.DefaultEpsilon = decimal.NewFromInt(-1) }, "epsilon"},
		{"low above high", func(c *MatchingConfig) { c.LowThreshold = 0.9 }, "thresholds"},
		{"high above one", func(c *MatchingConfig) { c.HighThreshold = 1.5 }, "thresholds"},
		{"no candidates", func(c *MatchingConfig) { c.MaxCandidates = 0 }, "max candidates"},
		{"all weights zero", func(c *MatchingConfig) { c.Weights = MatchingWeights{} }, "weight"},
		{"weight above one", func(c *MatchingConfig) { c.Weights.TextWeight = 2 }, "text weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMatchingConfig_Factories(t *testing.T) {
	for name, config := range map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	} {
		if err := config.Validate(); err != nil {
			t.Errorf("%s config invalid: %v", name, err)
		}
	}

	config := DefaultMatchingConfig()
	if config.Weights.AmountWeight != 0.5 || config.Weights.DateWeight != 0.3 || config.Weights.TextWeight != 0.2 {
		t.Errorf("unexpected default weights %+v", config.Weights)
	}
	if config.DateWindowDays != 3 || config.HighThreshold != 0.85 || config.LowThreshold != 0.5 {
		t.Errorf("unexpected default thresholds %s", config)
	}
}

func TestMatchingConfig_Clone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()

	clone.CurrencyEpsilons["XTS"] = decimal.NewFromInt(5)
	clone.Weights.TextWeight = 0.9

	if _, ok := original.CurrencyEpsilons["XTS"]; ok {
		t.Error("clone shares the epsilon map with the original")
	}
	if original.Weights.TextWeight != 0.2 {
		t.Error("clone shares weights with the original")
	}

	var nilConfig *MatchingConfig
	if nilConfig.Clone() != nil {
		t.Error("expected nil clone of nil config")
	}
}

func TestMatchingConfig_EpsilonFor(t *testing.T) {
	config := DefaultMatchingConfig()

	if !config.EpsilonFor("usd").Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("expected cent epsilon for USD, got %s", config.EpsilonFor("usd"))
	}
	if !config.EpsilonFor("jpy").Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected unit epsilon for JPY, got %s", config.EpsilonFor("jpy"))
	}
	if !config.EpsilonFor("KWD").Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("expected mil epsilon for KWD, got %s", config.EpsilonFor("KWD"))
	}
}

func TestDecisionKind_String(t *testing.T) {
	if DecisionConfirm.String() != "confirm" || DecisionSuggest.String() != "suggest" || DecisionNone.String() != "none" {
		t.Error("unexpected decision kind names")
	}
}
