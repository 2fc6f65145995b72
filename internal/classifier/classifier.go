// Package classifier suggests a category and transaction type for bank line
// items that the matching engine could not pair with a recorded transaction.
package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"reconciliation-engine/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// FallbackCategory is suggested when no rule matches
const FallbackCategory = "Other"

// Classifier proposes a category and type from a line item description
type Classifier interface {
	Classify(description string, direction models.Direction) Suggestion
}

// Suggestion is the outcome of classifying one description
type Suggestion struct {
	Category string                 `json:"category"`
	Type     models.TransactionType `json:"type"`
	RuleName string                 `json:"rule,omitempty"`
}

// TypeMode selects how a rule decides the suggested transaction type
type TypeMode string

const (
	TypeModeTransfer  TypeMode = "transfer"
	TypeModeIncome    TypeMode = "income"
	TypeModeExpense   TypeMode = "expense"
	TypeModeDirection TypeMode = "direction"
)

// Rule maps a set of description keywords to a category
type Rule struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Type     TypeMode `yaml:"type"`
	Priority int      `yaml:"priority"`
	Keywords []string `yaml:"keywords"`
}

// RuleSet is the top-level YAML document
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// KeywordClassifier matches lowercased descriptions against keyword rules.
// Rules are evaluated by priority, highest first, and the first hit wins.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier parses and validates a YAML rule set
func NewKeywordClassifier(data []byte) (*KeywordClassifier, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(data, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse classifier rules: %w", err)
	}

	rules := make([]Rule, 0, len(ruleSet.Rules))
	for i, rule := range ruleSet.Rules {
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
		}
		normalized := rule
		normalized.Keywords = make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			normalized.Keywords = append(normalized.Keywords, strings.ToLower(strings.TrimSpace(kw)))
		}
		rules = append(rules, normalized)
	}

	// equal priorities keep file order
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return &KeywordClassifier{rules: rules}, nil
}

// LoadEmbedded returns a classifier built from the bundled rules
func LoadEmbedded() (*KeywordClassifier, error) {
	c, err := NewKeywordClassifier(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded classifier rules: %w", err)
	}
	return c, nil
}

// LoadFromFile builds a classifier from a rules file on disk
func LoadFromFile(path string) (*KeywordClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier rules: %w", err)
	}
	c, err := NewKeywordClassifier(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier rules from %q: %w", path, err)
	}
	return c, nil
}

// Classify returns the first matching rule's category, or FallbackCategory.
func (c *KeywordClassifier) Classify(description string, direction models.Direction) Suggestion {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc != "" {
		for _, rule := range c.rules {
			for _, kw := range rule.Keywords {
				if strings.Contains(desc, kw) {
					return Suggestion{
						Category: rule.Category,
						Type:     rule.Type.resolve(direction),
						RuleName: rule.Name,
					}
				}
			}
		}
	}
	return Suggestion{Category: FallbackCategory, Type: direction.DefaultTransactionType()}
}

// Len returns the number of loaded rules
func (c *KeywordClassifier) Len() int {
	return len(c.rules)
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if r.Priority < 0 || r.Priority > 999 {
		return fmt.Errorf("priority must be in [0,999], got %d", r.Priority)
	}
	switch r.Type {
	case TypeModeTransfer, TypeModeIncome, TypeModeExpense, TypeModeDirection:
	default:
		return fmt.Errorf("invalid type %q", r.Type)
	}
	if len(r.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	for _, kw := range r.Keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("keywords cannot be empty")
		}
	}
	return nil
}

func (m TypeMode) resolve(direction models.Direction) models.TransactionType {
	switch m {
	case TypeModeTransfer:
		return models.TransactionTypeTransfer
	case TypeModeIncome:
		return models.TransactionTypeIncome
	case TypeModeExpense:
		return models.TransactionTypeExpense
	default:
		return direction.DefaultTransactionType()
	}
}

var (
	creditHints = []string{
		"transfer from", "received from", "credit", "deposit", "inflow",
		"reversal", "refund", "salary", "lodgment", "direct credit",
		"payment received",
	}
	debitHints = []string{
		"transfer to", "payment to", "debit", "withdrawal", "pos", "atm",
		"charges", "fee", "purchase", "airtime", "standing order",
		"direct debit",
	}
)

// InferDirection guesses debit or credit from description wording. It is used
// for statement rows that carry an unsigned amount and no direction column.
// Ties resolve to debit.
func InferDirection(description string) models.Direction {
	desc := strings.ToLower(description)
	credit, debit := 0, 0
	for _, hint := range creditHints {
		if strings.Contains(desc, hint) {
			credit++
		}
	}
	for _, hint := range debitHints {
		if strings.Contains(desc, hint) {
			debit++
		}
	}
	if credit > debit {
		return models.DirectionCredit
	}
	return models.DirectionDebit
}
