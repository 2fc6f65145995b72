package classifier

import (
	"testing"

	"reconciliation-engine/internal/models"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded failed: %v", err)
	}
	if c.Len() == 0 {
		t.Fatal("expected embedded rules")
	}
}

func TestKeywordClassifier_Classify(t *testing.T) {
	c, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded failed: %v", err)
	}

	tests := []struct {
		description  string
		direction    models.Direction
		wantCategory string
		wantType     models.TransactionType
	}{
		{"Auto-save to OWealth Balance", models.DirectionDebit, "Internal Transfer", models.TransactionTypeTransfer},
		{"SALARY MARCH 2024", models.DirectionCredit, "Salary", models.TransactionTypeIncome},
		// income categories win over neutral ones even on a debit
		{"Refund for amazon order", models.DirectionDebit, "Refund", models.TransactionTypeIncome},
		{"UBER TRIP HELP.UBER.COM", models.DirectionDebit, "Transportation", models.TransactionTypeExpense},
		{"Shoprite Lekki", models.DirectionCredit, "Food & Dining", models.TransactionTypeIncome},
		{"Netflix.com", models.DirectionDebit, "Entertainment", models.TransactionTypeExpense},
		{"XYZ 0042", models.DirectionDebit, FallbackCategory, models.TransactionTypeExpense},
		{"", models.DirectionCredit, FallbackCategory, models.TransactionTypeIncome},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			got := c.Classify(tt.description, tt.direction)
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestNewKeywordClassifier_PriorityOrder(t *testing.T) {
	data := []byte(`
rules:
  - name: low
    category: Shopping
    type: direction
    priority: 10
    keywords: [store]
  - name: high
    category: Gift
    type: income
    priority: 50
    keywords: [gift store]
`)
	c, err := NewKeywordClassifier(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := c.Classify("Gift Store Purchase", models.DirectionDebit)
	if got.RuleName != "high" {
		t.Errorf("expected higher priority rule to win, got %q", got.RuleName)
	}
}

func TestNewKeywordClassifier_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "rules: [:"},
		{"missing category", "rules:\n  - name: a\n    type: income\n    keywords: [x]\n"},
		{"bad type", "rules:\n  - name: a\n    category: X\n    type: debit\n    keywords: [x]\n"},
		{"no keywords", "rules:\n  - name: a\n    category: X\n    type: income\n"},
		{"blank keyword", "rules:\n  - name: a\n    category: X\n    type: income\n    keywords: ['  ']\n"},
		{"priority range", "rules:\n  - name: a\n    category: X\n    type: income\n    priority: 1000\n    keywords: [x]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeywordClassifier([]byte(tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestInferDirection(t *testing.T) {
	tests := []struct {
		description string
		want        models.Direction
	}{
		{"Transfer from John Doe", models.DirectionCredit},
		{"POS purchase at Mall", models.DirectionDebit},
		{"Salary deposit", models.DirectionCredit},
		{"unknown", models.DirectionDebit},
	}
	for _, tt := range tests {
		if got := InferDirection(tt.description); got != tt.want {
			t.Errorf("InferDirection(%q) = %s, want %s", tt.description, got, tt.want)
		}
	}
}
