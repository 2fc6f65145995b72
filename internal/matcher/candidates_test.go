package matcher

import (
	"math"
	"testing"

	"reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

func TestCandidateGenerator_Score(t *testing.T) {
	gen := NewCandidateGenerator(nil)

	tests := []struct {
		name       string
		itemAmount string
		itemDay    int
		txAmount   string
		txDay      int
		wantOK     bool
		wantAmount float64
		wantDate   float64
	}{
		{"exact", "49.99", 0, "49.99", 0, true, 1, 1},
		{"within epsilon", "49.99", 0, "50.00", 0, true, 1, 1},
		{"one day apart", "10.00", 0, "10.00", 1, true, 1, 0.666667},
		{"window boundary keeps amount", "10.00", 0, "10.00", 3, true, 1, 0},
		{"outside window", "10.00", 0, "10.00", 4, false, 0, 0},
		{"signs ignored", "-25.00", 0, "25.00", 0, true, 1, 1},
		{"decaying amount", "100.00", 0, "105.00", 0, true, 0.52381, 1},
		{"amount and date both zero", "10.00", 0, "500.00", 3, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newItem(1, tt.itemAmount, day(tt.itemDay), "")
			tx := newTx(2, tt.txAmount, day(tt.txDay), "")

			c, ok := gen.Score(item, tx)
			if ok != tt.wantOK {
				t.Fatalf("Score() ok = %v, want %v (%+v)", ok, tt.wantOK, c)
			}
			if !ok {
				return
			}
			if math.Abs(c.AmountScore-tt.wantAmount) > 1e-5 {
				t.Errorf("amount score = %f, want %f", c.AmountScore, tt.wantAmount)
			}
			if math.Abs(c.DateScore-tt.wantDate) > 1e-5 {
				t.Errorf("date score = %f, want %f", c.DateScore, tt.wantDate)
			}
			if c.Score < 0 || c.Score > 1 {
				t.Errorf("score out of range: %f", c.Score)
			}
		})
	}
}

func TestCandidateGenerator_CurrencyRules(t *testing.T) {
	gen := NewCandidateGenerator(nil)

	item := newItem(1, "1000", day(0), "")
	item.Currency = "EUR"
	tx := newTx(2, "1000", day(0), "")

	c, ok := gen.Score(item, tx)
	if !ok {
		t.Fatal("expected candidate to survive on date score")
	}
	if c.AmountScore != 0 {
		t.Errorf("currency mismatch must score amount 0, got %f", c.AmountScore)
	}

	// an unspecified side adopts the other side's currency
	tx.Currency = ""
	c, _ = gen.Score(item, tx)
	if c.AmountScore != 1 {
		t.Errorf("expected unspecified currency to agree, got %f", c.AmountScore)
	}

	// JPY uses a whole-unit epsilon
	item.Currency = "JPY"
	item.Amount = decimal.RequireFromString("1000")
	tx.Currency = "JPY"
	tx.Amount = decimal.RequireFromString("1001")
	c, _ = gen.Score(item, tx)
	if c.AmountScore != 1 {
		t.Errorf("expected JPY amounts one unit apart to match exactly, got %f", c.AmountScore)
	}
}

func TestCandidateGenerator_ZeroWindow(t *testing.T) {
	config := DefaultMatchingConfig()
	config.DateWindowDays = 0
	gen := NewCandidateGenerator(config)

	if _, ok := gen.Score(newItem(1, "5", day(0), ""), newTx(2, "5", day(1), "")); ok {
		t.Error("expected exclusion for a different day with a zero window")
	}
	c, ok := gen.Score(newItem(1, "5", day(0), ""), newTx(2, "5", day(0), ""))
	if !ok || c.DateScore != 1 {
		t.Errorf("expected same-day match, got %+v", c)
	}
}

func TestCandidateGenerator_GenerateOrdering(t *testing.T) {
	config := DefaultMatchingConfig()
	config.MaxCandidates = 2
	gen := NewCandidateGenerator(config)

	item := newItem(1, "30.00", day(0), "GROCER")
	index := NewTransactionIndex([]*models.RecordedTransaction{
		newTx(9, "30.00", day(0), "Grocer"),
		newTx(3, "30.00", day(0), "Grocer"),
		newTx(4, "30.00", day(1), "Grocer"),
	})

	got := gen.Generate(item, index)
	if len(got) != 2 {
		t.Fatalf("expected list capped at 2, got %d", len(got))
	}
	if got[0].TransactionID != 3 || got[1].TransactionID != 9 {
		t.Errorf("expected ids [3 9], got [%d %d]", got[0].TransactionID, got[1].TransactionID)
	}
}

func TestCandidateLess(t *testing.T) {
	base := Candidate{TransactionID: 5, Score: 0.9, AmountScore: 1, DayDiff: 1}

	tests := []struct {
		name  string
		other Candidate
		want  bool // base sorts before other
	}{
		{"higher score first", Candidate{TransactionID: 1, Score: 0.8, AmountScore: 1}, true},
		{"higher amount score first", Candidate{TransactionID: 1, Score: 0.9, AmountScore: 0.9}, true},
		{"closer date first", Candidate{TransactionID: 1, Score: 0.9, AmountScore: 1, DayDiff: 0}, false},
		{"lower id first", Candidate{TransactionID: 6, Score: 0.9, AmountScore: 1, DayDiff: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := candidateLess(base, tt.other); got != tt.want {
				t.Errorf("candidateLess() = %v, want %v", got, tt.want)
			}
		})
	}
}
