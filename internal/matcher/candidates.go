package matcher

import (
	"math"
	"sort"

	"reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Candidate is one scored recorded transaction for a bank line item
type Candidate struct {
	TransactionID int64                       `json:"transaction_id"`
	Transaction   *models.RecordedTransaction `json:"-"`
	Score         float64                     `json:"score"`
	AmountScore   float64                     `json:"amount_score"`
	DateScore     float64                     `json:"date_score"`
	TextScore     float64                     `json:"text_score"`
	DayDiff       int                         `json:"day_diff"`
}

// CandidateGenerator scores recorded transactions against one bank line item.
// It is stateless apart from its configuration and safe for concurrent use.
type CandidateGenerator struct {
	config *MatchingConfig
}

// NewCandidateGenerator creates a generator; a nil config uses the defaults
func NewCandidateGenerator(config *MatchingConfig) *CandidateGenerator {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &CandidateGenerator{config: config}
}

// Generate returns the ranked candidates for item drawn from index. The list is
// ordered by score, then amount score, then day difference, then transaction
// id, and capped at MaxCandidates. It never fails; no candidates yields nil.
func (g *CandidateGenerator) Generate(item *models.BankLineItem, index *TransactionIndex) []Candidate {
	if item == nil || index == nil {
		return nil
	}

	var candidates []Candidate
	for _, tx := range index.GetWithinDays(item.Date, g.config.DateWindowDays) {
		if c, ok := g.Score(item, tx); ok {
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j])
	})

	if len(candidates) > g.config.MaxCandidates {
		candidates = candidates[:g.config.MaxCandidates]
	}
	return candidates
}

// Score computes the combined score of one pairing. ok is false when the pair
// is excluded: outside the date window, or both amount and date score 0.
func (g *CandidateGenerator) Score(item *models.BankLineItem, tx *models.RecordedTransaction) (Candidate, bool) {
	dayDiff := models.DaysBetween(item.Date, tx.Date)
	if dayDiff > g.config.DateWindowDays {
		return Candidate{}, false
	}

	amountScore := g.amountScore(item, tx)
	dateScore := g.dateScore(dayDiff)
	if amountScore == 0 && dateScore == 0 {
		return Candidate{}, false
	}

	textScore := maxFloat(
		TextSimilarity(item.Description, tx.Description),
		TextSimilarity(item.Description, tx.Vendor),
	)

	w := g.config.Weights
	combined := (w.AmountWeight*amountScore + w.DateWeight*dateScore + w.TextWeight*textScore) / w.Total()

	return Candidate{
		TransactionID: tx.ID,
		Transaction:   tx,
		Score:         roundScore(clamp01(combined)),
		AmountScore:   roundScore(amountScore),
		DateScore:     roundScore(dateScore),
		TextScore:     roundScore(textScore),
		DayDiff:       dayDiff,
	}, true
}

// amountScore is 1 within one minor unit when currencies agree, decays
// linearly with relative difference to 0 at AmountDecayRatio, and is 0 for a
// currency mismatch.
func (g *CandidateGenerator) amountScore(item *models.BankLineItem, tx *models.RecordedTransaction) float64 {
	itemCurrency, txCurrency := models.ResolveCurrencies(item.Currency, tx.Currency)
	if itemCurrency != txCurrency {
		return 0
	}

	a, b := item.Amount.Abs(), tx.Amount.Abs()
	diff := a.Sub(b).Abs()
	if diff.LessThanOrEqual(g.config.EpsilonFor(itemCurrency)) {
		return 1
	}

	larger := decimal.Max(a, b)
	if larger.IsZero() {
		return 0
	}
	relative := diff.Div(larger).InexactFloat64()
	return math.Max(0, 1-relative/g.config.AmountDecayRatio)
}

func (g *CandidateGenerator) dateScore(dayDiff int) float64 {
	window := g.config.DateWindowDays
	if window == 0 {
		if dayDiff == 0 {
			return 1
		}
		return 0
	}
	return math.Max(0, 1-float64(dayDiff)/float64(window))
}

// candidateLess orders candidates of a single item
func candidateLess(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.AmountScore != b.AmountScore {
		return a.AmountScore > b.AmountScore
	}
	if a.DayDiff != b.DayDiff {
		return a.DayDiff < b.DayDiff
	}
	return a.TransactionID < b.TransactionID
}

// roundScore removes floating point noise so that equal inputs compare equal
// regardless of summation order.
func roundScore(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
