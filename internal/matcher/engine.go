package matcher

import (
	"fmt"
	"sort"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/logger"

	"github.com/sourcegraph/conc/iter"
)

// Engine resolves a statement-wide assignment of line items to recorded
// transactions. It reads a snapshot and returns a Plan; it never writes.
type Engine struct {
	config    *MatchingConfig
	generator *CandidateGenerator
	logger    logger.Logger
}

// Decision is the engine's proposal for one line item
type Decision struct {
	Item      *models.BankLineItem `json:"-"`
	ItemID    int64                `json:"bank_item_id"`
	Kind      DecisionKind         `json:"kind"`
	Candidate *Candidate           `json:"candidate,omitempty"`
}

// Plan is the outcome of one planning pass. Decisions follow the input item order.
type Plan struct {
	Decisions  []Decision `json:"decisions"`
	Confirmed  int        `json:"confirmed"`
	Suggested  int        `json:"suggested"`
	Unassigned int        `json:"unassigned"`
}

// triple is one (item, candidate) pairing considered by the global assignment
type triple struct {
	itemIndex int
	itemID    int64
	candidate Candidate
}

// NewEngine creates a matching engine with the specified configuration
func NewEngine(config *MatchingConfig, log logger.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Engine{
		config:    config,
		generator: NewCandidateGenerator(config),
		logger:    log.WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Candidates ranks the pool for a single line item
func (e *Engine) Candidates(item *models.BankLineItem, pool []*models.RecordedTransaction) []Candidate {
	return e.generator.Generate(item, NewTransactionIndex(pool))
}

// Plan scores every item against the pool in parallel, then assigns greedily
// in a single goroutine. All triples of the statement are ordered by score,
// amount score, day difference, transaction id and item id; a triple is
// skipped when its item or transaction was already assigned in this pass.
// Triples below the low threshold are never assigned.
func (e *Engine) Plan(items []*models.BankLineItem, pool []*models.RecordedTransaction) *Plan {
	index := NewTransactionIndex(pool)

	mapper := iter.Mapper[*models.BankLineItem, []Candidate]{MaxGoroutines: e.config.Workers}
	ranked := mapper.Map(items, func(item **models.BankLineItem) []Candidate {
		return e.generator.Generate(*item, index)
	})

	var triples []triple
	for i, candidates := range ranked {
		for _, c := range candidates {
			if c.Score < e.config.LowThreshold {
				continue
			}
			triples = append(triples, triple{itemIndex: i, itemID: items[i].ID, candidate: c})
		}
	}

	sort.Slice(triples, func(i, j int) bool {
		a, b := triples[i].candidate, triples[j].candidate
		if candidateLess(a, b) {
			return true
		}
		if candidateLess(b, a) {
			return false
		}
		return triples[i].itemID < triples[j].itemID
	})

	assigned := make([]*Candidate, len(items))
	takenTx := make(map[int64]bool)
	for _, t := range triples {
		if assigned[t.itemIndex] != nil || takenTx[t.candidate.TransactionID] {
			continue
		}
		c := t.candidate
		assigned[t.itemIndex] = &c
		takenTx[c.TransactionID] = true
	}

	plan := &Plan{Decisions: make([]Decision, len(items))}
	for i, item := range items {
		decision := Decision{Item: item, ItemID: item.ID, Kind: DecisionNone}
		if c := assigned[i]; c != nil {
			decision.Candidate = c
			if c.Score >= e.config.HighThreshold {
				decision.Kind = DecisionConfirm
			} else {
				decision.Kind = DecisionSuggest
			}
		}

		switch decision.Kind {
		case DecisionConfirm:
			plan.Confirmed++
		case DecisionSuggest:
			plan.Suggested++
		default:
			plan.Unassigned++
		}
		plan.Decisions[i] = decision
	}

	e.logger.WithFields(logger.Fields{
		"items":      len(items),
		"pool":       index.Size(),
		"triples":    len(triples),
		"confirmed":  plan.Confirmed,
		"suggested":  plan.Suggested,
		"unassigned": plan.Unassigned,
	}).Debug("Planned assignment")

	return plan
}
