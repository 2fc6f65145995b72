package matcher

import (
	"strings"

	"reconciliation-engine/internal/models"
)

// DuplicateReason explains why an existing transaction was judged to be the
// same money movement as a line item being imported.
type DuplicateReason string

const (
	DuplicateByReference   DuplicateReason = "reference"
	DuplicateBySameBank    DuplicateReason = "same_date_amount_bank"
	DuplicateByUniqueMatch DuplicateReason = "unique_date_amount"
)

// minReferenceLength keeps short references such as "1" from matching arbitrary text
const minReferenceLength = 4

// DuplicateDetector finds an already recorded transaction for a line item that
// is about to be imported, so the import links instead of creating a copy.
type DuplicateDetector struct {
	config *MatchingConfig
}

// NewDuplicateDetector creates a detector using the amount epsilons of config
func NewDuplicateDetector(config *MatchingConfig) *DuplicateDetector {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &DuplicateDetector{config: config}
}

// FindDuplicate checks, in order: the bank reference appearing in a
// transaction description; same date and amount recorded against the
// statement's bank; a single same date and amount transaction. index must only
// contain transactions without an active match. Ties resolve to the lowest id.
func (d *DuplicateDetector) FindDuplicate(item *models.BankLineItem, bankName string, index *TransactionIndex) (*models.RecordedTransaction, DuplicateReason) {
	if item == nil || index == nil {
		return nil, ""
	}

	if ref := strings.ToLower(strings.TrimSpace(item.Reference)); len(ref) >= minReferenceLength {
		for _, tx := range index.AllTransactions {
			if strings.Contains(strings.ToLower(tx.Description), ref) {
				return tx, DuplicateByReference
			}
		}
	}

	var sameDay []*models.RecordedTransaction
	for _, tx := range index.GetByDate(item.Date) {
		if d.sameAmount(item, tx) {
			sameDay = append(sameDay, tx)
		}
	}

	bank := strings.TrimSpace(bankName)
	if bank != "" {
		for _, tx := range sameDay {
			if strings.EqualFold(strings.TrimSpace(tx.Bank), bank) {
				return tx, DuplicateBySameBank
			}
		}
	}

	if len(sameDay) == 1 {
		return sameDay[0], DuplicateByUniqueMatch
	}
	return nil, ""
}

func (d *DuplicateDetector) sameAmount(item *models.BankLineItem, tx *models.RecordedTransaction) bool {
	itemCurrency, txCurrency := models.ResolveCurrencies(item.Currency, tx.Currency)
	if itemCurrency != txCurrency {
		return false
	}
	return models.CompareAmountsWithTolerance(item.Amount.Abs(), tx.Amount.Abs(), d.config.EpsilonFor(itemCurrency))
}
