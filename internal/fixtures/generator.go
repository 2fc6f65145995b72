// Package fixtures generates paired ledger and bank statement data sets for
// exercising the matcher end to end.
package fixtures

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// Pattern selects how statement lines relate to the ledger
type Pattern string

const (
	// PatternRandom pairs MatchRatio of the lines with ledger entries, with
	// small date and amount drift on some of them
	PatternRandom Pattern = "random"
	// PatternExact pairs every line with a ledger entry on the same day for
	// the same amount
	PatternExact Pattern = "exact"
	// PatternMismatched produces lines that share nothing with the ledger
	PatternMismatched Pattern = "mismatched"
)

// IsValid reports whether p is a known pattern
func (p Pattern) IsValid() bool {
	switch p {
	case PatternRandom, PatternExact, PatternMismatched:
		return true
	}
	return false
}

// Config controls a generation run
type Config struct {
	Count      int
	StartDate  time.Time
	EndDate    time.Time
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	MatchRatio float64
	Pattern    Pattern
	Seed       int64
}

// DefaultConfig returns a one month, mostly matching data set
func DefaultConfig() Config {
	return Config{
		Count:      50,
		StartDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		MinAmount:  decimal.NewFromFloat(1.00),
		MaxAmount:  decimal.NewFromFloat(500.00),
		MatchRatio: 0.8,
		Pattern:    PatternRandom,
		Seed:       1,
	}
}

// Validate checks the ranges of c
func (c Config) Validate() error {
	if c.Count <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "count", c.Count, nil)
	}
	if c.EndDate.Before(c.StartDate) {
		return errors.ValidationError(errors.CodeOutOfRange, "end_date", models.FormatDate(c.EndDate), nil).
			WithSuggestion("the end date must not be before the start date")
	}
	if !c.MinAmount.IsPositive() || c.MaxAmount.LessThan(c.MinAmount) {
		return errors.ValidationError(errors.CodeOutOfRange, "amount_range",
			fmt.Sprintf("%s-%s", c.MinAmount, c.MaxAmount), nil)
	}
	if c.MatchRatio < 0 || c.MatchRatio > 1 {
		return errors.ValidationError(errors.CodeOutOfRange, "match_ratio", c.MatchRatio, nil)
	}
	if !c.Pattern.IsValid() {
		return errors.ValidationError(errors.CodeInvalidValue, "pattern", c.Pattern, nil)
	}
	return nil
}

// Transaction is one generated ledger row
type Transaction struct {
	Date        time.Time
	Type        models.TransactionType
	Amount      decimal.Decimal
	Category    string
	Description string
	Vendor      string
}

// LineItem is one generated statement row. Amount is signed, debits negative.
type LineItem struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	// Ledger is the index of the paired transaction, -1 when unpaired
	Ledger int
}

// Dataset is a generated ledger with its statement
type Dataset struct {
	Transactions []Transaction
	LineItems    []LineItem
}

// Paired counts the statement lines generated from a ledger entry
func (d *Dataset) Paired() int {
	n := 0
	for _, item := range d.LineItems {
		if item.Ledger >= 0 {
			n++
		}
	}
	return n
}

type merchant struct {
	vendor    string
	category  string
	statement string
	txType    models.TransactionType
}

var merchants = []merchant{
	{"Amazon", "Shopping", "AMAZON MKTPLACE", models.TransactionTypeExpense},
	{"Uber", "Transport", "UBER TRIP", models.TransactionTypeExpense},
	{"Starbucks", "Dining", "STARBUCKS STORE", models.TransactionTypeExpense},
	{"Whole Foods", "Groceries", "WHOLEFDS MKT", models.TransactionTypeExpense},
	{"Shell", "Fuel", "SHELL OIL", models.TransactionTypeExpense},
	{"Netflix", "Subscriptions", "NETFLIX.COM", models.TransactionTypeExpense},
	{"Comcast", "Utilities", "COMCAST CABLE", models.TransactionTypeExpense},
	{"Acme Corp", "Salary", "ACME CORP PAYROLL", models.TransactionTypeIncome},
	{"Stripe", "Sales", "STRIPE TRANSFER", models.TransactionTypeIncome},
}

// strangers never appear in the ledger
var strangers = []string{
	"ATM WITHDRAWAL", "SERVICE CHARGE", "MAINTENANCE FEE", "WIRE FEE", "INTEREST PAYMENT",
}

type generator struct {
	cfg Config
	rnd *rand.Rand
}

// Generate builds a data set. The same config always yields the same data.
func Generate(cfg Config) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &generator{cfg: cfg, rnd: rand.New(rand.NewSource(cfg.Seed))}

	paired := int(float64(cfg.Count) * cfg.MatchRatio)
	switch cfg.Pattern {
	case PatternExact:
		paired = cfg.Count
	case PatternMismatched:
		paired = 0
	}

	ds := &Dataset{
		Transactions: make([]Transaction, 0, paired),
		LineItems:    make([]LineItem, 0, cfg.Count),
	}
	for i := 0; i < paired; i++ {
		tx := g.transaction()
		ds.Transactions = append(ds.Transactions, tx)
		ds.LineItems = append(ds.LineItems, g.pairedLine(tx, i))
	}
	for i := paired; i < cfg.Count; i++ {
		ds.LineItems = append(ds.LineItems, g.strangerLine(i))
	}
	return ds, nil
}

func (g *generator) date() time.Time {
	days := int(g.cfg.EndDate.Sub(g.cfg.StartDate).Hours() / 24)
	if days == 0 {
		return g.cfg.StartDate
	}
	return g.cfg.StartDate.AddDate(0, 0, g.rnd.Intn(days+1))
}

func (g *generator) amount() decimal.Decimal {
	spread := g.cfg.MaxAmount.Sub(g.cfg.MinAmount)
	return decimal.NewFromFloat(g.rnd.Float64()).Mul(spread).Add(g.cfg.MinAmount).Round(2)
}

func (g *generator) transaction() Transaction {
	m := merchants[g.rnd.Intn(len(merchants))]
	return Transaction{
		Date:        g.date(),
		Type:        m.txType,
		Amount:      g.amount(),
		Category:    m.category,
		Description: m.vendor + " " + m.category,
		Vendor:      m.vendor,
	}
}

// pairedLine renders tx as its bank would report it
func (g *generator) pairedLine(tx Transaction, seq int) LineItem {
	amount := tx.Amount
	if tx.Type == models.TransactionTypeExpense {
		amount = amount.Neg()
	}
	date := tx.Date

	if g.cfg.Pattern == PatternRandom {
		// 20% post a day early or late
		if g.rnd.Float64() < 0.2 {
			date = date.AddDate(0, 0, g.rnd.Intn(3)-1)
		}
		// 10% drift by up to half a percent
		if g.rnd.Float64() < 0.1 {
			drift := decimal.NewFromFloat((g.rnd.Float64() - 0.5) * 0.01)
			amount = amount.Add(amount.Mul(drift)).Round(2)
		}
	}

	var statement string
	for _, m := range merchants {
		if m.vendor == tx.Vendor {
			statement = m.statement
			break
		}
	}
	return LineItem{
		Date:        date,
		Description: fmt.Sprintf("%s #%04d", statement, seq+1),
		Amount:      amount,
		Ledger:      seq,
	}
}

func (g *generator) strangerLine(seq int) LineItem {
	amount := g.amount()
	if g.rnd.Float64() < 0.6 {
		amount = amount.Neg()
	}
	return LineItem{
		Date:        g.date(),
		Description: fmt.Sprintf("%s #%04d", strangers[g.rnd.Intn(len(strangers))], seq+1),
		Amount:      amount,
		Ledger:      -1,
	}
}

// TransactionHeaders is the header row of WriteTransactionsCSV
var TransactionHeaders = []string{"date", "type", "amount", "category", "description", "vendor"}

// StatementHeaders is the header row of WriteStatementCSV
var StatementHeaders = []string{"Date", "Description", "Amount"}

// WriteTransactionsCSV writes the ledger in the transactions load format
func (d *Dataset) WriteTransactionsCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TransactionHeaders); err != nil {
		return errors.Wrap(err, errors.KindInternal, errors.CodeUnexpectedError, "failed to write transaction headers")
	}
	for _, tx := range d.Transactions {
		record := []string{
			models.FormatDate(tx.Date),
			string(tx.Type),
			tx.Amount.StringFixed(2),
			tx.Category,
			tx.Description,
			tx.Vendor,
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, errors.KindInternal, errors.CodeUnexpectedError, "failed to write transaction")
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStatementCSV writes the statement as a normalized single amount CSV
func (d *Dataset) WriteStatementCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(StatementHeaders); err != nil {
		return errors.Wrap(err, errors.KindInternal, errors.CodeUnexpectedError, "failed to write statement headers")
	}
	for _, item := range d.LineItems {
		record := []string{
			models.FormatDate(item.Date),
			item.Description,
			item.Amount.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, errors.KindInternal, errors.CodeUnexpectedError, "failed to write line item")
		}
	}
	cw.Flush()
	return cw.Error()
}
