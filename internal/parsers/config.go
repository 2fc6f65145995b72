package parsers

import (
	"strings"
)

// Column is a canonical field a CSV header can map onto
type Column string

const (
	ColDate        Column = "date"
	ColValueDate   Column = "value_date"
	ColDescription Column = "description"
	ColDebit       Column = "debit"
	ColCredit      Column = "credit"
	ColAmount      Column = "amount"
	ColDirection   Column = "direction"
	ColReference   Column = "reference"
	ColBalance     Column = "balance"
	ColCurrency    Column = "currency"

	// recorded transaction exports
	ColType     Column = "type"
	ColCategory Column = "category"
	ColVendor   Column = "vendor"
	ColBank     Column = "bank"
)

// Aliases maps normalized header text onto canonical columns
type Aliases map[string]Column

// Resolve returns the column a header names
func (a Aliases) Resolve(header string) (Column, bool) {
	col, ok := a[normalizeHeader(header)]
	return col, ok
}

// With returns a copy of a with extra header mappings. Later mappings win.
func (a Aliases) With(extra map[string]Column) Aliases {
	merged := make(Aliases, len(a)+len(extra))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range extra {
		merged[normalizeHeader(k)] = v
	}
	return merged
}

func normalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

func aliasSet(col Column, headers ...string) map[string]Column {
	m := make(map[string]Column, len(headers))
	for _, h := range headers {
		m[normalizeHeader(h)] = col
	}
	return m
}

func mergeAliases(sets ...map[string]Column) Aliases {
	out := make(Aliases)
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

// StatementAliases are the header spellings seen in normalized statement exports
var StatementAliases = mergeAliases(
	aliasSet(ColDate,
		"date", "transaction date", "trans date", "txn date", "posting date",
		"post date", "booking date", "entry date", "tran date"),
	aliasSet(ColValueDate,
		"value date", "val date", "value dt", "settlement date"),
	aliasSet(ColDescription,
		"narration", "description", "memo", "details", "particulars", "remarks",
		"narrative", "trans desc", "payment details", "transaction description",
		"payment narration", "beneficiary", "narr", "desc", "transaction details"),
	aliasSet(ColDebit,
		"debit", "debits", "debit amount", "withdrawal", "withdrawals",
		"withdrawal amount", "dr", "money out", "paid out", "outflow"),
	aliasSet(ColCredit,
		"credit", "credits", "credit amount", "deposit", "deposits",
		"deposit amount", "cr", "money in", "paid in", "inflow"),
	aliasSet(ColAmount,
		"amount", "transaction amount", "txn amount", "net amount",
		"debit/credit", "value"),
	aliasSet(ColReference,
		"reference", "ref", "transaction ref", "txn ref", "transaction id",
		"txn id", "trace no", "receipt no", "reference number", "ref no",
		"cheque no", "check number"),
	aliasSet(ColBalance,
		"balance", "running balance", "ledger balance", "available balance",
		"closing balance", "book balance"),
	aliasSet(ColDirection,
		"type", "transaction type", "txn type", "dr/cr", "cr/dr", "direction",
		"flow", "debit/credit indicator", "indicator"),
	aliasSet(ColCurrency, "currency", "ccy", "currency code"),
)

// TransactionAliases are the header spellings of recorded transaction exports
var TransactionAliases = mergeAliases(
	aliasSet(ColDate, "date", "transaction date", "txn date"),
	aliasSet(ColType, "type", "transaction type", "kind"),
	aliasSet(ColAmount, "amount", "transaction amount", "total"),
	aliasSet(ColCurrency, "currency", "ccy"),
	aliasSet(ColCategory, "category", "cat"),
	aliasSet(ColDescription, "description", "memo", "notes", "details"),
	aliasSet(ColVendor, "vendor", "merchant", "payee"),
	aliasSet(ColBank, "bank", "account", "bank name"),
)

// skipDescriptions are description values that mark repeated header rows,
// balance lines and totals rather than transactions
var skipDescriptions = map[string]bool{
	"description":     true,
	"narration":       true,
	"particulars":     true,
	"details":         true,
	"opening balance": true,
	"closing balance": true,
	"balance b/f":     true,
	"balance c/f":     true,
	"balance forward": true,
	"total":           true,
	"totals":          true,
	"sub total":       true,
	"subtotal":        true,
}

// isSeparatorRow reports rows made of rule characters such as "-----" or "====="
func isSeparatorRow(record []string) bool {
	joined := strings.TrimSpace(strings.Join(record, ""))
	if joined == "" {
		return false
	}
	return strings.Trim(joined, "-=_/*+ ") == ""
}
