package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLineItemParser(t *testing.T) *LineItemParser {
	t.Helper()
	p, err := NewLineItemParser(nil, nil)
	require.NoError(t, err)
	return p
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw       string
		amount    string
		direction models.Direction
	}{
		{"49.99", "49.99", ""},
		{"-49.99", "49.99", models.DirectionDebit},
		{"+1,200.00", "1200", models.DirectionCredit},
		{"(15.00)", "15", models.DirectionDebit},
		{"250.00 DR", "250", models.DirectionDebit},
		{"250.00cr", "250", models.DirectionCredit},
		{"CR 10", "10", models.DirectionCredit},
		{"$3.50", "3.5", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			amount, direction, err := ParseAmount(tt.raw)
			require.NoError(t, err)
			assert.True(t, amount.Equal(decimal.RequireFromString(tt.amount)), "got %s", amount)
			assert.Equal(t, tt.direction, direction)
		})
	}

	_, _, err := ParseAmount("twelve")
	assert.Error(t, err)
}

func TestLineItemParser_DebitCreditColumns(t *testing.T) {
	data := []byte(strings.Join([]string{
		"Txn Date,Narration,Withdrawal,Deposit,Balance,Ref No",
		"2024-03-02,SALARY ACME CORP,,3000.00,3500.00,R2",
		"2024-03-01,POS AMAZON MKTPLACE,49.99,,500.00,R1",
		"----------,---------,---,---,---,---",
		",Closing Balance,,,3500.00,",
		"",
	}, "\n"))

	parsed, err := newLineItemParser(t).Parse(context.Background(), data, StatementMeta{BankName: "Chase", Currency: "usd", FileName: "march.csv"})
	require.NoError(t, err)

	require.Len(t, parsed.Items, 2)
	salary, amazon := parsed.Items[0], parsed.Items[1]

	assert.Equal(t, models.DirectionCredit, salary.Direction)
	assert.True(t, salary.Amount.Equal(decimal.RequireFromString("3000")))
	assert.Equal(t, "R2", salary.Reference)
	assert.Equal(t, 0, salary.Position)

	assert.Equal(t, models.DirectionDebit, amazon.Direction)
	assert.Equal(t, "USD", amazon.Currency)
	assert.Equal(t, 1, amazon.Position)
	assert.Equal(t, models.MatchStatusUnmatched, amazon.Status)

	st := parsed.Statement
	assert.Equal(t, "Chase", st.BankName)
	assert.Equal(t, "USD", st.Currency)
	assert.Equal(t, "csv", st.FileType)
	require.NotNil(t, st.PeriodStart)
	require.NotNil(t, st.PeriodEnd)
	assert.Equal(t, "2024-03-01", models.FormatDate(*st.PeriodStart))
	assert.Equal(t, "2024-03-02", models.FormatDate(*st.PeriodEnd))

	assert.Equal(t, 2, parsed.Stats.RecordsValid)
	assert.Equal(t, 2, parsed.Stats.Skipped)
	assert.Zero(t, parsed.Stats.ErrorCount())
}

func TestLineItemParser_AmountColumn(t *testing.T) {
	data := []byte(strings.Join([]string{
		"Date;Description;Amount;DR/CR",
		"03/01/2024;Coffee shop;4.50;D",
		"03/02/2024;Refund;(20.00);CR",
		"03/03/2024;Card payment;-12.00;",
		"03/04/2024;Transfer from savings;100.00;",
	}, "\n"))

	config := DefaultParseConfig()
	config.Delimiter = ';'
	p, err := NewLineItemParser(config, nil)
	require.NoError(t, err)

	parsed, err := p.Parse(context.Background(), data, StatementMeta{BankName: "Chase"})
	require.NoError(t, err)
	require.Len(t, parsed.Items, 4)

	assert.Equal(t, models.DirectionDebit, parsed.Items[0].Direction)
	// the indicator column wins over parentheses
	assert.Equal(t, models.DirectionCredit, parsed.Items[1].Direction)
	assert.True(t, parsed.Items[1].Amount.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, models.DirectionDebit, parsed.Items[2].Direction)
	// no sign or indicator: inferred from the wording
	assert.Equal(t, models.DirectionCredit, parsed.Items[3].Direction)
}

func TestLineItemParser_Deduplicates(t *testing.T) {
	data := []byte(strings.Join([]string{
		"Date,Description,Amount,Reference",
		"2024-03-01,COFFEE,-4.50,A1",
		"2024-03-01,COFFEE (again),-4.50,A1",
		"2024-03-01,COFFEE,-4.50,A2",
		"2024-03-02,LUNCH,-9.00,",
		"2024-03-02,LUNCH,-9.00,",
	}, "\n"))

	parsed, err := newLineItemParser(t).Parse(context.Background(), data, StatementMeta{BankName: "Chase"})
	require.NoError(t, err)
	assert.Len(t, parsed.Items, 3)
	assert.Equal(t, 2, parsed.Stats.Duplicates)
}

func TestLineItemParser_RowErrors(t *testing.T) {
	data := []byte(strings.Join([]string{
		"Date,Description,Amount",
		"2024-03-01,COFFEE,-4.50",
		"not-a-date,LUNCH,-9.00",
		"2024-03-03,DINNER,abc",
	}, "\n"))

	parsed, err := newLineItemParser(t).Parse(context.Background(), data, StatementMeta{BankName: "Chase"})
	require.NoError(t, err)
	assert.Len(t, parsed.Items, 1)
	require.Equal(t, 2, parsed.Stats.ErrorCount())
	assert.Equal(t, 3, parsed.Stats.Errors[0].Line)
	assert.True(t, errors.IsKind(parsed.Stats.Errors[0].Err, errors.KindValidation))
	assert.Equal(t, "amount", parsed.Stats.Errors[1].Field)
}

func TestLineItemParser_ErrorBudget(t *testing.T) {
	config := DefaultParseConfig()
	config.MaxRowErrors = 2
	p, err := NewLineItemParser(config, nil)
	require.NoError(t, err)

	data := []byte("Date,Description,Amount\nbad,A,1\nbad,B,2\n2024-03-01,C,3\n")
	_, err = p.Parse(context.Background(), data, StatementMeta{BankName: "Chase"})
	assert.True(t, errors.IsKind(err, errors.KindParse))
}

func TestLineItemParser_Rejections(t *testing.T) {
	p := newLineItemParser(t)
	ctx := context.Background()

	_, err := p.Parse(ctx, []byte("Date,Memo\n2024-03-01,x\n"), StatementMeta{BankName: "Chase"})
	require.Error(t, err)
	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeMissingColumn, reconcilerErr.Code)

	_, err = p.Parse(ctx, []byte(""), StatementMeta{BankName: "Chase"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = p.Parse(ctx, []byte("Date,Description,Amount\n2024-03-01,x,\xff\xfe\n"), StatementMeta{BankName: "Chase"})
	reconcilerErr, ok = errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeEncodingError, reconcilerErr.Code)

	_, err = p.Parse(ctx, []byte("Date,Description,Amount\n2024-03-01,Opening balance,100\n"), StatementMeta{BankName: "Chase"})
	assert.True(t, errors.IsKind(err, errors.KindParse))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Parse(cancelled, []byte("Date,Description,Amount\n2024-03-01,x,1\n"), StatementMeta{BankName: "Chase"})
	assert.True(t, errors.IsKind(err, errors.KindCancelled))
}

func TestParseConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultParseConfig().Validate())

	config := DefaultParseConfig()
	config.Delimiter = '"'
	assert.Error(t, config.Validate())

	config = DefaultParseConfig()
	config.Comment = ','
	assert.Error(t, config.Validate())

	config = DefaultParseConfig()
	config.MaxRowErrors = -1
	_, err := NewLineItemParser(config, nil)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestAliases(t *testing.T) {
	col, ok := StatementAliases.Resolve("  Transaction_Description ")
	require.True(t, ok)
	assert.Equal(t, ColDescription, col)

	col, ok = StatementAliases.Resolve("Value Dt")
	require.True(t, ok)
	assert.Equal(t, ColValueDate, col)

	_, ok = StatementAliases.Resolve("Branch")
	assert.False(t, ok)

	custom := StatementAliases.With(map[string]Column{"Beschreibung": ColDescription})
	col, ok = custom.Resolve("beschreibung")
	require.True(t, ok)
	assert.Equal(t, ColDescription, col)
	_, ok = StatementAliases.Resolve("beschreibung")
	assert.False(t, ok)
}

func TestDecodeStatement(t *testing.T) {
	body := `{
		"bank_name": "Chase",
		"account_last4": "1234",
		"currency": "usd",
		"period_start": "2024-03-01",
		"items": [
			{"date": "2024-03-01", "description": "AMAZON  MKTPLACE", "amount": "-49.99"},
			{"date": "2024-03-02", "description": "Salary", "amount": 3000, "direction": "credit", "reference": "R2"},
			{"date": "2024-03-03", "description": "ATM withdrawal", "amount": "60.00", "currency": "EUR"}
		]
	}`

	parsed, err := DecodeStatement(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, parsed.Items, 3)

	assert.Equal(t, "1234", parsed.Statement.AccountLast4)
	assert.Equal(t, "2024-03-01", models.FormatDate(*parsed.Statement.PeriodStart))
	assert.Equal(t, "2024-03-03", models.FormatDate(*parsed.Statement.PeriodEnd))

	assert.Equal(t, "AMAZON MKTPLACE", parsed.Items[0].Description)
	assert.Equal(t, models.DirectionDebit, parsed.Items[0].Direction)
	assert.True(t, parsed.Items[0].Amount.Equal(decimal.RequireFromString("49.99")))
	assert.Equal(t, "USD", parsed.Items[0].Currency)

	assert.Equal(t, models.DirectionCredit, parsed.Items[1].Direction)
	assert.Equal(t, "R2", parsed.Items[1].Reference)

	assert.Equal(t, models.DirectionDebit, parsed.Items[2].Direction)
	assert.Equal(t, "EUR", parsed.Items[2].Currency)
	assert.Equal(t, 2, parsed.Items[2].Position)
}

func TestDecodeStatement_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		kind  errors.ErrorKind
		field string
	}{
		{"malformed", `{"bank_name":`, errors.KindParse, ""},
		{"no bank", `{"items":[{"date":"2024-03-01","amount":"1"}]}`, errors.KindValidation, "bank_name"},
		{"no items", `{"bank_name":"Chase","items":[]}`, errors.KindValidation, "items"},
		{"bad date", `{"bank_name":"Chase","items":[{"date":"soon","amount":"1"}]}`, errors.KindValidation, "items[0].date"},
		{"zero amount", `{"bank_name":"Chase","items":[{"date":"2024-03-01","amount":"0"}]}`, errors.KindValidation, "items[0].amount"},
		{"bad direction", `{"bank_name":"Chase","items":[{"date":"2024-03-01","amount":"1","direction":"sideways"}]}`, errors.KindValidation, "items[0].direction"},
		{"long account", `{"bank_name":"Chase","account_last4":"123456","items":[{"date":"2024-03-01","amount":"1"}]}`, errors.KindValidation, "account_last4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStatement(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)
			if tt.field != "" {
				reconcilerErr, ok := errors.AsReconcilerError(err)
				require.True(t, ok)
				assert.Equal(t, tt.field, reconcilerErr.Context["field"])
			}
		})
	}
}

func TestTransactionParser(t *testing.T) {
	data := []byte(strings.Join([]string{
		"Date,Type,Amount,Currency,Category,Description,Merchant,Bank",
		"2024-03-01,expense,49.99,USD,Shopping,Desk lamp,Amazon,Chase",
		"2024-03-02,,-12.00,,Food,Lunch,,",
		"2024-03-03,,3000,,Salary,Payroll,,",
		"03/04/2024,expense,oops,,Food,Dinner,,",
	}, "\n"))

	p, err := NewTransactionParser(nil, nil)
	require.NoError(t, err)

	inputs, stats, err := p.Parse(context.Background(), data, "ledger.csv")
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	assert.Equal(t, models.TransactionTypeExpense, inputs[0].Type)
	assert.Equal(t, "Amazon", inputs[0].Vendor)
	assert.Equal(t, "Chase", inputs[0].Bank)
	assert.True(t, inputs[0].Amount.Valid)

	assert.Equal(t, models.TransactionTypeExpense, inputs[1].Type)
	assert.True(t, inputs[1].Amount.Decimal.Equal(decimal.RequireFromString("12")))
	assert.Equal(t, models.TransactionTypeIncome, inputs[2].Type)

	require.Equal(t, 1, stats.ErrorCount())
	assert.Equal(t, "amount", stats.Errors[0].Field)
	assert.InDelta(t, 75.0, stats.SuccessRate(), 0.001)
}

func TestTransactionParser_MissingCategoryColumn(t *testing.T) {
	p, err := NewTransactionParser(nil, nil)
	require.NoError(t, err)
	_, _, err = p.Parse(context.Background(), []byte("Date,Amount\n2024-03-01,1\n"), "ledger.csv")
	assert.True(t, errors.IsKind(err, errors.KindParse))
}

func TestOpenFile(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Description,Amount\n"), 0o600))
	data, err := OpenFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
