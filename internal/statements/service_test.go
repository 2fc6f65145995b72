package statements

import (
	"context"
	"testing"
	"time"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/locking"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *store.MemoryStore
	ledger  *ledger.Ledger
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	log := logger.NewNopLogger()
	recorder := audit.NewRecorder(s, log)
	l := ledger.New(s, locking.NewMemoryLocker(locking.Config{
		WaitTimeout:   20 * time.Millisecond,
		RetryInterval: time.Millisecond,
		TTL:           time.Second,
	}), recorder, log)

	rules, err := classifier.LoadEmbedded()
	require.NoError(t, err)

	return &fixture{
		store:   s,
		ledger:  l,
		service: NewService(s, l, rules, recorder, log),
	}
}

func items() []*models.BankLineItem {
	return []*models.BankLineItem{
		{
			Date:        time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			Description: "UBER TRIP 1123",
			Amount:      decimal.RequireFromString("14.20"),
			Direction:   models.DirectionDebit,
		},
		{
			Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Description: "SALARY MARCH",
			Amount:      decimal.RequireFromString("2500.00"),
			Direction:   models.DirectionCredit,
			Currency:    "usd",
		},
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.service.Ingest(ctx, &models.Statement{BankName: "Chase", Currency: "usd"}, items())
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalItems)
	assert.Equal(t, 0, st.MatchedItems)
	assert.Equal(t, models.StatementStatusPending, st.Status)

	listed, err := f.service.Items(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	// ordered by date, not by position
	assert.Equal(t, "SALARY MARCH", listed[0].Description)
	assert.Equal(t, 1, listed[0].Position)
	assert.Equal(t, models.MatchStatusUnmatched, listed[0].Status)
	assert.Equal(t, "USD", listed[0].Currency)
	assert.Equal(t, "USD", listed[1].Currency)

	assert.Equal(t, "Salary", listed[0].SuggestedCategory)
	assert.Equal(t, models.TransactionTypeIncome, listed[0].SuggestedType)
	assert.Equal(t, "Transportation", listed[1].SuggestedCategory)
	assert.Equal(t, models.TransactionTypeExpense, listed[1].SuggestedType)

	id := st.ID
	entries, err := f.store.QueryAudit(ctx, models.AuditFilter{EntityType: models.EntityStatement, EntityID: &id})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionCreate, entries[0].Action)
	assert.Equal(t, 2, entries[0].NewValues["item_count"])
}

func TestIngest_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, &models.Statement{BankName: " "}, items())
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = f.service.Ingest(ctx, &models.Statement{BankName: "Chase"}, nil)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	bad := items()
	bad[1].Amount = decimal.Zero
	_, err = f.service.Ingest(ctx, &models.Statement{BankName: "Chase"}, bad)
	require.Error(t, err)
	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, "items[1]", reconcilerErr.Context["field"])

	all, err := f.service.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDelete_KeepsTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.service.Ingest(ctx, &models.Statement{BankName: "Chase"}, items())
	require.NoError(t, err)
	listed, err := f.service.Items(ctx, st.ID)
	require.NoError(t, err)

	tx := &models.RecordedTransaction{
		Type:     models.TransactionTypeIncome,
		Amount:   decimal.RequireFromString("2500.00"),
		Currency: "USD",
		Category: "Salary",
		Date:     listed[0].Date,
	}
	require.NoError(t, f.store.CreateTransaction(ctx, tx))
	_, err = f.ledger.ManualMatch(ctx, listed[0].ID, tx.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, st.ID))

	_, err = f.service.Get(ctx, st.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, err = f.store.GetLineItem(ctx, listed[0].ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	kept, err := f.store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, kept.ID)

	// the transaction is free again
	free, err := f.store.ListTransactions(ctx, store.TransactionFilter{UnmatchedOnly: true})
	require.NoError(t, err)
	assert.Len(t, free, 1)
}

func TestDelete_WaitsForSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.service.Ingest(ctx, &models.Statement{BankName: "Chase"}, items())
	require.NoError(t, err)

	err = f.ledger.Session(ctx, st.ID, func(ctx context.Context) error {
		return f.service.Delete(context.Background(), st.ID)
	})
	assert.True(t, errors.IsKind(err, errors.KindConcurrentModification))

	_, err = f.service.Get(ctx, st.ID)
	assert.NoError(t, err)
}

func TestBatchDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.service.Ingest(ctx, &models.Statement{BankName: "Chase"}, items())
	require.NoError(t, err)
	b, err := f.service.Ingest(ctx, &models.Statement{BankName: "Wells"}, items())
	require.NoError(t, err)

	result, err := f.service.BatchDelete(ctx, []int64{a.ID, 999, b.ID})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPartialBatchFailure))
	assert.Equal(t, 2, result.Deleted)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, errors.KindNotFound, result.Outcomes[1].Kind)

	all, err := f.service.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	result, err = f.service.BatchDelete(ctx, nil)
	assert.NoError(t, err)
	assert.Zero(t, result.Deleted)
}
