package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/locking"
	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

var baseDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return baseDate.AddDate(0, 0, offset)
}

type fixture struct {
	store   *store.MemoryStore
	ledger  *ledger.Ledger
	service *Service
}

func newFixture(t *testing.T, config *Config) *fixture {
	t.Helper()
	return newFixtureOver(t, config, nil)
}

// newFixtureOver lets a test put a wrapper between the services and the
// memory store; wrap may be nil.
func newFixtureOver(t *testing.T, config *Config, wrap func(*store.MemoryStore) store.Store) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	var s store.Store = mem
	if wrap != nil {
		s = wrap(mem)
	}
	log := logger.NewNopLogger()
	locker := locking.NewMemoryLocker(locking.Config{
		WaitTimeout:   200 * time.Millisecond,
		RetryInterval: time.Millisecond,
		TTL:           time.Second,
	})
	recorder := audit.NewRecorder(s, log)
	l := ledger.New(s, locker, recorder, log)

	engine, err := matcher.NewEngine(nil, log)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	rules, err := classifier.LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error: %v", err)
	}

	service, err := NewService(Dependencies{
		Store:      s,
		Ledger:     l,
		Engine:     engine,
		Classifier: rules,
		Recorder:   recorder,
		Logger:     log,
	}, config)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return &fixture{store: mem, ledger: l, service: service}
}

func (f *fixture) statement(t *testing.T, items ...*models.BankLineItem) *models.Statement {
	t.Helper()
	st := &models.Statement{BankName: "Chase"}
	if err := f.store.CreateStatement(context.Background(), st, items); err != nil {
		t.Fatalf("CreateStatement failed: %v", err)
	}
	return st
}

func (f *fixture) transaction(t *testing.T, amount string, date time.Time, vendor string) *models.RecordedTransaction {
	t.Helper()
	tx := &models.RecordedTransaction{
		Type:     models.TransactionTypeExpense,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		Category: "Shopping",
		Vendor:   vendor,
		Date:     date,
	}
	if err := f.store.CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	return tx
}

func (f *fixture) item(t *testing.T, id int64) *models.BankLineItem {
	t.Helper()
	item, err := f.store.GetLineItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLineItem(%d) failed: %v", id, err)
	}
	return item
}

func (f *fixture) only(t *testing.T, st *models.Statement) *models.BankLineItem {
	t.Helper()
	items, err := f.store.ListLineItems(context.Background(), st.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected a single line item, got %d (%v)", len(items), err)
	}
	return items[0]
}

func lineItem(amount string, date time.Time, description string) *models.BankLineItem {
	return &models.BankLineItem{
		Date:        date,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Direction:   models.DirectionDebit,
	}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	if _, err := NewService(Dependencies{}, nil); err == nil {
		t.Error("expected error for missing dependencies")
	}

	config := DefaultConfig()
	config.ProgressInterval = -time.Second
	f := newFixture(t, nil)
	deps := Dependencies{Store: f.store, Ledger: f.ledger, Engine: f.service.engine, Recorder: f.service.recorder}
	if _, err := NewService(deps, config); err == nil {
		t.Error("expected error for negative progress interval")
	}
}

func TestAutoMatch_ConfidentMatchIsCommitted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t, lineItem("49.99", day(0), "AMAZON MKTPLACE"))
	tx := f.transaction(t, "49.99", day(0), "Amazon")

	result, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}
	if result.Matched != 1 || result.Processed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	matches, err := f.store.ListMatches(ctx, st.ID)
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.TransactionID != tx.ID || m.Method != models.MatchMethodAuto {
		t.Errorf("unexpected match %+v", m)
	}
	if m.Confidence == nil || *m.Confidence < 0.85 {
		t.Errorf("expected confidence >= 0.85, got %v", m.Confidence)
	}

	status, err := f.ledger.Status(ctx, st.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Status != models.StatementStatusReconciled {
		t.Errorf("expected reconciled statement, got %+v", status)
	}
}

func TestAutoMatch_OutsideWindowStaysUnmatched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t, lineItem("49.99", day(0), "AMAZON MKTPLACE"))
	f.transaction(t, "49.99", day(9), "Amazon")

	result, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}
	if result.Matched != 0 || result.Unmatched != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	item := f.item(t, f.only(t, st).ID)
	if item.Status != models.MatchStatusUnmatched || item.SuggestedTransactionID != nil {
		t.Errorf("expected plain unmatched item, got %+v", item)
	}
	if item.SuggestedCategory != "Shopping" {
		t.Errorf("expected classifier suggestion Shopping, got %q", item.SuggestedCategory)
	}
}

func TestAutoMatch_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t,
		lineItem("49.99", day(0), "AMAZON MKTPLACE"),
		lineItem("12.00", day(1), "UBER TRIP"),
	)
	f.transaction(t, "49.99", day(0), "Amazon")
	f.transaction(t, "12.00", day(1), "Uber")

	first, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("first AutoMatch failed: %v", err)
	}
	if first.Matched != 2 {
		t.Fatalf("expected 2 matches, got %+v", first)
	}
	before, _ := f.store.ListMatches(ctx, st.ID)
	auditBefore, _ := f.store.QueryAudit(ctx, models.AuditFilter{})

	second, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("second AutoMatch failed: %v", err)
	}
	if second.Matched != 0 || second.Processed != 0 {
		t.Errorf("second run should not touch anything, got %+v", second)
	}

	after, _ := f.store.ListMatches(ctx, st.ID)
	if len(after) != len(before) {
		t.Fatalf("match count changed from %d to %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].TransactionID != after[i].TransactionID {
			t.Errorf("match %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	auditAfter, _ := f.store.QueryAudit(ctx, models.AuditFilter{})
	if len(auditAfter) != len(auditBefore) {
		t.Errorf("second run wrote %d audit entries", len(auditAfter)-len(auditBefore))
	}
}

func TestAutoMatch_MidScoreBecomesDiscrepancy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t, lineItem("100.00", day(0), "POS 4411"))
	tx := f.transaction(t, "103.00", day(0), "Hardware Store")

	result, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}
	if result.Discrepancies != 1 || result.Matched != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	item := f.item(t, f.only(t, st).ID)
	if item.Status != models.MatchStatusDiscrepancy {
		t.Fatalf("expected discrepancy, got %s", item.Status)
	}
	if item.SuggestedTransactionID == nil || *item.SuggestedTransactionID != tx.ID {
		t.Errorf("expected suggested transaction %d, got %v", tx.ID, item.SuggestedTransactionID)
	}
	if item.Confidence == nil || *item.Confidence < 0.5 || *item.Confidence >= 0.85 {
		t.Errorf("expected confidence in [0.5, 0.85), got %v", item.Confidence)
	}

	entries, err := f.store.QueryAudit(ctx, models.AuditFilter{EntityType: models.EntityBankLineItem})
	if err != nil {
		t.Fatalf("QueryAudit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.AuditActionUpdate {
		t.Errorf("expected one update entry, got %+v", entries)
	}
}

func TestAutoMatch_WithoutAutoCommitSuggestsOnly(t *testing.T) {
	config := DefaultConfig()
	config.AutoCommit = false
	f := newFixture(t, config)
	ctx := context.Background()
	st := f.statement(t, lineItem("49.99", day(0), "AMAZON MKTPLACE"))
	tx := f.transaction(t, "49.99", day(0), "Amazon")

	result, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}
	if result.Matched != 0 || result.Discrepancies != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	item := f.item(t, f.only(t, st).ID)
	if item.IsMatched() || item.SuggestedTransactionID == nil || *item.SuggestedTransactionID != tx.ID {
		t.Errorf("expected suggestion of %d without match, got %+v", tx.ID, item)
	}
}

func TestAutoMatch_SkipsTransactionsMatchedElsewhere(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	other := f.statement(t, lineItem("49.99", day(0), "AMAZON"))
	st := f.statement(t, lineItem("49.99", day(0), "AMAZON MKTPLACE"))
	tx := f.transaction(t, "49.99", day(0), "Amazon")

	if _, err := f.ledger.ManualMatch(ctx, f.only(t, other).ID, tx.ID); err != nil {
		t.Fatalf("ManualMatch failed: %v", err)
	}

	result, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}
	if result.Matched != 0 || result.Unmatched != 1 {
		t.Errorf("matched transaction must not be reused, got %+v", result)
	}
}

// vanishingStore deletes one transaction right after the first pool
// snapshot is taken
type vanishingStore struct {
	*store.MemoryStore
	deleteID int64
	once     sync.Once
}

func (s *vanishingStore) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]*models.RecordedTransaction, error) {
	txs, err := s.MemoryStore.ListTransactions(ctx, filter)
	s.once.Do(func() {
		_ = s.MemoryStore.DeleteTransaction(ctx, s.deleteID)
	})
	return txs, err
}

func TestAutoMatch_TransactionDeletedAfterSnapshot(t *testing.T) {
	var vanishing *vanishingStore
	f := newFixtureOver(t, nil, func(mem *store.MemoryStore) store.Store {
		vanishing = &vanishingStore{MemoryStore: mem}
		return vanishing
	})
	ctx := context.Background()
	st := f.statement(t,
		lineItem("49.99", day(0), "AMAZON MKTPLACE"),
		lineItem("5.75", day(1), "STARBUCKS"),
	)
	items, _ := f.store.ListLineItems(ctx, st.ID)
	deleted := f.transaction(t, "49.99", day(0), "Amazon")
	coffee := f.transaction(t, "5.75", day(1), "Starbucks")
	vanishing.deleteID = deleted.ID

	result, err := f.service.AutoMatch(ctx, st.ID)
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}
	if result.Processed != 2 || result.Matched != 1 || result.Unmatched != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	if item := f.item(t, items[0].ID); item.IsMatched() || item.Status != models.MatchStatusUnmatched {
		t.Errorf("item planned against the deleted transaction should be unmatched, got %+v", item)
	}
	matched := f.item(t, items[1].ID)
	if !matched.IsMatched() || *matched.MatchedTransactionID != coffee.ID {
		t.Errorf("unrelated item should still be matched, got %+v", matched)
	}
}

func TestAutoMatch_UnknownStatement(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.AutoMatch(context.Background(), 404)
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestAutoMatch_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	st := f.statement(t, lineItem("49.99", day(0), "AMAZON MKTPLACE"))
	f.transaction(t, "49.99", day(0), "Amazon")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.AutoMatch(ctx, st.ID)
	if !errors.IsKind(err, errors.KindCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if item := f.item(t, f.only(t, st).ID); item.IsMatched() {
		t.Error("cancelled run must not commit matches")
	}
}

func importRequest(id int64, amount string, date string) ImportItem {
	return ImportItem{
		BankItemID:  id,
		Category:    "Shopping",
		Type:        models.TransactionTypeExpense,
		Description: "Imported purchase",
		Date:        date,
		Amount:      decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Currency:    "usd",
	}
}

func TestImport_SavedAndReconciled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t,
		lineItem("49.99", day(0), "AMAZON MKTPLACE"),
		lineItem("18.20", day(2), "CORNER BAKERY"),
	)
	items, _ := f.store.ListLineItems(ctx, st.ID)
	tx := f.transaction(t, "49.99", day(0), "Amazon")
	if _, err := f.ledger.ManualMatch(ctx, items[0].ID, tx.ID); err != nil {
		t.Fatalf("ManualMatch failed: %v", err)
	}

	result, err := f.service.Import(ctx, st.ID, []ImportItem{
		importRequest(items[0].ID, "49.99", "2024-03-01"),
		importRequest(items[1].ID, "18.20", "2024-03-03"),
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Saved != 1 || result.Reconciled != 1 {
		t.Fatalf("expected {saved: 1, reconciled: 1}, got %+v", result)
	}

	imported := f.item(t, items[1].ID)
	if !imported.IsMatched() {
		t.Fatalf("imported item should be matched, got %+v", imported)
	}
	created, err := f.store.GetTransaction(ctx, *imported.MatchedTransactionID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if created.Currency != "USD" || created.Vendor != "CORNER BAKERY" || created.Bank != "Chase" {
		t.Errorf("unexpected created transaction %+v", created)
	}
	if !created.Amount.Equal(decimal.RequireFromString("18.20")) {
		t.Errorf("expected amount 18.20, got %s", created.Amount)
	}

	m, err := f.store.GetMatchByLineItem(ctx, items[1].ID)
	if err != nil {
		t.Fatalf("GetMatchByLineItem failed: %v", err)
	}
	if m.Method != models.MatchMethodImport || m.Confidence == nil || *m.Confidence != 1.0 {
		t.Errorf("unexpected import match %+v", m)
	}

	txID := created.ID
	entries, _ := f.store.QueryAudit(ctx, models.AuditFilter{EntityType: models.EntityTransaction, EntityID: &txID})
	if len(entries) != 1 || entries[0].Action != models.AuditActionCreate {
		t.Fatalf("expected one create entry, got %+v", entries)
	}
	if entries[0].NewValues["source"] != "statement_import" {
		t.Errorf("expected statement_import source, got %v", entries[0].NewValues["source"])
	}
}

func TestImport_LinksExistingTransaction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t, lineItem("75.00", day(4), "TRANSFER 0099"))
	tx := f.transaction(t, "75.00", day(4), "Landlord")
	itemID := f.only(t, st).ID

	result, err := f.service.Import(ctx, st.ID, []ImportItem{importRequest(itemID, "75.00", "2024-03-05")})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Saved != 0 || result.Reconciled != 1 {
		t.Fatalf("expected duplicate link, got %+v", result)
	}

	m, err := f.store.GetMatchByLineItem(ctx, itemID)
	if err != nil {
		t.Fatalf("GetMatchByLineItem failed: %v", err)
	}
	if m.TransactionID != tx.ID || m.Method != models.MatchMethodDuplicateImport {
		t.Errorf("unexpected match %+v", m)
	}

	all, _ := f.store.ListTransactions(ctx, store.TransactionFilter{})
	if len(all) != 1 {
		t.Errorf("no transaction should be created, have %d", len(all))
	}
}

func TestImport_PartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.statement(t,
		lineItem("10.00", day(0), "KIOSK"),
		lineItem("20.00", day(1), "KIOSK"),
	)
	items, _ := f.store.ListLineItems(ctx, st.ID)

	bad := importRequest(items[0].ID, "10.00", "not-a-date")
	good := importRequest(items[1].ID, "20.00", "2024-03-02")
	missing := importRequest(9999, "5.00", "2024-03-02")

	result, err := f.service.Import(ctx, st.ID, []ImportItem{bad, good, missing})
	batchErr, ok := errors.AsBatchError(err)
	if !ok {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if len(batchErr.Failed()) != 2 || batchErr.Succeeded() != 1 {
		t.Fatalf("unexpected outcomes %+v", batchErr.Outcomes)
	}
	if result.Saved != 1 {
		t.Errorf("good item should be saved, got %+v", result)
	}

	outcomes := result.Outcomes
	if outcomes[0].OK || outcomes[0].Kind != errors.KindValidation || outcomes[0].Code != errors.CodeInvalidDate {
		t.Errorf("unexpected first outcome %+v", outcomes[0])
	}
	if !outcomes[1].OK {
		t.Errorf("expected second outcome to succeed, got %+v", outcomes[1])
	}
	if outcomes[2].Kind != errors.KindNotFound {
		t.Errorf("expected NotFound for foreign item, got %+v", outcomes[2])
	}

	if item := f.item(t, items[0].ID); item.IsMatched() {
		t.Error("invalid item must stay unmatched")
	}
}

// auditFailingStore rejects audit entries for one entity type
type auditFailingStore struct {
	*store.MemoryStore
	entity models.EntityType
}

func (s *auditFailingStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.EntityType == s.entity {
		return fmt.Errorf("audit store offline")
	}
	return s.MemoryStore.AppendAudit(ctx, entry)
}

func TestImport_AuditFailureKeepsSavedItem(t *testing.T) {
	f := newFixtureOver(t, nil, func(mem *store.MemoryStore) store.Store {
		return &auditFailingStore{MemoryStore: mem, entity: models.EntityTransaction}
	})
	ctx := context.Background()
	st := f.statement(t, lineItem("18.20", day(2), "CORNER BAKERY"))
	itemID := f.only(t, st).ID

	result, err := f.service.Import(ctx, st.ID, []ImportItem{importRequest(itemID, "18.20", "2024-03-03")})
	if err != nil {
		t.Fatalf("committed item must not fail the import: %v", err)
	}
	if result.Saved != 1 {
		t.Fatalf("expected the item to count as saved, got %+v", result)
	}

	outcome := result.Outcomes[0]
	if !outcome.OK {
		t.Errorf("expected a successful outcome, got %+v", outcome)
	}
	if !strings.Contains(outcome.Warning, "audit store offline") {
		t.Errorf("expected the audit failure on the outcome, got %q", outcome.Warning)
	}
	if item := f.item(t, itemID); !item.IsMatched() {
		t.Error("imported item should stay matched")
	}
}

func TestBuildTransaction_Validation(t *testing.T) {
	item := &models.BankLineItem{Description: "SHOP"}
	st := &models.Statement{BankName: "Chase"}

	tests := []struct {
		name   string
		modify func(*ImportItem)
		code   errors.ErrorCode
	}{
		{"missing category", func(r *ImportItem) { r.Category = " " }, errors.CodeMissingField},
		{"missing type", func(r *ImportItem) { r.Type = "" }, errors.CodeMissingField},
		{"bad type", func(r *ImportItem) { r.Type = "loan" }, errors.CodeInvalidValue},
		{"missing description", func(r *ImportItem) { r.Description = "" }, errors.CodeMissingField},
		{"missing date", func(r *ImportItem) { r.Date = "" }, errors.CodeMissingField},
		{"missing amount", func(r *ImportItem) { r.Amount = decimal.NullDecimal{} }, errors.CodeMissingField},
		{"zero amount", func(r *ImportItem) { r.Amount = decimal.NewNullDecimal(decimal.Zero) }, errors.CodeInvalidAmount},
		{"missing currency", func(r *ImportItem) { r.Currency = "" }, errors.CodeMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := importRequest(1, "10.00", "2024-03-01")
			tt.modify(&req)
			_, err := buildTransaction(req, item, st)
			reconcilerErr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected ReconcilerError, got %v", err)
			}
			if reconcilerErr.Kind != errors.KindValidation || reconcilerErr.Code != tt.code {
				t.Errorf("expected validation/%s, got %s/%s", tt.code, reconcilerErr.Kind, reconcilerErr.Code)
			}
		})
	}

	req := importRequest(1, "-10.00", "2024-03-01")
	req.Vendor = "  "
	tx, err := buildTransaction(req, item, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Vendor != "SHOP" || !tx.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected transaction %+v", tx)
	}
}

func TestConcurrentAutoMatchAndManualMatch(t *testing.T) {
	for run := 0; run < 10; run++ {
		f := newFixture(t, nil)
		ctx := context.Background()
		st := f.statement(t, lineItem("49.99", day(0), "AMAZON MKTPLACE"))
		tx := f.transaction(t, "49.99", day(0), "Amazon")
		itemID := f.only(t, st).ID

		var wg sync.WaitGroup
		var autoResult *AutoMatchResult
		var autoErr, manualErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			autoResult, autoErr = f.service.AutoMatch(ctx, st.ID)
		}()
		go func() {
			defer wg.Done()
			_, manualErr = f.ledger.ManualMatch(ctx, itemID, tx.ID)
		}()
		wg.Wait()

		created := 0
		if autoErr == nil && autoResult.Matched == 1 {
			created++
		}
		if manualErr == nil {
			created++
		} else if !errors.IsKind(manualErr, errors.KindAlreadyMatched) &&
			!errors.IsKind(manualErr, errors.KindConcurrentModification) {
			t.Fatalf("unexpected manual error: %v", manualErr)
		}
		if autoErr != nil && !errors.IsKind(autoErr, errors.KindConcurrentModification) {
			t.Fatalf("unexpected auto-match error: %v", autoErr)
		}
		if created != 1 {
			t.Fatalf("run %d: expected exactly one match, got %d (auto %+v/%v, manual %v)",
				run, created, autoResult, autoErr, manualErr)
		}

		matches, _ := f.store.ListMatches(ctx, st.ID)
		if len(matches) != 1 {
			t.Fatalf("run %d: expected 1 stored match, got %d", run, len(matches))
		}
	}
}
