package replacement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-scm/meridian-scm/internal/damagereturn"
	"github.com/meridian-scm/meridian-scm/internal/ledger"
)

type memoryRepo struct {
	nextID       int64
	replacements map[int64]*ReplacementRecord
	costs        []RepairCost
	invoices     map[int64]*Invoice
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, replacements: map[int64]*ReplacementRecord{}, invoices: map[int64]*Invoice{}}
}

func (m *memoryRepo) InsertReplacement(ctx context.Context, record ReplacementRecord) (int64, error) {
	for _, existing := range m.replacements {
		if existing.DamageReturnID == record.DamageReturnID {
			return 0, ErrAlreadyReplaced
		}
	}
	record.ID = m.nextID
	m.nextID++
	record.CreatedAt = time.Now().UTC()
	m.replacements[record.ID] = &record
	return record.ID, nil
}

func (m *memoryRepo) GetReplacement(ctx context.Context, id int64) (*ReplacementRecord, error) {
	rec, ok := m.replacements[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memoryRepo) ReplacementForReturn(ctx context.Context, damageReturnID int64) (*ReplacementRecord, error) {
	for id, rec := range m.replacements {
		if rec.DamageReturnID == damageReturnID {
			return m.GetReplacement(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) ListReplacements(ctx context.Context, centerID *int64, limit, offset int) ([]ReplacementRecord, int, error) {
	out := []ReplacementRecord{}
	for _, rec := range m.replacements {
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (m *memoryRepo) InsertRepairCost(ctx context.Context, cost RepairCost) (int64, error) {
	cost.ID = m.nextID
	m.nextID++
	m.costs = append(m.costs, cost)
	return cost.ID, nil
}

func (m *memoryRepo) RepairCostsForReturn(ctx context.Context, damageReturnID int64) ([]RepairCost, error) {
	out := []RepairCost{}
	for _, cost := range m.costs {
		if cost.DamageReturnID == damageReturnID {
			out = append(out, cost)
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	invoice.ID = m.nextID
	m.nextID++
	invoice.IssuedAt = time.Now().UTC()
	m.invoices[invoice.ID] = &invoice
	return invoice.ID, nil
}

func (m *memoryRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

func (m *memoryRepo) GenerateInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "INV-" + at.Format("200601")
	count := 0
	for _, inv := range m.invoices {
		if strings.HasPrefix(inv.InvoiceNumber, prefix) {
			count++
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

type fakeLedger struct {
	records map[string]*ledger.StockRecord
	serials map[string]*ledger.SerialEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*ledger.StockRecord{}, serials: map[string]*ledger.SerialEntry{}}
}

func recordKey(locationID, productID int64) string {
	return fmt.Sprintf("%d/%d", locationID, productID)
}

func (f *fakeLedger) seed(locationID, productID, available int64, serialNumbers ...string) {
	rec := &ledger.StockRecord{
		ID: int64(len(f.records) + 1), LocationID: locationID, ProductID: productID,
		TotalQty: available, AvailableQty: available,
	}
	f.records[recordKey(locationID, productID)] = rec
	for _, sn := range serialNumbers {
		f.serials[sn] = &ledger.SerialEntry{RecordID: rec.ID, SerialNumber: sn, Status: ledger.SerialAvailable}
	}
}

func (f *fakeLedger) Record(ctx context.Context, locationID, productID int64) (ledger.StockRecord, error) {
	rec, ok := f.records[recordKey(locationID, productID)]
	if !ok {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	return *rec, nil
}

func (f *fakeLedger) Serial(ctx context.Context, serialNumber string) (ledger.SerialEntry, error) {
	entry, ok := f.serials[serialNumber]
	if !ok {
		return ledger.SerialEntry{}, ledger.ErrSerialNotFound
	}
	return *entry, nil
}

func (f *fakeLedger) Consume(ctx context.Context, input ledger.ConsumeInput) (ledger.StockRecord, []string, error) {
	rec, ok := f.records[recordKey(input.LocationID, input.ProductID)]
	if !ok {
		return ledger.StockRecord{}, nil, ledger.ErrRecordNotFound
	}
	if rec.AvailableQty < input.Qty {
		return ledger.StockRecord{}, nil, ledger.ErrInsufficientStock
	}
	for _, sn := range input.SerialNumbers {
		entry, ok := f.serials[sn]
		if !ok || entry.Status != ledger.SerialAvailable {
			return ledger.StockRecord{}, nil, ledger.ErrSerialUnavailable
		}
		entry.Status = ledger.SerialConsumed
	}
	rec.AvailableQty -= input.Qty
	rec.ConsumedQty += input.Qty
	return *rec, input.SerialNumbers, nil
}

type fakeReturns struct {
	returns map[int64]*damagereturn.DamageReturnRecord
}

func (f *fakeReturns) Get(ctx context.Context, id int64) (*damagereturn.DamageReturnRecord, error) {
	dr, ok := f.returns[id]
	if !ok {
		return nil, damagereturn.ErrNotFound
	}
	clone := *dr
	return &clone, nil
}

func (f *fakeReturns) MarkReplaced(ctx context.Context, id int64) error {
	dr, ok := f.returns[id]
	if !ok {
		return damagereturn.ErrNotFound
	}
	dr.Status = damagereturn.StatusReplaced
	return nil
}

type fixture struct {
	svc     *Service
	stock   *fakeLedger
	returns *fakeReturns
}

func newFixture(status damagereturn.Status) *fixture {
	stock := newFakeLedger()
	stock.seed(2, 11, 2, "R1", "R2")
	returns := &fakeReturns{returns: map[int64]*damagereturn.DamageReturnRecord{
		4: {ID: 4, Ref: uuid.New(), UsageID: 5, SerialNumber: "S1", Status: status, CenterID: 2},
	}}
	svc := NewService(newMemoryRepo(), stock, returns, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, stock: stock, returns: returns}
}

func TestIssueConsumesSubstituteUnit(t *testing.T) {
	f := newFixture(damagereturn.StatusApproved)
	record, err := f.svc.Issue(context.Background(), IssueInput{
		DamageReturnID: 4, ProductID: 11, NewSerialNumber: "R1",
	}, 7)
	require.NoError(t, err)
	require.Equal(t, "S1", record.OldSerialNumber)
	require.Equal(t, "R1", record.NewSerialNumber)
	require.Equal(t, ledger.SerialConsumed, f.stock.serials["R1"].Status)
	require.Equal(t, damagereturn.StatusReplaced, f.returns.returns[4].Status)

	rec, err := f.stock.Record(context.Background(), 2, 11)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.AvailableQty)
}

func TestIssueRequiresApprovedReturn(t *testing.T) {
	f := newFixture(damagereturn.StatusPending)
	_, err := f.svc.Issue(context.Background(), IssueInput{
		DamageReturnID: 4, ProductID: 11, NewSerialNumber: "R1",
	}, 7)
	require.ErrorIs(t, err, damagereturn.ErrInvalidTransition)
}

func TestIssueTwiceFails(t *testing.T) {
	f := newFixture(damagereturn.StatusApproved)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, IssueInput{DamageReturnID: 4, ProductID: 11, NewSerialNumber: "R1"}, 7)
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, IssueInput{DamageReturnID: 4, ProductID: 11, NewSerialNumber: "R2"}, 7)
	require.ErrorIs(t, err, ErrAlreadyReplaced)
	require.Equal(t, ledger.SerialAvailable, f.stock.serials["R2"].Status)
}

func TestIssueRejectsUnavailableSerial(t *testing.T) {
	f := newFixture(damagereturn.StatusApproved)
	f.stock.serials["R1"].Status = ledger.SerialConsumed
	_, err := f.svc.Issue(context.Background(), IssueInput{
		DamageReturnID: 4, ProductID: 11, NewSerialNumber: "R1",
	}, 7)
	require.ErrorIs(t, err, ledger.ErrSerialUnavailable)
}

func TestInvoiceTotalsBookedCosts(t *testing.T) {
	f := newFixture(damagereturn.StatusApproved)
	ctx := context.Background()
	_, err := f.svc.AddRepairCost(ctx, RepairCostInput{DamageReturnID: 4, AmountCents: 1500, Currency: "EUR", Description: "labor"}, 7)
	require.NoError(t, err)
	_, err = f.svc.AddRepairCost(ctx, RepairCostInput{DamageReturnID: 4, AmountCents: 700, Currency: "EUR", Description: "parts"}, 7)
	require.NoError(t, err)

	invoice, err := f.svc.IssueInvoice(ctx, InvoiceInput{DamageReturnID: 4}, 9)
	require.NoError(t, err)
	require.Equal(t, int64(2200), invoice.AmountCents)
	require.Equal(t, "EUR", invoice.Currency)
	require.True(t, strings.HasPrefix(invoice.InvoiceNumber, "INV-"))
}

func TestInvoiceRequiresCosts(t *testing.T) {
	f := newFixture(damagereturn.StatusApproved)
	_, err := f.svc.IssueInvoice(context.Background(), InvoiceInput{DamageReturnID: 4}, 9)
	require.ErrorIs(t, err, ErrNoCosts)
}
