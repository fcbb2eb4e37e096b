package usage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

type memoryRepo struct {
	nextID     int64
	nextItemID int64
	usages     map[int64]*StockUsageRecord
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, nextItemID: 1, usages: map[int64]*StockUsageRecord{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (*StockUsageRecord, error) {
	u, ok := m.usages[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	clone.Items = append([]UsageItem(nil), u.Items...)
	return &clone, nil
}

func (m *memoryRepo) GetByNumber(ctx context.Context, number string) (*StockUsageRecord, error) {
	for id, u := range m.usages {
		if u.UsageNumber == number {
			return m.Get(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]StockUsageRecord, int, error) {
	out := []StockUsageRecord{}
	for _, u := range m.usages {
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GenerateUsageNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "USG-" + at.Format("200601")
	count := 0
	for _, u := range m.usages {
		if strings.HasPrefix(u.UsageNumber, prefix) {
			count++
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id int64) (*StockUsageRecord, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) Insert(ctx context.Context, record StockUsageRecord) (int64, error) {
	record.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	m.usages[record.ID] = &record
	return record.ID, nil
}

func (m *memoryRepo) InsertItem(ctx context.Context, item UsageItem) (int64, error) {
	u, ok := m.usages[item.UsageID]
	if !ok {
		return 0, ErrNotFound
	}
	item.ID = m.nextItemID
	m.nextItemID++
	u.Items = append(u.Items, item)
	return item.ID, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error {
	u, ok := m.usages[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	for column, value := range updates {
		switch column {
		case "stock_consumed":
			u.StockConsumed = value.(bool)
		case "stock_consumed_at":
			at := value.(time.Time)
			u.StockConsumedAt = &at
		case "stock_restored":
			u.StockRestored = value.(bool)
		case "stock_restored_at":
			at := value.(time.Time)
			u.StockRestoredAt = &at
		case "decided_by":
			by := value.(int64)
			u.DecidedBy = &by
		case "decided_at":
			at := value.(time.Time)
			u.DecidedAt = &at
		case "cancelled_by":
			by := value.(int64)
			u.CancelledBy = &by
		case "cancelled_at":
			at := value.(time.Time)
			u.CancelledAt = &at
		}
	}
	return nil
}

func (m *memoryRepo) SetItemResult(ctx context.Context, itemID, oldStock, newStock, totalStock int64, serials []string) error {
	for _, u := range m.usages {
		for i := range u.Items {
			if u.Items[i].ID == itemID {
				u.Items[i].OldStock = oldStock
				u.Items[i].NewStock = newStock
				u.Items[i].TotalStock = totalStock
				u.Items[i].SerialNumbers = serials
				return nil
			}
		}
	}
	return ErrItemNotFound
}

type fakeLedger struct {
	nextRecordID int64
	nextSerialID int64
	records      map[string]*ledger.StockRecord
	serials      map[string]*ledger.SerialEntry
	consumeCalls int
	restoreCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		nextRecordID: 1,
		nextSerialID: 1,
		records:      map[string]*ledger.StockRecord{},
		serials:      map[string]*ledger.SerialEntry{},
	}
}

func recordKey(locationID, productID int64) string {
	return fmt.Sprintf("%d/%d", locationID, productID)
}

func (f *fakeLedger) seed(locationID, productID, available int64, serialNumbers ...string) {
	rec := &ledger.StockRecord{
		ID: f.nextRecordID, LocationID: locationID, ProductID: productID,
		TotalQty: available, AvailableQty: available,
	}
	f.nextRecordID++
	f.records[recordKey(locationID, productID)] = rec
	for _, sn := range serialNumbers {
		f.serials[sn] = &ledger.SerialEntry{
			ID: f.nextSerialID, RecordID: rec.ID, SerialNumber: sn, Status: ledger.SerialAvailable,
		}
		f.nextSerialID++
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

func (f *fakeLedger) availableSerials(recordID int64) []*ledger.SerialEntry {
	var entries []*ledger.SerialEntry
	for _, entry := range f.serials {
		if entry.RecordID == recordID && entry.Status == ledger.SerialAvailable {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (f *fakeLedger) ConsumeBatch(ctx context.Context, inputs []ledger.ConsumeInput) ([][]string, error) {
	f.consumeCalls++
	picked := make([][]string, len(inputs))
	for i, input := range inputs {
		rec, ok := f.records[recordKey(input.LocationID, input.ProductID)]
		if !ok {
			return nil, ledger.ErrRecordNotFound
		}
		if rec.AvailableQty < input.Qty {
			return nil, ledger.ErrInsufficientStock
		}
		var selected []string
		if len(input.SerialNumbers) > 0 {
			if int64(len(input.SerialNumbers)) != input.Qty {
				return nil, ledger.ErrSerialCountMismatch
			}
			selected = input.SerialNumbers
		} else {
			for _, entry := range f.availableSerials(rec.ID) {
				if int64(len(selected)) == input.Qty {
					break
				}
				selected = append(selected, entry.SerialNumber)
			}
		}
		for _, sn := range selected {
			entry, ok := f.serials[sn]
			if !ok || entry.Status != ledger.SerialAvailable {
				return nil, ledger.ErrSerialUnavailable
			}
			entry.Status = ledger.SerialConsumed
		}
		rec.AvailableQty -= input.Qty
		rec.ConsumedQty += input.Qty
		picked[i] = selected
	}
	return picked, nil
}

func (f *fakeLedger) ApproveDamage(ctx context.Context, serialNumber string, approvedBy int64, refID string) error {
	entry, ok := f.serials[serialNumber]
	if !ok || entry.Status != ledger.SerialConsumed {
		return ledger.ErrInvalidSerialState
	}
	entry.Status = ledger.SerialDamaged
	return nil
}

func (f *fakeLedger) RejectDamage(ctx context.Context, serialNumber string, rejectedBy int64, refID string) error {
	entry, ok := f.serials[serialNumber]
	if !ok || entry.Status != ledger.SerialConsumed {
		return ledger.ErrInvalidSerialState
	}
	entry.Status = ledger.SerialAvailable
	for _, rec := range f.records {
		if rec.ID == entry.RecordID {
			rec.AvailableQty++
			rec.ConsumedQty--
		}
	}
	return nil
}

func (f *fakeLedger) RestoreConsumedQuantity(ctx context.Context, locationID, productID, qty, actorID int64, refID string) (ledger.StockRecord, error) {
	f.restoreCalls++
	rec, ok := f.records[recordKey(locationID, productID)]
	if !ok {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	rec.AvailableQty += qty
	rec.ConsumedQty -= qty
	return *rec, nil
}

type staticLocations map[int64]string

func (s staticLocations) Kind(ctx context.Context, id int64) (string, error) {
	kind, ok := s[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return kind, nil
}

type staticProducts map[int64]bool

func (s staticProducts) SerialTracked(ctx context.Context, productID int64) (bool, error) {
	tracked, ok := s[productID]
	if !ok {
		return false, shared.ErrNotFound
	}
	return tracked, nil
}

type fakeApprovals struct {
	logs []shared.ApprovalLog
}

func (f *fakeApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	f.logs = append(f.logs, log)
	return nil
}

type fakeIdempotency struct {
	keys map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]bool{}}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	stock *fakeLedger
}

func newFixture() *fixture {
	repo := newMemoryRepo()
	stock := newFakeLedger()
	svc := NewService(repo, stock,
		staticLocations{1: "OUTLET", 2: "CENTER"},
		staticProducts{10: false, 11: true},
		&fakeApprovals{}, newFakeIdempotency(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, repo: repo, stock: stock}
}

func TestCreateNonDamageCompletesWithSnapshot(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 10, 10)
	record, err := f.svc.Create(context.Background(), CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeCustomer,
		TargetName: "J. Romijn",
		Items:      []CreateItemInput{{ProductID: 10, Quantity: 3}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, record.Status)
	require.True(t, record.StockConsumed)
	require.Equal(t, int64(10), record.Items[0].OldStock)
	require.Equal(t, int64(7), record.Items[0].NewStock)
	require.Equal(t, int64(10), record.Items[0].TotalStock)

	rec, err := f.stock.Record(context.Background(), 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(7), rec.AvailableQty)
	require.Equal(t, int64(3), rec.ConsumedQty)
	require.Equal(t, int64(10), rec.TotalQty)
}

func TestCreateRejectsNonCenter(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), CreateUsageInput{
		CenterID:   1,
		UsageType:  TypeCustomer,
		TargetName: "someone",
		Items:      []CreateItemInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.ErrorIs(t, err, ErrCenterRequired)
}

func TestCreateInsufficientStockLeavesLedgerUntouched(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 10, 2)
	_, err := f.svc.Create(context.Background(), CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeBuilding,
		TargetName: "block 4",
		Items:      []CreateItemInput{{ProductID: 10, Quantity: 5}},
	}, 7)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.Equal(t, 0, f.stock.consumeCalls)
}

func TestConsumeSelectsSerialsInInsertionOrder(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 11, 3, "S1", "S2", "S3")
	record, err := f.svc.Create(context.Background(), CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeControlRoom,
		TargetName: "room north",
		Items:      []CreateItemInput{{ProductID: 11, Quantity: 2}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"S1", "S2"}, record.Items[0].SerialNumbers)
}

// Naming fewer serials than the quantity must fail before anything is
// written. A late rejection would leave a cancelled record behind and burn
// the idempotency key.
func TestCreateRejectsShortSerialListBeforePersisting(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 11, 2, "S1", "S2")
	_, err := f.svc.Create(context.Background(), CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeCustomer,
		TargetName: "K. Mulder",
		Items:      []CreateItemInput{{ProductID: 11, Quantity: 2, SerialNumbers: []string{"S1"}}},
	}, 7)
	require.ErrorIs(t, err, ledger.ErrSerialCountMismatch)
	require.Equal(t, 0, f.stock.consumeCalls)

	records, total, err := f.repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Empty(t, records)
	require.Zero(t, total)

	rec, err := f.stock.Record(context.Background(), 2, 11)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.AvailableQty)
}

func TestDamageReservationWaitsForDecision(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 11, 2, "S1", "S2")
	ctx := context.Background()
	record, err := f.svc.Create(ctx, CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeDamage,
		TargetName: "claim 88",
		Items:      []CreateItemInput{{ProductID: 11, Quantity: 2, SerialNumbers: []string{"S1", "S2"}}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
	require.True(t, record.StockConsumed)

	rec, err := f.stock.Record(ctx, 2, 11)
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.AvailableQty)

	record, err = f.svc.ApproveDamage(ctx, record.ID, 9, "confirmed broken")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, record.Status)
	require.Equal(t, ledger.SerialDamaged, f.stock.serials["S1"].Status)
	require.Equal(t, ledger.SerialDamaged, f.stock.serials["S2"].Status)
}

func TestRejectDamageRestoresAvailability(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 11, 2, "S1", "S2")
	ctx := context.Background()
	record, err := f.svc.Create(ctx, CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeDamage,
		TargetName: "claim 89",
		Items:      []CreateItemInput{{ProductID: 11, Quantity: 2, SerialNumbers: []string{"S1", "S2"}}},
	}, 7)
	require.NoError(t, err)

	record, err = f.svc.RejectDamage(ctx, record.ID, 9, "no damage found")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, record.Status)
	require.True(t, record.StockRestored)

	rec, err := f.stock.Record(ctx, 2, 11)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.AvailableQty)
	require.Equal(t, int64(0), rec.ConsumedQty)
	require.Equal(t, ledger.SerialAvailable, f.stock.serials["S1"].Status)
	require.Equal(t, ledger.SerialAvailable, f.stock.serials["S2"].Status)
}

func TestApproveDamageRequiresDamageType(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 10, 5)
	ctx := context.Background()
	record, err := f.svc.Create(ctx, CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeOther,
		TargetName: "misc",
		Items:      []CreateItemInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.ApproveDamage(ctx, record.ID, 9, "")
	require.ErrorIs(t, err, ErrNotDamage)
}

// Cancelling a completed usage restores the bulk quantities but leaves the
// consumed serial rows untouched, so a serial-tracked row ends up with more
// available quantity than available serials. This mirrors the recorded
// behavior of the workflow and is intentionally not corrected here.
func TestCancelRestoresQuantityButNotSerials(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 11, 2, "S1", "S2")
	ctx := context.Background()
	record, err := f.svc.Create(ctx, CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeCustomer,
		TargetName: "H. de Groot",
		Items:      []CreateItemInput{{ProductID: 11, Quantity: 2}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, record.Status)

	record, err = f.svc.Cancel(ctx, record.ID, 7, "entered twice")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, record.Status)

	rec, err := f.stock.Record(ctx, 2, 11)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.AvailableQty)
	require.Equal(t, ledger.SerialConsumed, f.stock.serials["S1"].Status)
	require.Equal(t, ledger.SerialConsumed, f.stock.serials["S2"].Status)
}

func TestCancelTwiceRestoresOnce(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 10, 10)
	ctx := context.Background()
	record, err := f.svc.Create(ctx, CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeCustomer,
		TargetName: "M. Visser",
		Items:      []CreateItemInput{{ProductID: 10, Quantity: 4}},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, record.ID, 7, "")
	require.NoError(t, err)
	retried, err := f.svc.Cancel(ctx, record.ID, 7, "")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, retried.Status)
	require.Equal(t, 1, f.stock.restoreCalls)

	rec, err := f.stock.Record(ctx, 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), rec.AvailableQty)
}

func TestCancelDamageForbidden(t *testing.T) {
	f := newFixture()
	f.stock.seed(2, 11, 1, "S1")
	ctx := context.Background()
	record, err := f.svc.Create(ctx, CreateUsageInput{
		CenterID:   2,
		UsageType:  TypeDamage,
		TargetName: "claim 90",
		Items:      []CreateItemInput{{ProductID: 11, Quantity: 1, SerialNumbers: []string{"S1"}}},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.ApproveDamage(ctx, record.ID, 9, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, record.ID, 7, "")
	require.ErrorIs(t, err, ErrDamageImmutable)
}
