package procurement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

type memoryRepo struct {
	nextPOID     int64
	nextPOLineID int64
	nextGRNID    int64
	nextLineID   int64
	orders       map[int64]*PurchaseOrder
	orderLines   map[int64][]POLine
	receipts     map[int64]*GoodsReceipt
	receiptLines map[int64][]GRNLine
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextPOID: 1, nextPOLineID: 1, nextGRNID: 1, nextLineID: 1,
		orders:     map[int64]*PurchaseOrder{},
		orderLines: map[int64][]POLine{},
		receipts:   map[int64]*GoodsReceipt{},
		receiptLines: map[int64][]GRNLine{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetPO(ctx context.Context, id int64) (*PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *po
	return &clone, nil
}

func (m *memoryRepo) POLines(ctx context.Context, poID int64) ([]POLine, error) {
	return append([]POLine(nil), m.orderLines[poID]...), nil
}

func (m *memoryRepo) ListPOs(ctx context.Context, f ListFilter) ([]PurchaseOrder, int64, error) {
	out := []PurchaseOrder{}
	for _, po := range m.orders {
		if f.Status != "" && string(po.Status) != f.Status {
			continue
		}
		out = append(out, *po)
	}
	return out, int64(len(out)), nil
}

func (m *memoryRepo) GetGRN(ctx context.Context, id int64) (*GoodsReceipt, error) {
	g, ok := m.receipts[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *g
	return &clone, nil
}

func (m *memoryRepo) GRNLines(ctx context.Context, grnID int64) ([]GRNLine, error) {
	return append([]GRNLine(nil), m.receiptLines[grnID]...), nil
}

func (m *memoryRepo) ListGRNs(ctx context.Context, f ListFilter) ([]GoodsReceipt, int64, error) {
	out := []GoodsReceipt{}
	for _, g := range m.receipts {
		if f.Status != "" && string(g.Status) != f.Status {
			continue
		}
		out = append(out, *g)
	}
	return out, int64(len(out)), nil
}

func (m *memoryRepo) GeneratePONumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "PO-" + at.Format("200601")
	count := 0
	for _, po := range m.orders {
		if strings.HasPrefix(po.Number, prefix) {
			count++
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

func (m *memoryRepo) GenerateGRNNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "GRN-" + at.Format("200601")
	count := 0
	for _, g := range m.receipts {
		if strings.HasPrefix(g.Number, prefix) {
			count++
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

func (m *memoryRepo) GetPOForUpdate(ctx context.Context, id int64) (*PurchaseOrder, error) {
	return m.GetPO(ctx, id)
}

func (m *memoryRepo) InsertPO(ctx context.Context, po *PurchaseOrder) (int64, error) {
	clone := *po
	clone.ID = m.nextPOID
	m.nextPOID++
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	m.orders[clone.ID] = &clone
	return clone.ID, nil
}

func (m *memoryRepo) InsertPOLine(ctx context.Context, line *POLine) (int64, error) {
	clone := *line
	clone.ID = m.nextPOLineID
	m.nextPOLineID++
	m.orderLines[clone.POID] = append(m.orderLines[clone.POID], clone)
	return clone.ID, nil
}

func (m *memoryRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus, fields map[string]interface{}) error {
	po, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	for column, value := range fields {
		switch column {
		case "approved_by":
			by := value.(int64)
			po.ApprovedBy = &by
		case "approved_at":
			at := value.(time.Time)
			po.ApprovedAt = &at
		}
	}
	return nil
}

func (m *memoryRepo) GetGRNForUpdate(ctx context.Context, id int64) (*GoodsReceipt, error) {
	return m.GetGRN(ctx, id)
}

func (m *memoryRepo) InsertGRN(ctx context.Context, grn *GoodsReceipt) (int64, error) {
	clone := *grn
	clone.ID = m.nextGRNID
	m.nextGRNID++
	now := time.Now().UTC()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	m.receipts[clone.ID] = &clone
	return clone.ID, nil
}

func (m *memoryRepo) InsertGRNLine(ctx context.Context, line *GRNLine) (int64, error) {
	clone := *line
	clone.ID = m.nextLineID
	m.nextLineID++
	m.receiptLines[clone.GRNID] = append(m.receiptLines[clone.GRNID], clone)
	return clone.ID, nil
}

func (m *memoryRepo) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus, fields map[string]interface{}) error {
	g, ok := m.receipts[id]
	if !ok {
		return ErrNotFound
	}
	g.Status = status
	for column, value := range fields {
		switch column {
		case "stock_added":
			g.StockAdded = value.(bool)
		case "stock_added_at":
			at := value.(time.Time)
			g.StockAddedAt = &at
		case "posted_by":
			by := value.(int64)
			g.PostedBy = &by
		case "posted_at":
			at := value.(time.Time)
			g.PostedAt = &at
		}
	}
	return nil
}

type fakeLedger struct {
	nextRecordID  int64
	records       map[string]*ledger.StockRecord
	serials       map[string]string
	increaseCalls int
	failIncrease  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nextRecordID: 1, records: map[string]*ledger.StockRecord{}, serials: map[string]string{}}
}

func recordKey(locationID, productID int64) string {
	return fmt.Sprintf("%d/%d", locationID, productID)
}

func (f *fakeLedger) IncreaseStock(ctx context.Context, input ledger.IncreaseInput) (ledger.StockRecord, error) {
	f.increaseCalls++
	if f.failIncrease != nil {
		return ledger.StockRecord{}, f.failIncrease
	}
	rec, ok := f.records[recordKey(input.LocationID, input.ProductID)]
	if !ok {
		rec = &ledger.StockRecord{ID: f.nextRecordID, LocationID: input.LocationID, ProductID: input.ProductID}
		f.nextRecordID++
		f.records[recordKey(input.LocationID, input.ProductID)] = rec
	}
	for _, seed := range input.Serials {
		if _, dup := f.serials[seed.SerialNumber]; dup {
			return ledger.StockRecord{}, ledger.ErrDuplicateSerial
		}
		f.serials[seed.SerialNumber] = seed.PurchaseRef
	}
	rec.TotalQty += input.Qty
	rec.AvailableQty += input.Qty
	return *rec, nil
}

func (f *fakeLedger) SerialExists(ctx context.Context, serialNumber string) (bool, error) {
	_, ok := f.serials[serialNumber]
	return ok, nil
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
	svc         *Service
	repo        *memoryRepo
	stock       *fakeLedger
	idempotency *fakeIdempotency
}

func newFixture() *fixture {
	repo := newMemoryRepo()
	stock := newFakeLedger()
	idem := newFakeIdempotency()
	svc := NewService(repo, stock,
		staticLocations{1: "OUTLET", 2: "CENTER"},
		staticProducts{10: false, 11: true},
		&fakeApprovals{}, idem,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, repo: repo, stock: stock, idempotency: idem}
}

func (f *fixture) approvedOrder(t *testing.T, lines ...CreatePOLine) *PurchaseOrder {
	t.Helper()
	po, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID:   5,
		OutletID:     1,
		Currency:     "EUR",
		ExpectedDate: time.Now().UTC().AddDate(0, 0, 7),
		Lines:        lines,
	}, 7)
	require.NoError(t, err)
	_, err = f.svc.SubmitPurchaseOrder(context.Background(), po.ID, 7)
	require.NoError(t, err)
	po, err = f.svc.ApprovePurchaseOrder(context.Background(), po.ID, 8, "ok")
	require.NoError(t, err)
	return po
}

func TestCreateOrderGeneratesMonthlyNumber(t *testing.T) {
	f := newFixture()
	prefix := "PO-" + time.Now().UTC().Format("200601")
	for i, want := range []string{prefix + "-0001", prefix + "-0002"} {
		po, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
			SupplierID:   5,
			OutletID:     1,
			Currency:     "EUR",
			ExpectedDate: time.Now().UTC(),
			Lines:        []CreatePOLine{{ProductID: 10, Qty: int64(i) + 1}},
		}, 7)
		require.NoError(t, err)
		require.Equal(t, want, po.Number)
		require.Equal(t, POStatusDraft, po.Status)
	}
}

func TestCreateOrderRequiresOutlet(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID:   5,
		OutletID:     2,
		Currency:     "EUR",
		ExpectedDate: time.Now().UTC(),
		Lines:        []CreatePOLine{{ProductID: 10, Qty: 1}},
	}, 7)
	require.ErrorIs(t, err, ErrOutletRequired)
}

func TestReceiptRequiresApprovedOrder(t *testing.T) {
	f := newFixture()
	po, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID:   5,
		OutletID:     1,
		Currency:     "EUR",
		ExpectedDate: time.Now().UTC(),
		Lines:        []CreatePOLine{{ProductID: 10, Qty: 4}},
	}, 7)
	require.NoError(t, err)
	_, err = f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 10, Qty: 4}},
	}, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPostReceiptSeedsOutletLedger(t *testing.T) {
	f := newFixture()
	po := f.approvedOrder(t, CreatePOLine{ProductID: 10, Qty: 4}, CreatePOLine{ProductID: 11, Qty: 2})
	grn, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID: po.ID,
		Lines: []CreateGRNLine{
			{ProductID: 10, Qty: 4},
			{ProductID: 11, Qty: 2, SerialNumbers: []string{"S1", "S2"}},
		},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, grn.Status)

	grn, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.NoError(t, err)
	require.Equal(t, GRNStatusPosted, grn.Status)
	require.True(t, grn.StockAdded)

	bulk := f.stock.records[recordKey(1, 10)]
	require.Equal(t, int64(4), bulk.AvailableQty)
	require.Equal(t, int64(4), bulk.TotalQty)
	tracked := f.stock.records[recordKey(1, 11)]
	require.Equal(t, int64(2), tracked.AvailableQty)
	require.Equal(t, grn.Number, f.stock.serials["S1"])
	require.Equal(t, grn.Number, f.stock.serials["S2"])

	order, err := f.repo.GetPO(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusClosed, order.Status)
}

func TestReceiptSerialCountMustMatchQuantity(t *testing.T) {
	f := newFixture()
	po := f.approvedOrder(t, CreatePOLine{ProductID: 11, Qty: 3})
	_, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 11, Qty: 3, SerialNumbers: []string{"S1", "S2"}}},
	}, 7)
	require.ErrorIs(t, err, ledger.ErrSerialCountMismatch)
}

func TestReceiptRejectsKnownSerial(t *testing.T) {
	f := newFixture()
	f.stock.serials["S1"] = "GRN-202607-0009"
	po := f.approvedOrder(t, CreatePOLine{ProductID: 11, Qty: 1})
	_, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 11, Qty: 1, SerialNumbers: []string{"S1"}}},
	}, 7)
	require.ErrorIs(t, err, ledger.ErrDuplicateSerial)
	require.Zero(t, f.stock.increaseCalls)
}

func TestPostTwiceFails(t *testing.T) {
	f := newFixture()
	po := f.approvedOrder(t, CreatePOLine{ProductID: 10, Qty: 4})
	grn, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 10, Qty: 4}},
	}, 7)
	require.NoError(t, err)
	_, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.NoError(t, err)
	_, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, f.stock.increaseCalls)
}

// A crash after the ledger intake but before the status update leaves the
// idempotency key behind. The retry must finish the paperwork without adding
// the stock a second time.
func TestPostRetryAfterPartialFailureSkipsLedger(t *testing.T) {
	f := newFixture()
	po := f.approvedOrder(t, CreatePOLine{ProductID: 10, Qty: 4})
	grn, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 10, Qty: 4}},
	}, 7)
	require.NoError(t, err)

	require.NoError(t, f.idempotency.CheckAndInsert(context.Background(), "procurement:grn:"+grn.Ref.String(), "procurement"))
	grn, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.NoError(t, err)
	require.Equal(t, GRNStatusPosted, grn.Status)
	require.Zero(t, f.stock.increaseCalls)
}

func TestPostFailureReleasesKey(t *testing.T) {
	f := newFixture()
	po := f.approvedOrder(t, CreatePOLine{ProductID: 10, Qty: 4})
	grn, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 10, Qty: 4}},
	}, 7)
	require.NoError(t, err)

	f.stock.failIncrease = ledger.ErrInvalidQuantity
	_, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
	require.False(t, f.idempotency.keys["procurement:grn:"+grn.Ref.String()])

	f.stock.failIncrease = nil
	grn, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.NoError(t, err)
	require.Equal(t, GRNStatusPosted, grn.Status)
}

func TestCancelPostedReceiptFails(t *testing.T) {
	f := newFixture()
	po := f.approvedOrder(t, CreatePOLine{ProductID: 10, Qty: 1})
	grn, err := f.svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  po.ID,
		Lines: []CreateGRNLine{{ProductID: 10, Qty: 1}},
	}, 7)
	require.NoError(t, err)
	_, err = f.svc.PostGoodsReceipt(context.Background(), grn.ID, 9)
	require.NoError(t, err)
	_, err = f.svc.CancelGoodsReceipt(context.Background(), grn.ID, 9, "wrong delivery")
	require.ErrorIs(t, err, ErrInvalidState)
}
