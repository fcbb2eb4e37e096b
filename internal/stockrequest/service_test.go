package stockrequest

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
	nextID     int64
	nextLineID int64
	requests   map[int64]*StockRequest
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, nextLineID: 1, requests: map[int64]*StockRequest{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (*StockRequest, error) {
	sr, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sr
	clone.Lines = append([]RequestLine(nil), sr.Lines...)
	return &clone, nil
}

func (m *memoryRepo) GetByNumber(ctx context.Context, number string) (*StockRequest, error) {
	for id, sr := range m.requests {
		if sr.OrderNumber == number {
			return m.Get(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]StockRequest, int, error) {
	out := []StockRequest{}
	for _, sr := range m.requests {
		if filter.Status != nil && sr.Status != *filter.Status {
			continue
		}
		out = append(out, *sr)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GenerateOrderNumber(ctx context.Context, centerCode string, at time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%s", centerCode, at.Format("0601"))
	count := 0
	for _, sr := range m.requests {
		if strings.HasPrefix(sr.OrderNumber, prefix) {
			count++
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id int64) (*StockRequest, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) Insert(ctx context.Context, request StockRequest) (int64, error) {
	for _, sr := range m.requests {
		if sr.OrderNumber == request.OrderNumber {
			return 0, ErrDuplicateNumber
		}
	}
	request.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	m.requests[request.ID] = &request
	return request.ID, nil
}

func (m *memoryRepo) InsertLine(ctx context.Context, line RequestLine) (int64, error) {
	sr, ok := m.requests[line.RequestID]
	if !ok {
		return 0, ErrNotFound
	}
	line.ID = m.nextLineID
	m.nextLineID++
	sr.Lines = append(sr.Lines, line)
	return line.ID, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error {
	sr, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	sr.Status = status
	for column, value := range updates {
		switch column {
		case "source_deducted":
			sr.SourceDeducted = value.(bool)
		case "source_deducted_at":
			at := value.(time.Time)
			sr.SourceDeductedAt = &at
		case "destination_added":
			sr.DestinationAdded = value.(bool)
		case "destination_added_at":
			at := value.(time.Time)
			sr.DestinationAddedAt = &at
		case "confirmed_by":
			by := value.(int64)
			sr.ConfirmedBy = &by
		case "confirmed_at":
			at := value.(time.Time)
			sr.ConfirmedAt = &at
		case "shipped_by":
			by := value.(int64)
			sr.ShippedBy = &by
		case "shipped_at":
			at := value.(time.Time)
			sr.ShippedAt = &at
		case "completed_by":
			by := value.(int64)
			sr.CompletedBy = &by
		case "completed_at":
			at := value.(time.Time)
			sr.CompletedAt = &at
		}
	}
	return nil
}

func (m *memoryRepo) findLine(lineID int64) *RequestLine {
	for _, sr := range m.requests {
		for i := range sr.Lines {
			if sr.Lines[i].ID == lineID {
				return &sr.Lines[i]
			}
		}
	}
	return nil
}

func (m *memoryRepo) SetLineApproved(ctx context.Context, lineID, approvedQuantity int64) error {
	line := m.findLine(lineID)
	if line == nil {
		return ErrLineNotFound
	}
	line.ApprovedQuantity = &approvedQuantity
	return nil
}

func (m *memoryRepo) SetLineShipped(ctx context.Context, lineID int64, serials []string) error {
	line := m.findLine(lineID)
	if line == nil {
		return ErrLineNotFound
	}
	line.ShippedSerials = serials
	return nil
}

func (m *memoryRepo) SetLineReceived(ctx context.Context, lineID, receivedQuantity int64) error {
	line := m.findLine(lineID)
	if line == nil {
		return ErrLineNotFound
	}
	line.ReceivedQuantity = &receivedQuantity
	return nil
}

type fakeLedger struct {
	records      map[string]*ledger.StockRecord
	shipCalls    int
	receiveCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*ledger.StockRecord{}}
}

func recordKey(locationID, productID int64) string {
	return fmt.Sprintf("%d/%d", locationID, productID)
}

func (f *fakeLedger) seed(locationID, productID, available int64) {
	f.records[recordKey(locationID, productID)] = &ledger.StockRecord{
		LocationID: locationID, ProductID: productID, TotalQty: available, AvailableQty: available,
	}
}

func (f *fakeLedger) Record(ctx context.Context, locationID, productID int64) (ledger.StockRecord, error) {
	rec, ok := f.records[recordKey(locationID, productID)]
	if !ok {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	return *rec, nil
}

func (f *fakeLedger) TransferOutBatch(ctx context.Context, inputs []ledger.TransferOutInput) ([][]string, error) {
	f.shipCalls++
	picked := make([][]string, len(inputs))
	for i, input := range inputs {
		rec, ok := f.records[recordKey(input.LocationID, input.ProductID)]
		if !ok {
			return nil, ledger.ErrRecordNotFound
		}
		if rec.AvailableQty < input.Qty {
			return nil, ledger.ErrInsufficientStock
		}
		rec.AvailableQty -= input.Qty
		rec.InTransitQty += input.Qty
		picked[i] = input.SerialNumbers
	}
	return picked, nil
}

func (f *fakeLedger) ReceiveTransferBatch(ctx context.Context, inputs []ledger.ReceiveInput) error {
	f.receiveCalls++
	for _, input := range inputs {
		src := f.records[recordKey(input.FromLocationID, input.ProductID)]
		if src != nil {
			src.InTransitQty -= input.ShippedQty
			src.TotalQty -= input.ShippedQty
		}
		dst, ok := f.records[recordKey(input.ToLocationID, input.ProductID)]
		if !ok {
			dst = &ledger.StockRecord{LocationID: input.ToLocationID, ProductID: input.ProductID}
			f.records[recordKey(input.ToLocationID, input.ProductID)] = dst
		}
		dst.TotalQty += input.ReceivedQty
		dst.AvailableQty += input.ReceivedQty
	}
	return nil
}

type staticLocations map[int64][2]string

func (s staticLocations) Kind(ctx context.Context, id int64) (string, error) {
	loc, ok := s[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return loc[0], nil
}

func (s staticLocations) Code(ctx context.Context, id int64) (string, error) {
	loc, ok := s[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return loc[1], nil
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
	stock *fakeLedger
}

func newFixture() *fixture {
	stock := newFakeLedger()
	svc := NewService(newMemoryRepo(), stock,
		staticLocations{1: {"OUTLET", "WH01"}, 2: {"CENTER", "CTR01"}, 3: {"CENTER", "CTR02"}},
		staticProducts{10: false},
		&fakeApprovals{}, newFakeIdempotency(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, stock: stock}
}

func (f *fixture) createDraft(t *testing.T, qty int64) *StockRequest {
	t.Helper()
	request, err := f.svc.Create(context.Background(), CreateRequestInput{
		OutletID: 1, CenterID: 2,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: qty}},
	}, 7)
	require.NoError(t, err)
	return request
}

func TestCreateGeneratesOrderNumberFromCenterCode(t *testing.T) {
	f := newFixture()
	request := f.createDraft(t, 5)
	prefix := "CTR01-" + time.Now().UTC().Format("0601")
	require.Equal(t, prefix+"-0001", request.OrderNumber)

	second := f.createDraft(t, 3)
	require.Equal(t, prefix+"-0002", second.OrderNumber)
}

// contendedRepo hands out an already taken order number, as happens when a
// concurrent create lands between the count and the insert.
type contendedRepo struct {
	*memoryRepo
	stale int
}

func (c *contendedRepo) GenerateOrderNumber(ctx context.Context, centerCode string, at time.Time) (string, error) {
	if c.stale > 0 {
		c.stale--
		return fmt.Sprintf("%s-%s-0001", centerCode, at.Format("0601")), nil
	}
	return c.memoryRepo.GenerateOrderNumber(ctx, centerCode, at)
}

func TestCreateRenumbersOnCollision(t *testing.T) {
	repo := &contendedRepo{memoryRepo: newMemoryRepo()}
	svc := NewService(repo, newFakeLedger(),
		staticLocations{1: {"OUTLET", "WH01"}, 2: {"CENTER", "CTR01"}},
		staticProducts{10: false},
		&fakeApprovals{}, newFakeIdempotency(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	input := CreateRequestInput{
		OutletID: 1, CenterID: 2,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: 1}},
	}
	first, err := svc.Create(ctx, input, 7)
	require.NoError(t, err)
	prefix := "CTR01-" + time.Now().UTC().Format("0601")
	require.Equal(t, prefix+"-0001", first.OrderNumber)

	repo.stale = 1
	second, err := svc.Create(ctx, input, 7)
	require.NoError(t, err)
	require.Equal(t, prefix+"-0002", second.OrderNumber)
	require.Zero(t, repo.stale)
}

func TestCreateEnforcesOutletToCenter(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), CreateRequestInput{
		OutletID: 2, CenterID: 3,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.ErrorIs(t, err, ErrOutletRequired)

	_, err = f.svc.Create(context.Background(), CreateRequestInput{
		OutletID: 1, CenterID: 1,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.ErrorIs(t, err, ErrCenterRequired)
}

func TestSubmitRequiresOutletCover(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 2)
	request := f.createDraft(t, 5)

	_, err := f.svc.Submit(context.Background(), request.ID, 7)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	current, err := f.svc.Get(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
}

func TestRequestLifecycle(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)

	request, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, request.Status)

	request, err = f.svc.Confirm(ctx, request.ID, 8, []LineApproval{
		{LineID: request.Lines[0].ID, ApprovedQuantity: 4},
	})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, request.Status)
	require.Equal(t, int64(4), *request.Lines[0].ApprovedQuantity)

	request, err = f.svc.Ship(ctx, request.ID, 7, "")
	require.NoError(t, err)
	require.Equal(t, StatusShipped, request.Status)
	require.True(t, request.SourceDeducted)

	outlet, err := f.stock.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(16), outlet.AvailableQty)
	require.Equal(t, int64(4), outlet.InTransitQty)

	request, err = f.svc.Complete(ctx, request.ID, 8, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, request.Status)
	require.True(t, request.DestinationAdded)

	center, err := f.stock.Record(ctx, 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(4), center.AvailableQty)
}

func TestShipTwiceDeductsOnce(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, request.ID, 8, nil)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 7, "")
	require.NoError(t, err)

	retried, err := f.svc.Ship(ctx, request.ID, 7, "")
	require.NoError(t, err)
	require.Equal(t, StatusShipped, retried.Status)
	require.Equal(t, 1, f.stock.shipCalls)
}

func TestCompleteShortfallLandsIncompleted(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, request.ID, 8, nil)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 7, "")
	require.NoError(t, err)

	request, err = f.svc.Complete(ctx, request.ID, 8, []LineReceipt{
		{LineID: request.Lines[0].ID, ReceivedQuantity: 3},
	})
	require.NoError(t, err)
	require.Equal(t, StatusIncompleted, request.Status)

	request, err = f.svc.Finalize(ctx, request.ID, 8, "shortfall accepted")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, request.Status)
}

func TestRejectClosedAfterShipment(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, request.ID, 8, nil)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 7, "")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, request.ID, 8, "too late")
	require.ErrorIs(t, err, ErrInvalidTransition)
}
