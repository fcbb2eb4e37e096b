package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

type memoryRepo struct {
	nextID     int64
	nextLineID int64
	transfers  map[int64]*TransferRequest
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, nextLineID: 1, transfers: map[int64]*TransferRequest{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (*TransferRequest, error) {
	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	clone.Lines = append([]TransferLine(nil), t.Lines...)
	return &clone, nil
}

func (m *memoryRepo) GetByNumber(ctx context.Context, number string) (*TransferRequest, error) {
	for id, t := range m.transfers {
		if t.TransferNumber == number {
			return m.Get(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]TransferRequest, int, error) {
	out := []TransferRequest{}
	for _, t := range m.transfers {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GenerateTransferNumber(ctx context.Context, at time.Time) (string, error) {
	return fmt.Sprintf("TRF-%s-%04d", at.Format("200601"), len(m.transfers)+1), nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id int64) (*TransferRequest, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) Insert(ctx context.Context, request TransferRequest) (int64, error) {
	request.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	m.transfers[request.ID] = &request
	return request.ID, nil
}

func (m *memoryRepo) InsertLine(ctx context.Context, line TransferLine) (int64, error) {
	t, ok := m.transfers[line.TransferID]
	if !ok {
		return 0, ErrNotFound
	}
	line.ID = m.nextLineID
	m.nextLineID++
	t.Lines = append(t.Lines, line)
	return line.ID, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error {
	t, ok := m.transfers[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	for column, value := range updates {
		switch column {
		case "admin_approval":
			t.AdminApproval = AdminApprovalStatus(value.(string))
		case "source_deducted":
			t.SourceDeducted = value.(bool)
		case "source_deducted_at":
			at := value.(time.Time)
			t.SourceDeductedAt = &at
		case "destination_added":
			t.DestinationAdded = value.(bool)
		case "destination_added_at":
			at := value.(time.Time)
			t.DestinationAddedAt = &at
		case "shipped_by":
			by := value.(int64)
			t.ShippedBy = &by
		case "shipped_at":
			at := value.(time.Time)
			t.ShippedAt = &at
		case "completed_by":
			by := value.(int64)
			t.CompletedBy = &by
		case "completed_at":
			at := value.(time.Time)
			t.CompletedAt = &at
		}
	}
	return nil
}

func (m *memoryRepo) findLine(lineID int64) *TransferLine {
	for _, t := range m.transfers {
		for i := range t.Lines {
			if t.Lines[i].ID == lineID {
				return &t.Lines[i]
			}
		}
	}
	return nil
}

func (m *memoryRepo) SetLineQuantity(ctx context.Context, lineID, quantity int64) error {
	line := m.findLine(lineID)
	if line == nil {
		return ErrLineNotFound
	}
	line.Quantity = quantity
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
	serials      map[string]ledger.SerialEntry
	shipCalls    int
	receiveCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*ledger.StockRecord{}, serials: map[string]ledger.SerialEntry{}}
}

func recordKey(locationID, productID int64) string {
	return fmt.Sprintf("%d/%d", locationID, productID)
}

func (f *fakeLedger) seed(locationID, productID, available int64) {
	f.records[recordKey(locationID, productID)] = &ledger.StockRecord{
		ID: int64(len(f.records) + 1), LocationID: locationID, ProductID: productID,
		TotalQty: available, AvailableQty: available,
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
	return entry, nil
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
		src, ok := f.records[recordKey(input.FromLocationID, input.ProductID)]
		if !ok {
			return ledger.ErrRecordNotFound
		}
		src.InTransitQty -= input.ShippedQty
		src.TotalQty -= input.ShippedQty
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
	svc       *Service
	repo      *memoryRepo
	stock     *fakeLedger
	approvals *fakeApprovals
}

func newFixture() *fixture {
	repo := newMemoryRepo()
	stock := newFakeLedger()
	approvals := &fakeApprovals{}
	svc := NewService(repo, stock,
		staticLocations{1: "CENTER", 2: "CENTER", 3: "OUTLET"},
		staticProducts{10: false, 11: true},
		approvals, newFakeIdempotency(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, repo: repo, stock: stock, approvals: approvals}
}

func (f *fixture) createDraft(t *testing.T, qty int64) *TransferRequest {
	t.Helper()
	request, err := f.svc.Create(context.Background(), CreateTransferInput{
		FromLocationID: 1, ToLocationID: 2,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: qty}},
	}, 7)
	require.NoError(t, err)
	return request
}

// contendedRepo fails the first insert with a number collision, as happens
// when a concurrent create takes the generated number first.
type contendedRepo struct {
	*memoryRepo
	collisions int
}

func (c *contendedRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, c)
}

func (c *contendedRepo) Insert(ctx context.Context, request TransferRequest) (int64, error) {
	if c.collisions > 0 {
		c.collisions--
		return 0, ErrDuplicateNumber
	}
	return c.memoryRepo.Insert(ctx, request)
}

func TestCreateRenumbersOnCollision(t *testing.T) {
	repo := &contendedRepo{memoryRepo: newMemoryRepo(), collisions: 1}
	svc := NewService(repo, newFakeLedger(),
		staticLocations{1: "CENTER", 2: "CENTER"},
		staticProducts{10: false},
		&fakeApprovals{}, newFakeIdempotency(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	request, err := svc.Create(context.Background(), CreateTransferInput{
		FromLocationID: 1, ToLocationID: 2,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, request.Status)
	require.Zero(t, repo.collisions)
	require.Len(t, request.Lines, 1)
}

func TestCreateRejectsSameLocation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), CreateTransferInput{
		FromLocationID: 1, ToLocationID: 1,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.ErrorIs(t, err, ErrSameLocation)
}

func TestCreateRejectsNonCenterLocation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), CreateTransferInput{
		FromLocationID: 3, ToLocationID: 2,
		Lines: []CreateLineInput{{ProductID: 10, Quantity: 1}},
	}, 7)
	require.ErrorIs(t, err, ErrLocationKind)
}

func TestSubmitValidatesAvailabilityReadOnly(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 2)
	request := f.createDraft(t, 5)

	_, err := f.svc.Submit(context.Background(), request.ID, 7)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	current, err := f.svc.Get(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
	require.Equal(t, 0, f.stock.shipCalls)
}

func TestWorkflowHappyPath(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	require.Equal(t, StatusDraft, request.Status)
	require.NotEmpty(t, request.TransferNumber)

	request, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, request.Status)
	require.Equal(t, AdminApprovalPending, request.AdminApproval)

	request, err = f.svc.ApproveByAdmin(ctx, request.ID, 8, "ok", nil)
	require.NoError(t, err)
	require.Equal(t, StatusAdminApproved, request.Status)
	require.Equal(t, AdminApprovalApproved, request.AdminApproval)

	request, err = f.svc.ApproveAtDestination(ctx, request.ID, 9, nil)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, request.Status)
	require.Equal(t, int64(5), *request.Lines[0].ApprovedQuantity)

	request, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)
	require.Equal(t, StatusShipped, request.Status)
	require.True(t, request.SourceDeducted)
	require.Equal(t, 1, f.stock.shipCalls)

	source, err := f.stock.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(15), source.AvailableQty)
	require.Equal(t, int64(5), source.InTransitQty)

	request, err = f.svc.Complete(ctx, request.ID, 10, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, request.Status)
	require.True(t, request.DestinationAdded)
	require.Equal(t, int64(5), *request.Lines[0].ReceivedQuantity)

	dest, err := f.stock.Record(ctx, 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(5), dest.AvailableQty)
}

func TestShipRequiresAdminApproval(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)

	_, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.ErrorIs(t, err, ErrApprovalRequired)
	require.Equal(t, 0, f.stock.shipCalls)
}

func TestBypassOpensShipWithoutConfirm(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)

	request, err := f.svc.BypassAdminApproval(ctx, request.ID, 8, "override")
	require.NoError(t, err)
	require.Equal(t, StatusAdminApproved, request.Status)
	require.Equal(t, AdminApprovalNotRequired, request.AdminApproval)

	request, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)
	require.Equal(t, StatusShipped, request.Status)
}

func TestShipTwiceDeductsOnce(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.BypassAdminApproval(ctx, request.ID, 8, "")
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)

	retried, err := f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)
	require.Equal(t, StatusShipped, retried.Status)
	require.Equal(t, 1, f.stock.shipCalls)

	source, err := f.stock.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(15), source.AvailableQty)
}

func TestAdminModificationLowersShippedQuantity(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.Submit(ctx, request.ID, 7)
	require.NoError(t, err)

	request, err = f.svc.ApproveByAdmin(ctx, request.ID, 8, "cut down", []LineModification{
		{LineID: request.Lines[0].ID, Quantity: 3},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), request.Lines[0].Quantity)

	_, err = f.svc.ApproveAtDestination(ctx, request.ID, 9, nil)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)

	source, err := f.stock.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(17), source.AvailableQty)
	require.Equal(t, int64(3), source.InTransitQty)
}

func TestCompleteShortfallLandsIncompleted(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.BypassAdminApproval(ctx, request.ID, 8, "")
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)

	request, err = f.svc.Complete(ctx, request.ID, 10, []LineReceipt{
		{LineID: request.Lines[0].ID, ReceivedQuantity: 4},
	})
	require.NoError(t, err)
	require.Equal(t, StatusIncompleted, request.Status)
	require.Equal(t, int64(4), *request.Lines[0].ReceivedQuantity)

	dest, err := f.stock.Record(ctx, 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(4), dest.AvailableQty)

	request, err = f.svc.Finalize(ctx, request.ID, 10, "shortfall written off")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, request.Status)
	require.Equal(t, 1, f.stock.receiveCalls)
}

func TestStrictReceiptPolicyRejectsOverReceipt(t *testing.T) {
	f := newFixture()
	f.svc.SetReceiptPolicy(StrictReceiptPolicy)
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.BypassAdminApproval(ctx, request.ID, 8, "")
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, request.ID, 10, []LineReceipt{
		{LineID: request.Lines[0].ID, ReceivedQuantity: 9},
	})
	require.ErrorIs(t, err, ErrOverReceipt)
	require.Equal(t, 0, f.stock.receiveCalls)
}

func TestRejectClosedAfterShipment(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 10, 20)
	ctx := context.Background()
	request := f.createDraft(t, 5)
	_, err := f.svc.BypassAdminApproval(ctx, request.ID, 8, "")
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, request.ID, 9, "")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, request.ID, 8, "too late")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitChecksNamedSerials(t *testing.T) {
	f := newFixture()
	f.stock.seed(1, 11, 2)
	f.stock.serials["SN-1"] = ledger.SerialEntry{RecordID: 1, SerialNumber: "SN-1", Status: ledger.SerialConsumed}
	ctx := context.Background()

	request, err := f.svc.Create(ctx, CreateTransferInput{
		FromLocationID: 1, ToLocationID: 2,
		Lines: []CreateLineInput{{ProductID: 11, Quantity: 1, SerialNumbers: []string{"SN-1"}}},
	}, 7)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, request.ID, 7)
	require.ErrorIs(t, err, ledger.ErrSerialUnavailable)
}
