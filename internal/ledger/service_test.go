package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	nextRecordID int64
	nextSerialID int64
	records      map[int64]*StockRecord
	byKey        map[[2]int64]int64
	serials      map[string]*SerialEntry
	events       []SerialEvent
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records: map[int64]*StockRecord{},
		byKey:   map[[2]int64]int64{},
		serials: map[string]*SerialEntry{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetRecord(ctx context.Context, locationID, productID int64) (StockRecord, error) {
	return m.GetRecordForUpdate(ctx, locationID, productID)
}

func (m *memoryRepo) ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	out := []StockRecord{}
	for _, rec := range m.records {
		if filter.LocationID != 0 && rec.LocationID != filter.LocationID {
			continue
		}
		if filter.ProductID != 0 && rec.ProductID != filter.ProductID {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetSerial(ctx context.Context, serialNumber string) (SerialEntry, error) {
	return m.GetSerialForUpdate(ctx, serialNumber)
}

func (m *memoryRepo) ListSerials(ctx context.Context, recordID int64) ([]SerialEntry, error) {
	out := []SerialEntry{}
	for _, entry := range m.serials {
		if entry.RecordID == recordID {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListSerialEvents(ctx context.Context, serialNumber string) ([]SerialEvent, error) {
	out := []SerialEvent{}
	for _, ev := range m.events {
		if ev.SerialNumber == serialNumber {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memoryRepo) SerialExists(ctx context.Context, serialNumber string) (bool, error) {
	_, ok := m.serials[serialNumber]
	return ok, nil
}

func (m *memoryRepo) GetRecordForUpdate(ctx context.Context, locationID, productID int64) (StockRecord, error) {
	id, ok := m.byKey[[2]int64{locationID, productID}]
	if !ok {
		return StockRecord{LocationID: locationID, ProductID: productID}, ErrRecordNotFound
	}
	return *m.records[id], nil
}

func (m *memoryRepo) GetRecordByIDForUpdate(ctx context.Context, id int64) (StockRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return StockRecord{}, ErrRecordNotFound
	}
	return *rec, nil
}

func (m *memoryRepo) UpsertRecord(ctx context.Context, record StockRecord) (int64, error) {
	key := [2]int64{record.LocationID, record.ProductID}
	id, ok := m.byKey[key]
	if !ok {
		m.nextRecordID++
		id = m.nextRecordID
		m.byKey[key] = id
	}
	record.ID = id
	record.UpdatedAt = time.Now()
	m.records[id] = &record
	return id, nil
}

func (m *memoryRepo) GetSerialForUpdate(ctx context.Context, serialNumber string) (SerialEntry, error) {
	entry, ok := m.serials[serialNumber]
	if !ok {
		return SerialEntry{}, ErrSerialNotFound
	}
	return *entry, nil
}

func (m *memoryRepo) SelectAvailableSerials(ctx context.Context, recordID int64, limit int) ([]SerialEntry, error) {
	candidates := []SerialEntry{}
	for _, entry := range m.serials {
		if entry.RecordID == recordID && entry.Status == SerialAvailable {
			candidates = append(candidates, *entry)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *memoryRepo) InsertSerial(ctx context.Context, entry SerialEntry) (int64, error) {
	if _, ok := m.serials[entry.SerialNumber]; ok {
		return 0, ErrDuplicateSerial
	}
	m.nextSerialID++
	entry.ID = m.nextSerialID
	entry.CreatedAt = time.Now()
	m.serials[entry.SerialNumber] = &entry
	return entry.ID, nil
}

func (m *memoryRepo) UpdateSerial(ctx context.Context, entry SerialEntry) error {
	stored, ok := m.serials[entry.SerialNumber]
	if !ok {
		return ErrSerialNotFound
	}
	entry.ID = stored.ID
	entry.CreatedAt = stored.CreatedAt
	m.serials[entry.SerialNumber] = &entry
	return nil
}

func (m *memoryRepo) InsertSerialEvent(ctx context.Context, event SerialEvent) error {
	m.events = append(m.events, event)
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil)
}

func seedSerials(prefix string, n int) []SerialSeed {
	seeds := make([]SerialSeed, 0, n)
	for i := 0; i < n; i++ {
		seeds = append(seeds, SerialSeed{SerialNumber: prefix + string(rune('1'+i)), PurchaseRef: "PO-1"})
	}
	return seeds
}

func TestIncreaseStockCreatesRecordAndSerials(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	rec, err := svc.IncreaseStock(context.Background(), IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 3,
		Serials: seedSerials("S", 3),
		Kind:    MovementPurchase, RefID: "GRN-1", ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.TotalQty)
	require.Equal(t, int64(3), rec.AvailableQty)
	require.Equal(t, int64(0), rec.ConsumedQty)

	entry, err := svc.Serial(context.Background(), "S1")
	require.NoError(t, err)
	require.Equal(t, SerialAvailable, entry.Status)
	require.Equal(t, "PO-1", entry.PurchaseRef)
	require.Equal(t, int64(1), entry.OriginLocationID)
	require.NotNil(t, entry.CurrentLocationID)
	require.Equal(t, int64(1), *entry.CurrentLocationID)
}

func TestIncreaseStockRejectsSerialCountMismatch(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.IncreaseStock(context.Background(), IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 2,
		Serials: seedSerials("S", 3),
		Kind:    MovementPurchase,
	})
	require.ErrorIs(t, err, ErrSerialCountMismatch)
}

func TestIncreaseStockRejectsDuplicateSerial(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 1,
		Serials: []SerialSeed{{SerialNumber: "S1"}},
		Kind:    MovementPurchase,
	})
	require.NoError(t, err)

	_, err = svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 2, ProductID: 10, Qty: 1,
		Serials: []SerialSeed{{SerialNumber: "S1"}},
		Kind:    MovementPurchase,
	})
	require.ErrorIs(t, err, ErrDuplicateSerial)
}

func TestConsumeBulk(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: 10, Qty: 10, Kind: MovementPurchase})
	require.NoError(t, err)

	rec, _, err := svc.Consume(ctx, ConsumeInput{LocationID: 1, ProductID: 10, Qty: 3, ConsumedBy: 5, RefID: "USG-1"})
	require.NoError(t, err)
	require.Equal(t, int64(7), rec.AvailableQty)
	require.Equal(t, int64(3), rec.ConsumedQty)
	require.Equal(t, int64(10), rec.TotalQty)
}

func TestConsumeInsufficientStock(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: 10, Qty: 2, Kind: MovementPurchase})
	require.NoError(t, err)

	_, _, err = svc.Consume(ctx, ConsumeInput{LocationID: 1, ProductID: 10, Qty: 3, ConsumedBy: 5})
	require.ErrorIs(t, err, ErrInsufficientStock)

	rec, err := svc.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.AvailableQty)
	require.Equal(t, int64(0), rec.ConsumedQty)
}

func TestConsumeSelectsOldestSerialsFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 3,
		Serials: seedSerials("S", 3), Kind: MovementPurchase,
	})
	require.NoError(t, err)

	_, picked, err := svc.Consume(ctx, ConsumeInput{LocationID: 1, ProductID: 10, Qty: 2, ConsumedBy: 5})
	require.NoError(t, err)
	require.Equal(t, []string{"S1", "S2"}, picked)

	entry, err := svc.Serial(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, SerialConsumed, entry.Status)
	require.Nil(t, entry.CurrentLocationID)
	require.NotNil(t, entry.ConsumedAt)
}

func TestConsumeNamedSerialMustBeAvailableHere(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 1,
		Serials: []SerialSeed{{SerialNumber: "S1"}}, Kind: MovementPurchase,
	})
	require.NoError(t, err)
	_, err = svc.IncreaseStock(ctx, IncreaseInput{LocationID: 2, ProductID: 10, Qty: 5, Kind: MovementPurchase})
	require.NoError(t, err)

	_, _, err = svc.Consume(ctx, ConsumeInput{
		LocationID: 2, ProductID: 10, Qty: 1,
		SerialNumbers: []string{"S1"}, ConsumedBy: 5,
	})
	require.ErrorIs(t, err, ErrSerialUnavailable)
}

func TestTransferMovesSerialsBetweenLocations(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 2,
		Serials: seedSerials("S", 2), Kind: MovementPurchase,
	})
	require.NoError(t, err)

	src, dst, err := svc.Transfer(ctx, TransferInput{
		FromLocationID: 1, ToLocationID: 2, ProductID: 10, Qty: 1,
		SerialNumbers: []string{"S1"}, Kind: MovementTransfer, RefID: "TRF-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), src.TotalQty)
	require.Equal(t, int64(1), src.AvailableQty)
	require.Equal(t, int64(1), dst.TotalQty)
	require.Equal(t, int64(1), dst.AvailableQty)

	entry, err := svc.Serial(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, SerialAvailable, entry.Status)
	require.Equal(t, dst.ID, entry.RecordID)
	require.Equal(t, int64(2), *entry.CurrentLocationID)
	require.Equal(t, int64(1), entry.OriginLocationID)
}

func TestTwoPhaseTransferConservesQuantity(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 5,
		Serials: seedSerials("S", 5), Kind: MovementPurchase,
	})
	require.NoError(t, err)

	src, shipped, err := svc.TransferOut(ctx, TransferOutInput{
		LocationID: 1, ProductID: 10, ToLocationID: 2, Qty: 3,
		Kind: MovementTransfer, RefID: "TRF-1",
	})
	require.NoError(t, err)
	require.Len(t, shipped, 3)
	require.Equal(t, int64(2), src.AvailableQty)
	require.Equal(t, int64(3), src.InTransitQty)
	require.Equal(t, int64(5), src.TotalQty)
	require.Equal(t, src.TotalQty, src.AvailableQty+src.InTransitQty+src.ConsumedQty)

	entry, err := svc.Serial(ctx, shipped[0])
	require.NoError(t, err)
	require.Equal(t, SerialInTransit, entry.Status)
	require.Equal(t, int64(2), *entry.CurrentLocationID)

	dst, err := svc.ReceiveTransfer(ctx, ReceiveInput{
		FromLocationID: 1, ToLocationID: 2, ProductID: 10,
		ShippedQty: 3, ReceivedQty: 3, SerialNumbers: shipped,
		Kind: MovementTransfer, RefID: "TRF-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), dst.TotalQty)
	require.Equal(t, int64(3), dst.AvailableQty)

	src, err = svc.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), src.TotalQty)
	require.Equal(t, int64(0), src.InTransitQty)
	require.Equal(t, int64(5), src.TotalQty+dst.TotalQty)
}

func TestTwoPhaseTransferShrinkage(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: 10, Qty: 5, Kind: MovementPurchase})
	require.NoError(t, err)

	_, _, err = svc.TransferOut(ctx, TransferOutInput{
		LocationID: 1, ProductID: 10, ToLocationID: 2, Qty: 3, Kind: MovementTransfer,
	})
	require.NoError(t, err)

	dst, err := svc.ReceiveTransfer(ctx, ReceiveInput{
		FromLocationID: 1, ToLocationID: 2, ProductID: 10,
		ShippedQty: 3, ReceivedQty: 2, Kind: MovementTransfer,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), dst.AvailableQty)

	src, err := svc.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), src.TotalQty)
	require.Equal(t, int64(0), src.InTransitQty)
}

func TestTransferOutInsufficientStock(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: 10, Qty: 1, Kind: MovementPurchase})
	require.NoError(t, err)

	_, _, err = svc.TransferOut(ctx, TransferOutInput{
		LocationID: 1, ProductID: 10, ToLocationID: 2, Qty: 2, Kind: MovementTransfer,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestDamageReserveApprove(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 2,
		Serials: seedSerials("S", 2), Kind: MovementPurchase,
	})
	require.NoError(t, err)

	rec, picked, err := svc.ReserveForDamage(ctx, ConsumeInput{
		LocationID: 1, ProductID: 10, Qty: 1,
		SerialNumbers: []string{"S1"}, ConsumedBy: 5, RefID: "USG-1",
	})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.Equal(t, int64(1), rec.AvailableQty)
	require.Equal(t, int64(1), rec.ConsumedQty)

	require.NoError(t, svc.ApproveDamage(ctx, "S1", 9, "USG-1"))

	entry, err := svc.Serial(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, SerialDamaged, entry.Status)

	// Quantities do not move on approval; the reservation already did.
	rec, err = svc.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.AvailableQty)
	require.Equal(t, int64(1), rec.ConsumedQty)
}

func TestDamageReserveRejectRoundTrip(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 2,
		Serials: seedSerials("S", 2), Kind: MovementPurchase,
	})
	require.NoError(t, err)
	before, err := svc.Record(ctx, 1, 10)
	require.NoError(t, err)

	_, _, err = svc.ReserveForDamage(ctx, ConsumeInput{
		LocationID: 1, ProductID: 10, Qty: 1,
		SerialNumbers: []string{"S2"}, ConsumedBy: 5, RefID: "USG-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.RejectDamage(ctx, "S2", 9, "USG-1"))

	after, err := svc.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, before.AvailableQty, after.AvailableQty)
	require.Equal(t, before.ConsumedQty, after.ConsumedQty)
	require.Equal(t, before.TotalQty, after.TotalQty)

	entry, err := svc.Serial(ctx, "S2")
	require.NoError(t, err)
	require.Equal(t, SerialAvailable, entry.Status)
	require.Nil(t, entry.ConsumedAt)
}

func TestDamagePendingTransitions(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 2,
		Serials: seedSerials("S", 2), Kind: MovementPurchase,
	})
	require.NoError(t, err)
	_, _, err = svc.Consume(ctx, ConsumeInput{
		LocationID: 1, ProductID: 10, Qty: 2,
		SerialNumbers: []string{"S1", "S2"}, ConsumedBy: 5, RefID: "USG-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkDamagePending(ctx, "S1", 5, "DR-1", "cracked casing"))
	require.NoError(t, svc.MarkDamagePending(ctx, "S2", 5, "DR-2", "water intake"))

	require.NoError(t, svc.ApprovePendingDamage(ctx, "S1", 9, "DR-1"))
	entry, err := svc.Serial(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, SerialDamaged, entry.Status)

	require.NoError(t, svc.RejectPendingDamage(ctx, "S2", 9, "DR-2"))
	entry, err = svc.Serial(ctx, "S2")
	require.NoError(t, err)
	require.Equal(t, SerialAvailable, entry.Status)

	rec, err := svc.Record(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.AvailableQty)
	require.Equal(t, int64(1), rec.ConsumedQty)
}

func TestMarkDamagePendingRequiresConsumed(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 1,
		Serials: []SerialSeed{{SerialNumber: "S1"}}, Kind: MovementPurchase,
	})
	require.NoError(t, err)

	err = svc.MarkDamagePending(ctx, "S1", 5, "DR-1", "")
	require.ErrorIs(t, err, ErrInvalidSerialState)
}

func TestRestoreConsumedQuantityClampsAtZero(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: 10, Qty: 5, Kind: MovementPurchase})
	require.NoError(t, err)
	_, _, err = svc.Consume(ctx, ConsumeInput{LocationID: 1, ProductID: 10, Qty: 2, ConsumedBy: 5})
	require.NoError(t, err)

	rec, err := svc.RestoreConsumedQuantity(ctx, 1, 10, 4, 9, "USG-1")
	require.NoError(t, err)
	require.Equal(t, int64(7), rec.AvailableQty)
	require.Equal(t, int64(0), rec.ConsumedQty)
}

func TestSerialHistoryAccumulates(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{
		LocationID: 1, ProductID: 10, Qty: 1,
		Serials: []SerialSeed{{SerialNumber: "S1"}}, Kind: MovementPurchase, RefID: "GRN-1",
	})
	require.NoError(t, err)
	_, _, err = svc.Transfer(ctx, TransferInput{
		FromLocationID: 1, ToLocationID: 2, ProductID: 10, Qty: 1,
		SerialNumbers: []string{"S1"}, Kind: MovementTransfer, RefID: "TRF-1",
	})
	require.NoError(t, err)

	events, err := svc.SerialHistory(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, MovementPurchase, events[0].Kind)
	require.Equal(t, MovementTransfer, events[1].Kind)
}

func TestTransferOutBatchMovesEveryLine(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	for _, productID := range []int64{10, 11} {
		_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: productID, Qty: 5, Kind: MovementPurchase})
		require.NoError(t, err)
	}

	picked, err := svc.TransferOutBatch(ctx, []TransferOutInput{
		{LocationID: 1, ToLocationID: 2, ProductID: 10, Qty: 3, Kind: MovementTransfer, RefID: "TRF-1"},
		{LocationID: 1, ToLocationID: 2, ProductID: 11, Qty: 2, Kind: MovementTransfer, RefID: "TRF-1"},
	})
	require.NoError(t, err)
	require.Len(t, picked, 2)

	for productID, want := range map[int64]int64{10: 3, 11: 2} {
		rec, err := svc.Record(ctx, 1, productID)
		require.NoError(t, err)
		require.Equal(t, want, rec.InTransitQty)
		require.Equal(t, int64(5-want), rec.AvailableQty)
	}
}

func TestConsumeBatchStopsOnShortLine(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: 10, Qty: 5, Kind: MovementPurchase})
	require.NoError(t, err)

	_, err = svc.ConsumeBatch(ctx, []ConsumeInput{
		{LocationID: 1, ProductID: 10, Qty: 2, ConsumedBy: 7},
		{LocationID: 1, ProductID: 99, Qty: 1, ConsumedBy: 7},
	})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReceiveTransferBatchSettlesEveryLine(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	for _, productID := range []int64{10, 11} {
		_, err := svc.IncreaseStock(ctx, IncreaseInput{LocationID: 1, ProductID: productID, Qty: 4, Kind: MovementPurchase})
		require.NoError(t, err)
		_, _, err = svc.TransferOut(ctx, TransferOutInput{
			LocationID: 1, ToLocationID: 2, ProductID: productID, Qty: 4, Kind: MovementTransfer, RefID: "TRF-2",
		})
		require.NoError(t, err)
	}

	err := svc.ReceiveTransferBatch(ctx, []ReceiveInput{
		{FromLocationID: 1, ToLocationID: 2, ProductID: 10, ShippedQty: 4, ReceivedQty: 4, Kind: MovementTransfer, RefID: "TRF-2"},
		{FromLocationID: 1, ToLocationID: 2, ProductID: 11, ShippedQty: 4, ReceivedQty: 3, Kind: MovementTransfer, RefID: "TRF-2"},
	})
	require.NoError(t, err)

	dest10, err := svc.Record(ctx, 2, 10)
	require.NoError(t, err)
	require.Equal(t, int64(4), dest10.AvailableQty)
	dest11, err := svc.Record(ctx, 2, 11)
	require.NoError(t, err)
	require.Equal(t, int64(3), dest11.AvailableQty)
	src11, err := svc.Record(ctx, 1, 11)
	require.NoError(t, err)
	require.Equal(t, int64(0), src11.InTransitQty)
	require.Equal(t, int64(0), src11.TotalQty)
}
