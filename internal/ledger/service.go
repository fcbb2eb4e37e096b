package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-scm/meridian-scm/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters. May be nil.
type MetricsPort interface {
	MovementPosted(kind string)
	InsufficientStock()
	FloorClamp()
}

// Service is the single point of truth for balances and the serial
// sub-ledger. Every workflow mutates stock exclusively through it.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, metrics MetricsPort) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, metrics: metrics}
}

// IncreaseInput describes an additive movement into a location. Serials are
// given only for serial-tracked products and must be brand new units.
type IncreaseInput struct {
	LocationID       int64
	ProductID        int64
	Qty              int64
	Serials          []SerialSeed
	SourceLocationID *int64
	Kind             MovementKind
	RefID            string
	Remark           string
	ActorID          int64
}

// TransferOutInput describes the deduct-at-source phase of a transfer. The
// quantity moves from available to in-transit; the row total is unchanged
// until the destination confirms receipt.
type TransferOutInput struct {
	LocationID    int64
	ProductID     int64
	ToLocationID  int64
	Qty           int64
	SerialNumbers []string
	Kind          MovementKind
	RefID         string
	Remark        string
	ActorID       int64
}

// ReceiveInput describes the add-at-destination phase. ReceivedQty may be
// less than ShippedQty; the difference leaves the network as shrinkage.
type ReceiveInput struct {
	FromLocationID int64
	ToLocationID   int64
	ProductID      int64
	ShippedQty     int64
	ReceivedQty    int64
	SerialNumbers  []string
	Kind           MovementKind
	RefID          string
	Remark         string
	ActorID        int64
}

// TransferInput describes an immediate transfer: both phases in one unit of
// work, used when shipment and receipt are not temporally separated.
type TransferInput struct {
	FromLocationID int64
	ToLocationID   int64
	ProductID      int64
	Qty            int64
	SerialNumbers  []string
	Kind           MovementKind
	RefID          string
	Remark         string
	ActorID        int64
}

// ConsumeInput describes consumption out of a location's ledger.
type ConsumeInput struct {
	LocationID    int64
	ProductID     int64
	Qty           int64
	SerialNumbers []string
	ConsumedBy    int64
	Kind          MovementKind
	RefID         string
	Remark        string
	ActorID       int64
}

// IncreaseStock upserts the ledger row and adds quantity. The row always
// exists after return. Serials may be brand new units (purchase intake) or
// units currently in transit to this location, which are re-attached here.
func (s *Service) IncreaseStock(ctx context.Context, input IncreaseInput) (StockRecord, error) {
	if input.LocationID == 0 || input.ProductID == 0 {
		return StockRecord{}, errors.New("ledger: location and product required")
	}
	if input.Qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	if len(input.Serials) > 0 && int64(len(input.Serials)) != input.Qty {
		return StockRecord{}, ErrSerialCountMismatch
	}
	var result StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := lockOrInitRecord(ctx, tx, input.LocationID, input.ProductID)
		if err != nil {
			return err
		}
		record.TotalQty += input.Qty
		record.AvailableQty += input.Qty
		recordID, err := tx.UpsertRecord(ctx, record)
		if err != nil {
			return err
		}
		record.ID = recordID
		for _, seed := range input.Serials {
			if err := s.attachSerial(ctx, tx, record, seed, input); err != nil {
				return err
			}
		}
		result = record
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.observe(input.Kind)
	s.recordAudit(ctx, input.ActorID, "ledger:increase", input.LocationID, input.ProductID, map[string]any{
		"qty": input.Qty, "kind": string(input.Kind), "ref": input.RefID,
	})
	return result, nil
}

// attachSerial creates a fresh serial entry or re-attaches a unit arriving
// from another location. Runs inside the caller's transaction.
func (s *Service) attachSerial(ctx context.Context, tx TxRepository, record StockRecord, seed SerialSeed, input IncreaseInput) error {
	existing, err := tx.GetSerialForUpdate(ctx, seed.SerialNumber)
	if err != nil && !errors.Is(err, ErrSerialNotFound) {
		return err
	}
	loc := record.LocationID
	if err == nil {
		// Unit already known to the network: only an in-flight unit may land.
		if existing.Status != SerialInTransit && existing.Status != SerialTransferred {
			return ErrDuplicateSerial
		}
		existing.RecordID = record.ID
		existing.Status = SerialAvailable
		existing.CurrentLocationID = &loc
		if err := tx.UpdateSerial(ctx, existing); err != nil {
			return err
		}
	} else {
		entry := SerialEntry{
			RecordID:          record.ID,
			SerialNumber:      seed.SerialNumber,
			Status:            SerialAvailable,
			PurchaseRef:       seed.PurchaseRef,
			OriginLocationID:  record.LocationID,
			CurrentLocationID: &loc,
		}
		if _, err := tx.InsertSerial(ctx, entry); err != nil {
			return err
		}
	}
	return tx.InsertSerialEvent(ctx, SerialEvent{
		SerialNumber:   seed.SerialNumber,
		FromLocationID: input.SourceLocationID,
		ToLocationID:   &loc,
		Kind:           input.Kind,
		RefID:          input.RefID,
		Remark:         input.Remark,
		ActorID:        input.ActorID,
	})
}

// TransferOut executes the deduct-at-source phase. Available quantity moves
// to in-transit and selected serials are marked in transit toward the
// destination. FIFO selection applies when no serials are named.
func (s *Service) TransferOut(ctx context.Context, input TransferOutInput) (StockRecord, []string, error) {
	if input.LocationID == 0 || input.ProductID == 0 || input.ToLocationID == 0 {
		return StockRecord{}, nil, errors.New("ledger: location, product and destination required")
	}
	if input.LocationID == input.ToLocationID {
		return StockRecord{}, nil, errors.New("ledger: source and destination must differ")
	}
	if input.Qty <= 0 {
		return StockRecord{}, nil, ErrInvalidQuantity
	}
	var result StockRecord
	var selected []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, selected, err = s.transferOutTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return StockRecord{}, nil, err
	}
	s.observe(input.Kind)
	s.recordAudit(ctx, input.ActorID, "ledger:transfer_out", input.LocationID, input.ProductID, map[string]any{
		"qty": input.Qty, "to": input.ToLocationID, "ref": input.RefID,
	})
	return result, selected, nil
}

// TransferOutBatch executes the deduct-at-source phase for several lines in
// one unit of work. Either every line commits or none does.
func (s *Service) TransferOutBatch(ctx context.Context, inputs []TransferOutInput) ([][]string, error) {
	if len(inputs) == 0 {
		return nil, errors.New("ledger: at least one line required")
	}
	shipped := make([][]string, len(inputs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, input := range inputs {
			_, serials, err := s.transferOutTx(ctx, tx, input)
			if err != nil {
				return err
			}
			shipped[i] = serials
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, input := range inputs {
		s.observe(input.Kind)
	}
	s.recordAudit(ctx, inputs[0].ActorID, "ledger:transfer_out", inputs[0].LocationID, 0, map[string]any{
		"lines": len(inputs), "to": inputs[0].ToLocationID, "ref": inputs[0].RefID,
	})
	return shipped, nil
}

func (s *Service) transferOutTx(ctx context.Context, tx TxRepository, input TransferOutInput) (StockRecord, []string, error) {
	if input.LocationID == 0 || input.ProductID == 0 || input.ToLocationID == 0 {
		return StockRecord{}, nil, errors.New("ledger: location, product and destination required")
	}
	if input.Qty <= 0 {
		return StockRecord{}, nil, ErrInvalidQuantity
	}
	record, err := tx.GetRecordForUpdate(ctx, input.LocationID, input.ProductID)
	if err != nil {
		return StockRecord{}, nil, err
	}
	if record.AvailableQty < input.Qty {
		s.insufficient()
		return StockRecord{}, nil, ErrInsufficientStock
	}
	entries, err := s.pickSerials(ctx, tx, record, input.Qty, input.SerialNumbers)
	if err != nil {
		return StockRecord{}, nil, err
	}
	record.AvailableQty -= input.Qty
	record.InTransitQty += input.Qty
	if _, err := tx.UpsertRecord(ctx, record); err != nil {
		return StockRecord{}, nil, err
	}
	dest := input.ToLocationID
	from := input.LocationID
	var selected []string
	for _, entry := range entries {
		entry.Status = SerialInTransit
		entry.CurrentLocationID = &dest
		if err := tx.UpdateSerial(ctx, entry); err != nil {
			return StockRecord{}, nil, err
		}
		if err := tx.InsertSerialEvent(ctx, SerialEvent{
			SerialNumber:   entry.SerialNumber,
			FromLocationID: &from,
			ToLocationID:   &dest,
			Kind:           input.Kind,
			RefID:          input.RefID,
			Remark:         input.Remark,
			ActorID:        input.ActorID,
		}); err != nil {
			return StockRecord{}, nil, err
		}
		selected = append(selected, entry.SerialNumber)
	}
	return record, selected, nil
}

// ReceiveTransfer executes the add-at-destination phase: the source row
// settles its in-transit quantity and the destination row absorbs what
// actually arrived. Both halves commit in one unit of work so no reader
// observes a deduct without the matching add.
func (s *Service) ReceiveTransfer(ctx context.Context, input ReceiveInput) (StockRecord, error) {
	var result StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.receiveTransferTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.observe(input.Kind)
	s.recordAudit(ctx, input.ActorID, "ledger:receive", input.ToLocationID, input.ProductID, map[string]any{
		"shipped": input.ShippedQty, "received": input.ReceivedQty, "from": input.FromLocationID, "ref": input.RefID,
	})
	return result, nil
}

// ReceiveTransferBatch settles several transfer lines at the destination in
// one unit of work.
func (s *Service) ReceiveTransferBatch(ctx context.Context, inputs []ReceiveInput) error {
	if len(inputs) == 0 {
		return errors.New("ledger: at least one line required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range inputs {
			if _, err := s.receiveTransferTx(ctx, tx, input); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, input := range inputs {
		s.observe(input.Kind)
	}
	s.recordAudit(ctx, inputs[0].ActorID, "ledger:receive", inputs[0].ToLocationID, 0, map[string]any{
		"lines": len(inputs), "from": inputs[0].FromLocationID, "ref": inputs[0].RefID,
	})
	return nil
}

func (s *Service) receiveTransferTx(ctx context.Context, tx TxRepository, input ReceiveInput) (StockRecord, error) {
	if input.FromLocationID == 0 || input.ToLocationID == 0 || input.ProductID == 0 {
		return StockRecord{}, errors.New("ledger: locations and product required")
	}
	if input.ShippedQty <= 0 || input.ReceivedQty < 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	if len(input.SerialNumbers) > 0 && int64(len(input.SerialNumbers)) != input.ReceivedQty {
		return StockRecord{}, ErrSerialCountMismatch
	}
	source, err := tx.GetRecordForUpdate(ctx, input.FromLocationID, input.ProductID)
	if err != nil {
		return StockRecord{}, err
	}
	source.InTransitQty = clampZero(source.InTransitQty-input.ShippedQty, s, "in_transit", input.FromLocationID, input.ProductID)
	source.TotalQty = clampZero(source.TotalQty-input.ShippedQty, s, "total", input.FromLocationID, input.ProductID)
	if _, err := tx.UpsertRecord(ctx, source); err != nil {
		return StockRecord{}, err
	}

	dest, err := lockOrInitRecord(ctx, tx, input.ToLocationID, input.ProductID)
	if err != nil {
		return StockRecord{}, err
	}
	dest.TotalQty += input.ReceivedQty
	dest.AvailableQty += input.ReceivedQty
	destID, err := tx.UpsertRecord(ctx, dest)
	if err != nil {
		return StockRecord{}, err
	}
	dest.ID = destID

	to := input.ToLocationID
	from := input.FromLocationID
	for _, sn := range input.SerialNumbers {
		entry, err := tx.GetSerialForUpdate(ctx, sn)
		if err != nil {
			return StockRecord{}, err
		}
		if entry.Status != SerialInTransit && entry.Status != SerialTransferred {
			return StockRecord{}, SerialUnavailable(sn)
		}
		entry.RecordID = dest.ID
		entry.Status = SerialAvailable
		entry.CurrentLocationID = &to
		if err := tx.UpdateSerial(ctx, entry); err != nil {
			return StockRecord{}, err
		}
		if err := tx.InsertSerialEvent(ctx, SerialEvent{
			SerialNumber:   sn,
			FromLocationID: &from,
			ToLocationID:   &to,
			Kind:           input.Kind,
			RefID:          input.RefID,
			Remark:         input.Remark,
			ActorID:        input.ActorID,
		}); err != nil {
			return StockRecord{}, err
		}
	}
	return dest, nil
}

// Transfer moves stock between two locations immediately: deduction and
// addition commit in one unit of work.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (StockRecord, StockRecord, error) {
	if input.FromLocationID == 0 || input.ToLocationID == 0 || input.ProductID == 0 {
		return StockRecord{}, StockRecord{}, errors.New("ledger: locations and product required")
	}
	if input.FromLocationID == input.ToLocationID {
		return StockRecord{}, StockRecord{}, errors.New("ledger: source and destination must differ")
	}
	if input.Qty <= 0 {
		return StockRecord{}, StockRecord{}, ErrInvalidQuantity
	}
	var src, dst StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetRecordForUpdate(ctx, input.FromLocationID, input.ProductID)
		if err != nil {
			return err
		}
		if source.AvailableQty < input.Qty {
			s.insufficient()
			return ErrInsufficientStock
		}
		entries, err := s.pickSerials(ctx, tx, source, input.Qty, input.SerialNumbers)
		if err != nil {
			return err
		}
		source.AvailableQty -= input.Qty
		source.TotalQty -= input.Qty
		if _, err := tx.UpsertRecord(ctx, source); err != nil {
			return err
		}

		dest, err := lockOrInitRecord(ctx, tx, input.ToLocationID, input.ProductID)
		if err != nil {
			return err
		}
		dest.TotalQty += input.Qty
		dest.AvailableQty += input.Qty
		destID, err := tx.UpsertRecord(ctx, dest)
		if err != nil {
			return err
		}
		dest.ID = destID

		to := input.ToLocationID
		from := input.FromLocationID
		for _, entry := range entries {
			entry.RecordID = dest.ID
			entry.Status = SerialAvailable
			entry.CurrentLocationID = &to
			if err := tx.UpdateSerial(ctx, entry); err != nil {
				return err
			}
			if err := tx.InsertSerialEvent(ctx, SerialEvent{
				SerialNumber:   entry.SerialNumber,
				FromLocationID: &from,
				ToLocationID:   &to,
				Kind:           input.Kind,
				RefID:          input.RefID,
				Remark:         input.Remark,
				ActorID:        input.ActorID,
			}); err != nil {
				return err
			}
		}
		src = source
		dst = dest
		return nil
	})
	if err != nil {
		return StockRecord{}, StockRecord{}, err
	}
	s.observe(input.Kind)
	s.recordAudit(ctx, input.ActorID, "ledger:transfer", input.FromLocationID, input.ProductID, map[string]any{
		"qty": input.Qty, "to": input.ToLocationID, "ref": input.RefID,
	})
	return src, dst, nil
}

// Consume moves quantity from available to consumed and finalizes the
// selected serials. The row total is unaffected.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (StockRecord, []string, error) {
	if input.Kind == "" {
		input.Kind = MovementUsage
	}
	return s.consume(ctx, input)
}

// ReserveForDamage is mechanically a consume but tagged as a damage
// reservation: quantity leaves available the moment the claim is filed so it
// cannot be double-allocated, while the damaged marking waits for approval.
func (s *Service) ReserveForDamage(ctx context.Context, input ConsumeInput) (StockRecord, []string, error) {
	input.Kind = MovementDamageReserve
	return s.consume(ctx, input)
}

func (s *Service) consume(ctx context.Context, input ConsumeInput) (StockRecord, []string, error) {
	var result StockRecord
	var selected []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, selected, err = s.consumeTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return StockRecord{}, nil, err
	}
	s.observe(input.Kind)
	s.recordAudit(ctx, input.ActorID, "ledger:consume", input.LocationID, input.ProductID, map[string]any{
		"qty": input.Qty, "kind": string(input.Kind), "ref": input.RefID,
	})
	return result, selected, nil
}

// ConsumeBatch consumes several lines in one unit of work. Either every line
// posts or none does. The returned slice holds the serials selected per line,
// in input order.
func (s *Service) ConsumeBatch(ctx context.Context, inputs []ConsumeInput) ([][]string, error) {
	if len(inputs) == 0 {
		return nil, errors.New("ledger: at least one line required")
	}
	picked := make([][]string, len(inputs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i := range inputs {
			if inputs[i].Kind == "" {
				inputs[i].Kind = MovementUsage
			}
			_, selected, err := s.consumeTx(ctx, tx, inputs[i])
			if err != nil {
				return err
			}
			picked[i] = selected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, input := range inputs {
		s.observe(input.Kind)
	}
	s.recordAudit(ctx, inputs[0].ActorID, "ledger:consume", inputs[0].LocationID, 0, map[string]any{
		"lines": len(inputs), "kind": string(inputs[0].Kind), "ref": inputs[0].RefID,
	})
	return picked, nil
}

func (s *Service) consumeTx(ctx context.Context, tx TxRepository, input ConsumeInput) (StockRecord, []string, error) {
	if input.LocationID == 0 || input.ProductID == 0 {
		return StockRecord{}, nil, errors.New("ledger: location and product required")
	}
	if input.Qty <= 0 {
		return StockRecord{}, nil, ErrInvalidQuantity
	}
	record, err := tx.GetRecordForUpdate(ctx, input.LocationID, input.ProductID)
	if err != nil {
		return StockRecord{}, nil, err
	}
	if record.AvailableQty < input.Qty {
		s.insufficient()
		return StockRecord{}, nil, ErrInsufficientStock
	}
	entries, err := s.pickSerials(ctx, tx, record, input.Qty, input.SerialNumbers)
	if err != nil {
		return StockRecord{}, nil, err
	}
	record.AvailableQty -= input.Qty
	record.ConsumedQty += input.Qty
	if _, err := tx.UpsertRecord(ctx, record); err != nil {
		return StockRecord{}, nil, err
	}
	now := time.Now().UTC()
	from := input.LocationID
	var selected []string
	for _, entry := range entries {
		entry.Status = SerialConsumed
		entry.CurrentLocationID = nil
		entry.ConsumedAt = &now
		consumedBy := input.ConsumedBy
		entry.ConsumedBy = &consumedBy
		if err := tx.UpdateSerial(ctx, entry); err != nil {
			return StockRecord{}, nil, err
		}
		if err := tx.InsertSerialEvent(ctx, SerialEvent{
			SerialNumber:   entry.SerialNumber,
			FromLocationID: &from,
			Kind:           input.Kind,
			RefID:          input.RefID,
			Remark:         input.Remark,
			ActorID:        input.ActorID,
		}); err != nil {
			return StockRecord{}, nil, err
		}
		selected = append(selected, entry.SerialNumber)
	}
	return record, selected, nil
}

// ApproveDamage finalizes a reserved serial as damaged. No quantity moves;
// the reservation already moved it out of available.
func (s *Service) ApproveDamage(ctx context.Context, serialNumber string, approvedBy int64, refID string) error {
	return s.transitionSerial(ctx, serialNumber, SerialConsumed, SerialDamaged, MovementDamageApprove, approvedBy, refID, "damage approved")
}

// RejectDamage reverses a damage reservation: the serial returns to
// available at the reserving location and the quantities are restored.
func (s *Service) RejectDamage(ctx context.Context, serialNumber string, rejectedBy int64, refID string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetSerialForUpdate(ctx, serialNumber)
		if err != nil {
			return err
		}
		if entry.Status != SerialConsumed {
			return fmt.Errorf("%w: %s is %s", ErrInvalidSerialState, serialNumber, entry.Status)
		}
		return s.restoreSerial(ctx, tx, entry, MovementDamageReject, rejectedBy, refID, "damage rejected")
	})
	if err != nil {
		return err
	}
	s.observe(MovementDamageReject)
	return nil
}

// MarkDamagePending moves an already-consumed serial into review after a
// post-consumption damage report.
func (s *Service) MarkDamagePending(ctx context.Context, serialNumber string, actorID int64, refID, remark string) error {
	return s.transitionSerial(ctx, serialNumber, SerialConsumed, SerialDamagePending, MovementDamageReturn, actorID, refID, remark)
}

// ApprovePendingDamage finalizes a damage-pending serial as damaged.
func (s *Service) ApprovePendingDamage(ctx context.Context, serialNumber string, approvedBy int64, refID string) error {
	return s.transitionSerial(ctx, serialNumber, SerialDamagePending, SerialDamaged, MovementDamageApprove, approvedBy, refID, "damage return approved")
}

// RejectPendingDamage restores a damage-pending serial to available at the
// original center, including the quantity reversal.
func (s *Service) RejectPendingDamage(ctx context.Context, serialNumber string, rejectedBy int64, refID string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetSerialForUpdate(ctx, serialNumber)
		if err != nil {
			return err
		}
		if entry.Status != SerialDamagePending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidSerialState, serialNumber, entry.Status)
		}
		return s.restoreSerial(ctx, tx, entry, MovementDamageReject, rejectedBy, refID, "damage return rejected")
	})
	if err != nil {
		return err
	}
	s.observe(MovementDamageReject)
	return nil
}

// RestoreConsumedQuantity reverses a bulk consumption: available grows and
// consumed shrinks by qty. Used by usage cancellation and bulk damage
// rejection; serial-tracked units are restored through their own paths.
func (s *Service) RestoreConsumedQuantity(ctx context.Context, locationID, productID, qty, actorID int64, refID string) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	var result StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetRecordForUpdate(ctx, locationID, productID)
		if err != nil {
			return err
		}
		record.AvailableQty += qty
		record.ConsumedQty = clampZero(record.ConsumedQty-qty, s, "consumed", locationID, productID)
		if _, err := tx.UpsertRecord(ctx, record); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.observe(MovementReversal)
	s.recordAudit(ctx, actorID, "ledger:restore", locationID, productID, map[string]any{"qty": qty, "ref": refID})
	return result, nil
}

// Record returns one stock record.
func (s *Service) Record(ctx context.Context, locationID, productID int64) (StockRecord, error) {
	return s.repo.GetRecord(ctx, locationID, productID)
}

// Records lists stock records.
func (s *Service) Records(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	return s.repo.ListRecords(ctx, filter)
}

// Serial returns one serial entry.
func (s *Service) Serial(ctx context.Context, serialNumber string) (SerialEntry, error) {
	return s.repo.GetSerial(ctx, serialNumber)
}

// Serials lists the serial sub-ledger of one record in arrival order.
func (s *Service) Serials(ctx context.Context, recordID int64) ([]SerialEntry, error) {
	return s.repo.ListSerials(ctx, recordID)
}

// SerialHistory returns the movement history of a serial.
func (s *Service) SerialHistory(ctx context.Context, serialNumber string) ([]SerialEvent, error) {
	return s.repo.ListSerialEvents(ctx, serialNumber)
}

// SerialExists reports whether the serial number is already known anywhere
// in the network. Used by purchase intake validation.
func (s *Service) SerialExists(ctx context.Context, serialNumber string) (bool, error) {
	return s.repo.SerialExists(ctx, serialNumber)
}

// pickSerials resolves the serial entries a movement operates on. Named
// serials must each be available on this record; otherwise the oldest
// available units are chosen first (FIFO by arrival, insertion id
// tie-break).
func (s *Service) pickSerials(ctx context.Context, tx TxRepository, record StockRecord, qty int64, named []string) ([]SerialEntry, error) {
	if len(named) == 0 {
		serials, err := tx.SelectAvailableSerials(ctx, record.ID, int(qty))
		if err != nil {
			return nil, err
		}
		// Bulk products have no serial rows; an empty pick is fine then.
		if len(serials) != 0 && int64(len(serials)) < qty {
			return nil, ErrInsufficientStock
		}
		return serials, nil
	}
	if int64(len(named)) != qty {
		return nil, ErrSerialCountMismatch
	}
	entries := make([]SerialEntry, 0, len(named))
	for _, sn := range named {
		entry, err := tx.GetSerialForUpdate(ctx, sn)
		if err != nil {
			if errors.Is(err, ErrSerialNotFound) {
				return nil, SerialUnavailable(sn)
			}
			return nil, err
		}
		if entry.Status != SerialAvailable || entry.RecordID != record.ID {
			return nil, SerialUnavailable(sn)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// transitionSerial performs a single-serial status transition with an event,
// no quantity movement.
func (s *Service) transitionSerial(ctx context.Context, serialNumber string, from, to SerialStatus, kind MovementKind, actorID int64, refID, remark string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetSerialForUpdate(ctx, serialNumber)
		if err != nil {
			return err
		}
		if entry.Status != from {
			return fmt.Errorf("%w: %s is %s", ErrInvalidSerialState, serialNumber, entry.Status)
		}
		entry.Status = to
		if err := tx.UpdateSerial(ctx, entry); err != nil {
			return err
		}
		return tx.InsertSerialEvent(ctx, SerialEvent{
			SerialNumber: serialNumber,
			Kind:         kind,
			RefID:        refID,
			Remark:       remark,
			ActorID:      actorID,
		})
	})
	if err != nil {
		return err
	}
	s.observe(kind)
	return nil
}

// restoreSerial returns a consumed or damage-pending serial to available on
// the record it was consumed from, restoring quantities. Runs inside the
// caller's transaction.
func (s *Service) restoreSerial(ctx context.Context, tx TxRepository, entry SerialEntry, kind MovementKind, actorID int64, refID, remark string) error {
	record, err := tx.GetRecordByIDForUpdate(ctx, entry.RecordID)
	if err != nil {
		return err
	}
	record.AvailableQty++
	record.ConsumedQty = clampZero(record.ConsumedQty-1, s, "consumed", record.LocationID, record.ProductID)
	if _, err := tx.UpsertRecord(ctx, record); err != nil {
		return err
	}
	loc := record.LocationID
	entry.Status = SerialAvailable
	entry.CurrentLocationID = &loc
	entry.ConsumedAt = nil
	entry.ConsumedBy = nil
	if err := tx.UpdateSerial(ctx, entry); err != nil {
		return err
	}
	return tx.InsertSerialEvent(ctx, SerialEvent{
		SerialNumber: entry.SerialNumber,
		ToLocationID: &loc,
		Kind:         kind,
		RefID:        refID,
		Remark:       remark,
		ActorID:      actorID,
	})
}

// clampZero floors a quantity at zero. A non-zero clamp firing means the
// books were already inconsistent, so it is logged as a warning.
func clampZero(v int64, s *Service, field string, locationID, productID int64) int64 {
	if v >= 0 {
		return v
	}
	if s != nil {
		s.logger.Warn("ledger quantity clamped at zero",
			slog.String("field", field),
			slog.Int64("location_id", locationID),
			slog.Int64("product_id", productID),
			slog.Int64("value", v))
		if s.metrics != nil {
			s.metrics.FloorClamp()
		}
	}
	return 0
}

func lockOrInitRecord(ctx context.Context, tx TxRepository, locationID, productID int64) (StockRecord, error) {
	record, err := tx.GetRecordForUpdate(ctx, locationID, productID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return StockRecord{LocationID: locationID, ProductID: productID}, nil
		}
		return StockRecord{}, err
	}
	return record, nil
}

func (s *Service) observe(kind MovementKind) {
	if s.metrics != nil {
		s.metrics.MovementPosted(string(kind))
	}
}

func (s *Service) insufficient() {
	if s.metrics != nil {
		s.metrics.InsufficientStock()
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, locationID, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_record",
		EntityID: fmt.Sprintf("%d:%d", locationID, productID),
		Meta:     meta,
	})
}
