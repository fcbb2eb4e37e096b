package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/locations"
	"github.com/meridian-scm/meridian-scm/internal/shared"
)

// StockLedger is the slice of the ledger the usage workflow drives.
type StockLedger interface {
	Record(ctx context.Context, locationID, productID int64) (ledger.StockRecord, error)
	Serial(ctx context.Context, serialNumber string) (ledger.SerialEntry, error)
	ConsumeBatch(ctx context.Context, inputs []ledger.ConsumeInput) ([][]string, error)
	ApproveDamage(ctx context.Context, serialNumber string, approvedBy int64, refID string) error
	RejectDamage(ctx context.Context, serialNumber string, rejectedBy int64, refID string) error
	RestoreConsumedQuantity(ctx context.Context, locationID, productID, qty, actorID int64, refID string) (ledger.StockRecord, error)
}

// LocationDirectory resolves a location's tier.
type LocationDirectory interface {
	Kind(ctx context.Context, id int64) (string, error)
}

// ProductCatalog answers whether a product exists and tracks serials.
type ProductCatalog interface {
	SerialTracked(ctx context.Context, productID int64) (bool, error)
}

// ApprovalLogger records the approval trail.
type ApprovalLogger interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyGuard fences the stock movement phases against retries.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const approvalModule = "usage"

// Service implements stock consumption out of a center's ledger.
type Service struct {
	repo        RepositoryPort
	stock       StockLedger
	locations   LocationDirectory
	products    ProductCatalog
	approvals   ApprovalLogger
	idempotency IdempotencyGuard
	logger      *slog.Logger
}

// NewService constructs the usage service.
func NewService(repo RepositoryPort, stock StockLedger, locations LocationDirectory, products ProductCatalog,
	approvals ApprovalLogger, idempotency IdempotencyGuard, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		stock:       stock,
		locations:   locations,
		products:    products,
		approvals:   approvals,
		idempotency: idempotency,
		logger:      logger,
	}
}

// Create records a consumption. Non-damage types consume immediately and the
// record lands in Completed; the Damage type reserves the stock and waits in
// Pending for an approve or reject decision.
func (s *Service) Create(ctx context.Context, input CreateUsageInput, createdBy int64) (*StockUsageRecord, error) {
	if !input.UsageType.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, input.UsageType)
	}
	if len(input.Items) == 0 {
		return nil, ErrNoItems
	}
	kind, err := s.locations.Kind(ctx, input.CenterID)
	if err != nil {
		return nil, fmt.Errorf("resolve center %d: %w", input.CenterID, err)
	}
	if kind != locations.KindCenter {
		return nil, ErrCenterRequired
	}

	// Read-only validation against the center's ledger. The availability
	// check repeats under lock inside the consume transaction; this pass
	// exists to fail before a record row is written.
	running := map[int64]int64{}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		if _, err := s.products.SerialTracked(ctx, item.ProductID); err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", item.ProductID, err)
		}
		if len(item.SerialNumbers) > 0 && int64(len(item.SerialNumbers)) != item.Quantity {
			return nil, fmt.Errorf("%w: product %d names %d serials for quantity %d",
				ledger.ErrSerialCountMismatch, item.ProductID, len(item.SerialNumbers), item.Quantity)
		}
		record, err := s.stock.Record(ctx, input.CenterID, item.ProductID)
		if err != nil {
			if errors.Is(err, ledger.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: product %d at center %d", ledger.ErrInsufficientStock, item.ProductID, input.CenterID)
			}
			return nil, err
		}
		running[item.ProductID] += item.Quantity
		if record.AvailableQty < running[item.ProductID] {
			return nil, fmt.Errorf("%w: product %d needs %d, has %d", ledger.ErrInsufficientStock, item.ProductID, running[item.ProductID], record.AvailableQty)
		}
		for _, serial := range item.SerialNumbers {
			entry, err := s.stock.Serial(ctx, serial)
			if err != nil {
				return nil, err
			}
			if entry.Status != ledger.SerialAvailable || entry.RecordID != record.ID {
				return nil, fmt.Errorf("%w: %s", ledger.ErrSerialUnavailable, serial)
			}
		}
	}

	number, err := s.repo.GenerateUsageNumber(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("generate usage number: %w", err)
	}
	ref := uuid.New()
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err = tx.Insert(ctx, StockUsageRecord{
			Ref:           ref,
			UsageNumber:   number,
			CenterID:      input.CenterID,
			UsageType:     input.UsageType,
			Status:        StatusPending,
			TargetName:    input.TargetName,
			TargetRef:     input.TargetRef,
			TargetAddress: input.TargetAddress,
			Remark:        input.Remark,
			CreatedBy:     createdBy,
		})
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if _, err := tx.InsertItem(ctx, UsageItem{
				UsageID:       id,
				ProductID:     item.ProductID,
				Quantity:      item.Quantity,
				SerialNumbers: item.SerialNumbers,
				LineOrder:     item.LineOrder,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.consumePhase(ctx, record, createdBy); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// consumePhase moves the stock and finalizes the record status. Like the
// shipment phases of the transfer workflows, the ledger movement and the
// record update are fenced by an idempotency key so a crash between the two
// cannot consume twice.
func (s *Service) consumePhase(ctx context.Context, record *StockUsageRecord, actorID int64) error {
	movementKind := ledger.MovementUsage
	if record.UsageType.IsDamage() {
		movementKind = ledger.MovementDamageReserve
	}

	consume := !record.StockConsumed
	key := "usage:consume:" + record.Ref.String()
	if consume {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			consume = false
			s.logger.Warn("usage consume retry after partial failure",
				slog.Int64("usage_id", record.ID), slog.String("ref", record.Ref.String()))
		case err != nil:
			return err
		}
	}

	type snapshot struct {
		old, new, total int64
		serials         []string
	}
	results := make([]snapshot, len(record.Items))
	if consume {
		running := map[int64]int64{}
		inputs := make([]ledger.ConsumeInput, 0, len(record.Items))
		for i, item := range record.Items {
			before, err := s.stock.Record(ctx, record.CenterID, item.ProductID)
			if err != nil {
				return err
			}
			old := before.AvailableQty - running[item.ProductID]
			running[item.ProductID] += item.Quantity
			results[i] = snapshot{old: old, new: old - item.Quantity, total: before.TotalQty}
			inputs = append(inputs, ledger.ConsumeInput{
				LocationID:    record.CenterID,
				ProductID:     item.ProductID,
				Qty:           item.Quantity,
				SerialNumbers: item.SerialNumbers,
				ConsumedBy:    actorID,
				Kind:          movementKind,
				RefID:         record.UsageNumber,
				ActorID:       actorID,
			})
		}
		picked, err := s.stock.ConsumeBatch(ctx, inputs)
		if err != nil {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Error("release consume idempotency key", slog.Any("error", delErr))
			}
			cancelErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdateStatus(ctx, record.ID, StatusCancelled, map[string]interface{}{
					"cancelled_by": actorID,
					"cancelled_at": time.Now().UTC(),
				})
			})
			if cancelErr != nil {
				s.logger.Error("cancel usage after failed consume", slog.Any("error", cancelErr))
			}
			return err
		}
		for i := range results {
			results[i].serials = picked[i]
		}
	}

	final := StatusCompleted
	if record.UsageType.IsDamage() {
		final = StatusPending
	}
	now := time.Now().UTC()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if consume {
			for i, item := range record.Items {
				if err := tx.SetItemResult(ctx, item.ID, results[i].old, results[i].new, results[i].total, results[i].serials); err != nil {
					return err
				}
			}
		}
		return tx.UpdateStatus(ctx, record.ID, final, map[string]interface{}{
			"stock_consumed":    true,
			"stock_consumed_at": now,
		})
	})
}

// ApproveDamage finalizes a pending damage reservation: the reserved serials
// become damaged and the record completes.
func (s *Service) ApproveDamage(ctx context.Context, id, actorID int64, remark string) (*StockUsageRecord, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.UsageType.IsDamage() {
		return nil, ErrNotDamage
	}
	if !existing.Status.CanDecideDamage() {
		return nil, fmt.Errorf("%w: approve damage from %s", ErrInvalidTransition, existing.Status)
	}
	for _, item := range existing.Items {
		for _, serial := range item.SerialNumbers {
			if err := s.stock.ApproveDamage(ctx, serial, actorID, existing.UsageNumber); err != nil {
				return nil, err
			}
		}
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCompleted, map[string]interface{}{
			"decided_by": actorID,
			"decided_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalApprove, remark)
	return s.repo.Get(ctx, id)
}

// RejectDamage reverses a pending damage reservation: serials return to
// available, the bulk remainder of each item is restored, the record lands
// in Cancelled.
func (s *Service) RejectDamage(ctx context.Context, id, actorID int64, remark string) (*StockUsageRecord, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.UsageType.IsDamage() {
		return nil, ErrNotDamage
	}
	if !existing.Status.CanDecideDamage() {
		return nil, fmt.Errorf("%w: reject damage from %s", ErrInvalidTransition, existing.Status)
	}
	for _, item := range existing.Items {
		for _, serial := range item.SerialNumbers {
			if err := s.stock.RejectDamage(ctx, serial, actorID, existing.UsageNumber); err != nil {
				return nil, err
			}
		}
		if bulk := item.Quantity - int64(len(item.SerialNumbers)); bulk > 0 {
			if _, err := s.stock.RestoreConsumedQuantity(ctx, existing.CenterID, item.ProductID, bulk, actorID, existing.UsageNumber); err != nil {
				return nil, err
			}
		}
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled, map[string]interface{}{
			"decided_by":        actorID,
			"decided_at":        now,
			"stock_restored":    true,
			"stock_restored_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalReject, remark)
	return s.repo.Get(ctx, id)
}

// Cancel reverses a completed non-damage usage. Only the bulk quantities
// return to the ledger; serials consumed by this record keep their consumed
// status, so the serial count and the quantity fields of the affected rows
// diverge. Known gap pending product-owner clarification, asserted by tests.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, remark string) (*StockUsageRecord, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UsageType.IsDamage() {
		return nil, ErrDamageImmutable
	}
	if existing.Status == StatusCancelled && existing.StockRestored {
		return existing, nil
	}
	if !existing.Status.CanCancel() {
		return nil, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, existing.Status)
	}

	restore := !existing.StockRestored
	key := "usage:cancel:" + existing.Ref.String()
	if restore {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			restore = false
			s.logger.Warn("usage cancel retry after partial failure",
				slog.Int64("usage_id", id), slog.String("ref", existing.Ref.String()))
		case err != nil:
			return nil, err
		}
	}

	if restore {
		for _, item := range existing.Items {
			if _, err := s.stock.RestoreConsumedQuantity(ctx, existing.CenterID, item.ProductID, item.Quantity, actorID, existing.UsageNumber); err != nil {
				if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
					s.logger.Error("release cancel idempotency key", slog.Any("error", delErr))
				}
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled, map[string]interface{}{
			"stock_restored":    true,
			"stock_restored_at": now,
			"cancelled_by":      actorID,
			"cancelled_at":      now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalReject, remark)
	return s.repo.Get(ctx, id)
}

// Get reads one usage record with items.
func (s *Service) Get(ctx context.Context, id int64) (*StockUsageRecord, error) {
	return s.repo.Get(ctx, id)
}

// GetByNumber reads one usage record by document number.
func (s *Service) GetByNumber(ctx context.Context, usageNumber string) (*StockUsageRecord, error) {
	return s.repo.GetByNumber(ctx, usageNumber)
}

// List returns usage records matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]StockUsageRecord, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   ref,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	}); err != nil {
		s.logger.Error("record usage approval", slog.Any("error", err))
	}
}
