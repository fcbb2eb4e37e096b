package procurement

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

// StockLedger is the slice of the ledger procurement drives. Posting a goods
// receipt is the only additive entry point into the network, so this port
// carries the intake operation plus the serial pre-check.
type StockLedger interface {
	IncreaseStock(ctx context.Context, input ledger.IncreaseInput) (ledger.StockRecord, error)
	SerialExists(ctx context.Context, serialNumber string) (bool, error)
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

// IdempotencyGuard fences the posting phase against retries.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const approvalModule = "procurement"

// Service implements purchasing: orders to suppliers and goods receipts that
// seed outlet stock.
type Service struct {
	repo        RepositoryPort
	stock       StockLedger
	locations   LocationDirectory
	products    ProductCatalog
	approvals   ApprovalLogger
	idempotency IdempotencyGuard
	logger      *slog.Logger
}

// NewService constructs the procurement service.
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

// CreatePurchaseOrder creates a draft order addressed to one outlet.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput, createdBy int64) (*PurchaseOrder, error) {
	kind, err := s.locations.Kind(ctx, input.OutletID)
	if err != nil {
		return nil, fmt.Errorf("resolve outlet %d: %w", input.OutletID, err)
	}
	if kind != locations.KindOutlet {
		return nil, ErrOutletRequired
	}
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return nil, fmt.Errorf("%w: quantity on product %d", ErrValidation, line.ProductID)
		}
		if _, err := s.products.SerialTracked(ctx, line.ProductID); err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", line.ProductID, err)
		}
	}

	number, err := s.repo.GeneratePONumber(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("generate order number: %w", err)
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err = tx.InsertPO(ctx, &PurchaseOrder{
			Ref:          uuid.New(),
			Number:       number,
			SupplierID:   input.SupplierID,
			OutletID:     input.OutletID,
			Status:       POStatusDraft,
			Currency:     input.Currency,
			ExpectedDate: input.ExpectedDate,
			Note:         input.Note,
			CreatedBy:    createdBy,
		})
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			if _, err := tx.InsertPOLine(ctx, &POLine{
				POID:          id,
				ProductID:     line.ProductID,
				Qty:           line.Qty,
				UnitCostCents: line.UnitCostCents,
				Note:          line.Note,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetPO(ctx, id)
}

// SubmitPurchaseOrder moves a draft order into approval.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, id, actorID int64) (*PurchaseOrder, error) {
	po, err := s.transitionPO(ctx, id, POStatusDraft, POStatusApproval, nil)
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, po.Ref, actorID, shared.ApprovalSubmit, "")
	return po, nil
}

// ApprovePurchaseOrder releases the order for receiving.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, id, actorID int64, remark string) (*PurchaseOrder, error) {
	now := time.Now().UTC()
	po, err := s.transitionPO(ctx, id, POStatusApproval, POStatusApproved, map[string]interface{}{
		"approved_by": actorID,
		"approved_at": now,
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, po.Ref, actorID, shared.ApprovalApprove, remark)
	return po, nil
}

// CancelPurchaseOrder closes an order that has not received goods yet.
func (s *Service) CancelPurchaseOrder(ctx context.Context, id, actorID int64, reason string) (*PurchaseOrder, error) {
	var po *PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch existing.Status {
		case POStatusDraft, POStatusApproval, POStatusApproved:
		default:
			return fmt.Errorf("%w: cancel order from %s", ErrInvalidState, existing.Status)
		}
		po = existing
		return tx.UpdatePOStatus(ctx, id, POStatusCancelled, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, po.Ref, actorID, shared.ApprovalReject, reason)
	return s.repo.GetPO(ctx, id)
}

func (s *Service) transitionPO(ctx context.Context, id int64, from, to POStatus, fields map[string]interface{}) (*PurchaseOrder, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if existing.Status != from {
			return fmt.Errorf("%w: order %s to %s", ErrInvalidState, existing.Status, to)
		}
		return tx.UpdatePOStatus(ctx, id, to, fields)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetPO(ctx, id)
}

// CreateGoodsReceipt records arrived goods against an approved order. The
// serial lists are validated here, before any row exists: serial-tracked
// products need one serial per unit and every serial must be new to the
// whole network.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGRNInput, createdBy int64) (*GoodsReceipt, error) {
	po, err := s.repo.GetPO(ctx, input.POID)
	if err != nil {
		return nil, err
	}
	if po.Status != POStatusApproved {
		return nil, fmt.Errorf("%w: receive against order in %s", ErrInvalidState, po.Status)
	}
	seen := map[string]bool{}
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return nil, fmt.Errorf("%w: quantity on product %d", ErrValidation, line.ProductID)
		}
		tracked, err := s.products.SerialTracked(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", line.ProductID, err)
		}
		if tracked && int64(len(line.SerialNumbers)) != line.Qty {
			return nil, fmt.Errorf("%w: product %d needs %d serials, got %d",
				ledger.ErrSerialCountMismatch, line.ProductID, line.Qty, len(line.SerialNumbers))
		}
		if !tracked && len(line.SerialNumbers) > 0 {
			return nil, fmt.Errorf("%w: product %d does not track serials", ErrValidation, line.ProductID)
		}
		for _, serial := range line.SerialNumbers {
			if seen[serial] {
				return nil, fmt.Errorf("%w: %s listed twice", ledger.ErrDuplicateSerial, serial)
			}
			seen[serial] = true
			exists, err := s.stock.SerialExists(ctx, serial)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateSerial, serial)
			}
		}
	}

	number, err := s.repo.GenerateGRNNumber(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("generate receipt number: %w", err)
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err = tx.InsertGRN(ctx, &GoodsReceipt{
			Ref:        uuid.New(),
			Number:     number,
			POID:       po.ID,
			SupplierID: po.SupplierID,
			OutletID:   po.OutletID,
			Status:     GRNStatusDraft,
			ReceivedAt: receivedAt,
			Note:       input.Note,
			CreatedBy:  createdBy,
		})
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			if _, err := tx.InsertGRNLine(ctx, &GRNLine{
				GRNID:         id,
				ProductID:     line.ProductID,
				Qty:           line.Qty,
				UnitCostCents: line.UnitCostCents,
				SerialNumbers: line.SerialNumbers,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetGRN(ctx, id)
}

// PostGoodsReceipt seeds the outlet's ledger with the received goods. Serials
// enter the ledger carrying the receipt number as their provenance. The ledger
// intake and the status update are fenced by an idempotency key so a crash
// between the two cannot add the stock twice.
func (s *Service) PostGoodsReceipt(ctx context.Context, id, actorID int64) (*GoodsReceipt, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return nil, err
	}
	if grn.Status != GRNStatusDraft {
		return nil, fmt.Errorf("%w: post receipt from %s", ErrInvalidState, grn.Status)
	}
	lines, err := s.repo.GRNLines(ctx, id)
	if err != nil {
		return nil, err
	}

	add := !grn.StockAdded
	key := "procurement:grn:" + grn.Ref.String()
	if add {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			add = false
			s.logger.Warn("goods receipt post retry after partial failure",
				slog.Int64("grn_id", grn.ID), slog.String("ref", grn.Ref.String()))
		case err != nil:
			return nil, err
		}
	}

	if add {
		for _, line := range lines {
			seeds := make([]ledger.SerialSeed, 0, len(line.SerialNumbers))
			for _, serial := range line.SerialNumbers {
				seeds = append(seeds, ledger.SerialSeed{SerialNumber: serial, PurchaseRef: grn.Number})
			}
			if _, err := s.stock.IncreaseStock(ctx, ledger.IncreaseInput{
				LocationID: grn.OutletID,
				ProductID:  line.ProductID,
				Qty:        line.Qty,
				Serials:    seeds,
				Kind:       ledger.MovementPurchase,
				RefID:      grn.Number,
				Remark:     "goods receipt",
				ActorID:    actorID,
			}); err != nil {
				if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
					s.logger.Error("release receipt idempotency key", slog.Any("error", delErr))
				}
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateGRNStatus(ctx, id, GRNStatusPosted, map[string]interface{}{
			"stock_added":    true,
			"stock_added_at": now,
			"posted_by":      actorID,
			"posted_at":      now,
		}); err != nil {
			return err
		}
		return tx.UpdatePOStatus(ctx, grn.POID, POStatusClosed, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, grn.Ref, actorID, shared.ApprovalApprove, "")
	return s.repo.GetGRN(ctx, id)
}

// CancelGoodsReceipt discards a draft receipt before posting.
func (s *Service) CancelGoodsReceipt(ctx context.Context, id, actorID int64, reason string) (*GoodsReceipt, error) {
	var grn *GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetGRNForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if existing.Status != GRNStatusDraft {
			return fmt.Errorf("%w: cancel receipt from %s", ErrInvalidState, existing.Status)
		}
		grn = existing
		return tx.UpdateGRNStatus(ctx, id, GRNStatusCancelled, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, grn.Ref, actorID, shared.ApprovalReject, reason)
	return s.repo.GetGRN(ctx, id)
}

// GetPurchaseOrder reads one order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (*PurchaseOrder, []POLine, error) {
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.repo.POLines(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return po, lines, nil
}

// ListPurchaseOrders returns orders matching the filter plus the total count.
func (s *Service) ListPurchaseOrders(ctx context.Context, f ListFilter) ([]PurchaseOrder, int64, error) {
	return s.repo.ListPOs(ctx, f)
}

// GetGoodsReceipt reads one receipt with its lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (*GoodsReceipt, []GRNLine, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.repo.GRNLines(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return grn, lines, nil
}

// ListGoodsReceipts returns receipts matching the filter plus the total count.
func (s *Service) ListGoodsReceipts(ctx context.Context, f ListFilter) ([]GoodsReceipt, int64, error) {
	return s.repo.ListGRNs(ctx, f)
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
		s.logger.Error("record procurement approval", slog.Any("error", err))
	}
}
