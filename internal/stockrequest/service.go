package stockrequest

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

// StockLedger is the slice of the ledger the request workflow drives.
type StockLedger interface {
	Record(ctx context.Context, locationID, productID int64) (ledger.StockRecord, error)
	TransferOutBatch(ctx context.Context, inputs []ledger.TransferOutInput) ([][]string, error)
	ReceiveTransferBatch(ctx context.Context, inputs []ledger.ReceiveInput) error
}

// LocationDirectory resolves a location's tier and short code.
type LocationDirectory interface {
	Kind(ctx context.Context, id int64) (string, error)
	Code(ctx context.Context, id int64) (string, error)
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

const approvalModule = "stockrequest"

// numberRetries bounds the renumber attempts when a concurrent create takes
// the same order number.
const numberRetries = 2

// Service implements the outlet-to-center request workflow.
type Service struct {
	repo        RepositoryPort
	stock       StockLedger
	locations   LocationDirectory
	products    ProductCatalog
	approvals   ApprovalLogger
	idempotency IdempotencyGuard
	logger      *slog.Logger
}

// NewService constructs the stock request service.
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

// Create opens a request in draft. The order number is derived from the
// center's code plus year/month and a running sequence.
func (s *Service) Create(ctx context.Context, input CreateRequestInput, createdBy int64) (*StockRequest, error) {
	if len(input.Lines) == 0 {
		return nil, ErrNoLines
	}
	outletKind, err := s.locations.Kind(ctx, input.OutletID)
	if err != nil {
		return nil, fmt.Errorf("resolve outlet %d: %w", input.OutletID, err)
	}
	if outletKind != locations.KindOutlet {
		return nil, ErrOutletRequired
	}
	centerKind, err := s.locations.Kind(ctx, input.CenterID)
	if err != nil {
		return nil, fmt.Errorf("resolve center %d: %w", input.CenterID, err)
	}
	if centerKind != locations.KindCenter {
		return nil, ErrCenterRequired
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		if _, err := s.products.SerialTracked(ctx, line.ProductID); err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", line.ProductID, err)
		}
	}

	centerCode, err := s.locations.Code(ctx, input.CenterID)
	if err != nil {
		return nil, err
	}
	// Numbering counts orders under the center and month prefix, so
	// concurrent creates can compute the same number. The unique
	// constraint catches the loser, which renumbers and retries.
	var id int64
	for attempt := 0; ; attempt++ {
		number, err := s.repo.GenerateOrderNumber(ctx, centerCode, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("generate order number: %w", err)
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err = tx.Insert(ctx, StockRequest{
				Ref:         uuid.New(),
				OrderNumber: number,
				OutletID:    input.OutletID,
				CenterID:    input.CenterID,
				Status:      StatusDraft,
				Remark:      input.Remark,
				CreatedBy:   createdBy,
			})
			if err != nil {
				return err
			}
			for _, line := range input.Lines {
				if _, err := tx.InsertLine(ctx, RequestLine{
					RequestID: id,
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					LineOrder: line.LineOrder,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateNumber) && attempt < numberRetries {
			continue
		}
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Submit hands a draft to the center. Availability at the outlet is checked
// read-only; stock moves at Ship.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (*StockRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanSubmit() {
		return nil, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, existing.Status)
	}
	for _, line := range existing.Lines {
		record, err := s.stock.Record(ctx, existing.OutletID, line.ProductID)
		if err != nil {
			if errors.Is(err, ledger.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: product %d at outlet %d", ledger.ErrInsufficientStock, line.ProductID, existing.OutletID)
			}
			return nil, err
		}
		if record.AvailableQty < line.Quantity {
			return nil, fmt.Errorf("%w: product %d needs %d, has %d", ledger.ErrInsufficientStock, line.ProductID, line.Quantity, record.AvailableQty)
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusSubmitted, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalSubmit, "submitted to center")
	return s.repo.Get(ctx, id)
}

// Confirm is the center's acceptance, with optional per-line approved
// quantities. Unlisted lines are approved in full.
func (s *Service) Confirm(ctx context.Context, id, actorID int64, perLine []LineApproval) (*StockRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanConfirm() {
		return nil, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, existing.Status)
	}
	approvedByLine := make(map[int64]int64, len(perLine))
	for _, approval := range perLine {
		approvedByLine[approval.LineID] = approval.ApprovedQuantity
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range existing.Lines {
			qty, ok := approvedByLine[line.ID]
			if !ok {
				qty = line.Quantity
			}
			delete(approvedByLine, line.ID)
			if err := tx.SetLineApproved(ctx, line.ID, qty); err != nil {
				return err
			}
		}
		if len(approvedByLine) > 0 {
			return ErrLineNotFound
		}
		return tx.UpdateStatus(ctx, id, StatusConfirmed, map[string]interface{}{
			"confirmed_by": actorID,
			"confirmed_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalApprove, "confirmed by center")
	return s.repo.Get(ctx, id)
}

// Ship runs the outlet deduction phase. Retried calls observe the
// source-deducted flag or the idempotency key and never deduct twice.
func (s *Service) Ship(ctx context.Context, id, actorID int64, remark string) (*StockRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == StatusShipped && existing.SourceDeducted {
		return existing, nil
	}
	if !existing.Status.CanShip() {
		return nil, fmt.Errorf("%w: ship from %s", ErrInvalidTransition, existing.Status)
	}

	deduct := !existing.SourceDeducted
	key := "stockrequest:ship:" + existing.Ref.String()
	if deduct {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			deduct = false
			s.logger.Warn("stock request ship retry after partial failure",
				slog.Int64("request_id", id), slog.String("ref", existing.Ref.String()))
		case err != nil:
			return nil, err
		}
	}

	shippedSerials := make([][]string, len(existing.Lines))
	if deduct {
		inputs := make([]ledger.TransferOutInput, 0, len(existing.Lines))
		for _, line := range existing.Lines {
			inputs = append(inputs, ledger.TransferOutInput{
				LocationID:   existing.OutletID,
				ToLocationID: existing.CenterID,
				ProductID:    line.ProductID,
				Qty:          line.ShipQuantity(),
				Kind:         ledger.MovementRequest,
				RefID:        existing.OrderNumber,
				Remark:       remark,
				ActorID:      actorID,
			})
		}
		picked, err := s.stock.TransferOutBatch(ctx, inputs)
		if err != nil {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Error("release ship idempotency key", slog.Any("error", delErr))
			}
			return nil, err
		}
		shippedSerials = picked
	}

	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if deduct {
			for i, line := range existing.Lines {
				if len(shippedSerials[i]) == 0 {
					continue
				}
				if err := tx.SetLineShipped(ctx, line.ID, shippedSerials[i]); err != nil {
					return err
				}
			}
		}
		return tx.UpdateStatus(ctx, id, StatusShipped, map[string]interface{}{
			"source_deducted":    true,
			"source_deducted_at": now,
			"shipped_by":         actorID,
			"shipped_at":         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Complete runs the center addition phase. A shortfall lands the request in
// Incompleted.
func (s *Service) Complete(ctx context.Context, id, actorID int64, receipts []LineReceipt) (*StockRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.DestinationAdded && (existing.Status == StatusCompleted || existing.Status == StatusIncompleted) {
		return existing, nil
	}
	if !existing.Status.CanComplete() {
		return nil, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, existing.Status)
	}

	receiptByLine := make(map[int64]int64, len(receipts))
	for _, receipt := range receipts {
		receiptByLine[receipt.LineID] = receipt.ReceivedQuantity
	}
	type settlement struct {
		line     RequestLine
		shipped  int64
		received int64
		serials  []string
	}
	settlements := make([]settlement, 0, len(existing.Lines))
	fullyReceived := true
	for _, line := range existing.Lines {
		shipped := line.ShipQuantity()
		received := shipped
		if qty, ok := receiptByLine[line.ID]; ok {
			received = qty
			delete(receiptByLine, line.ID)
		}
		var serials []string
		if n := int64(len(line.ShippedSerials)); n > 0 {
			if received < n {
				serials = line.ShippedSerials[:received]
			} else {
				serials = line.ShippedSerials
			}
		}
		if received != shipped {
			fullyReceived = false
		}
		settlements = append(settlements, settlement{line: line, shipped: shipped, received: received, serials: serials})
	}
	if len(receiptByLine) > 0 {
		return nil, ErrLineNotFound
	}

	add := !existing.DestinationAdded
	key := "stockrequest:complete:" + existing.Ref.String()
	if add {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			add = false
			s.logger.Warn("stock request complete retry after partial failure",
				slog.Int64("request_id", id), slog.String("ref", existing.Ref.String()))
		case err != nil:
			return nil, err
		}
	}

	if add {
		inputs := make([]ledger.ReceiveInput, 0, len(settlements))
		for _, st := range settlements {
			inputs = append(inputs, ledger.ReceiveInput{
				FromLocationID: existing.OutletID,
				ToLocationID:   existing.CenterID,
				ProductID:      st.line.ProductID,
				ShippedQty:     st.shipped,
				ReceivedQty:    st.received,
				SerialNumbers:  st.serials,
				Kind:           ledger.MovementRequest,
				RefID:          existing.OrderNumber,
				ActorID:        actorID,
			})
		}
		if err := s.stock.ReceiveTransferBatch(ctx, inputs); err != nil {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Error("release complete idempotency key", slog.Any("error", delErr))
			}
			return nil, err
		}
	}

	final := StatusCompleted
	if !fullyReceived {
		final = StatusIncompleted
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, st := range settlements {
			if err := tx.SetLineReceived(ctx, st.line.ID, st.received); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, id, final, map[string]interface{}{
			"destination_added":    true,
			"destination_added_at": now,
			"completed_by":         actorID,
			"completed_at":         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Finalize closes a short-received request.
func (s *Service) Finalize(ctx context.Context, id, actorID int64, remark string) (*StockRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanFinalize() {
		return nil, fmt.Errorf("%w: finalize from %s", ErrInvalidTransition, existing.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCompleted, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalApprove, remark)
	return s.repo.Get(ctx, id)
}

// Reject declines a request that has not shipped yet.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (*StockRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanReject() {
		return nil, fmt.Errorf("%w: reject from %s", ErrInvalidTransition, existing.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusRejected, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalReject, reason)
	return s.repo.Get(ctx, id)
}

// Get reads one request with lines.
func (s *Service) Get(ctx context.Context, id int64) (*StockRequest, error) {
	return s.repo.Get(ctx, id)
}

// GetByNumber reads one request by order number.
func (s *Service) GetByNumber(ctx context.Context, orderNumber string) (*StockRequest, error) {
	return s.repo.GetByNumber(ctx, orderNumber)
}

// List returns requests matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]StockRequest, int, error) {
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
		s.logger.Error("record stock request approval", slog.Any("error", err))
	}
}
