package transfer

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

// StockLedger is the slice of the ledger the transfer workflow drives.
// Batch methods run all lines in one unit of work.
type StockLedger interface {
	Record(ctx context.Context, locationID, productID int64) (ledger.StockRecord, error)
	Serial(ctx context.Context, serialNumber string) (ledger.SerialEntry, error)
	TransferOutBatch(ctx context.Context, inputs []ledger.TransferOutInput) ([][]string, error)
	ReceiveTransferBatch(ctx context.Context, inputs []ledger.ReceiveInput) error
}

// LocationDirectory resolves a location's tier.
type LocationDirectory interface {
	Kind(ctx context.Context, id int64) (string, error)
}

// ProductCatalog answers whether a product tracks serial numbers.
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

// ReceiptPolicy decides whether a received quantity is acceptable against the
// shipped quantity. The default accepts anything non-negative, which keeps
// shrinkage tracking permissive; StrictReceiptPolicy caps receipts at the
// shipped quantity.
type ReceiptPolicy func(shipped, received int64) error

// ErrOverReceipt is returned by StrictReceiptPolicy when received exceeds
// shipped.
var ErrOverReceipt = errors.New("transfer: received quantity exceeds shipped")

// StrictReceiptPolicy rejects receipts above the shipped quantity.
func StrictReceiptPolicy(shipped, received int64) error {
	if received > shipped {
		return fmt.Errorf("%w: shipped %d, received %d", ErrOverReceipt, shipped, received)
	}
	return nil
}

const approvalModule = "transfer"

// numberRetries bounds the renumber attempts when a concurrent create takes
// the same document number.
const numberRetries = 2

// Service implements the transfer workflow.
type Service struct {
	repo        RepositoryPort
	stock       StockLedger
	locations   LocationDirectory
	products    ProductCatalog
	approvals   ApprovalLogger
	idempotency IdempotencyGuard
	receipt     ReceiptPolicy
	logger      *slog.Logger
}

// NewService constructs the transfer service.
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

// SetReceiptPolicy overrides the default permissive receipt policy.
func (s *Service) SetReceiptPolicy(policy ReceiptPolicy) {
	s.receipt = policy
}

// Create opens a new transfer request in draft.
func (s *Service) Create(ctx context.Context, input CreateTransferInput, createdBy int64) (*TransferRequest, error) {
	if input.FromLocationID == input.ToLocationID {
		return nil, ErrSameLocation
	}
	if len(input.Lines) == 0 {
		return nil, ErrNoLines
	}
	for _, locationID := range []int64{input.FromLocationID, input.ToLocationID} {
		kind, err := s.locations.Kind(ctx, locationID)
		if err != nil {
			return nil, fmt.Errorf("resolve location %d: %w", locationID, err)
		}
		if kind != locations.KindCenter {
			return nil, ErrLocationKind
		}
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		if _, err := s.products.SerialTracked(ctx, line.ProductID); err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", line.ProductID, err)
		}
		if len(line.SerialNumbers) > 0 && int64(len(line.SerialNumbers)) != line.Quantity {
			return nil, ledger.ErrSerialCountMismatch
		}
	}

	// Numbering counts documents under the month prefix, so concurrent
	// creates can compute the same number. The unique constraint catches
	// the loser, which renumbers and retries.
	var id int64
	for attempt := 0; ; attempt++ {
		number, err := s.repo.GenerateTransferNumber(ctx, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("generate transfer number: %w", err)
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			request := TransferRequest{
				Ref:            uuid.New(),
				TransferNumber: number,
				FromLocationID: input.FromLocationID,
				ToLocationID:   input.ToLocationID,
				Status:         StatusDraft,
				AdminApproval:  AdminApprovalPending,
				Remark:         input.Remark,
				CreatedBy:      createdBy,
			}
			id, err = tx.Insert(ctx, request)
			if err != nil {
				return err
			}
			for _, line := range input.Lines {
				if _, err := tx.InsertLine(ctx, TransferLine{
					TransferID:    id,
					ProductID:     line.ProductID,
					Quantity:      line.Quantity,
					SerialNumbers: line.SerialNumbers,
					LineOrder:     line.LineOrder,
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

// Submit moves a draft into admin review. Availability is validated
// read-only; no stock moves until Ship.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanSubmit() {
		return nil, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, existing.Status)
	}
	if err := s.validateAvailability(ctx, existing); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusSubmitted, map[string]interface{}{
			"admin_approval": string(AdminApprovalPending),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalSubmit, "submitted for admin review")
	return s.repo.Get(ctx, id)
}

// ApproveByAdmin applies optional per-line quantity modifications and opens
// the admin gate.
func (s *Service) ApproveByAdmin(ctx context.Context, id, actorID int64, note string, modifications []LineModification) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanAdminReview() || existing.AdminApproval != AdminApprovalPending {
		return nil, fmt.Errorf("%w: admin approve from %s/%s", ErrInvalidTransition, existing.Status, existing.AdminApproval)
	}
	lineIDs := make(map[int64]struct{}, len(existing.Lines))
	for _, line := range existing.Lines {
		lineIDs[line.ID] = struct{}{}
	}
	for _, mod := range modifications {
		if _, ok := lineIDs[mod.LineID]; !ok {
			return nil, fmt.Errorf("%w: line %d", ErrLineNotFound, mod.LineID)
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, mod := range modifications {
			if err := tx.SetLineQuantity(ctx, mod.LineID, mod.Quantity); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, id, StatusAdminApproved, map[string]interface{}{
			"admin_approval": string(AdminApprovalApproved),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalApprove, note)
	return s.repo.Get(ctx, id)
}

// RejectByAdmin closes the request at the admin gate.
func (s *Service) RejectByAdmin(ctx context.Context, id, actorID int64, reason string) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanAdminReview() || existing.AdminApproval != AdminApprovalPending {
		return nil, fmt.Errorf("%w: admin reject from %s/%s", ErrInvalidTransition, existing.Status, existing.AdminApproval)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusAdminRejected, map[string]interface{}{
			"admin_approval": string(AdminApprovalRejected),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalReject, reason)
	return s.repo.Get(ctx, id)
}

// BypassAdminApproval is the administrative override: the admin gate is
// marked not required and the request jumps straight to admin-approved.
func (s *Service) BypassAdminApproval(ctx context.Context, id, actorID int64, remark string) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusDraft && existing.Status != StatusSubmitted {
		return nil, fmt.Errorf("%w: bypass from %s", ErrInvalidTransition, existing.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusAdminApproved, map[string]interface{}{
			"admin_approval": string(AdminApprovalNotRequired),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalBypass, remark)
	return s.repo.Get(ctx, id)
}

// ApproveAtDestination is the destination center's confirmation, with
// optional per-line approved quantities. Lines without an explicit approval
// are approved at the requested quantity.
func (s *Service) ApproveAtDestination(ctx context.Context, id, actorID int64, perLine []LineApproval) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.AdminApproval.IsApproved() {
		return nil, ErrApprovalRequired
	}
	if !existing.Status.CanConfirm() {
		return nil, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, existing.Status)
	}
	approvedByLine := make(map[int64]int64, len(perLine))
	for _, approval := range perLine {
		approvedByLine[approval.LineID] = approval.ApprovedQuantity
	}
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
		return tx.UpdateStatus(ctx, id, StatusConfirmed, nil)
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalApprove, "confirmed at destination")
	return s.repo.Get(ctx, id)
}

// Ship runs the source deduction phase. It is idempotent: a retried call
// observes the source-deducted flag (or the idempotency key, if the earlier
// attempt crashed between ledger commit and flag update) and never deducts
// twice.
func (s *Service) Ship(ctx context.Context, id, actorID int64, remark string) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == StatusShipped && existing.SourceDeducted {
		return existing, nil
	}
	if !existing.AdminApproval.IsApproved() {
		return nil, ErrApprovalRequired
	}
	if !existing.Status.CanShip() {
		return nil, fmt.Errorf("%w: ship from %s", ErrInvalidTransition, existing.Status)
	}

	deduct := !existing.SourceDeducted
	key := "transfer:ship:" + existing.Ref.String()
	if deduct {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			// An earlier attempt already moved the stock. Fall through to
			// the status update only.
			deduct = false
			s.logger.Warn("transfer ship retry after partial failure",
				slog.Int64("transfer_id", id), slog.String("ref", existing.Ref.String()))
		case err != nil:
			return nil, err
		}
	}

	shippedSerials := make([][]string, len(existing.Lines))
	if deduct {
		inputs := make([]ledger.TransferOutInput, 0, len(existing.Lines))
		for _, line := range existing.Lines {
			inputs = append(inputs, ledger.TransferOutInput{
				LocationID:    existing.FromLocationID,
				ToLocationID:  existing.ToLocationID,
				ProductID:     line.ProductID,
				Qty:           line.ShipQuantity(),
				SerialNumbers: line.SerialNumbers,
				Kind:          ledger.MovementTransfer,
				RefID:         existing.TransferNumber,
				Remark:        remark,
				ActorID:       actorID,
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

// Complete runs the destination addition phase with the caller-supplied
// received quantities. Received may fall short of shipped; the shortfall is
// shrinkage and the request lands in Incompleted instead of Completed.
func (s *Service) Complete(ctx context.Context, id, actorID int64, receipts []LineReceipt) (*TransferRequest, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.DestinationAdded && (existing.Status == StatusCompleted || existing.Status == StatusIncompleted) {
		return existing, nil
	}
	if !existing.AdminApproval.IsApproved() {
		return nil, ErrApprovalRequired
	}
	if !existing.Status.CanComplete() {
		return nil, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, existing.Status)
	}

	receiptByLine := make(map[int64]LineReceipt, len(receipts))
	for _, receipt := range receipts {
		if _, ok := receiptByLine[receipt.LineID]; ok {
			return nil, fmt.Errorf("%w: duplicate receipt for line %d", ErrLineNotFound, receipt.LineID)
		}
		receiptByLine[receipt.LineID] = receipt
	}

	type settlement struct {
		line     TransferLine
		shipped  int64
		received int64
		serials  []string
	}
	settlements := make([]settlement, 0, len(existing.Lines))
	fullyReceived := true
	for _, line := range existing.Lines {
		shipped := line.ShipQuantity()
		received := shipped
		var serials []string
		if receipt, ok := receiptByLine[line.ID]; ok {
			received = receipt.ReceivedQuantity
			serials = receipt.ReceivedSerials
			delete(receiptByLine, line.ID)
		}
		if s.receipt != nil {
			if err := s.receipt(shipped, received); err != nil {
				return nil, err
			}
		}
		if len(line.ShippedSerials) > 0 && serials == nil {
			if received > int64(len(line.ShippedSerials)) {
				received = int64(len(line.ShippedSerials))
			}
			serials = line.ShippedSerials[:received]
		}
		if serials != nil {
			shippedSet := make(map[string]struct{}, len(line.ShippedSerials))
			for _, sn := range line.ShippedSerials {
				shippedSet[sn] = struct{}{}
			}
			for _, sn := range serials {
				if _, ok := shippedSet[sn]; !ok {
					return nil, ledger.SerialUnavailable(sn)
				}
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
	key := "transfer:complete:" + existing.Ref.String()
	if add {
		switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			add = false
			s.logger.Warn("transfer complete retry after partial failure",
				slog.Int64("transfer_id", id), slog.String("ref", existing.Ref.String()))
		case err != nil:
			return nil, err
		}
	}

	if add {
		inputs := make([]ledger.ReceiveInput, 0, len(settlements))
		for _, st := range settlements {
			inputs = append(inputs, ledger.ReceiveInput{
				FromLocationID: existing.FromLocationID,
				ToLocationID:   existing.ToLocationID,
				ProductID:      st.line.ProductID,
				ShippedQty:     st.shipped,
				ReceivedQty:    st.received,
				SerialNumbers:  st.serials,
				Kind:           ledger.MovementTransfer,
				RefID:          existing.TransferNumber,
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

// Finalize closes out an incompletely received transfer once the shortfall
// has been accounted for. No stock moves; receipt already settled the ledger.
func (s *Service) Finalize(ctx context.Context, id, actorID int64, remark string) (*TransferRequest, error) {
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

// Reject short-circuits a request that has not shipped yet.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (*TransferRequest, error) {
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

// Get reads one transfer with lines.
func (s *Service) Get(ctx context.Context, id int64) (*TransferRequest, error) {
	return s.repo.Get(ctx, id)
}

// GetByNumber reads one transfer by document number.
func (s *Service) GetByNumber(ctx context.Context, transferNumber string) (*TransferRequest, error) {
	return s.repo.GetByNumber(ctx, transferNumber)
}

// List returns transfers matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]TransferRequest, int, error) {
	return s.repo.List(ctx, filter)
}

// validateAvailability checks every line against the source ledger without
// moving stock: quantity cover, and for named serials, availability at the
// source.
func (s *Service) validateAvailability(ctx context.Context, request *TransferRequest) error {
	if len(request.Lines) == 0 {
		return ErrNoLines
	}
	for _, line := range request.Lines {
		record, err := s.stock.Record(ctx, request.FromLocationID, line.ProductID)
		if err != nil {
			if errors.Is(err, ledger.ErrRecordNotFound) {
				return fmt.Errorf("%w: product %d at location %d", ledger.ErrInsufficientStock, line.ProductID, request.FromLocationID)
			}
			return err
		}
		if record.AvailableQty < line.Quantity {
			return fmt.Errorf("%w: product %d needs %d, has %d", ledger.ErrInsufficientStock, line.ProductID, line.Quantity, record.AvailableQty)
		}
		for _, sn := range line.SerialNumbers {
			entry, err := s.stock.Serial(ctx, sn)
			if err != nil {
				return err
			}
			if entry.Status != ledger.SerialAvailable || entry.RecordID != record.ID {
				return ledger.SerialUnavailable(sn)
			}
		}
	}
	return nil
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
		s.logger.Error("record transfer approval", slog.Any("error", err))
	}
}
