package replacement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-scm/meridian-scm/internal/damagereturn"
	"github.com/meridian-scm/meridian-scm/internal/ledger"
)

// StockLedger is the slice of the ledger replacement issuing needs.
type StockLedger interface {
	Record(ctx context.Context, locationID, productID int64) (ledger.StockRecord, error)
	Serial(ctx context.Context, serialNumber string) (ledger.SerialEntry, error)
	Consume(ctx context.Context, input ledger.ConsumeInput) (ledger.StockRecord, []string, error)
}

// DamageReturns resolves and closes the originating damage return.
type DamageReturns interface {
	Get(ctx context.Context, id int64) (*damagereturn.DamageReturnRecord, error)
	MarkReplaced(ctx context.Context, id int64) error
}

// Service issues replacement units and books their costs.
type Service struct {
	repo    RepositoryPort
	stock   StockLedger
	returns DamageReturns
	logger  *slog.Logger
}

// NewService constructs the replacement service.
func NewService(repo RepositoryPort, stock StockLedger, returns DamageReturns, logger *slog.Logger) *Service {
	return &Service{repo: repo, stock: stock, returns: returns, logger: logger}
}

// Issue consumes one available unit from the center of an approved damage
// return and records it as the substitute for the damaged serial.
func (s *Service) Issue(ctx context.Context, input IssueInput, createdBy int64) (*ReplacementRecord, error) {
	dr, err := s.returns.Get(ctx, input.DamageReturnID)
	if err != nil {
		return nil, err
	}
	if !dr.Status.CanReplace() {
		if dr.Status == damagereturn.StatusReplaced {
			return nil, ErrAlreadyReplaced
		}
		return nil, fmt.Errorf("%w: issue from %s", damagereturn.ErrInvalidTransition, dr.Status)
	}
	if existing, err := s.repo.ReplacementForReturn(ctx, dr.ID); err == nil && existing != nil {
		return nil, ErrAlreadyReplaced
	}

	record, err := s.stock.Record(ctx, dr.CenterID, input.ProductID)
	if err != nil {
		return nil, err
	}
	entry, err := s.stock.Serial(ctx, input.NewSerialNumber)
	if err != nil {
		return nil, err
	}
	if entry.Status != ledger.SerialAvailable || entry.RecordID != record.ID {
		return nil, fmt.Errorf("%w: %s", ledger.ErrSerialUnavailable, input.NewSerialNumber)
	}

	ref := uuid.New()
	if _, _, err := s.stock.Consume(ctx, ledger.ConsumeInput{
		LocationID:    dr.CenterID,
		ProductID:     input.ProductID,
		Qty:           1,
		SerialNumbers: []string{input.NewSerialNumber},
		ConsumedBy:    createdBy,
		Kind:          ledger.MovementUsage,
		RefID:         ref.String(),
		Remark:        "replacement issue",
		ActorID:       createdBy,
	}); err != nil {
		return nil, err
	}

	id, err := s.repo.InsertReplacement(ctx, ReplacementRecord{
		Ref:             ref,
		DamageReturnID:  dr.ID,
		CenterID:        dr.CenterID,
		ProductID:       input.ProductID,
		OldSerialNumber: dr.SerialNumber,
		NewSerialNumber: input.NewSerialNumber,
		Remark:          input.Remark,
		CreatedBy:       createdBy,
	})
	if err != nil {
		return nil, err
	}
	if err := s.returns.MarkReplaced(ctx, dr.ID); err != nil {
		s.logger.Error("mark damage return replaced", slog.Int64("damage_return_id", dr.ID), slog.Any("error", err))
	}
	return s.repo.GetReplacement(ctx, id)
}

// AddRepairCost books one cost position against a damage return.
func (s *Service) AddRepairCost(ctx context.Context, input RepairCostInput, createdBy int64) (*RepairCost, error) {
	if _, err := s.returns.Get(ctx, input.DamageReturnID); err != nil {
		return nil, err
	}
	cost := RepairCost{
		DamageReturnID: input.DamageReturnID,
		AmountCents:    input.AmountCents,
		Currency:       input.Currency,
		Description:    input.Description,
		CreatedBy:      createdBy,
	}
	id, err := s.repo.InsertRepairCost(ctx, cost)
	if err != nil {
		return nil, err
	}
	cost.ID = id
	return &cost, nil
}

// IssueInvoice totals the booked repair costs of one damage return into a
// numbered invoice.
func (s *Service) IssueInvoice(ctx context.Context, input InvoiceInput, issuedBy int64) (*Invoice, error) {
	if _, err := s.returns.Get(ctx, input.DamageReturnID); err != nil {
		return nil, err
	}
	costs, err := s.repo.RepairCostsForReturn(ctx, input.DamageReturnID)
	if err != nil {
		return nil, err
	}
	if len(costs) == 0 {
		return nil, ErrNoCosts
	}
	var total int64
	currency := costs[0].Currency
	for _, cost := range costs {
		total += cost.AmountCents
	}
	number, err := s.repo.GenerateInvoiceNumber(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	id, err := s.repo.InsertInvoice(ctx, Invoice{
		InvoiceNumber:  number,
		DamageReturnID: input.DamageReturnID,
		AmountCents:    total,
		Currency:       currency,
		IssuedBy:       issuedBy,
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetInvoice(ctx, id)
}

// Get reads one replacement record.
func (s *Service) Get(ctx context.Context, id int64) (*ReplacementRecord, error) {
	return s.repo.GetReplacement(ctx, id)
}

// List returns replacements, newest first.
func (s *Service) List(ctx context.Context, centerID *int64, limit, offset int) ([]ReplacementRecord, int, error) {
	return s.repo.ListReplacements(ctx, centerID, limit, offset)
}

// RepairCosts lists the cost positions of one damage return.
func (s *Service) RepairCosts(ctx context.Context, damageReturnID int64) ([]RepairCost, error) {
	return s.repo.RepairCostsForReturn(ctx, damageReturnID)
}
