package damagereturn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/shared"
	"github.com/meridian-scm/meridian-scm/internal/usage"
)

// StockLedger is the slice of the ledger the damage return workflow drives.
type StockLedger interface {
	Serial(ctx context.Context, serialNumber string) (ledger.SerialEntry, error)
	MarkDamagePending(ctx context.Context, serialNumber string, actorID int64, refID, remark string) error
	ApprovePendingDamage(ctx context.Context, serialNumber string, approvedBy int64, refID string) error
	RejectPendingDamage(ctx context.Context, serialNumber string, rejectedBy int64, refID string) error
}

// UsageSource resolves the originating usage record.
type UsageSource interface {
	Get(ctx context.Context, id int64) (*usage.StockUsageRecord, error)
}

// ApprovalLogger records the approval trail.
type ApprovalLogger interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyGuard fences the approval serial transition against retries.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const approvalModule = "damagereturn"

// Service implements post-consumption damage reporting.
type Service struct {
	repo        RepositoryPort
	stock       StockLedger
	usages      UsageSource
	approvals   ApprovalLogger
	idempotency IdempotencyGuard
	logger      *slog.Logger
}

// NewService constructs the damage return service.
func NewService(repo RepositoryPort, stock StockLedger, usages UsageSource,
	approvals ApprovalLogger, idempotency IdempotencyGuard, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		stock:       stock,
		usages:      usages,
		approvals:   approvals,
		idempotency: idempotency,
		logger:      logger,
	}
}

// Create reports one consumed serial as damaged. The record row is written
// before the serial transition, so a duplicate report fails on the unique
// (usage, serial) constraint without touching the ledger.
func (s *Service) Create(ctx context.Context, input CreateInput, createdBy int64) (*DamageReturnRecord, error) {
	source, err := s.usages.Get(ctx, input.UsageID)
	if err != nil {
		return nil, fmt.Errorf("resolve usage %d: %w", input.UsageID, err)
	}
	if input.CenterID != source.CenterID {
		return nil, fmt.Errorf("%w: usage %d was consumed at center %d", ErrWrongCenter, source.ID, source.CenterID)
	}
	onUsage := false
	for _, item := range source.Items {
		for _, serial := range item.SerialNumbers {
			if serial == input.SerialNumber {
				onUsage = true
			}
		}
	}
	if !onUsage {
		return nil, ErrSerialNotOnUsage
	}
	entry, err := s.stock.Serial(ctx, input.SerialNumber)
	if err != nil {
		return nil, err
	}
	if entry.Status != ledger.SerialConsumed {
		return nil, fmt.Errorf("%w: %s is %s", ledger.ErrInvalidSerialState, input.SerialNumber, entry.Status)
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err = tx.Insert(ctx, DamageReturnRecord{
			Ref:           uuid.New(),
			UsageID:       source.ID,
			SerialNumber:  input.SerialNumber,
			Status:        StatusPending,
			CenterID:      source.CenterID,
			UsageType:     string(source.UsageType),
			TargetName:    source.TargetName,
			TargetRef:     source.TargetRef,
			TargetAddress: source.TargetAddress,
			Remark:        input.Remark,
			CreatedBy:     createdBy,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	remark := ""
	if input.Remark != nil {
		remark = *input.Remark
	}
	if err := s.stock.MarkDamagePending(ctx, input.SerialNumber, createdBy, source.UsageNumber, remark); err != nil {
		delErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.Delete(ctx, id)
		})
		if delErr != nil {
			s.logger.Error("remove damage return after failed serial transition",
				slog.Int64("id", id), slog.Any("error", delErr))
		}
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Approve finalizes the report: the serial becomes damaged. The serial
// transition is fenced by an idempotency key so a retried call after a crash
// between the transition and the status update cannot run it twice.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (*DamageReturnRecord, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == StatusApproved {
		return existing, nil
	}
	if !existing.Status.CanDecide() {
		return nil, fmt.Errorf("%w: approve from %s", ErrInvalidTransition, existing.Status)
	}

	transition := true
	key := "damagereturn:approve:" + existing.Ref.String()
	switch err := s.idempotency.CheckAndInsert(ctx, key, approvalModule); {
	case errors.Is(err, shared.ErrIdempotencyConflict):
		transition = false
		s.logger.Warn("damage return approve retry after partial failure",
			slog.Int64("id", id), slog.String("ref", existing.Ref.String()))
	case err != nil:
		return nil, err
	}
	if transition {
		if err := s.stock.ApprovePendingDamage(ctx, existing.SerialNumber, actorID, existing.Ref.String()); err != nil {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Error("release approve idempotency key", slog.Any("error", delErr))
			}
			return nil, err
		}
	}

	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusApproved, map[string]interface{}{
			"decided_by": actorID,
			"decided_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalApprove, "damage return approved")
	return s.repo.Get(ctx, id)
}

// Reject returns the serial to available at its original center.
func (s *Service) Reject(ctx context.Context, id, actorID int64, remark string) (*DamageReturnRecord, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Status.CanDecide() {
		return nil, fmt.Errorf("%w: reject from %s", ErrInvalidTransition, existing.Status)
	}
	if err := s.stock.RejectPendingDamage(ctx, existing.SerialNumber, actorID, existing.Ref.String()); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusRejected, map[string]interface{}{
			"decided_by": actorID,
			"decided_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, existing.Ref, actorID, shared.ApprovalReject, remark)
	return s.repo.Get(ctx, id)
}

// MarkReplaced records that a substitute unit was issued for an approved
// return. Called by the replacement ledger, never over HTTP.
func (s *Service) MarkReplaced(ctx context.Context, id int64) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !existing.Status.CanReplace() {
		return fmt.Errorf("%w: replace from %s", ErrInvalidTransition, existing.Status)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusReplaced, nil)
	})
}

// Get reads one damage return.
func (s *Service) Get(ctx context.Context, id int64) (*DamageReturnRecord, error) {
	return s.repo.Get(ctx, id)
}

// List returns damage returns matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]DamageReturnRecord, int, error) {
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
		s.logger.Error("record damage return approval", slog.Any("error", err))
	}
}
