package replacement

import (
	"context"
	"time"
)

// RepositoryPort persists the satellite records. No transactional write side
// is needed here: each record is a single insert.
type RepositoryPort interface {
	InsertReplacement(ctx context.Context, record ReplacementRecord) (int64, error)
	GetReplacement(ctx context.Context, id int64) (*ReplacementRecord, error)
	ReplacementForReturn(ctx context.Context, damageReturnID int64) (*ReplacementRecord, error)
	ListReplacements(ctx context.Context, centerID *int64, limit, offset int) ([]ReplacementRecord, int, error)

	InsertRepairCost(ctx context.Context, cost RepairCost) (int64, error)
	RepairCostsForReturn(ctx context.Context, damageReturnID int64) ([]RepairCost, error)

	InsertInvoice(ctx context.Context, invoice Invoice) (int64, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GenerateInvoiceNumber(ctx context.Context, at time.Time) (string, error)
}
