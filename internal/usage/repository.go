package usage

import (
	"context"
	"time"
)

// RepositoryPort is the read side plus the transaction entry point.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (*StockUsageRecord, error)
	GetByNumber(ctx context.Context, usageNumber string) (*StockUsageRecord, error)
	List(ctx context.Context, filter ListFilter) ([]StockUsageRecord, int, error)
	GenerateUsageNumber(ctx context.Context, at time.Time) (string, error)
}

// TxRepository is the write side, only reachable inside WithTx.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*StockUsageRecord, error)
	Insert(ctx context.Context, record StockUsageRecord) (int64, error)
	InsertItem(ctx context.Context, item UsageItem) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error
	SetItemResult(ctx context.Context, itemID, oldStock, newStock, totalStock int64, serials []string) error
}
