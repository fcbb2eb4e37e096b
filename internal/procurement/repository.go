package procurement

import (
	"context"
	"time"
)

// RepositoryPort is the persistence boundary for procurement documents.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	GetPO(ctx context.Context, id int64) (*PurchaseOrder, error)
	POLines(ctx context.Context, poID int64) ([]POLine, error)
	ListPOs(ctx context.Context, f ListFilter) ([]PurchaseOrder, int64, error)

	GetGRN(ctx context.Context, id int64) (*GoodsReceipt, error)
	GRNLines(ctx context.Context, grnID int64) ([]GRNLine, error)
	ListGRNs(ctx context.Context, f ListFilter) ([]GoodsReceipt, int64, error)

	GeneratePONumber(ctx context.Context, at time.Time) (string, error)
	GenerateGRNNumber(ctx context.Context, at time.Time) (string, error)
}

// TxRepository exposes the write operations available inside a transaction.
type TxRepository interface {
	GetPOForUpdate(ctx context.Context, id int64) (*PurchaseOrder, error)
	InsertPO(ctx context.Context, po *PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line *POLine) (int64, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus, fields map[string]interface{}) error

	GetGRNForUpdate(ctx context.Context, id int64) (*GoodsReceipt, error)
	InsertGRN(ctx context.Context, grn *GoodsReceipt) (int64, error)
	InsertGRNLine(ctx context.Context, line *GRNLine) (int64, error)
	UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus, fields map[string]interface{}) error
}
