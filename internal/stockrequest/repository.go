package stockrequest

import (
	"context"
	"time"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*StockRequest, error)
	GetByNumber(ctx context.Context, orderNumber string) (*StockRequest, error)
	List(ctx context.Context, filter ListFilter) ([]StockRequest, int, error)
	GenerateOrderNumber(ctx context.Context, centerCode string, at time.Time) (string, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*StockRequest, error)
	Insert(ctx context.Context, request StockRequest) (int64, error)
	InsertLine(ctx context.Context, line RequestLine) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error
	SetLineApproved(ctx context.Context, lineID, approvedQuantity int64) error
	SetLineShipped(ctx context.Context, lineID int64, serials []string) error
	SetLineReceived(ctx context.Context, lineID, receivedQuantity int64) error
}
