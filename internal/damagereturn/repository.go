package damagereturn

import "context"

// RepositoryPort is the read side plus the transaction entry point.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (*DamageReturnRecord, error)
	List(ctx context.Context, filter ListFilter) ([]DamageReturnRecord, int, error)
}

// TxRepository is the write side, only reachable inside WithTx.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*DamageReturnRecord, error)
	Insert(ctx context.Context, record DamageReturnRecord) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error
	Delete(ctx context.Context, id int64) error
}
