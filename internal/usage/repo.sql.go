package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists usage records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("usage repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const usageColumns = `id, ref, usage_number, center_id, usage_type, status,
target_name, target_ref, target_address, remark,
stock_consumed, stock_consumed_at, stock_restored, stock_restored_at,
created_by, decided_by, decided_at, cancelled_by, cancelled_at, created_at, updated_at`

func scanUsage(row pgx.Row) (StockUsageRecord, error) {
	var u StockUsageRecord
	err := row.Scan(&u.ID, &u.Ref, &u.UsageNumber, &u.CenterID, &u.UsageType, &u.Status,
		&u.TargetName, &u.TargetRef, &u.TargetAddress, &u.Remark,
		&u.StockConsumed, &u.StockConsumedAt, &u.StockRestored, &u.StockRestoredAt,
		&u.CreatedBy, &u.DecidedBy, &u.DecidedAt, &u.CancelledBy, &u.CancelledAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const itemColumns = `id, usage_id, product_id, quantity, serial_numbers, old_stock, new_stock, total_stock, line_order, created_at, updated_at`

func scanItem(row pgx.Row) (UsageItem, error) {
	var i UsageItem
	err := row.Scan(&i.ID, &i.UsageID, &i.ProductID, &i.Quantity, &i.SerialNumbers, &i.OldStock, &i.NewStock, &i.TotalStock, &i.LineOrder, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func (r *Repository) listItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, usageID int64) ([]UsageItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM usage_items WHERE usage_id=$1 ORDER BY line_order, id`, usageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UsageItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get reads one usage record with its items.
func (r *Repository) Get(ctx context.Context, id int64) (*StockUsageRecord, error) {
	u, err := scanUsage(r.pool.QueryRow(ctx, `SELECT `+usageColumns+` FROM stock_usages WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := r.listItems(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	u.Items = items
	return &u, nil
}

// GetByNumber reads one usage record by its document number.
func (r *Repository) GetByNumber(ctx context.Context, usageNumber string) (*StockUsageRecord, error) {
	u, err := scanUsage(r.pool.QueryRow(ctx, `SELECT `+usageColumns+` FROM stock_usages WHERE usage_number=$1`, usageNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := r.listItems(ctx, r.pool, u.ID)
	if err != nil {
		return nil, err
	}
	u.Items = items
	return &u, nil
}

// List returns usage records matching the filter plus the unfiltered count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]StockUsageRecord, int, error) {
	where := []string{}
	args := []any{}
	if filter.CenterID != nil {
		args = append(args, *filter.CenterID)
		where = append(where, "center_id = $"+strconv.Itoa(len(args)))
	}
	if filter.UsageType != nil {
		args = append(args, string(*filter.UsageType))
		where = append(where, "usage_type = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_usages`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitArg := strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	offsetArg := strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, `SELECT `+usageColumns+` FROM stock_usages`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	usages := []StockUsageRecord{}
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, 0, err
		}
		usages = append(usages, u)
	}
	return usages, total, rows.Err()
}

// GenerateUsageNumber produces the next document number for the month,
// e.g. USG-202608-0007.
func (r *Repository) GenerateUsageNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "USG-" + at.Format("200601")
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_usages WHERE usage_number LIKE $1`, prefix+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// GetForUpdate locks the usage header for the rest of the transaction.
func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*StockUsageRecord, error) {
	u, err := scanUsage(t.tx.QueryRow(ctx, `SELECT `+usageColumns+` FROM stock_usages WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `SELECT `+itemColumns+` FROM usage_items WHERE usage_id=$1 ORDER BY line_order, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		u.Items = append(u.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

// Insert writes the usage header.
func (t *txRepository) Insert(ctx context.Context, record StockUsageRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_usages
(ref, usage_number, center_id, usage_type, status, target_name, target_ref, target_address, remark, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
RETURNING id`,
		record.Ref, record.UsageNumber, record.CenterID, string(record.UsageType), string(record.Status),
		record.TargetName, record.TargetRef, record.TargetAddress, record.Remark, record.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

// InsertItem writes one usage item.
func (t *txRepository) InsertItem(ctx context.Context, item UsageItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO usage_items
(usage_id, product_id, quantity, serial_numbers, line_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING id`,
		item.UsageID, item.ProductID, item.Quantity, item.SerialNumbers, item.LineOrder).Scan(&id)
	return id, err
}

// UpdateStatus updates the header status plus any extra columns.
func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error {
	set := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(status)}
	for column, value := range updates {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)
	tag, err := t.tx.Exec(ctx, `UPDATE stock_usages SET `+strings.Join(set, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetItemResult records the consumption outcome on one item: the ledger
// snapshot and the serials the ledger selected.
func (t *txRepository) SetItemResult(ctx context.Context, itemID, oldStock, newStock, totalStock int64, serials []string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE usage_items SET old_stock=$1, new_stock=$2, total_stock=$3, serial_numbers=$4, updated_at=NOW() WHERE id=$5`,
		oldStock, newStock, totalStock, serials, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
