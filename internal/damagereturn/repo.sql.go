package damagereturn

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists damage returns in PostgreSQL. The table carries a
// unique constraint on (usage_id, serial_number).
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
		return errors.New("damagereturn repository not initialised")
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

const returnColumns = `id, ref, usage_id, serial_number, status, center_id, usage_type,
target_name, target_ref, target_address, remark,
created_by, decided_by, decided_at, created_at, updated_at`

func scanReturn(row pgx.Row) (DamageReturnRecord, error) {
	var d DamageReturnRecord
	err := row.Scan(&d.ID, &d.Ref, &d.UsageID, &d.SerialNumber, &d.Status, &d.CenterID, &d.UsageType,
		&d.TargetName, &d.TargetRef, &d.TargetAddress, &d.Remark,
		&d.CreatedBy, &d.DecidedBy, &d.DecidedAt, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Get reads one damage return.
func (r *Repository) Get(ctx context.Context, id int64) (*DamageReturnRecord, error) {
	d, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM damage_returns WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// List returns damage returns matching the filter plus the unfiltered count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]DamageReturnRecord, int, error) {
	where := []string{}
	args := []any{}
	if filter.UsageID != nil {
		args = append(args, *filter.UsageID)
		where = append(where, "usage_id = $"+strconv.Itoa(len(args)))
	}
	if filter.CenterID != nil {
		args = append(args, *filter.CenterID)
		where = append(where, "center_id = $"+strconv.Itoa(len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM damage_returns`+clause, args...).Scan(&total); err != nil {
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

	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM damage_returns`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	returns := []DamageReturnRecord{}
	for rows.Next() {
		d, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		returns = append(returns, d)
	}
	return returns, total, rows.Err()
}

// GetForUpdate locks the record for the rest of the transaction.
func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*DamageReturnRecord, error) {
	d, err := scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM damage_returns WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Insert writes the record. A duplicate (usage_id, serial_number) pair is
// reported as ErrDuplicate.
func (t *txRepository) Insert(ctx context.Context, record DamageReturnRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO damage_returns
(ref, usage_id, serial_number, status, center_id, usage_type, target_name, target_ref, target_address, remark, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
RETURNING id`,
		record.Ref, record.UsageID, record.SerialNumber, string(record.Status), record.CenterID, record.UsageType,
		record.TargetName, record.TargetRef, record.TargetAddress, record.Remark, record.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// UpdateStatus updates the status plus any extra columns.
func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error {
	set := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(status)}
	for column, value := range updates {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)
	tag, err := t.tx.Exec(ctx, `UPDATE damage_returns SET `+strings.Join(set, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record whose serial transition failed to apply.
func (t *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM damage_returns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
