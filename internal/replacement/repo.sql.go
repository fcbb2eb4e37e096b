package replacement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists replacement satellites in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const replacementColumns = `id, ref, damage_return_id, center_id, product_id, old_serial_number, new_serial_number, remark, created_by, created_at`

func scanReplacement(row pgx.Row) (ReplacementRecord, error) {
	var rec ReplacementRecord
	err := row.Scan(&rec.ID, &rec.Ref, &rec.DamageReturnID, &rec.CenterID, &rec.ProductID,
		&rec.OldSerialNumber, &rec.NewSerialNumber, &rec.Remark, &rec.CreatedBy, &rec.CreatedAt)
	return rec, err
}

// InsertReplacement writes one replacement record. The table carries a
// unique constraint on damage_return_id.
func (r *Repository) InsertReplacement(ctx context.Context, record ReplacementRecord) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO replacements
(ref, damage_return_id, center_id, product_id, old_serial_number, new_serial_number, remark, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
RETURNING id`,
		record.Ref, record.DamageReturnID, record.CenterID, record.ProductID,
		record.OldSerialNumber, record.NewSerialNumber, record.Remark, record.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrAlreadyReplaced
		}
		return 0, err
	}
	return id, nil
}

// GetReplacement reads one replacement record.
func (r *Repository) GetReplacement(ctx context.Context, id int64) (*ReplacementRecord, error) {
	rec, err := scanReplacement(r.pool.QueryRow(ctx, `SELECT `+replacementColumns+` FROM replacements WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ReplacementForReturn reads the replacement issued for one damage return.
func (r *Repository) ReplacementForReturn(ctx context.Context, damageReturnID int64) (*ReplacementRecord, error) {
	rec, err := scanReplacement(r.pool.QueryRow(ctx, `SELECT `+replacementColumns+` FROM replacements WHERE damage_return_id=$1`, damageReturnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListReplacements returns replacements, newest first.
func (r *Repository) ListReplacements(ctx context.Context, centerID *int64, limit, offset int) ([]ReplacementRecord, int, error) {
	clause := ""
	args := []any{}
	if centerID != nil {
		args = append(args, *centerID)
		clause = " WHERE center_id = $1"
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM replacements`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitArg := strconv.Itoa(len(args))
	args = append(args, offset)
	offsetArg := strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, `SELECT `+replacementColumns+` FROM replacements`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records := []ReplacementRecord{}
	for rows.Next() {
		rec, err := scanReplacement(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// InsertRepairCost books one cost position.
func (r *Repository) InsertRepairCost(ctx context.Context, cost RepairCost) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO repair_costs
(damage_return_id, amount_cents, currency, description, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING id`,
		cost.DamageReturnID, cost.AmountCents, cost.Currency, cost.Description, cost.CreatedBy).Scan(&id)
	return id, err
}

// RepairCostsForReturn lists cost positions of one damage return.
func (r *Repository) RepairCostsForReturn(ctx context.Context, damageReturnID int64) ([]RepairCost, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, damage_return_id, amount_cents, currency, description, created_by, created_at
FROM repair_costs WHERE damage_return_id=$1 ORDER BY id`, damageReturnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	costs := []RepairCost{}
	for rows.Next() {
		var c RepairCost
		if err := rows.Scan(&c.ID, &c.DamageReturnID, &c.AmountCents, &c.Currency, &c.Description, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

// InsertInvoice writes one invoice.
func (r *Repository) InsertInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO replacement_invoices
(invoice_number, damage_return_id, amount_cents, currency, issued_by, issued_at)
VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING id`,
		invoice.InvoiceNumber, invoice.DamageReturnID, invoice.AmountCents, invoice.Currency, invoice.IssuedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateInvoice
		}
		return 0, err
	}
	return id, nil
}

// GetInvoice reads one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `SELECT id, invoice_number, damage_return_id, amount_cents, currency, issued_by, issued_at
FROM replacement_invoices WHERE id=$1`, id).
		Scan(&inv.ID, &inv.InvoiceNumber, &inv.DamageReturnID, &inv.AmountCents, &inv.Currency, &inv.IssuedBy, &inv.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// GenerateInvoiceNumber produces the next invoice number for the month,
// e.g. INV-202608-0007.
func (r *Repository) GenerateInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "INV-" + at.Format("200601")
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM replacement_invoices WHERE invoice_number LIKE $1`, prefix+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}
