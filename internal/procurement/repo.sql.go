package procurement

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

// Repository persists purchase orders and goods receipts in PostgreSQL.
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
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
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

const poColumns = `id, ref, number, supplier_id, outlet_id, status, currency, expected_date, note,
created_by, approved_by, approved_at, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Ref, &po.Number, &po.SupplierID, &po.OutletID, &po.Status, &po.Currency, &po.ExpectedDate, &po.Note,
		&po.CreatedBy, &po.ApprovedBy, &po.ApprovedAt, &po.CreatedAt, &po.UpdatedAt)
	return po, err
}

const poLineColumns = `id, po_id, product_id, qty, unit_cost_cents, note`

func scanPOLine(row pgx.Row) (POLine, error) {
	var l POLine
	err := row.Scan(&l.ID, &l.POID, &l.ProductID, &l.Qty, &l.UnitCostCents, &l.Note)
	return l, err
}

const grnColumns = `id, ref, number, po_id, supplier_id, outlet_id, status, received_at, note,
stock_added, stock_added_at, created_by, posted_by, posted_at, created_at, updated_at`

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var g GoodsReceipt
	err := row.Scan(&g.ID, &g.Ref, &g.Number, &g.POID, &g.SupplierID, &g.OutletID, &g.Status, &g.ReceivedAt, &g.Note,
		&g.StockAdded, &g.StockAddedAt, &g.CreatedBy, &g.PostedBy, &g.PostedAt, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

const grnLineColumns = `id, grn_id, product_id, qty, unit_cost_cents, serial_numbers`

func scanGRNLine(row pgx.Row) (GRNLine, error) {
	var l GRNLine
	err := row.Scan(&l.ID, &l.GRNID, &l.ProductID, &l.Qty, &l.UnitCostCents, &l.SerialNumbers)
	return l, err
}

// GetPO reads one purchase order header.
func (r *Repository) GetPO(ctx context.Context, id int64) (*PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &po, nil
}

// POLines reads the lines of one purchase order.
func (r *Repository) POLines(ctx context.Context, poID int64) ([]POLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+poLineColumns+` FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		line, err := scanPOLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListPOs returns purchase orders matching the filter plus the total count.
func (r *Repository) ListPOs(ctx context.Context, f ListFilter) ([]PurchaseOrder, int64, error) {
	where := []string{}
	args := []any{}
	if f.SupplierID != nil {
		args = append(args, *f.SupplierID)
		where = append(where, "supplier_id = $"+strconv.Itoa(len(args)))
	}
	if f.OutletID != nil {
		args = append(args, *f.OutletID)
		where = append(where, "outlet_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitArg := strconv.Itoa(len(args))
	args = append(args, f.Offset)
	offsetArg := strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	return orders, total, rows.Err()
}

// GetGRN reads one goods receipt header.
func (r *Repository) GetGRN(ctx context.Context, id int64) (*GoodsReceipt, error) {
	g, err := scanGRN(r.pool.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GRNLines reads the lines of one goods receipt.
func (r *Repository) GRNLines(ctx context.Context, grnID int64) ([]GRNLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grnLineColumns+` FROM goods_receipt_lines WHERE grn_id=$1 ORDER BY id`, grnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		line, err := scanGRNLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListGRNs returns goods receipts matching the filter plus the total count.
func (r *Repository) ListGRNs(ctx context.Context, f ListFilter) ([]GoodsReceipt, int64, error) {
	where := []string{}
	args := []any{}
	if f.SupplierID != nil {
		args = append(args, *f.SupplierID)
		where = append(where, "supplier_id = $"+strconv.Itoa(len(args)))
	}
	if f.OutletID != nil {
		args = append(args, *f.OutletID)
		where = append(where, "outlet_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_receipts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitArg := strconv.Itoa(len(args))
	args = append(args, f.Offset)
	offsetArg := strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, `SELECT `+grnColumns+` FROM goods_receipts`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	receipts := []GoodsReceipt{}
	for rows.Next() {
		g, err := scanGRN(rows)
		if err != nil {
			return nil, 0, err
		}
		receipts = append(receipts, g)
	}
	return receipts, total, rows.Err()
}

// GeneratePONumber produces the next order number for the month, e.g. PO-202608-0003.
func (r *Repository) GeneratePONumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "PO-" + at.Format("200601")
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE number LIKE $1`, prefix+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// GenerateGRNNumber produces the next receipt number for the month, e.g. GRN-202608-0003.
func (r *Repository) GenerateGRNNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "GRN-" + at.Format("200601")
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_receipts WHERE number LIKE $1`, prefix+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// GetPOForUpdate locks the purchase order header for the transaction.
func (t *txRepository) GetPOForUpdate(ctx context.Context, id int64) (*PurchaseOrder, error) {
	po, err := scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &po, nil
}

// InsertPO writes the purchase order header.
func (t *txRepository) InsertPO(ctx context.Context, po *PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(ref, number, supplier_id, outlet_id, status, currency, expected_date, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
RETURNING id`,
		po.Ref, po.Number, po.SupplierID, po.OutletID, string(po.Status), po.Currency, po.ExpectedDate, po.Note, po.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

// InsertPOLine writes one order line.
func (t *txRepository) InsertPOLine(ctx context.Context, line *POLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines
(po_id, product_id, qty, unit_cost_cents, note)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		line.POID, line.ProductID, line.Qty, line.UnitCostCents, line.Note).Scan(&id)
	return id, err
}

// UpdatePOStatus updates the order status plus any extra columns.
func (t *txRepository) UpdatePOStatus(ctx context.Context, id int64, status POStatus, fields map[string]interface{}) error {
	set := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(status)}
	for column, value := range fields {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET `+strings.Join(set, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetGRNForUpdate locks the receipt header for the transaction.
func (t *txRepository) GetGRNForUpdate(ctx context.Context, id int64) (*GoodsReceipt, error) {
	g, err := scanGRN(t.tx.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// InsertGRN writes the receipt header.
func (t *txRepository) InsertGRN(ctx context.Context, grn *GoodsReceipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO goods_receipts
(ref, number, po_id, supplier_id, outlet_id, status, received_at, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
RETURNING id`,
		grn.Ref, grn.Number, grn.POID, grn.SupplierID, grn.OutletID, string(grn.Status), grn.ReceivedAt, grn.Note, grn.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

// InsertGRNLine writes one receipt line.
func (t *txRepository) InsertGRNLine(ctx context.Context, line *GRNLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines
(grn_id, product_id, qty, unit_cost_cents, serial_numbers)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		line.GRNID, line.ProductID, line.Qty, line.UnitCostCents, line.SerialNumbers).Scan(&id)
	return id, err
}

// UpdateGRNStatus updates the receipt status plus any extra columns.
func (t *txRepository) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus, fields map[string]interface{}) error {
	set := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(status)}
	for column, value := range fields {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)
	tag, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET `+strings.Join(set, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
