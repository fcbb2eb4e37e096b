package stockrequest

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

// Repository persists stock requests in PostgreSQL.
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
		return errors.New("stockrequest repository not initialised")
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

const requestColumns = `id, ref, order_number, outlet_id, center_id, status,
source_deducted, source_deducted_at, destination_added, destination_added_at,
remark, created_by, confirmed_by, confirmed_at, shipped_by, shipped_at, completed_by, completed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (StockRequest, error) {
	var sr StockRequest
	err := row.Scan(&sr.ID, &sr.Ref, &sr.OrderNumber, &sr.OutletID, &sr.CenterID, &sr.Status,
		&sr.SourceDeducted, &sr.SourceDeductedAt, &sr.DestinationAdded, &sr.DestinationAddedAt,
		&sr.Remark, &sr.CreatedBy, &sr.ConfirmedBy, &sr.ConfirmedAt, &sr.ShippedBy, &sr.ShippedAt,
		&sr.CompletedBy, &sr.CompletedAt, &sr.CreatedAt, &sr.UpdatedAt)
	return sr, err
}

const lineColumns = `id, request_id, product_id, quantity, approved_quantity, shipped_serials, received_quantity, line_order, created_at, updated_at`

func scanLine(row pgx.Row) (RequestLine, error) {
	var l RequestLine
	err := row.Scan(&l.ID, &l.RequestID, &l.ProductID, &l.Quantity, &l.ApprovedQuantity, &l.ShippedSerials, &l.ReceivedQuantity, &l.LineOrder, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func scanLines(rows pgx.Rows) ([]RequestLine, error) {
	defer rows.Close()
	var lines []RequestLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Get reads one request with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (*StockRequest, error) {
	sr, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM stock_request_lines WHERE request_id=$1 ORDER BY line_order, id`, id)
	if err != nil {
		return nil, err
	}
	sr.Lines, err = scanLines(rows)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

// GetByNumber reads one request by its order number.
func (r *Repository) GetByNumber(ctx context.Context, orderNumber string) (*StockRequest, error) {
	sr, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests WHERE order_number=$1`, orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM stock_request_lines WHERE request_id=$1 ORDER BY line_order, id`, sr.ID)
	if err != nil {
		return nil, err
	}
	sr.Lines, err = scanLines(rows)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

// List returns requests matching the filter plus the count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]StockRequest, int, error) {
	where := []string{}
	args := []any{}
	if filter.OutletID != nil {
		args = append(args, *filter.OutletID)
		where = append(where, "outlet_id = $"+strconv.Itoa(len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_requests`+clause, args...).Scan(&total); err != nil {
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

	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM stock_requests`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	requests := []StockRequest{}
	for rows.Next() {
		sr, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, sr)
	}
	return requests, total, rows.Err()
}

// GenerateOrderNumber produces the next order number for the center and
// month, e.g. CTR01-2608-0003. The running sequence counts all orders with
// the same prefix, which keeps the number globally unique under the table's
// unique constraint.
func (r *Repository) GenerateOrderNumber(ctx context.Context, centerCode string, at time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%s", centerCode, at.Format("0601"))
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_requests WHERE order_number LIKE $1`, prefix+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// GetForUpdate locks the request header for the rest of the transaction.
func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*StockRequest, error) {
	sr, err := scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `SELECT `+lineColumns+` FROM stock_request_lines WHERE request_id=$1 ORDER BY line_order, id`, id)
	if err != nil {
		return nil, err
	}
	sr.Lines, err = scanLines(rows)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

// Insert writes the request header.
func (t *txRepository) Insert(ctx context.Context, request StockRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_requests
(ref, order_number, outlet_id, center_id, status, remark, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
RETURNING id`,
		request.Ref, request.OrderNumber, request.OutletID, request.CenterID,
		string(request.Status), request.Remark, request.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

// InsertLine writes one request line.
func (t *txRepository) InsertLine(ctx context.Context, line RequestLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_request_lines
(request_id, product_id, quantity, line_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING id`,
		line.RequestID, line.ProductID, line.Quantity, line.LineOrder).Scan(&id)
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
	tag, err := t.tx.Exec(ctx, `UPDATE stock_requests SET `+strings.Join(set, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLineApproved records the center's approved quantity.
func (t *txRepository) SetLineApproved(ctx context.Context, lineID, approvedQuantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_request_lines SET approved_quantity=$1, updated_at=NOW() WHERE id=$2`, approvedQuantity, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// SetLineShipped records the serials selected by the outlet deduction.
func (t *txRepository) SetLineShipped(ctx context.Context, lineID int64, serials []string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_request_lines SET shipped_serials=$1, updated_at=NOW() WHERE id=$2`, serials, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// SetLineReceived records the received quantity at completion.
func (t *txRepository) SetLineReceived(ctx context.Context, lineID, receivedQuantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_request_lines SET received_quantity=$1, updated_at=NOW() WHERE id=$2`, receivedQuantity, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}
