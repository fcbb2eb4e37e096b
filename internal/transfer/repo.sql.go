package transfer

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

// Repository persists transfer requests in PostgreSQL.
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
		return errors.New("transfer repository not initialised")
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

const transferColumns = `id, ref, transfer_number, from_location_id, to_location_id, status, admin_approval,
source_deducted, source_deducted_at, destination_added, destination_added_at,
remark, created_by, shipped_by, shipped_at, completed_by, completed_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (TransferRequest, error) {
	var t TransferRequest
	err := row.Scan(&t.ID, &t.Ref, &t.TransferNumber, &t.FromLocationID, &t.ToLocationID, &t.Status, &t.AdminApproval,
		&t.SourceDeducted, &t.SourceDeductedAt, &t.DestinationAdded, &t.DestinationAddedAt,
		&t.Remark, &t.CreatedBy, &t.ShippedBy, &t.ShippedAt, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

const lineColumns = `id, transfer_id, product_id, quantity, serial_numbers, approved_quantity, shipped_serials, received_quantity, line_order, created_at, updated_at`

func scanLine(row pgx.Row) (TransferLine, error) {
	var l TransferLine
	err := row.Scan(&l.ID, &l.TransferID, &l.ProductID, &l.Quantity, &l.SerialNumbers, &l.ApprovedQuantity, &l.ShippedSerials, &l.ReceivedQuantity, &l.LineOrder, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *Repository) listLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM transfer_lines WHERE transfer_id=$1 ORDER BY line_order, id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []TransferLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Get reads one transfer with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (*TransferRequest, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	lines, err := r.listLines(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	t.Lines = lines
	return &t, nil
}

// GetByNumber reads one transfer by its document number.
func (r *Repository) GetByNumber(ctx context.Context, transferNumber string) (*TransferRequest, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transfer_number=$1`, transferNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	lines, err := r.listLines(ctx, r.pool, t.ID)
	if err != nil {
		return nil, err
	}
	t.Lines = lines
	return &t, nil
}

// List returns transfers matching the filter plus the unfiltered count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]TransferRequest, int, error) {
	where := []string{}
	args := []any{}
	if filter.FromLocationID != nil {
		args = append(args, *filter.FromLocationID)
		where = append(where, "from_location_id = $"+strconv.Itoa(len(args)))
	}
	if filter.ToLocationID != nil {
		args = append(args, *filter.ToLocationID)
		where = append(where, "to_location_id = $"+strconv.Itoa(len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`+clause, args...).Scan(&total); err != nil {
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

	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	transfers := []TransferRequest{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, t)
	}
	return transfers, total, rows.Err()
}

// GenerateTransferNumber produces the next document number for the month,
// e.g. TRF-202608-0007.
func (r *Repository) GenerateTransferNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := "TRF-" + at.Format("200601")
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE transfer_number LIKE $1`, prefix+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// GetForUpdate locks the transfer header for the rest of the transaction.
func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*TransferRequest, error) {
	req, err := scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `SELECT `+lineColumns+` FROM transfer_lines WHERE transfer_id=$1 ORDER BY line_order, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		req.Lines = append(req.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Insert writes the transfer header.
func (t *txRepository) Insert(ctx context.Context, request TransferRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO transfers
(ref, transfer_number, from_location_id, to_location_id, status, admin_approval, remark, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
RETURNING id`,
		request.Ref, request.TransferNumber, request.FromLocationID, request.ToLocationID,
		string(request.Status), string(request.AdminApproval), request.Remark, request.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

// InsertLine writes one transfer line.
func (t *txRepository) InsertLine(ctx context.Context, line TransferLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO transfer_lines
(transfer_id, product_id, quantity, serial_numbers, line_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING id`,
		line.TransferID, line.ProductID, line.Quantity, line.SerialNumbers, line.LineOrder).Scan(&id)
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
	tag, err := t.tx.Exec(ctx, `UPDATE transfers SET `+strings.Join(set, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLineQuantity applies an admin quantity modification.
func (t *txRepository) SetLineQuantity(ctx context.Context, lineID, quantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transfer_lines SET quantity=$1, updated_at=NOW() WHERE id=$2`, quantity, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// SetLineApproved records the destination's approved quantity.
func (t *txRepository) SetLineApproved(ctx context.Context, lineID, approvedQuantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transfer_lines SET approved_quantity=$1, updated_at=NOW() WHERE id=$2`, approvedQuantity, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// SetLineShipped records the serials selected by the source deduction.
func (t *txRepository) SetLineShipped(ctx context.Context, lineID int64, serials []string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transfer_lines SET shipped_serials=$1, updated_at=NOW() WHERE id=$2`, serials, lineID)
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
	tag, err := t.tx.Exec(ctx, `UPDATE transfer_lines SET received_quantity=$1, updated_at=NOW() WHERE id=$2`, receivedQuantity, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}
