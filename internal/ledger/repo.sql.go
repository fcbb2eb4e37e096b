package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger data in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
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

const recordColumns = `id, location_id, product_id, total_qty, available_qty, in_transit_qty, consumed_qty, updated_at`

func scanRecord(row pgx.Row) (StockRecord, error) {
	var rec StockRecord
	err := row.Scan(&rec.ID, &rec.LocationID, &rec.ProductID, &rec.TotalQty, &rec.AvailableQty, &rec.InTransitQty, &rec.ConsumedQty, &rec.UpdatedAt)
	return rec, err
}

// GetRecord reads one stock record without locking.
func (r *Repository) GetRecord(ctx context.Context, locationID, productID int64) (StockRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE location_id=$1 AND product_id=$2`, locationID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{LocationID: locationID, ProductID: productID}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

// ListRecords lists stock records for reporting and integrity scans.
func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM stock_records
WHERE ($1 = 0 OR location_id = $1) AND ($2 = 0 OR product_id = $2)
ORDER BY location_id, product_id
LIMIT $3 OFFSET $4`, filter.LocationID, filter.ProductID, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []StockRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const serialColumns = `id, record_id, serial_number, status, purchase_ref, origin_location_id, current_location_id, consumed_at, consumed_by, created_at, updated_at`

func scanSerial(row pgx.Row) (SerialEntry, error) {
	var entry SerialEntry
	err := row.Scan(&entry.ID, &entry.RecordID, &entry.SerialNumber, &entry.Status, &entry.PurchaseRef, &entry.OriginLocationID, &entry.CurrentLocationID, &entry.ConsumedAt, &entry.ConsumedBy, &entry.CreatedAt, &entry.UpdatedAt)
	return entry, err
}

// GetSerial reads one serial entry without locking.
func (r *Repository) GetSerial(ctx context.Context, serialNumber string) (SerialEntry, error) {
	entry, err := scanSerial(r.pool.QueryRow(ctx, `SELECT `+serialColumns+` FROM stock_serials WHERE serial_number=$1`, serialNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SerialEntry{}, ErrSerialNotFound
		}
		return SerialEntry{}, err
	}
	return entry, nil
}

// ListSerials lists the serial sub-ledger of one stock record in arrival order.
func (r *Repository) ListSerials(ctx context.Context, recordID int64) ([]SerialEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serialColumns+` FROM stock_serials WHERE record_id=$1 ORDER BY id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []SerialEntry{}
	for rows.Next() {
		entry, err := scanSerial(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListSerialEvents returns the append-only movement history of a serial.
func (r *Repository) ListSerialEvents(ctx context.Context, serialNumber string) ([]SerialEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, serial_number, from_location_id, to_location_id, kind, ref_id, remark, actor_id, at
FROM stock_serial_events WHERE serial_number=$1 ORDER BY at ASC, id ASC`, serialNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []SerialEvent{}
	for rows.Next() {
		var ev SerialEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.SerialNumber, &ev.FromLocationID, &ev.ToLocationID, &kind, &ev.RefID, &ev.Remark, &ev.ActorID, &ev.At); err != nil {
			return nil, err
		}
		ev.Kind = MovementKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SerialExists checks global serial uniqueness across the whole network.
func (r *Repository) SerialExists(ctx context.Context, serialNumber string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stock_serials WHERE serial_number=$1)`, serialNumber).Scan(&exists)
	return exists, err
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, locationID, productID int64) (StockRecord, error) {
	rec, err := scanRecord(r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE location_id=$1 AND product_id=$2 FOR UPDATE`, locationID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{LocationID: locationID, ProductID: productID}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func (r *txRepository) GetRecordByIDForUpdate(ctx context.Context, id int64) (StockRecord, error) {
	rec, err := scanRecord(r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func (r *txRepository) UpsertRecord(ctx context.Context, record StockRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_records (location_id, product_id, total_qty, available_qty, in_transit_qty, consumed_qty, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (location_id, product_id) DO UPDATE SET
	total_qty=EXCLUDED.total_qty,
	available_qty=EXCLUDED.available_qty,
	in_transit_qty=EXCLUDED.in_transit_qty,
	consumed_qty=EXCLUDED.consumed_qty,
	updated_at=NOW()
RETURNING id`, record.LocationID, record.ProductID, record.TotalQty, record.AvailableQty, record.InTransitQty, record.ConsumedQty).Scan(&id)
	return id, err
}

func (r *txRepository) GetSerialForUpdate(ctx context.Context, serialNumber string) (SerialEntry, error) {
	entry, err := scanSerial(r.tx.QueryRow(ctx, `SELECT `+serialColumns+` FROM stock_serials WHERE serial_number=$1 FOR UPDATE`, serialNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SerialEntry{}, ErrSerialNotFound
		}
		return SerialEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) SelectAvailableSerials(ctx context.Context, recordID int64, limit int) ([]SerialEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+serialColumns+` FROM stock_serials
WHERE record_id=$1 AND status=$2
ORDER BY id ASC
LIMIT $3
FOR UPDATE`, recordID, string(SerialAvailable), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []SerialEntry{}
	for rows.Next() {
		entry, err := scanSerial(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepository) InsertSerial(ctx context.Context, entry SerialEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_serials (record_id, serial_number, status, purchase_ref, origin_location_id, current_location_id, consumed_at, consumed_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id`,
		entry.RecordID, entry.SerialNumber, string(entry.Status), entry.PurchaseRef, entry.OriginLocationID, entry.CurrentLocationID, entry.ConsumedAt, entry.ConsumedBy).Scan(&id)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return 0, ErrDuplicateSerial
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) UpdateSerial(ctx context.Context, entry SerialEntry) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_serials SET record_id=$2, status=$3, current_location_id=$4, consumed_at=$5, consumed_by=$6, updated_at=NOW()
WHERE serial_number=$1`,
		entry.SerialNumber, entry.RecordID, string(entry.Status), entry.CurrentLocationID, entry.ConsumedAt, entry.ConsumedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSerialNotFound
	}
	return nil
}

func (r *txRepository) InsertSerialEvent(ctx context.Context, event SerialEvent) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_serial_events (serial_number, from_location_id, to_location_id, kind, ref_id, remark, actor_id, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()))`,
		event.SerialNumber, event.FromLocationID, event.ToLocationID, string(event.Kind), event.RefID, event.Remark, nullActor(event.ActorID), nullTime(event.At))
	return err
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
