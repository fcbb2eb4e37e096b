package ledger

import "context"

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, locationID, productID int64) (StockRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, error)
	GetSerial(ctx context.Context, serialNumber string) (SerialEntry, error)
	ListSerials(ctx context.Context, recordID int64) ([]SerialEntry, error)
	ListSerialEvents(ctx context.Context, serialNumber string) ([]SerialEvent, error)
	SerialExists(ctx context.Context, serialNumber string) (bool, error)
}

// TxRepository exposes the operations available inside one unit of work.
// Every mutation of a stock record or its serials goes through here so the
// row lock taken by GetRecordForUpdate covers the whole movement.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, locationID, productID int64) (StockRecord, error)
	GetRecordByIDForUpdate(ctx context.Context, id int64) (StockRecord, error)
	UpsertRecord(ctx context.Context, record StockRecord) (int64, error)
	GetSerialForUpdate(ctx context.Context, serialNumber string) (SerialEntry, error)
	SelectAvailableSerials(ctx context.Context, recordID int64, limit int) ([]SerialEntry, error)
	InsertSerial(ctx context.Context, entry SerialEntry) (int64, error)
	UpdateSerial(ctx context.Context, entry SerialEntry) error
	InsertSerialEvent(ctx context.Context, event SerialEvent) error
}
