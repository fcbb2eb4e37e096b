package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/meridian-scm/meridian-scm/internal/jobs"
)

// Integrity check names reported by the scan.
const (
	CheckConservation     = "conservation"
	CheckNegativeQuantity = "negative_quantity"
	CheckSerialCount      = "serial_count"
	CheckSerialUniqueness = "serial_uniqueness"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IntegrityScanJob sweeps the stock ledger for rows that violate the
// quantity invariants. The scan only reports; it never repairs.
type IntegrityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type integrityFinding struct {
	Check      string
	LocationID int64
	ProductID  int64
	Detail     string
}

// Handle executes the integrity scan.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLedgerIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting ledger integrity scan")

	records, findings, err := j.scan(ctx)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, f := range findings {
		logger.Warn("ledger integrity finding",
			slog.String("check", f.Check),
			slog.Int64("location_id", f.LocationID),
			slog.Int64("product_id", f.ProductID),
			slog.String("detail", f.Detail),
		)
		j.metrics().AddFindings(f.Check, f.LocationID, 1)
	}

	printer := message.NewPrinter(language.English)
	logger.Info("completed ledger integrity scan",
		slog.String("records", printer.Sprintf("%d", records)),
		slog.Int("findings", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

// scan runs the row checks and the serial checks concurrently. Both read
// committed state only, so a movement racing the scan can at worst surface a
// finding that the next run no longer sees.
func (j *IntegrityScanJob) scan(ctx context.Context) (int, []integrityFinding, error) {
	if j.Pool == nil {
		return 0, nil, errors.New("integrity scan: pool not configured")
	}

	var (
		records      int
		rowFindings  []integrityFinding
		serialCount  []integrityFinding
		serialUnique []integrityFinding
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, rowFindings, err = j.scanRecords(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		serialCount, err = j.scanSerialCounts(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		serialUnique, err = j.scanSerialUniqueness(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	findings := append(rowFindings, serialCount...)
	findings = append(findings, serialUnique...)
	return records, findings, nil
}

func (j *IntegrityScanJob) scanRecords(ctx context.Context) (int, []integrityFinding, error) {
	rows, err := j.Pool.Query(ctx, `SELECT location_id, product_id, total_qty, available_qty, in_transit_qty, consumed_qty
FROM stock_records ORDER BY location_id, product_id`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	count := 0
	var findings []integrityFinding
	for rows.Next() {
		var locationID, productID, total, available, inTransit, consumed int64
		if err := rows.Scan(&locationID, &productID, &total, &available, &inTransit, &consumed); err != nil {
			return 0, nil, err
		}
		count++
		if available < 0 || inTransit < 0 || consumed < 0 || total < 0 {
			findings = append(findings, integrityFinding{
				Check: CheckNegativeQuantity, LocationID: locationID, ProductID: productID,
				Detail: fmt.Sprintf("total=%d available=%d in_transit=%d consumed=%d", total, available, inTransit, consumed),
			})
		}
		if total != available+inTransit+consumed {
			findings = append(findings, integrityFinding{
				Check: CheckConservation, LocationID: locationID, ProductID: productID,
				Detail: fmt.Sprintf("total=%d but available+in_transit+consumed=%d", total, available+inTransit+consumed),
			})
		}
	}
	return count, findings, rows.Err()
}

// scanSerialCounts flags rows where the number of live serials exceeds the
// row total. Fewer serials than total is legal: bulk products carry none.
func (j *IntegrityScanJob) scanSerialCounts(ctx context.Context) ([]integrityFinding, error) {
	rows, err := j.Pool.Query(ctx, `SELECT r.location_id, r.product_id, r.total_qty, COUNT(s.id)
FROM stock_records r
JOIN stock_serials s ON s.record_id = r.id AND s.status NOT IN ('TRANSFERRED')
GROUP BY r.location_id, r.product_id, r.total_qty
HAVING COUNT(s.id) > r.total_qty`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []integrityFinding
	for rows.Next() {
		var locationID, productID, total, serials int64
		if err := rows.Scan(&locationID, &productID, &total, &serials); err != nil {
			return nil, err
		}
		findings = append(findings, integrityFinding{
			Check: CheckSerialCount, LocationID: locationID, ProductID: productID,
			Detail: fmt.Sprintf("%d live serials against total %d", serials, total),
		})
	}
	return findings, rows.Err()
}

func (j *IntegrityScanJob) scanSerialUniqueness(ctx context.Context) ([]integrityFinding, error) {
	rows, err := j.Pool.Query(ctx, `SELECT serial_number, COUNT(*) FROM stock_serials
GROUP BY serial_number HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []integrityFinding
	for rows.Next() {
		var serial string
		var count int64
		if err := rows.Scan(&serial, &count); err != nil {
			return nil, err
		}
		findings = append(findings, integrityFinding{
			Check:  CheckSerialUniqueness,
			Detail: fmt.Sprintf("serial %s appears %d times", serial, count),
		})
	}
	return findings, rows.Err()
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
