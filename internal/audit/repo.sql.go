package audit

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed timeline queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const timelineColumns = "occurred_at, actor_id, action, entity, entity_id, meta"

// TimelineWindow returns one page of the filtered timeline, newest first.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	where, args := timelineWhere(filters)
	query := "SELECT " + timelineColumns + " FROM audit_logs" + where +
		" ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args)+1) +
		" OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)
	return r.queryTimeline(ctx, query, args)
}

// TimelineAll returns the whole filtered timeline, newest first.
func (r *Repository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := timelineWhere(filters)
	query := "SELECT " + timelineColumns + " FROM audit_logs" + where + " ORDER BY occurred_at DESC"
	return r.queryTimeline(ctx, query, args)
}

func timelineWhere(filters TimelineFilters) (string, []any) {
	clauses := []string{}
	args := []any{}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		clauses = append(clauses, "occurred_at >= $"+strconv.Itoa(len(args)))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		clauses = append(clauses, "occurred_at <= $"+strconv.Itoa(len(args)))
	}
	if filters.ActorID != 0 {
		args = append(args, filters.ActorID)
		clauses = append(clauses, "actor_id = $"+strconv.Itoa(len(args)))
	}
	if filters.Entity != "" {
		args = append(args, filters.Entity)
		clauses = append(clauses, "entity = $"+strconv.Itoa(len(args)))
	}
	if filters.Action != "" {
		args = append(args, filters.Action)
		clauses = append(clauses, "action = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *Repository) queryTimeline(ctx context.Context, query string, args []any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Meta); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
