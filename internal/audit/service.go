package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-scm/meridian-scm/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// RepositoryPort abstracts the timeline queries.
type RepositoryPort interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error)
	TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// ApprovalSource resolves the approval trail of one document.
type ApprovalSource interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Service coordinates audit trail reads.
type Service struct {
	repo      RepositoryPort
	approvals ApprovalSource
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, approvals ApprovalSource) *Service {
	return &Service{repo: repo, approvals: approvals}
}

// Timeline returns audit entries with paging. One extra row is fetched to
// detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns the full filtered timeline without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.TimelineAll(ctx, filters)
}

// ApprovalTrail returns the chronological approval history of one document.
func (s *Service) ApprovalTrail(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return nil, fmt.Errorf("audit: approval source not configured")
	}
	return s.approvals.List(ctx, module, ref)
}
