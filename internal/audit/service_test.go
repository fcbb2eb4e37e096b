package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-scm/meridian-scm/internal/shared"
)

type stubRepo struct {
	rows       []TimelineRow
	lastLimit  int
	lastOffset int
	lastFilter TimelineFilters
}

func (s *stubRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	s.lastFilter = filters
	s.lastLimit = limit
	s.lastOffset = offset
	if limit > len(s.rows) {
		limit = len(s.rows)
	}
	return s.rows[:limit], nil
}

func (s *stubRepo) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	s.lastFilter = filters
	return s.rows, nil
}

type stubApprovals struct {
	logs []shared.ApprovalLog
}

func (s *stubApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	return s.logs, nil
}

func row(at string, action string) TimelineRow {
	t, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: t, ActorID: 7, Action: action, Entity: "stock_record", EntityID: "1"}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		row("2026-03-10T10:00:00Z", "ledger.increase"),
		row("2026-03-09T09:00:00Z", "ledger.transfer_out"),
		row("2026-03-08T08:00:00Z", "ledger.receive"),
	}}
	svc := NewService(repo, nil)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 0, result.Paging.PrevPage)
	require.Equal(t, 3, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
}

func TestTimelineSecondPageOffset(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{row("2026-03-08T08:00:00Z", "ledger.receive")}}
	svc := NewService(repo, nil)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10})
	require.NoError(t, err)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.PrevPage)
	require.Equal(t, 20, repo.lastOffset)
	require.Equal(t, 11, repo.lastLimit)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	_, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.lastLimit)
}

func TestApprovalTrail(t *testing.T) {
	ref := uuid.New()
	approvals := &stubApprovals{logs: []shared.ApprovalLog{
		{Module: "transfer", RefID: ref, ActorID: 3, Action: shared.ApprovalSubmit},
		{Module: "transfer", RefID: ref, ActorID: 9, Action: shared.ApprovalApprove},
	}}
	svc := NewService(&stubRepo{}, approvals)

	trail, err := svc.ApprovalTrail(context.Background(), "transfer", ref)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, shared.ApprovalApprove, trail[1].Action)
}
