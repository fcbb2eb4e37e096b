package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPaginationRoundsUpTotalPages(t *testing.T) {
	p := NewPagination(2, 20, 41)
	require.Equal(t, 2, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 41, p.Total)
	require.Equal(t, 3, p.TotalPages)
}

func TestNewPaginationDefaultsOutOfRangeInputs(t *testing.T) {
	p := NewPagination(0, -5, 7)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 1, p.TotalPages)
}
