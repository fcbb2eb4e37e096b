package shared

import "math"

// Pagination is the paging block returned alongside masterdata listings so
// clients can render page controls without re-deriving them from totals.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination derives the paging block from the requested page, the page
// size and the total row count. Out-of-range inputs fall back to the first
// page and the default listing size.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}
