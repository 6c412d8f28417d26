package analytics

// DefaultPageSize is used when a page size below 1 is requested
const DefaultPageSize = 20

// Pagination holds 1-indexed pagination parameters
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination creates a Pagination with defaults applied
func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// Offset returns the index of the first item on the page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of a larger result set.
// Total counts the items before pagination.
type Page[T any] struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
	Items      []T `json:"items"`
}

// Paginate slices items into the requested page. A page past the end is empty,
// never an error. The returned items share no backing array with items.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	p := NewPagination(page, pageSize)
	total := len(items)

	totalPages := total / p.PageSize
	if total%p.PageSize > 0 {
		totalPages++
	}

	out := Page[T]{
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: totalPages,
		Items:      make([]T, 0),
	}

	// compare in page units first so huge page numbers cannot overflow Offset
	if p.Page > totalPages {
		return out
	}
	start := p.Offset()
	end := start + p.PageSize
	if end > total {
		end = total
	}
	out.Items = append(out.Items, items[start:end]...)
	return out
}
