package application

const (
	// DefaultPageSize applies when a request does not name a page size.
	DefaultPageSize = 20
	// MaxPageSize caps caller supplied page sizes.
	MaxPageSize = 100
)

// PageRequest selects one page of a listing. Pages are 1-based.
type PageRequest struct {
	Page     int
	PageSize int
}

func (r PageRequest) normalize() PageRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	switch {
	case r.PageSize < 1:
		r.PageSize = DefaultPageSize
	case r.PageSize > MaxPageSize:
		r.PageSize = MaxPageSize
	}
	return r
}

// Page is the listing envelope shared by every list operation.
type Page[T any] struct {
	Count       int  `json:"count"`
	Results     []T  `json:"results"`
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// Paginate slices items for the requested page. A page past the end yields
// empty results with the counters intact.
func Paginate[T any](items []T, req PageRequest) Page[T] {
	req = req.normalize()
	count := len(items)
	totalPages := (count + req.PageSize - 1) / req.PageSize
	if totalPages < 1 {
		totalPages = 1
	}

	// Compare before multiplying so huge page numbers cannot overflow.
	start := count
	if req.Page-1 <= count/req.PageSize {
		start = min((req.Page-1)*req.PageSize, count)
	}
	end := start + req.PageSize
	if end > count {
		end = count
	}
	results := make([]T, end-start)
	copy(results, items[start:end])

	return Page[T]{
		Count:       count,
		Results:     results,
		Page:        req.Page,
		PageSize:    req.PageSize,
		TotalPages:  totalPages,
		HasNext:     req.Page < totalPages,
		HasPrevious: req.Page > 1,
	}
}

// MapPage converts the results of a page while keeping its counters.
func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := Page[U]{
		Count:       p.Count,
		Results:     make([]U, len(p.Results)),
		Page:        p.Page,
		PageSize:    p.PageSize,
		TotalPages:  p.TotalPages,
		HasNext:     p.HasNext,
		HasPrevious: p.HasPrevious,
	}
	for i, item := range p.Results {
		out.Results[i] = fn(item)
	}
	return out
}
