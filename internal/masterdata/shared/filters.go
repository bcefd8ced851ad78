package shared

// ListFilters carries common listing parameters for master data queries.
type ListFilters struct {
	Search  string
	SortBy  string
	SortDir string
	Page    int
	Limit   int
}
