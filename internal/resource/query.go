package resource

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
)

// SortOrder is the direction of a collection sort.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// Query captures pagination, sort and filter parameters of a collection read.
type Query struct {
	Page     int
	PageSize int
	SortBy   string
	Order    SortOrder
	Filters  map[string]string
}

// Clone returns a deep copy so callers cannot mutate retained queries.
func (q Query) Clone() Query {
	cloned := q
	if q.Filters != nil {
		cloned.Filters = maps.Clone(q.Filters)
	}
	return cloned
}

// Equal reports whether both queries request the same collection slice.
func (q Query) Equal(other Query) bool {
	return q.Page == other.Page &&
		q.PageSize == other.PageSize &&
		q.SortBy == other.SortBy &&
		q.Order == other.Order &&
		maps.Equal(q.Filters, other.Filters)
}

// Values encodes the query using the REST parameter names.
func (q Query) Values() url.Values {
	values := url.Values{}
	if q.Page > 0 {
		values.Set("pageNumber", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		values.Set("numPerPage", strconv.Itoa(q.PageSize))
	}
	if q.SortBy != "" {
		values.Set("sortBy", q.SortBy)
	}
	if q.Order != "" {
		values.Set("sortOrder", string(q.Order))
	}
	for _, key := range slices.Sorted(maps.Keys(q.Filters)) {
		values.Set(key, q.Filters[key])
	}
	return values
}
