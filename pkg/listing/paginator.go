// Package listing implements the paged list protocol shared by order and
// wallet histories: reset on filter change, append on scroll, replace on refresh.
package listing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/atomic"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 20

// Error values returned by the paginator.
var (
	ErrInvalidPaginatorConfig = errors.New("invalid paginator config")
	ErrSuperseded             = errors.New("page superseded by a newer load")
)

// Filter narrows a listing. Empty values are dropped from the query.
type Filter map[string]string

// Query is passed to the fetch function for a single page.
type Query struct {
	PageNumber int
	PageSize   int
	Filter     Filter
}

// FetchFunc retrieves one page of items in server order.
type FetchFunc[T any] func(ctx context.Context, query Query) ([]T, error)

// Page is the accumulated view of a listing.
type Page[T any] struct {
	Items      []T
	PageNumber int
	PageSize   int
	HasMore    bool
}

// Paginator accumulates pages fetched through a FetchFunc.
type Paginator[T any] struct {
	fetch    FetchFunc[T]
	pageSize int

	mutex      sync.Mutex
	filter     Filter
	items      []T
	pageNumber int
	hasMore    bool
	generation uint64

	inFlight atomic.Int32
}

// NewPaginator wires a Paginator.
func NewPaginator[T any](fetch FetchFunc[T], pageSize int) (*Paginator[T], error) {
	if fetch == nil {
		return nil, fmt.Errorf("%w: fetch function is nil", ErrInvalidPaginatorConfig)
	}
	if pageSize < 0 {
		return nil, fmt.Errorf("%w: page size %d", ErrInvalidPaginatorConfig, pageSize)
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator[T]{fetch: fetch, pageSize: pageSize}, nil
}

// Loading reports whether a fetch is in flight.
func (paginator *Paginator[T]) Loading() bool {
	return paginator.inFlight.Load() > 0
}

// Snapshot returns the accumulated page without fetching.
func (paginator *Paginator[T]) Snapshot() Page[T] {
	paginator.mutex.Lock()
	defer paginator.mutex.Unlock()
	return paginator.snapshotLocked()
}

// Load resets the listing to page 1 under filter. Accumulated items from a
// different filter are dropped before the fetch starts.
func (paginator *Paginator[T]) Load(ctx context.Context, filter Filter) (Page[T], error) {
	normalized := normalizeFilter(filter)
	paginator.mutex.Lock()
	if !maps.Equal(normalized, paginator.filter) {
		paginator.items = nil
		paginator.pageNumber = 0
		paginator.hasMore = false
	}
	paginator.filter = normalized
	paginator.mutex.Unlock()
	return paginator.reload(ctx)
}

// Refresh replaces the listing with page 1 of the current filter.
func (paginator *Paginator[T]) Refresh(ctx context.Context) (Page[T], error) {
	return paginator.reload(ctx)
}

// LoadMore appends the next page. It is a no-op when the last page was short
// or another fetch is in flight.
func (paginator *Paginator[T]) LoadMore(ctx context.Context) (Page[T], error) {
	paginator.mutex.Lock()
	if !paginator.hasMore || paginator.inFlight.Load() > 0 {
		page := paginator.snapshotLocked()
		paginator.mutex.Unlock()
		return page, nil
	}
	generation := paginator.generation
	query := Query{PageNumber: paginator.pageNumber + 1, PageSize: paginator.pageSize, Filter: maps.Clone(paginator.filter)}
	paginator.inFlight.Inc()
	paginator.mutex.Unlock()
	defer paginator.inFlight.Dec()

	items, err := paginator.fetch(ctx, query)

	paginator.mutex.Lock()
	defer paginator.mutex.Unlock()
	if generation != paginator.generation {
		return paginator.snapshotLocked(), ErrSuperseded
	}
	if err != nil {
		return paginator.snapshotLocked(), err
	}
	paginator.items = append(paginator.items, items...)
	paginator.pageNumber = query.PageNumber
	paginator.hasMore = len(items) >= paginator.pageSize
	return paginator.snapshotLocked(), nil
}

func (paginator *Paginator[T]) reload(ctx context.Context) (Page[T], error) {
	paginator.mutex.Lock()
	paginator.generation++
	generation := paginator.generation
	query := Query{PageNumber: 1, PageSize: paginator.pageSize, Filter: maps.Clone(paginator.filter)}
	paginator.inFlight.Inc()
	paginator.mutex.Unlock()
	defer paginator.inFlight.Dec()

	items, err := paginator.fetch(ctx, query)

	paginator.mutex.Lock()
	defer paginator.mutex.Unlock()
	if generation != paginator.generation {
		return paginator.snapshotLocked(), ErrSuperseded
	}
	if err != nil {
		return paginator.snapshotLocked(), err
	}
	paginator.items = append([]T(nil), items...)
	paginator.pageNumber = 1
	paginator.hasMore = len(items) >= paginator.pageSize
	return paginator.snapshotLocked(), nil
}

func (paginator *Paginator[T]) snapshotLocked() Page[T] {
	pageNumber := paginator.pageNumber
	if pageNumber < 1 {
		pageNumber = 1
	}
	return Page[T]{
		Items:      append([]T(nil), paginator.items...),
		PageNumber: pageNumber,
		PageSize:   paginator.pageSize,
		HasMore:    paginator.hasMore,
	}
}

func normalizeFilter(filter Filter) Filter {
	normalized := Filter{}
	for key, value := range filter {
		if value != "" {
			normalized[key] = value
		}
	}
	return normalized
}
