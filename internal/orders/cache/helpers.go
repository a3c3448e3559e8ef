package cache

import (
	"sort"

	"github.com/helioex/orderdesk/internal/orders/model"
)

// Page bounds a list read. Page numbers start at 1; a zero value means the
// first page with the default size.
type Page struct {
	Number int
	Size   int
}

const defaultPageSize = 50

// FilterOrders keeps the orders matching the filter predicates.
func FilterOrders(orders []*model.Order, filter model.OrderFilter) []*model.Order {
	out := orders[:0:0]
	for _, o := range orders {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	return out
}

// SortOrders orders newest first, durable id as the tiebreak.
func SortOrders(orders []*model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

// Paginate slices one page out of the sorted list.
func Paginate(orders []*model.Order, page Page) []*model.Order {
	if page.Size <= 0 {
		page.Size = defaultPageSize
	}
	if page.Number <= 0 {
		page.Number = 1
	}
	start := (page.Number - 1) * page.Size
	if start >= len(orders) {
		return nil
	}
	end := start + page.Size
	if end > len(orders) {
		end = len(orders)
	}
	return orders[start:end]
}

// Diff compares the cached set against the store's active set by durable id.
// missing holds active rows absent from the cache; candidates holds cached
// rows absent from the active set, which the reconciler re-checks against the
// store before evicting. Cached rows without a durable id are left alone.
func Diff(cached, active []*model.Order) (missing, candidates []*model.Order) {
	cachedIDs := make(map[int64]struct{}, len(cached))
	for _, o := range cached {
		if o.ID > 0 {
			cachedIDs[o.ID] = struct{}{}
		}
	}
	activeIDs := make(map[int64]struct{}, len(active))
	for _, o := range active {
		activeIDs[o.ID] = struct{}{}
		if _, ok := cachedIDs[o.ID]; !ok {
			missing = append(missing, o)
		}
	}
	for _, o := range cached {
		if o.ID <= 0 {
			continue
		}
		if _, ok := activeIDs[o.ID]; !ok {
			candidates = append(candidates, o)
		}
	}
	return missing, candidates
}
