// Package kitchen holds the kitchen display domain: upstream orders, their
// enriched display form, and the shared completion state.
package kitchen

import (
	"cmp"
	"slices"
	"time"
)

// Order is a raw upstream order snapshot. Orders are fetched fresh on every
// poll and never persisted by this service.
type Order struct {
	ID          string
	CreatedTime int64 // milliseconds since epoch, assigned upstream
	LineItems   []LineItem
}

// LineItem is a single dish on an order
type LineItem struct {
	ID            string
	Name          string
	Modifications []Modification
}

// Modification is a customization attached to a line item
type Modification struct {
	ID   string
	Name string
}

// CreatedAt returns the order creation time in the given location
func (o Order) CreatedAt(loc *time.Location) time.Time {
	t := time.UnixMilli(o.CreatedTime)
	if loc != nil {
		t = t.In(loc)
	}
	return t
}

// IsSameDay reports whether the order was created on the same calendar day as
// now, with both instants evaluated in loc.
func (o Order) IsSameDay(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	cy, cm, cd := o.CreatedAt(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return cy == ny && cm == nm && cd == nd
}

// SortNewestFirst sorts orders by creation time, newest first. The sort is
// stable: orders with equal timestamps keep their fetch order.
func SortNewestFirst(orders []Order) {
	slices.SortStableFunc(orders, func(a, b Order) int {
		return cmp.Compare(b.CreatedTime, a.CreatedTime)
	})
}

// EnrichedOrder is the display form of an order returned by the poll endpoint
type EnrichedOrder struct {
	ID                       string             `json:"id"`
	CreatedTimeRaw           int64              `json:"createdTimeRaw"`
	CreatedTimeHumanReadable string             `json:"createdTimeHumanReadable"`
	LineItems                []EnrichedLineItem `json:"lineItems"`
}

// EnrichedLineItem is a line item with its completion flag merged in
type EnrichedLineItem struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Completed     bool                   `json:"completed"`
	Modifications []EnrichedModification `json:"modifications"`
}

// EnrichedModification is the display form of a modification
type EnrichedModification struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Enrich builds the display form of the order. Names are normalized, completion
// flags are read from completions, and the creation time is rendered in loc
// using layout.
func (o Order) Enrich(completions CompletionSet, loc *time.Location, layout string) EnrichedOrder {
	enriched := EnrichedOrder{
		ID:                       o.ID,
		CreatedTimeRaw:           o.CreatedTime,
		CreatedTimeHumanReadable: o.CreatedAt(loc).Format(layout),
		LineItems:                make([]EnrichedLineItem, 0, len(o.LineItems)),
	}

	for _, item := range o.LineItems {
		mods := make([]EnrichedModification, 0, len(item.Modifications))
		for _, mod := range item.Modifications {
			mods = append(mods, EnrichedModification{
				ID:   mod.ID,
				Name: NormalizeName(mod.Name),
			})
		}
		enriched.LineItems = append(enriched.LineItems, EnrichedLineItem{
			ID:            item.ID,
			Name:          NormalizeName(item.Name),
			Completed:     completions.Contains(o.ID, item.ID),
			Modifications: mods,
		})
	}

	return enriched
}
