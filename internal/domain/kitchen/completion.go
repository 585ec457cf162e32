package kitchen

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/kds/backend/internal/domain/shared"
)

// Completion errors
var (
	// ErrInvalidToggle is returned when a toggle does not name both an order and an item
	ErrInvalidToggle = shared.NewDomainError("INVALID_TOGGLE", "order_id and item_id are required")
	// ErrSnapshotNotFound is returned by a SnapshotRepository that holds no snapshot yet
	ErrSnapshotNotFound = errors.New("completion snapshot not found")
	// ErrPersistence wraps any failure to write the durable snapshot
	ErrPersistence = errors.New("completion snapshot persistence failed")
)

// CompletionKey identifies one line item on one order
type CompletionKey struct {
	OrderID string
	ItemID  string
}

// Change is a single toggle of a line item's completion flag
type Change struct {
	Key       CompletionKey
	Completed bool
	// Origin identifies the realtime client that issued the change; empty for
	// changes that arrive over plain HTTP.
	Origin string
}

// Validate checks that the change names both an order and an item
func (c Change) Validate() error {
	if strings.TrimSpace(c.Key.OrderID) == "" || strings.TrimSpace(c.Key.ItemID) == "" {
		return ErrInvalidToggle
	}
	return nil
}

// ChangeListener is notified after a change has been applied and persisted.
// Listeners run inside the store's writer section and must not block.
type ChangeListener func(ctx context.Context, change Change)

// CompletionSet maps order IDs to the set of completed item IDs. Membership is
// the only source of truth for "completed".
type CompletionSet map[string]map[string]struct{}

// Contains reports whether the item is marked complete
func (s CompletionSet) Contains(orderID, itemID string) bool {
	items, ok := s[orderID]
	if !ok {
		return false
	}
	_, ok = items[itemID]
	return ok
}

// Apply sets or clears membership for the change key. Orders whose last item
// is cleared keep an empty set, matching what was persisted before.
func (s CompletionSet) Apply(c Change) {
	items, ok := s[c.Key.OrderID]
	if !ok {
		if !c.Completed {
			return
		}
		items = make(map[string]struct{})
		s[c.Key.OrderID] = items
	}
	if c.Completed {
		items[c.Key.ItemID] = struct{}{}
	} else {
		delete(items, c.Key.ItemID)
	}
}

// Clone returns a deep copy
func (s CompletionSet) Clone() CompletionSet {
	out := make(CompletionSet, len(s))
	for orderID, items := range s {
		copied := make(map[string]struct{}, len(items))
		for itemID := range items {
			copied[itemID] = struct{}{}
		}
		out[orderID] = copied
	}
	return out
}

// ToWire converts the set into the persisted/JSON form. Item IDs are sorted so
// the output is deterministic.
func (s CompletionSet) ToWire() map[string][]string {
	out := make(map[string][]string, len(s))
	for orderID, items := range s {
		ids := make([]string, 0, len(items))
		for itemID := range items {
			ids = append(ids, itemID)
		}
		slices.Sort(ids)
		out[orderID] = ids
	}
	return out
}

// FromWire builds a CompletionSet from its persisted/JSON form. Duplicate item
// IDs collapse into one entry.
func FromWire(m map[string][]string) CompletionSet {
	out := make(CompletionSet, len(m))
	for orderID, ids := range m {
		items := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			items[id] = struct{}{}
		}
		out[orderID] = items
	}
	return out
}

// SnapshotRepository stores the single durable completion snapshot. Save
// overwrites whatever was stored before.
type SnapshotRepository interface {
	Load(ctx context.Context) (map[string][]string, error)
	Save(ctx context.Context, snapshot map[string][]string) error
}
