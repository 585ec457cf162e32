package clover

import (
	"encoding/json"

	"github.com/kds/backend/internal/domain/kitchen"
)

// rateLimitMessage is the body message Clover sometimes returns instead of a 429 status
const rateLimitMessage = "429 Too Many Requests"

// Only the fields below are read; everything else in the payload is ignored.

// elements is Clover's list wrapper: {"elements": [...]}
type elements[T any] struct {
	Elements []T `json:"elements"`
}

// errorBody is the shape of Clover error payloads
type errorBody struct {
	Message string `json:"message"`
}

// OrderResponse is an order as returned by /orders and /orders/{id}
type OrderResponse struct {
	ID          string                      `json:"id"`
	CreatedTime int64                       `json:"createdTime"`
	LineItems   *elements[LineItemResponse] `json:"lineItems,omitempty"`
}

// LineItemResponse is a line item as returned by /orders/{id}/line_items
type LineItemResponse struct {
	ID            string                          `json:"id"`
	Name          string                          `json:"name"`
	Modifications *elements[ModificationResponse] `json:"modifications,omitempty"`
}

// ModificationResponse is a line item modification
type ModificationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// isRateLimitBody reports whether body is a JSON object whose message is the
// rate-limit string
func isRateLimitBody(body []byte) bool {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}
	return eb.Message == rateLimitMessage
}

// toOrder converts an order response to the domain model. Embedded line items
// are only present when the caller asked for them.
func (r OrderResponse) toOrder() kitchen.Order {
	order := kitchen.Order{
		ID:          r.ID,
		CreatedTime: r.CreatedTime,
	}
	if r.LineItems != nil {
		order.LineItems = toLineItems(r.LineItems.Elements)
	}
	return order
}

func toLineItems(items []LineItemResponse) []kitchen.LineItem {
	out := make([]kitchen.LineItem, 0, len(items))
	for _, item := range items {
		li := kitchen.LineItem{
			ID:            item.ID,
			Name:          item.Name,
			Modifications: make([]kitchen.Modification, 0),
		}
		if item.Modifications != nil {
			li.Modifications = toModifications(item.Modifications.Elements)
		}
		out = append(out, li)
	}
	return out
}

func toModifications(mods []ModificationResponse) []kitchen.Modification {
	out := make([]kitchen.Modification, 0, len(mods))
	for _, m := range mods {
		out = append(out, kitchen.Modification{ID: m.ID, Name: m.Name})
	}
	return out
}
