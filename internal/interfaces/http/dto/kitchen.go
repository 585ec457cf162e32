package dto

import "github.com/kds/backend/internal/domain/kitchen"

// ToggleRequest is the body of POST /api/completed_orders
type ToggleRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	ItemID    string `json:"item_id" binding:"required"`
	Completed *bool  `json:"completed" binding:"required"`
}

// OrdersResponse is the body of GET /api/orders. The display page reads the
// list from "elements", mirroring the upstream API wrapper.
type OrdersResponse struct {
	Elements []kitchen.EnrichedOrder `json:"elements"`
}

// StatusResponse acknowledges a completion toggle
type StatusResponse struct {
	Status string `json:"status"`
}

// StatusSuccess is the only status returned by StatusResponse
const StatusSuccess = "success"
