package dto

import "encoding/json"

const EventOrderPaid = "order.paid"

// WebhookEvent is the commerce provider's envelope; Data is decoded per event type.
type WebhookEvent struct {
	EventID   string          `json:"eventId" binding:"required"`
	EventType string          `json:"eventType" binding:"required"`
	Data      json.RawMessage `json:"data"`
}

type WebhookResponse struct {
	EventID   string             `json:"event_id"`
	EventType string             `json:"event_type"`
	Ignored   bool               `json:"ignored,omitempty"`
	Duplicate bool               `json:"duplicate,omitempty"`
	Issued    int                `json:"issued"`
	Licenses  []*LicenseResponse `json:"licenses,omitempty"`
}
