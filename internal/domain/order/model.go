package order

import "time"

type LineItem struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity,omitempty"`
}

// Order is the paid order delivered by the commerce provider.
// CustomerEmail is not validated here: a paid order is honoured even when the
// address is unusable, only the delivery email is skipped.
type Order struct {
	ID            string     `json:"orderId" binding:"required"`
	CustomerID    string     `json:"customerId"`
	CustomerEmail string     `json:"customerEmail"`
	CreatedAt     time.Time  `json:"createdAt"`
	Currency      string     `json:"currency,omitempty"`
	LineItems     []LineItem `json:"lineItems" binding:"required,min=1"`
}
