package models

import (
	"encoding/json"
	"strings"
	"time"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
)

// Progression is the fixed order lifecycle, earliest first.
var Progression = []OrderStatus{StatusPending, StatusPaid, StatusShipped, StatusDelivered}

// Rank is the position in Progression, or -1 for unrecognised values.
func (s OrderStatus) Rank() int {
	for i, p := range Progression {
		if s == p {
			return i
		}
	}
	return -1
}

// Settled reports whether the status is past pending. Unknown values are
// treated like pending.
func (s OrderStatus) Settled() bool {
	return s.Rank() > StatusPending.Rank()
}

func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

type OrderItem struct {
	Product string `json:"product"`
	Qty     int    `json:"qty"`
}

type Order struct {
	ID        string      `json:"_id"`
	Items     []OrderItem `json:"items"`
	Amount    float64     `json:"amount"`
	Address   string      `json:"address"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

type ProgressStep struct {
	Status    OrderStatus `json:"status"`
	Completed bool        `json:"completed"`
}

// Progress lays the order's status over the lifecycle timeline.
func (o Order) Progress() []ProgressStep {
	current := o.Status.Rank()
	steps := make([]ProgressStep, 0, len(Progression))
	for i, s := range Progression {
		steps = append(steps, ProgressStep{Status: s, Completed: i <= current})
	}
	return steps
}

// OrderEvent is the payload of an "orderUpdate" push event.
type OrderEvent struct {
	Order
	OrderID string `json:"orderId,omitempty"`
}

// Resolve returns the order carried by the event, accepting both the full
// record and the {orderId, status} shorthand.
func (e OrderEvent) Resolve() Order {
	o := e.Order
	if o.ID == "" {
		o.ID = e.OrderID
	}
	return o
}
