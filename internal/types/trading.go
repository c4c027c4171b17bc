package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is exactly one of the supported sides
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the execution style of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Valid reports whether t is a supported order type
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// OrderStatus is the gateway view of an order's lifecycle state.
// The exchange owns the state; the gateway only observes it.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending: {StatusOpen, StatusRejected},
	StatusOpen:    {StatusFilled, StatusCancelled},
}

// Terminal reports whether no further transitions are possible
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderIntent is a caller's request to place an order
type OrderIntent struct {
	ClientOrderID string    `json:"client_order_id"`
	ProductID     string    `json:"product_id"`
	Side          Side      `json:"side"`
	OrderType     OrderType `json:"order_type"`
	BaseSize      string    `json:"base_size"`
	LimitPrice    string    `json:"limit_price,omitempty"`
	PostOnly      bool      `json:"post_only,omitempty"`
}

// Order is the exchange's representation of an order, normalised for the gateway
type Order struct {
	OrderID            string      `json:"order_id"`
	ClientOrderID      string      `json:"client_order_id"`
	ProductID          string      `json:"product_id"`
	Side               Side        `json:"side"`
	OrderType          OrderType   `json:"order_type"`
	BaseSize           string      `json:"base_size"`
	LimitPrice         string      `json:"limit_price,omitempty"`
	Status             OrderStatus `json:"status"`
	FilledSize         string      `json:"filled_size,omitempty"`
	AverageFilledPrice string      `json:"average_filled_price,omitempty"`
	TotalFees          string      `json:"total_fees,omitempty"`
	RejectReason       string      `json:"reject_reason,omitempty"`
	CreatedTime        time.Time   `json:"created_time,omitempty"`
}

// OrderFilter narrows an order listing
type OrderFilter struct {
	ProductID string        `form:"product_id"`
	Statuses  []OrderStatus `form:"status"`
	Side      Side          `form:"side"`
	Limit     int           `form:"limit"`
}

// CancelResult is the exchange's answer to a cancellation request
type CancelResult struct {
	OrderID       string `json:"order_id"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Amount is a decimal quantity that callers may send as a JSON string or number
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = Amount(num.String())
	return nil
}

func (a Amount) String() string {
	return string(a)
}
