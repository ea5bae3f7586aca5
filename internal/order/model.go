package order

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusReserved         Status = "RESERVED"
	StatusPaymentProcessed Status = "PAYMENT_PROCESSED"
	StatusConfirmed        Status = "CONFIRMED"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
)

// statusRank fixes the total order of the forward path. CANCELLED carries no
// rank: it is reachable only through the cancellation path, never through the
// generic forward guard.
var statusRank = map[Status]int{
	StatusCreated:          0,
	StatusReserved:         1,
	StatusPaymentProcessed: 2,
	StatusConfirmed:        3,
	StatusCompleted:        4,
}

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether target is strictly later than s in the
// fixed forward order. Any later status is reachable in one step; skipping
// intermediate states is accepted on purpose.
func (s Status) CanTransitionTo(target Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[target]
	if !ok {
		return false
	}
	return to > from
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// InvalidTransitionError is returned when the forward-only guard rejects a
// status change.
type InvalidTransitionError struct {
	OrderID uuid.UUID
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for order %s: %s -> %s", e.OrderID, e.From, e.To)
}

type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	PriceAtTime decimal.Decimal `json:"price_at_time" db:"price_at_time"`
}

type Order struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	UserFirstName string          `json:"user_first_name" db:"user_first_name"`
	UserLastName  string          `json:"user_last_name" db:"user_last_name"`
	UserEmail     string          `json:"user_email" db:"user_email"`
	Items         []OrderItem     `json:"items" db:"-"`
	TotalPrice    decimal.Decimal `json:"total_price" db:"total_price"`
	Status        Status          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// TotalOf computes the order total as the exact sum of quantity times the
// price captured at order time. Never recomputed from live product prices.
func TotalOf(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.PriceAtTime.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
