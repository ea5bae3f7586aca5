package event

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

type OrderItemEvent struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	PriceAtTime decimal.Decimal `json:"price_at_time"`
}

// OrderCreatedEvent is published by the order service after the order and its
// reservation have committed. Contact fields are the ones captured on the
// order, not a live join.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID        `json:"order_id"`
	UserID        uuid.UUID        `json:"user_id"`
	UserEmail     string           `json:"user_email"`
	UserFirstName string           `json:"user_first_name"`
	UserLastName  string           `json:"user_last_name"`
	TotalPrice    decimal.Decimal  `json:"total_price"`
	Items         []OrderItemEvent `json:"items"`
	CreatedAt     time.Time        `json:"created_at"`
}

// PaymentProcessedEvent is published by the payment service with the outcome
// of one payment attempt.
type PaymentProcessedEvent struct {
	PaymentID    uuid.UUID       `json:"payment_id"`
	OrderID      uuid.UUID       `json:"order_id"`
	UserID       uuid.UUID       `json:"user_id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       PaymentStatus   `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ProcessedAt  time.Time       `json:"processed_at"`
}
