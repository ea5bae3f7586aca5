package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lifevaluable/brewflow/internal/event"
)

// Sender delivers one rendered message to a recipient. The log-based sender
// stands in for the SMTP integration, which lives outside this core.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

type logSender struct{}

func NewLogSender() Sender {
	return &logSender{}
}

func (logSender) Send(_ context.Context, recipient, subject, body string) error {
	log.Info().Str("recipient", recipient).Str("subject", subject).Str("body", body).
		Msg("Notification sent")
	return nil
}

// Service renders user-facing messages for both saga events. Read-only
// consumer; nothing here feeds back into the order flow. Payment events carry
// no contact fields, so the recipient is remembered from the order event.
type Service struct {
	sender Sender

	mu     sync.Mutex
	emails map[uuid.UUID]string
}

func NewService(sender Sender) *Service {
	return &Service{sender: sender, emails: make(map[uuid.UUID]string)}
}

func (s *Service) NotifyOrderCreated(ctx context.Context, evt event.OrderCreatedEvent) error {
	s.mu.Lock()
	s.emails[evt.OrderID] = evt.UserEmail
	s.mu.Unlock()

	subject := fmt.Sprintf("Order %s received", evt.OrderID)
	body := fmt.Sprintf("Hi %s, we received your order for %s. We will let you know once payment completes.",
		evt.UserFirstName, evt.TotalPrice.StringFixed(2))
	return s.sender.Send(ctx, evt.UserEmail, subject, body)
}

func (s *Service) NotifyPaymentProcessed(ctx context.Context, evt event.PaymentProcessedEvent) error {
	s.mu.Lock()
	recipient := s.emails[evt.OrderID]
	delete(s.emails, evt.OrderID)
	s.mu.Unlock()

	if recipient == "" {
		log.Warn().Stringer("order_id", evt.OrderID).Msg("No recipient known for payment event")
	}

	if evt.Status == event.PaymentStatusSuccess {
		subject := fmt.Sprintf("Payment for order %s confirmed", evt.OrderID)
		body := fmt.Sprintf("Your payment of %s was successful.", evt.TotalAmount.StringFixed(2))
		return s.sender.Send(ctx, recipient, subject, body)
	}

	subject := fmt.Sprintf("Payment for order %s failed", evt.OrderID)
	body := fmt.Sprintf("Your payment of %s failed: %s. The order was cancelled.",
		evt.TotalAmount.StringFixed(2), evt.ErrorMessage)
	return s.sender.Send(ctx, recipient, subject, body)
}
