package payment

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lifevaluable/brewflow/internal/event"
	"github.com/lifevaluable/brewflow/internal/metrics"
)

const declinedMessage = "Insufficient funds or card declined"

// Publisher sends one serialized event keyed by order id.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Service simulates a payment provider: it consumes order-created events,
// waits a little, decides the outcome by a configured probability and
// publishes the result. It keeps no state of its own.
type Service struct {
	publisher   Publisher
	m           *metrics.Metrics
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
}

func NewService(publisher Publisher, m *metrics.Metrics, failureRate float64, minDelay, maxDelay time.Duration) *Service {
	return &Service{
		publisher:   publisher,
		m:           m,
		failureRate: failureRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) ProcessPayment(ctx context.Context, orderEvent event.OrderCreatedEvent) error {
	log.Debug().Stringer("order_id", orderEvent.OrderID).Stringer("user_id", orderEvent.UserID).
		Str("total_price", orderEvent.TotalPrice.String()).Msg("service: processing payment")

	s.simulateDelay(ctx)

	status := event.PaymentStatusSuccess
	errorMessage := ""
	if s.rng.Float64() < s.failureRate {
		status = event.PaymentStatusFailed
		errorMessage = declinedMessage
	}

	paymentID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("service: failed to generate payment ID: %w", err)
	}

	paymentEvent := event.PaymentProcessedEvent{
		PaymentID:    paymentID,
		OrderID:      orderEvent.OrderID,
		UserID:       orderEvent.UserID,
		TotalAmount:  orderEvent.TotalPrice,
		Status:       status,
		ErrorMessage: errorMessage,
		ProcessedAt:  time.Now().UTC(),
	}

	if err := s.publisher.Publish(ctx, orderEvent.OrderID.String(), paymentEvent); err != nil {
		return fmt.Errorf("service: failed to publish PaymentProcessed event: %w", err)
	}

	s.m.PaymentsProcessed.WithLabelValues(string(status)).Inc()
	log.Info().Stringer("payment_id", paymentID).Stringer("order_id", orderEvent.OrderID).
		Str("status", string(status)).Msg("service: payment processed")
	return nil
}

func (s *Service) simulateDelay(ctx context.Context) {
	delay := s.minDelay
	if s.maxDelay > s.minDelay {
		delay += time.Duration(s.rng.Int63n(int64(s.maxDelay - s.minDelay)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
