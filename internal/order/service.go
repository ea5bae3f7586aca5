package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/lifevaluable/brewflow/internal/cart"
	"github.com/lifevaluable/brewflow/internal/event"
	"github.com/lifevaluable/brewflow/internal/inventory"
	"github.com/lifevaluable/brewflow/internal/metrics"
)

var ErrEmptyCart = errors.New("cart is empty")

// UserIdentity is the contact snapshot obtained out-of-band (gateway headers)
// before order creation. Captured onto the order, never live-joined again.
type UserIdentity struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
}

type Service interface {
	// CreateOrderFromCart reserves inventory for the user's cart, persists the
	// order in RESERVED state and clears the cart, all in one transaction,
	// then publishes OrderCreated best-effort after commit.
	CreateOrderFromCart(ctx context.Context, userID uuid.UUID, identity UserIdentity) (*Order, error)
	GetOrderDetails(ctx context.Context, orderID, userID uuid.UUID) (*Order, error)
	GetOrdersHistory(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// UpdateOrderStatus applies the forward-only transition guard on behalf of
	// other services. Does not touch inventory.
	UpdateOrderStatus(ctx context.Context, orderID, userID uuid.UUID, current, next Status) error
	// HandlePaymentOutcome advances the order on payment success and runs the
	// release-and-cancel compensation on failure. Safe under redelivery.
	HandlePaymentOutcome(ctx context.Context, evt event.PaymentProcessedEvent) error
}

// TxBeginner starts the unit of work; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventPublisher sends one serialized event keyed by order id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

type service struct {
	db        TxBeginner
	orders    Repository
	carts     cart.Repository
	ledger    inventory.Ledger
	catalog   inventory.Catalog
	publisher EventPublisher
	m         *metrics.Metrics
}

func NewService(
	db TxBeginner,
	orders Repository,
	carts cart.Repository,
	ledger inventory.Ledger,
	catalog inventory.Catalog,
	publisher EventPublisher,
	m *metrics.Metrics,
) Service {
	return &service{
		db:        db,
		orders:    orders,
		carts:     carts,
		ledger:    ledger,
		catalog:   catalog,
		publisher: publisher,
		m:         m,
	}
}

const maxTransientRetries = 3

// isTransient reports whether the error is a lock or serialization failure
// worth retrying with the same inputs.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.LockNotAvailable, pgerrcode.DeadlockDetected, pgerrcode.SerializationFailure:
		return true
	}
	return false
}

// withTx runs fn inside a transaction: rollback on error or panic, commit
// otherwise.
func (s *service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("service: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("service: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("service: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("service: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// withTxRetry retries the whole transaction a bounded number of times on
// transient lock failures. Business errors pass through untouched.
func (s *service) withTxRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTransientRetries; attempt++ {
		err = s.withTx(ctx, fn)
		if err == nil || !isTransient(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("service: transient failure, retrying transaction")
	}
	return err
}

func (s *service) CreateOrderFromCart(ctx context.Context, userID uuid.UUID, identity UserIdentity) (*Order, error) {
	log.Debug().Stringer("user_id", userID).Msg("service: create order from cart")

	if userID == uuid.Nil {
		return nil, errors.New("service: user id cannot be nil")
	}
	if identity.ID == uuid.Nil {
		return nil, errors.New("service: user identity cannot be empty")
	}
	if userID != identity.ID {
		return nil, fmt.Errorf("service: user id %s does not match identity id %s", userID, identity.ID)
	}

	snapshot, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to read cart snapshot")
		return nil, fmt.Errorf("service: failed to read cart snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		return nil, ErrEmptyCart
	}

	reservations := make([]inventory.Reservation, 0, len(snapshot))
	for _, line := range snapshot {
		reservations = append(reservations, inventory.Reservation{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	var ord *Order
	err = s.withTxRetry(ctx, func(tx pgx.Tx) error {
		reserved, err := s.ledger.ReserveAll(ctx, tx, reservations)
		if err != nil {
			return err
		}

		// Per-item price comes from the product row observed under the lock,
		// not from the earlier cart read.
		products := make(map[uuid.UUID]inventory.Product, len(reserved))
		for _, p := range reserved {
			products[p.ID] = p
		}

		items := make([]OrderItem, 0, len(snapshot))
		for _, line := range snapshot {
			product := products[line.ProductID]
			items = append(items, OrderItem{
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				PriceAtTime: product.Price,
			})
		}

		ord = &Order{
			UserID:        userID,
			UserFirstName: identity.FirstName,
			UserLastName:  identity.LastName,
			UserEmail:     identity.Email,
			Items:         items,
			TotalPrice:    TotalOf(items),
			Status:        StatusReserved,
		}
		if err := s.orders.CreateTx(ctx, tx, ord); err != nil {
			return err
		}

		deleted, err := s.carts.Clear(ctx, tx, userID)
		if err != nil {
			return err
		}
		log.Debug().Stringer("user_id", userID).Int64("deleted_items", deleted).Msg("service: cleared user cart")

		return nil
	})
	if err != nil {
		var insufficient *inventory.InsufficientStockError
		if errors.As(err, &insufficient) {
			s.m.ReservationsRejected.Inc()
			log.Warn().Stringer("user_id", userID).Stringer("product_id", insufficient.ProductID).
				Int("requested", insufficient.Requested).Int("available", insufficient.Available).
				Msg("service: reservation rejected, insufficient stock")
			return nil, err
		}
		if errors.Is(err, inventory.ErrProductNotFound) {
			return nil, err
		}
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to create order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	touched := make([]uuid.UUID, 0, len(reservations))
	for _, res := range reservations {
		touched = append(touched, res.ProductID)
	}
	s.catalog.Invalidate(touched...)
	s.m.OrdersCreated.Inc()

	log.Info().Stringer("order_id", ord.ID).Stringer("user_id", userID).
		Str("total_price", ord.TotalPrice.String()).Msg("service: order created")

	// Publish-after-commit: a failure here leaves a committed order with no
	// event, accepted as a durability gap and reconciled out-of-band.
	s.publishOrderCreated(ctx, ord)

	return ord, nil
}

func (s *service) publishOrderCreated(ctx context.Context, ord *Order) {
	items := make([]event.OrderItemEvent, 0, len(ord.Items))
	for _, item := range ord.Items {
		items = append(items, event.OrderItemEvent{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			PriceAtTime: item.PriceAtTime,
		})
	}

	evt := event.OrderCreatedEvent{
		OrderID:       ord.ID,
		UserID:        ord.UserID,
		UserEmail:     ord.UserEmail,
		UserFirstName: ord.UserFirstName,
		UserLastName:  ord.UserLastName,
		TotalPrice:    ord.TotalPrice,
		Items:         items,
		CreatedAt:     ord.CreatedAt,
	}

	if err := s.publisher.Publish(ctx, ord.ID.String(), evt); err != nil {
		log.Error().Err(err).Stringer("order_id", ord.ID).Msg("service: failed to publish OrderCreated event")
		return
	}
	log.Info().Stringer("order_id", ord.ID).Msg("service: published OrderCreated event")
}

func (s *service) GetOrderDetails(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	if orderID == uuid.Nil {
		return nil, errors.New("service: order id cannot be nil")
	}
	if userID == uuid.Nil {
		return nil, errors.New("service: user id cannot be nil")
	}

	ord, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	// The caller does not get to learn that someone else's order exists.
	if ord.UserID != userID {
		return nil, ErrOrderNotFound
	}

	return ord, nil
}

func (s *service) GetOrdersHistory(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	if userID == uuid.Nil {
		return nil, errors.New("service: user id cannot be nil")
	}

	orders, err := s.orders.GetByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, orderID, userID uuid.UUID, current, next Status) error {
	log.Debug().Stringer("order_id", orderID).Stringer("user_id", userID).
		Stringer("current_status", current).Stringer("new_status", next).Msg("service: update order status")

	if orderID == uuid.Nil {
		return errors.New("service: order id cannot be nil")
	}
	if userID == uuid.Nil {
		return errors.New("service: user id cannot be nil")
	}
	if !current.Valid() || !next.Valid() {
		return fmt.Errorf("service: unknown order status in transition %s -> %s", current, next)
	}
	if !current.CanTransitionTo(next) {
		return &InvalidTransitionError{OrderID: orderID, From: current, To: next}
	}

	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		ord, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if ord.UserID != userID {
			return ErrOrderNotFound
		}
		return s.orders.UpdateStatus(ctx, tx, orderID, current, next)
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrStatusConflict) {
			return err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to update order status")
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("old_status", current).
		Stringer("new_status", next).Msg("service: order status updated")
	return nil
}

func (s *service) HandlePaymentOutcome(ctx context.Context, evt event.PaymentProcessedEvent) error {
	log.Debug().Stringer("order_id", evt.OrderID).Stringer("payment_id", evt.PaymentID).
		Str("status", string(evt.Status)).Msg("service: handle payment outcome")

	if evt.Status == event.PaymentStatusSuccess {
		return s.handlePaymentSuccess(ctx, evt)
	}
	return s.cancelOrder(ctx, evt)
}

func (s *service) handlePaymentSuccess(ctx context.Context, evt event.PaymentProcessedEvent) error {
	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		ord, err := s.orders.GetByIDForUpdate(ctx, tx, evt.OrderID)
		if err != nil {
			return err
		}
		if ord.UserID != evt.UserID {
			log.Warn().Stringer("order_id", evt.OrderID).Stringer("event_user_id", evt.UserID).
				Stringer("order_user_id", ord.UserID).Msg("service: payment event user mismatch, skipping")
			return nil
		}
		if !ord.Status.CanTransitionTo(StatusPaymentProcessed) {
			// Redelivered event for an order that already advanced.
			log.Info().Stringer("order_id", evt.OrderID).Stringer("status", ord.Status).
				Msg("service: payment success ignored, order already past RESERVED")
			return nil
		}
		return s.orders.UpdateStatus(ctx, tx, evt.OrderID, ord.Status, StatusPaymentProcessed)
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// Non-fatal inconsistency between services; do not retry forever.
			log.Warn().Stringer("order_id", evt.OrderID).Msg("service: payment success for unknown order")
			return nil
		}
		log.Error().Err(err).Stringer("order_id", evt.OrderID).Msg("service: failed to apply payment success")
		return fmt.Errorf("service: failed to apply payment success: %w", err)
	}

	log.Info().Stringer("order_id", evt.OrderID).Stringer("payment_id", evt.PaymentID).
		Msg("service: order advanced to PAYMENT_PROCESSED")
	return nil
}

// cancelOrder is the compensation path: release all reserved inventory under
// the same ordered locking as reservation, then set CANCELLED. Already
// cancelled orders are a no-op, which makes redelivery harmless.
func (s *service) cancelOrder(ctx context.Context, evt event.PaymentProcessedEvent) error {
	var touched []uuid.UUID
	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		touched = nil

		ord, err := s.orders.GetByIDForUpdate(ctx, tx, evt.OrderID)
		if err != nil {
			return err
		}
		if ord.UserID != evt.UserID {
			log.Warn().Stringer("order_id", evt.OrderID).Stringer("event_user_id", evt.UserID).
				Stringer("order_user_id", ord.UserID).Msg("service: payment event user mismatch, skipping")
			return nil
		}
		if ord.Status == StatusCancelled {
			log.Info().Stringer("order_id", evt.OrderID).Msg("service: order already cancelled, skipping compensation")
			return nil
		}

		reservations := make([]inventory.Reservation, 0, len(ord.Items))
		for _, item := range ord.Items {
			reservations = append(reservations, inventory.Reservation{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
			touched = append(touched, item.ProductID)
		}
		if err := s.ledger.ReleaseAll(ctx, tx, reservations); err != nil {
			return err
		}

		// Cancellation bypasses the forward-only guard.
		return s.orders.UpdateStatus(ctx, tx, evt.OrderID, ord.Status, StatusCancelled)
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", evt.OrderID).Msg("service: payment failure for unknown order")
			return nil
		}
		log.Error().Err(err).Stringer("order_id", evt.OrderID).Msg("service: failed to cancel order")
		return fmt.Errorf("service: failed to cancel order: %w", err)
	}

	if len(touched) > 0 {
		s.catalog.Invalidate(touched...)
	}

	log.Info().Stringer("order_id", evt.OrderID).Str("reason", evt.ErrorMessage).
		Msg("service: order cancelled, inventory released")
	return nil
}
