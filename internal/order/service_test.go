package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifevaluable/brewflow/internal/cart"
	"github.com/lifevaluable/brewflow/internal/event"
	"github.com/lifevaluable/brewflow/internal/inventory"
	"github.com/lifevaluable/brewflow/internal/metrics"
	"github.com/lifevaluable/brewflow/internal/order"
)

var (
	userID    = uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	orderID   = uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440000"))
	productX  = uuid.Must(uuid.FromString("00000000-0000-0000-0000-00000000000a"))
	productY  = uuid.Must(uuid.FromString("00000000-0000-0000-0000-00000000000b"))
	paymentID = uuid.Must(uuid.FromString("99990000-0000-0000-0000-000000000001"))
)

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeBeginner struct{}

func (fakeBeginner) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type mockOrderRepository struct {
	createTxFunc         func(ctx context.Context, q order.Querier, ord *order.Order) error
	getByIDFunc          func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	getByUserIDFunc      func(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	getByIDForUpdateFunc func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error)
	updateStatusFunc     func(ctx context.Context, q order.Querier, orderID uuid.UUID, current, next order.Status) error
}

func (m *mockOrderRepository) CreateTx(ctx context.Context, q order.Querier, ord *order.Order) error {
	return m.createTxFunc(ctx, q, ord)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	return m.getByUserIDFunc(ctx, userID)
}

func (m *mockOrderRepository) GetByIDForUpdate(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
	return m.getByIDForUpdateFunc(ctx, q, id)
}

func (m *mockOrderRepository) UpdateStatus(ctx context.Context, q order.Querier, orderID uuid.UUID, current, next order.Status) error {
	return m.updateStatusFunc(ctx, q, orderID, current, next)
}

type mockCartRepository struct {
	snapshotFunc func(ctx context.Context, userID uuid.UUID) ([]cart.Item, error)
	clearFunc    func(ctx context.Context, q cart.Querier, userID uuid.UUID) (int64, error)
}

func (m *mockCartRepository) Snapshot(ctx context.Context, userID uuid.UUID) ([]cart.Item, error) {
	return m.snapshotFunc(ctx, userID)
}

func (m *mockCartRepository) UpsertItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*cart.Item, error) {
	panic("not used")
}

func (m *mockCartRepository) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	panic("not used")
}

func (m *mockCartRepository) Clear(ctx context.Context, q cart.Querier, userID uuid.UUID) (int64, error) {
	return m.clearFunc(ctx, q, userID)
}

type mockLedger struct {
	reserveAllFunc func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) ([]inventory.Product, error)
	releaseAllFunc func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) error
}

func (m *mockLedger) ReserveAll(ctx context.Context, q inventory.Querier, items []inventory.Reservation) ([]inventory.Product, error) {
	return m.reserveAllFunc(ctx, q, items)
}

func (m *mockLedger) ReleaseAll(ctx context.Context, q inventory.Querier, items []inventory.Reservation) error {
	return m.releaseAllFunc(ctx, q, items)
}

type mockCatalog struct {
	invalidated [][]uuid.UUID
}

func (m *mockCatalog) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	panic("not used")
}

func (m *mockCatalog) GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	panic("not used")
}

func (m *mockCatalog) Invalidate(ids ...uuid.UUID) {
	m.invalidated = append(m.invalidated, ids)
}

type published struct {
	key     string
	payload any
}

type mockPublisher struct {
	events []published
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, key string, payload any) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, published{key: key, payload: payload})
	return nil
}

type serviceFixture struct {
	orders    *mockOrderRepository
	carts     *mockCartRepository
	ledger    *mockLedger
	catalog   *mockCatalog
	publisher *mockPublisher
	svc       order.Service
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		orders:    &mockOrderRepository{},
		carts:     &mockCartRepository{},
		ledger:    &mockLedger{},
		catalog:   &mockCatalog{},
		publisher: &mockPublisher{},
	}
	m := metrics.NewWith(prometheus.NewRegistry(), "test")
	f.svc = order.NewService(fakeBeginner{}, f.orders, f.carts, f.ledger, f.catalog, f.publisher, m)
	return f
}

func twoLineCart() []cart.Item {
	return []cart.Item{
		{UserID: userID, ProductID: productX, Quantity: 2, Price: decimal.RequireFromString("9.50")},
		{UserID: userID, ProductID: productY, Quantity: 1, Price: decimal.RequireFromString("4.75")},
	}
}

func lockedProducts() []inventory.Product {
	return []inventory.Product{
		{ID: productX, Name: "Espresso Beans", Price: decimal.RequireFromString("10.00"), StockQuantity: 3},
		{ID: productY, Name: "Filter Paper", Price: decimal.RequireFromString("5.00"), StockQuantity: 4},
	}
}

func TestService_CreateOrderFromCart(t *testing.T) {
	identity := order.UserIdentity{ID: userID, Email: "jo@example.com", FirstName: "Jo", LastName: "Brew"}

	t.Run("nil_user_id", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CreateOrderFromCart(context.Background(), uuid.Nil, identity)
		assert.Error(t, err)
	})

	t.Run("identity_mismatch", func(t *testing.T) {
		f := newFixture()
		other := identity
		other.ID = orderID
		_, err := f.svc.CreateOrderFromCart(context.Background(), userID, other)
		assert.Error(t, err)
	})

	t.Run("empty_cart", func(t *testing.T) {
		f := newFixture()
		f.carts.snapshotFunc = func(ctx context.Context, id uuid.UUID) ([]cart.Item, error) {
			return []cart.Item{}, nil
		}

		_, err := f.svc.CreateOrderFromCart(context.Background(), userID, identity)
		assert.ErrorIs(t, err, order.ErrEmptyCart)
	})

	t.Run("insufficient_stock_aborts_everything", func(t *testing.T) {
		f := newFixture()
		f.carts.snapshotFunc = func(ctx context.Context, id uuid.UUID) ([]cart.Item, error) {
			return twoLineCart(), nil
		}
		f.ledger.reserveAllFunc = func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) ([]inventory.Product, error) {
			return nil, &inventory.InsufficientStockError{ProductID: productY, Requested: 1, Available: 0}
		}
		createCalled := false
		f.orders.createTxFunc = func(ctx context.Context, q order.Querier, ord *order.Order) error {
			createCalled = true
			return nil
		}

		_, err := f.svc.CreateOrderFromCart(context.Background(), userID, identity)

		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, productY, insufficient.ProductID)
		assert.False(t, createCalled, "no order should be persisted when reservation fails")
		assert.Empty(t, f.publisher.events, "no event should be published when reservation fails")
		assert.Empty(t, f.catalog.invalidated, "no cache invalidation when nothing changed")
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture()
		f.carts.snapshotFunc = func(ctx context.Context, id uuid.UUID) ([]cart.Item, error) {
			return twoLineCart(), nil
		}
		f.ledger.reserveAllFunc = func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) ([]inventory.Product, error) {
			assert.Len(t, items, 2)
			return lockedProducts(), nil
		}
		var created *order.Order
		f.orders.createTxFunc = func(ctx context.Context, q order.Querier, ord *order.Order) error {
			ord.ID = orderID
			created = ord
			return nil
		}
		cleared := false
		f.carts.clearFunc = func(ctx context.Context, q cart.Querier, id uuid.UUID) (int64, error) {
			cleared = true
			return 2, nil
		}

		ord, err := f.svc.CreateOrderFromCart(context.Background(), userID, identity)
		require.NoError(t, err)
		require.NotNil(t, created)

		assert.Equal(t, order.StatusReserved, ord.Status)
		// priceAtTime comes from the locked product rows, not the cart read.
		assert.Equal(t, "10.00", ord.Items[0].PriceAtTime.StringFixed(2))
		assert.Equal(t, "5.00", ord.Items[1].PriceAtTime.StringFixed(2))
		assert.Equal(t, "25.00", ord.TotalPrice.StringFixed(2))
		assert.Equal(t, "jo@example.com", ord.UserEmail)
		assert.True(t, cleared, "cart should be cleared in the same unit of work")

		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, orderID.String(), f.publisher.events[0].key)
		evt, ok := f.publisher.events[0].payload.(event.OrderCreatedEvent)
		require.True(t, ok)
		assert.Equal(t, orderID, evt.OrderID)
		assert.Equal(t, "25.00", evt.TotalPrice.StringFixed(2))
		assert.Len(t, evt.Items, 2)

		require.Len(t, f.catalog.invalidated, 1)
		assert.ElementsMatch(t, []uuid.UUID{productX, productY}, f.catalog.invalidated[0])
	})

	t.Run("publish_failure_keeps_order", func(t *testing.T) {
		f := newFixture()
		f.publisher.err = errors.New("broker unavailable")
		f.carts.snapshotFunc = func(ctx context.Context, id uuid.UUID) ([]cart.Item, error) {
			return twoLineCart(), nil
		}
		f.ledger.reserveAllFunc = func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) ([]inventory.Product, error) {
			return lockedProducts(), nil
		}
		f.orders.createTxFunc = func(ctx context.Context, q order.Querier, ord *order.Order) error {
			ord.ID = orderID
			return nil
		}
		f.carts.clearFunc = func(ctx context.Context, q cart.Querier, id uuid.UUID) (int64, error) {
			return 2, nil
		}

		ord, err := f.svc.CreateOrderFromCart(context.Background(), userID, identity)
		require.NoError(t, err, "publish failure must not fail the committed order")
		assert.Equal(t, orderID, ord.ID)
	})

	t.Run("retries_transient_failures", func(t *testing.T) {
		f := newFixture()
		f.carts.snapshotFunc = func(ctx context.Context, id uuid.UUID) ([]cart.Item, error) {
			return twoLineCart(), nil
		}
		attempts := 0
		f.ledger.reserveAllFunc = func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) ([]inventory.Product, error) {
			attempts++
			if attempts < 3 {
				return nil, &pgconn.PgError{Code: "40P01"} // deadlock_detected
			}
			return lockedProducts(), nil
		}
		f.orders.createTxFunc = func(ctx context.Context, q order.Querier, ord *order.Order) error {
			ord.ID = orderID
			return nil
		}
		f.carts.clearFunc = func(ctx context.Context, q cart.Querier, id uuid.UUID) (int64, error) {
			return 2, nil
		}

		_, err := f.svc.CreateOrderFromCart(context.Background(), userID, identity)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})
}

func TestService_HandlePaymentOutcome_Success(t *testing.T) {
	successEvent := event.PaymentProcessedEvent{
		PaymentID:   paymentID,
		OrderID:     orderID,
		UserID:      userID,
		TotalAmount: decimal.RequireFromString("25.00"),
		Status:      event.PaymentStatusSuccess,
	}

	t.Run("advances_reserved_order", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: userID, Status: order.StatusReserved}, nil
		}
		var gotCurrent, gotNext order.Status
		f.orders.updateStatusFunc = func(ctx context.Context, q order.Querier, id uuid.UUID, current, next order.Status) error {
			gotCurrent, gotNext = current, next
			return nil
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), successEvent)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReserved, gotCurrent)
		assert.Equal(t, order.StatusPaymentProcessed, gotNext)
	})

	t.Run("redelivery_is_noop", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: userID, Status: order.StatusPaymentProcessed}, nil
		}
		f.orders.updateStatusFunc = func(ctx context.Context, q order.Querier, id uuid.UUID, current, next order.Status) error {
			t.Fatal("status must not be updated on redelivery")
			return nil
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), successEvent)
		assert.NoError(t, err)
	})

	t.Run("unknown_order_is_nonfatal", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return nil, order.ErrOrderNotFound
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), successEvent)
		assert.NoError(t, err)
	})

	t.Run("foreign_user_is_skipped", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: paymentID, Status: order.StatusReserved}, nil
		}
		f.orders.updateStatusFunc = func(ctx context.Context, q order.Querier, id uuid.UUID, current, next order.Status) error {
			t.Fatal("status must not be updated for a user mismatch")
			return nil
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), successEvent)
		assert.NoError(t, err)
	})
}

func TestService_HandlePaymentOutcome_Failure(t *testing.T) {
	failedEvent := event.PaymentProcessedEvent{
		PaymentID:    paymentID,
		OrderID:      orderID,
		UserID:       userID,
		TotalAmount:  decimal.RequireFromString("25.00"),
		Status:       event.PaymentStatusFailed,
		ErrorMessage: "Insufficient funds or card declined",
	}

	reservedOrder := func() *order.Order {
		return &order.Order{
			ID:     orderID,
			UserID: userID,
			Status: order.StatusReserved,
			Items: []order.OrderItem{
				{ProductID: productX, Quantity: 2, PriceAtTime: decimal.RequireFromString("10.00")},
				{ProductID: productY, Quantity: 1, PriceAtTime: decimal.RequireFromString("5.00")},
			},
		}
	}

	t.Run("releases_inventory_and_cancels", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return reservedOrder(), nil
		}
		var released []inventory.Reservation
		f.ledger.releaseAllFunc = func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) error {
			released = items
			return nil
		}
		var gotNext order.Status
		f.orders.updateStatusFunc = func(ctx context.Context, q order.Querier, id uuid.UUID, current, next order.Status) error {
			gotNext = next
			return nil
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), failedEvent)
		require.NoError(t, err)

		assert.Equal(t, order.StatusCancelled, gotNext)
		assert.ElementsMatch(t, []inventory.Reservation{
			{ProductID: productX, Quantity: 2},
			{ProductID: productY, Quantity: 1},
		}, released)
		require.Len(t, f.catalog.invalidated, 1)
		assert.ElementsMatch(t, []uuid.UUID{productX, productY}, f.catalog.invalidated[0])
	})

	t.Run("already_cancelled_is_noop", func(t *testing.T) {
		f := newFixture()
		ord := reservedOrder()
		ord.Status = order.StatusCancelled
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return ord, nil
		}
		f.ledger.releaseAllFunc = func(ctx context.Context, q inventory.Querier, items []inventory.Reservation) error {
			t.Fatal("inventory must not be released twice")
			return nil
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), failedEvent)
		assert.NoError(t, err)
		assert.Empty(t, f.catalog.invalidated)
	})

	t.Run("unknown_order_is_nonfatal", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return nil, order.ErrOrderNotFound
		}

		err := f.svc.HandlePaymentOutcome(context.Background(), failedEvent)
		assert.NoError(t, err)
	})
}

func TestService_UpdateOrderStatus(t *testing.T) {
	t.Run("invalid_transition", func(t *testing.T) {
		f := newFixture()
		err := f.svc.UpdateOrderStatus(context.Background(), orderID, userID, order.StatusConfirmed, order.StatusReserved)

		var invalid *order.InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, order.StatusConfirmed, invalid.From)
		assert.Equal(t, order.StatusReserved, invalid.To)
	})

	t.Run("cancelled_is_rejected_as_target", func(t *testing.T) {
		f := newFixture()
		err := f.svc.UpdateOrderStatus(context.Background(), orderID, userID, order.StatusReserved, order.StatusCancelled)
		assert.Error(t, err)
	})

	t.Run("foreign_order_reported_as_not_found", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: paymentID, Status: order.StatusPaymentProcessed}, nil
		}

		err := f.svc.UpdateOrderStatus(context.Background(), orderID, userID, order.StatusPaymentProcessed, order.StatusConfirmed)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("skipping_states_is_allowed", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDForUpdateFunc = func(ctx context.Context, q order.Querier, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: userID, Status: order.StatusReserved}, nil
		}
		var gotNext order.Status
		f.orders.updateStatusFunc = func(ctx context.Context, q order.Querier, id uuid.UUID, current, next order.Status) error {
			gotNext = next
			return nil
		}

		// RESERVED -> COMPLETED skips two states; the ordinal guard allows it.
		err := f.svc.UpdateOrderStatus(context.Background(), orderID, userID, order.StatusReserved, order.StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCompleted, gotNext)
	})
}

func TestService_GetOrderDetails(t *testing.T) {
	t.Run("foreign_order_hidden", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDFunc = func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: paymentID}, nil
		}

		_, err := f.svc.GetOrderDetails(context.Background(), orderID, userID)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture()
		f.orders.getByIDFunc = func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, UserID: userID, Status: order.StatusReserved}, nil
		}

		ord, err := f.svc.GetOrderDetails(context.Background(), orderID, userID)
		require.NoError(t, err)
		assert.Equal(t, orderID, ord.ID)
	})
}
