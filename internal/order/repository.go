package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrStatusConflict = errors.New("order status changed concurrently")
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	// CreateTx persists the order and its items on the caller's transaction,
	// generating ids where they are missing.
	CreateTx(ctx context.Context, q Querier, ord *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// GetByIDForUpdate locks the order row for the rest of the caller's
	// transaction. Status transitions on one order serialize on this lock.
	GetByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*Order, error)
	// UpdateStatus sets the status only when the row still holds current.
	// Returns ErrStatusConflict when the compare fails on an existing order.
	UpdateStatus(ctx context.Context, q Querier, orderID uuid.UUID, current, next Status) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, user_id, user_first_name, user_last_name, user_email, status, total_price, created_at, updated_at`

func (r *postgresRepository) CreateTx(ctx context.Context, q Querier, ord *Order) error {
	if ord.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		ord.ID = id
	}

	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, user_id, user_first_name, user_last_name, user_email, status, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, queryOrder,
		ord.ID,
		ord.UserID,
		ord.UserFirstName,
		ord.UserLastName,
		ord.UserEmail,
		string(ord.Status),
		ord.TotalPrice,
		ord.CreatedAt,
		ord.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price_at_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range ord.Items {
		item := &ord.Items[i]

		if item.ID == uuid.Nil {
			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", err)
			}
			item.ID = itemID
		}
		item.OrderID = ord.ID

		_, err := q.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.PriceAtTime,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", ord.ID, err)
		}
	}

	return nil
}

func scanOrder(row pgx.Row, ord *Order) error {
	return row.Scan(
		&ord.ID,
		&ord.UserID,
		&ord.UserFirstName,
		&ord.UserLastName,
		&ord.UserEmail,
		&ord.Status,
		&ord.TotalPrice,
		&ord.CreatedAt,
		&ord.UpdatedAt,
	)
}

func (r *postgresRepository) loadItems(ctx context.Context, q Querier, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, price_at_time
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`

	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.PriceAtTime,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return items, nil
}

func (r *postgresRepository) getByID(ctx context.Context, q Querier, id uuid.UUID, forUpdate bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var ord Order
	if err := scanOrder(q.QueryRow(ctx, query, id), &ord); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.loadItems(ctx, q, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	ord.Items = items[id]
	if ord.Items == nil {
		ord.Items = make([]OrderItem, 0)
	}

	return &ord, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getByID(ctx, r.db, id, false)
}

func (r *postgresRepository) GetByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, id, true)
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var ord Order
		if err := scanOrder(rows, &ord); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user id %s: %w", userID, err)
		}
		ord.Items = make([]OrderItem, 0)
		ordersMap[ord.ID] = &ord
		orderIDs = append(orderIDs, ord.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user id %s: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	items, err := r.loadItems(ctx, r.db, orderIDs)
	if err != nil {
		return nil, err
	}
	for orderID, orderItems := range items {
		if ord, ok := ordersMap[orderID]; ok {
			ord.Items = orderItems
		}
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}

	return result, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, q Querier, orderID uuid.UUID, current, next Status) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	cmdTag, err := q.Exec(ctx, query, string(next), time.Now().UTC(), orderID, string(current))
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s after status update: %w", orderID, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}

	return nil
}
