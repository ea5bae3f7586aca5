package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	// Snapshot reads the user's cart with joined product data. Pure read, no
	// locks taken; an empty slice is a valid result.
	Snapshot(ctx context.Context, userID uuid.UUID) ([]Item, error)
	UpsertItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Item, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
	// Clear deletes all cart items for the user. It runs on the caller's
	// querier so order creation can clear the cart inside its transaction.
	Clear(ctx context.Context, q Querier, userID uuid.UUID) (int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Snapshot(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	query := `
		SELECT ci.user_id, ci.product_id, ci.quantity, p.name, p.price, ci.created_at, ci.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for user %s: %w", userID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.UserID,
			&item.ProductID,
			&item.Quantity,
			&item.ProductName,
			&item.Price,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for user %s: %w", userID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items for user %s: %w", userID, err)
	}

	return items, nil
}

func (r *postgresRepository) UpsertItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Item, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING user_id, product_id, quantity, created_at, updated_at
	`

	var item Item
	err := r.db.QueryRow(ctx, query, userID, productID, quantity, now).Scan(
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to upsert cart item for user %s: %w", userID, err)
	}

	return &item, nil
}

func (r *postgresRepository) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to remove cart item for user %s: %w", userID, err)
	}
	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, q Querier, userID uuid.UUID) (int64, error) {
	cmdTag, err := q.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}
	return cmdTag.RowsAffected(), nil
}
