package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError reports the first product whose stock could not cover
// the requested quantity. The whole reservation is aborted when it is returned.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Querier is the subset of pgx operations the ledger needs. Both pgx.Tx and
// *pgxpool.Pool satisfy it; reserve and release are always called with the
// caller's transaction so they commit or roll back with the order itself.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger owns all stock mutations. Every reserve or release locks the touched
// product rows in ascending id order, so two operations over overlapping
// product sets can never wait on each other in a cycle.
type Ledger interface {
	// ReserveAll decrements stock for every item, all-or-nothing. It returns
	// the locked products with the price observed under the lock, which the
	// caller uses as the per-item price at order time.
	ReserveAll(ctx context.Context, q Querier, items []Reservation) ([]Product, error)
	// ReleaseAll increments stock back for every item. Used by compensation;
	// the caller guarantees it runs at most once per order.
	ReleaseAll(ctx context.Context, q Querier, items []Reservation) error
}

type postgresLedger struct{}

func NewLedger() Ledger {
	return &postgresLedger{}
}

// mergeByProduct collapses duplicate product ids and returns the distinct ids
// in ascending order alongside the summed quantities.
func mergeByProduct(items []Reservation) ([]uuid.UUID, map[uuid.UUID]int) {
	quantities := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		quantities[item.ProductID] += item.Quantity
	}

	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	return ids, quantities
}

// lockProducts acquires row locks on all given products in ascending id order
// in a single pass and returns them keyed by id.
func lockProducts(ctx context.Context, q Querier, ids []uuid.UUID) (map[uuid.UUID]*Product, error) {
	query := `
		SELECT id, name, description, price, stock_quantity, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to lock products: %w", err)
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]*Product, len(ids))
	for rows.Next() {
		var product Product
		err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.StockQuantity,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to scan locked product: %w", err)
		}
		locked[product.ID] = &product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: error iterating locked products: %w", err)
	}

	return locked, nil
}

func (l *postgresLedger) ReserveAll(ctx context.Context, q Querier, items []Reservation) ([]Product, error) {
	ids, quantities := mergeByProduct(items)

	locked, err := lockProducts(ctx, q, ids)
	if err != nil {
		return nil, err
	}

	// All locks are held now. Validate every line before touching any stock
	// so a shortfall on the last item leaves the first untouched.
	for _, id := range ids {
		product, ok := locked[id]
		if !ok {
			return nil, fmt.Errorf("ledger: product %s: %w", id, ErrProductNotFound)
		}
		if product.StockQuantity < quantities[id] {
			return nil, &InsufficientStockError{
				ProductID: id,
				Requested: quantities[id],
				Available: product.StockQuantity,
			}
		}
	}

	now := time.Now().UTC()
	reserved := make([]Product, 0, len(ids))
	for _, id := range ids {
		product := locked[id]
		product.StockQuantity -= quantities[id]
		product.UpdatedAt = now

		_, err := q.Exec(ctx,
			`UPDATE products SET stock_quantity = $1, updated_at = $2 WHERE id = $3`,
			product.StockQuantity, now, id,
		)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to decrement stock for product %s: %w", id, err)
		}
		reserved = append(reserved, *product)
	}

	log.Debug().Int("products", len(reserved)).Msg("ledger: reserved stock")
	return reserved, nil
}

func (l *postgresLedger) ReleaseAll(ctx context.Context, q Querier, items []Reservation) error {
	ids, quantities := mergeByProduct(items)

	locked, err := lockProducts(ctx, q, ids)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		product, ok := locked[id]
		if !ok {
			// A released product that no longer exists is not worth failing
			// a cancellation over.
			log.Warn().Stringer("product_id", id).Msg("ledger: release skipped missing product")
			continue
		}

		_, err := q.Exec(ctx,
			`UPDATE products SET stock_quantity = $1, updated_at = $2 WHERE id = $3`,
			product.StockQuantity+quantities[id], now, id,
		)
		if err != nil {
			return fmt.Errorf("ledger: failed to restore stock for product %s: %w", id, err)
		}
	}

	log.Debug().Int("products", len(ids)).Msg("ledger: released stock")
	return nil
}
