package inventory_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifevaluable/brewflow/internal/inventory"
)

type mockProductRepository struct {
	findAllFunc  func(ctx context.Context) ([]inventory.Product, error)
	findByIDFunc func(ctx context.Context, id uuid.UUID) (*inventory.Product, error)

	findAllCalls  int
	findByIDCalls int
}

func (m *mockProductRepository) FindAll(ctx context.Context) ([]inventory.Product, error) {
	m.findAllCalls++
	return m.findAllFunc(ctx)
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	m.findByIDCalls++
	return m.findByIDFunc(ctx, id)
}

func sampleProduct(id uuid.UUID, stock int) inventory.Product {
	return inventory.Product{
		ID:            id,
		Name:          "Arabica Blend",
		Price:         decimal.RequireFromString("12.50"),
		StockQuantity: stock,
	}
}

func TestCatalog_GetProduct(t *testing.T) {
	id := uuid.Must(uuid.FromString("00000000-0000-0000-0000-000000000001"))

	t.Run("second_read_is_served_from_cache", func(t *testing.T) {
		repo := &mockProductRepository{
			findByIDFunc: func(ctx context.Context, got uuid.UUID) (*inventory.Product, error) {
				p := sampleProduct(got, 5)
				return &p, nil
			},
		}
		cat := inventory.NewCatalog(repo, inventory.NewCache())

		first, err := cat.GetProduct(context.Background(), id)
		require.NoError(t, err)
		second, err := cat.GetProduct(context.Background(), id)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, repo.findByIDCalls)
	})

	t.Run("invalidate_forces_a_reload", func(t *testing.T) {
		stock := 5
		repo := &mockProductRepository{
			findByIDFunc: func(ctx context.Context, got uuid.UUID) (*inventory.Product, error) {
				p := sampleProduct(got, stock)
				return &p, nil
			},
		}
		cat := inventory.NewCatalog(repo, inventory.NewCache())

		_, err := cat.GetProduct(context.Background(), id)
		require.NoError(t, err)

		stock = 3
		cat.Invalidate(id)

		reloaded, err := cat.GetProduct(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 3, reloaded.StockQuantity)
		assert.Equal(t, 2, repo.findByIDCalls)
	})

	t.Run("nil_id", func(t *testing.T) {
		cat := inventory.NewCatalog(&mockProductRepository{}, inventory.NewCache())
		_, err := cat.GetProduct(context.Background(), uuid.Nil)
		assert.Error(t, err)
	})

	t.Run("repository_error_is_not_cached", func(t *testing.T) {
		repo := &mockProductRepository{
			findByIDFunc: func(ctx context.Context, got uuid.UUID) (*inventory.Product, error) {
				return nil, inventory.ErrProductNotFound
			},
		}
		cat := inventory.NewCatalog(repo, inventory.NewCache())

		_, err := cat.GetProduct(context.Background(), id)
		assert.ErrorIs(t, err, inventory.ErrProductNotFound)
		_, err = cat.GetProduct(context.Background(), id)
		assert.ErrorIs(t, err, inventory.ErrProductNotFound)
		assert.Equal(t, 2, repo.findByIDCalls)
	})
}

func TestCatalog_ListProducts(t *testing.T) {
	a := uuid.Must(uuid.FromString("00000000-0000-0000-0000-00000000000a"))
	b := uuid.Must(uuid.FromString("00000000-0000-0000-0000-00000000000b"))

	t.Run("listing_is_cached", func(t *testing.T) {
		repo := &mockProductRepository{
			findAllFunc: func(ctx context.Context) ([]inventory.Product, error) {
				return []inventory.Product{sampleProduct(a, 5), sampleProduct(b, 7)}, nil
			},
		}
		cat := inventory.NewCatalog(repo, inventory.NewCache())

		first, err := cat.ListProducts(context.Background())
		require.NoError(t, err)
		second, err := cat.ListProducts(context.Background())
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, repo.findAllCalls)
	})

	t.Run("invalidating_any_product_drops_the_listing", func(t *testing.T) {
		repo := &mockProductRepository{
			findAllFunc: func(ctx context.Context) ([]inventory.Product, error) {
				return []inventory.Product{sampleProduct(a, 5)}, nil
			},
		}
		cat := inventory.NewCatalog(repo, inventory.NewCache())

		_, err := cat.ListProducts(context.Background())
		require.NoError(t, err)

		cat.Invalidate(a)

		_, err = cat.ListProducts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, repo.findAllCalls)
	})
}
