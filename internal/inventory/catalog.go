package inventory

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// Catalog serves product reads for display, backed by the instance-local cache.
type Catalog interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	// Invalidate drops cached entries for products whose stock changed.
	Invalidate(ids ...uuid.UUID)
}

type catalog struct {
	repo  Repository
	cache *Cache
}

func NewCatalog(repo Repository, cache *Cache) Catalog {
	return &catalog{repo: repo, cache: cache}
}

func (c *catalog) ListProducts(ctx context.Context) ([]Product, error) {
	if products, ok := c.cache.GetAll(); ok {
		return products, nil
	}

	products, err := c.repo.FindAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to fetch products in repository")
		return nil, fmt.Errorf("service: failed to fetch products: %w", err)
	}

	c.cache.SetAll(products)
	return products, nil
}

func (c *catalog) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("service: product id cannot be nil")
	}

	if product, ok := c.cache.GetProduct(id); ok {
		return &product, nil
	}

	product, err := c.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.cache.SetProduct(*product)
	return product, nil
}

func (c *catalog) Invalidate(ids ...uuid.UUID) {
	c.cache.Invalidate(ids...)
}
