package inventory

import (
	"sync"

	"github.com/gofrs/uuid"
)

// Cache is an instance-local read cache over the product table. It keeps
// per-product entries and one catalog-wide listing; both are dropped for a
// product whenever its stock changes. No cross-instance invalidation exists.
type Cache struct {
	mu       sync.RWMutex
	products map[uuid.UUID]Product
	all      []Product
	hasAll   bool
}

func NewCache() *Cache {
	return &Cache{products: make(map[uuid.UUID]Product)}
}

func (c *Cache) GetProduct(id uuid.UUID) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	product, ok := c.products[id]
	return product, ok
}

func (c *Cache) SetProduct(product Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
}

func (c *Cache) GetAll() ([]Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasAll {
		return nil, false
	}
	all := make([]Product, len(c.all))
	copy(all, c.all)
	return all, true
}

func (c *Cache) SetAll(products []Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = make([]Product, len(products))
	copy(c.all, products)
	c.hasAll = true
}

// Invalidate drops the per-product entries for the given ids and the
// catalog-wide listing.
func (c *Cache) Invalidate(ids ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.products, id)
	}
	c.all = nil
	c.hasAll = false
}
