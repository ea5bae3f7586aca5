package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lifevaluable/brewflow/internal/inventory"
)

type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) ([]Item, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Item, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
}

type service struct {
	repo     Repository
	products inventory.Repository
}

func NewService(repo Repository, products inventory.Repository) Service {
	return &service{repo: repo, products: products}
}

func (s *service) GetCart(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	if userID == uuid.Nil {
		return nil, errors.New("service: user id cannot be nil")
	}

	items, err := s.repo.Snapshot(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch cart in repository")
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	return items, nil
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Item, error) {
	if userID == uuid.Nil {
		return nil, errors.New("service: user id cannot be nil")
	}
	if productID == uuid.Nil {
		return nil, errors.New("service: product id cannot be nil")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("service: quantity must be greater than zero, got %d", quantity)
	}

	// Advisory precheck only: the real stock guarantee is made at reservation
	// time under the ledger's locks.
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.StockQuantity < quantity {
		return nil, &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: product.StockQuantity,
		}
	}

	item, err := s.repo.UpsertItem(ctx, userID, productID, quantity)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Stringer("product_id", productID).
			Msg("service: failed to add cart item in repository")
		return nil, fmt.Errorf("service: failed to add cart item: %w", err)
	}
	item.ProductName = product.Name
	item.Price = product.Price

	log.Info().Stringer("user_id", userID).Stringer("product_id", productID).Int("quantity", quantity).
		Msg("service: added item to cart")
	return item, nil
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	if userID == uuid.Nil {
		return errors.New("service: user id cannot be nil")
	}
	if productID == uuid.Nil {
		return errors.New("service: product id cannot be nil")
	}

	if err := s.repo.RemoveItem(ctx, userID, productID); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Stringer("product_id", productID).
			Msg("service: failed to remove cart item in repository")
		return fmt.Errorf("service: failed to remove cart item: %w", err)
	}

	log.Info().Stringer("user_id", userID).Stringer("product_id", productID).Msg("service: removed item from cart")
	return nil
}
