package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/afif1710/NexusMarket/internal/cache"
	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/pricing"
	"github.com/afif1710/NexusMarket/internal/repository"
	"golang.org/x/sync/singleflight"
)

const maxCartWriteAttempts = 5

type CartService struct {
	repo    repository.CartRepository
	catalog repository.CatalogRepository
	cache   cache.CartCache
	log     *slog.Logger
	sfg     singleflight.Group // Prevents cache stampede
	now     func() time.Time
}

func NewCartService(repo repository.CartRepository, catalog repository.CatalogRepository, cache cache.CartCache, log *slog.Logger) *CartService {
	return &CartService{
		repo:    repo,
		catalog: catalog,
		cache:   cache,
		log:     log.With("component", "cart"),
		now:     time.Now,
	}
}

// GetCart returns the stored cart, or an empty one if the user never had a cart.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get failed", "user_id", userID, "error", err)
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			now := s.now().UTC()
			return &domain.Cart{UserID: userID, Items: []domain.CartItem{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		s.cacheCart(ctx, cart)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// callers may modify the result; singleflight shares it across them
	return copyCart(v.(*domain.Cart)), nil
}

// View joins the cart with the catalog. Quantities are clamped to current
// stock and products that vanished or sold out are left out.
func (s *CartService) View(ctx context.Context, userID string) (*domain.CartView, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}

	view := &domain.CartView{UserID: userID, Items: []domain.CartLine{}}
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok || p.Stock <= 0 {
			continue
		}
		view.Items = append(view.Items, domain.CartLine{
			ProductID: p.ProductID,
			Name:      p.Name,
			Price:     p.Price,
			Image:     p.Image,
			Stock:     p.Stock,
			Quantity:  min(it.Quantity, p.Stock),
		})
	}
	view.Total = pricing.CartTotal(view.Items)
	return view, nil
}

// AddItem merges qty into the existing line for productID.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		next := cart.Quantity(productID) + qty
		if next <= 0 {
			return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidQuantity)
		}
		if next > product.Stock {
			return fmt.Errorf("%w: only %d of %s in stock", domain.ErrInvalidQuantity, product.Stock, productID)
		}

		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items[i].Quantity = next
				return nil
			}
		}
		cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Quantity: next, AddedAt: s.now().UTC()})
		return nil
	})
}

// SetQuantities replaces the whole item list. Lines with quantity <= 0 are dropped.
func (s *CartService) SetQuantities(ctx context.Context, userID string, updates []domain.QuantityUpdate) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		addedAt := make(map[string]time.Time, len(cart.Items))
		for _, it := range cart.Items {
			addedAt[it.ProductID] = it.AddedAt
		}

		items := make([]domain.CartItem, 0, len(updates))
		index := make(map[string]int, len(updates))
		for _, u := range updates {
			if i, dup := index[u.ProductID]; dup {
				items[i].Quantity = u.Quantity
				continue
			}
			at, ok := addedAt[u.ProductID]
			if !ok {
				at = s.now().UTC()
			}
			index[u.ProductID] = len(items)
			items = append(items, domain.CartItem{ProductID: u.ProductID, Quantity: u.Quantity, AddedAt: at})
		}

		kept := items[:0]
		for _, it := range items {
			if it.Quantity > 0 {
				kept = append(kept, it)
			}
		}
		cart.Items = kept
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		kept := cart.Items[:0]
		for _, it := range cart.Items {
			if it.ProductID != productID {
				kept = append(kept, it)
			}
		}
		cart.Items = kept
		return nil
	})
}

// Clear empties the cart. It succeeds on an empty or missing cart.
func (s *CartService) Clear(ctx context.Context, userID string) error {
	if err := s.repo.ClearCart(ctx, userID); err != nil {
		s.log.ErrorContext(ctx, "repo clear cart failed", "user_id", userID, "error", err)
		return err
	}

	cart, err := s.repo.GetCart(ctx, userID)
	switch {
	case err == nil:
		s.cacheCart(ctx, cart)
	case errors.Is(err, domain.ErrCartNotFound):
		s.invalidateCache(userID)
	default:
		s.log.WarnContext(ctx, "reload cart after clear failed", "user_id", userID, "error", err)
		s.invalidateCache(userID)
	}
	return nil
}

// ClearForOrder empties the cart on behalf of a paid order. Repeated calls for
// the same order leave items added after the first clear untouched.
func (s *CartService) ClearForOrder(ctx context.Context, userID, orderID string) error {
	cleared, err := s.repo.ClearCartForOrder(ctx, userID, orderID)
	if err != nil {
		s.log.ErrorContext(ctx, "repo clear cart for order failed", "user_id", userID, "order_id", orderID, "error", err)
		return err
	}
	if !cleared {
		s.log.InfoContext(ctx, "cart already cleared for order", "user_id", userID, "order_id", orderID)
		return nil
	}
	s.invalidateCache(userID)
	return nil
}

func (s *CartService) mutate(ctx context.Context, userID string, fn func(cart *domain.Cart) error) (*domain.Cart, error) {
	for attempt := 0; attempt < maxCartWriteAttempts; attempt++ {
		var expected int64
		cart, err := s.repo.GetCart(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrCartNotFound):
			cart = &domain.Cart{UserID: userID, Items: []domain.CartItem{}}
		case err != nil:
			return nil, err
		default:
			expected = cart.Version
		}

		if err := fn(cart); err != nil {
			return nil, err
		}

		err = s.repo.SaveCart(ctx, cart, expected)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.DebugContext(ctx, "cart write conflict, retrying", "user_id", userID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			s.log.ErrorContext(ctx, "repo save cart failed", "user_id", userID, "error", err)
			return nil, err
		}

		s.cacheCart(ctx, cart)
		return cart, nil
	}
	return nil, fmt.Errorf("save cart for %s: %w", userID, repository.ErrVersionConflict)
}

func (s *CartService) cacheCart(ctx context.Context, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, cart.UserID, cart); err != nil {
		s.log.WarnContext(ctx, "cache set failed", "user_id", cart.UserID, "error", err)
		s.invalidateCache(cart.UserID)
	}
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate failed", "user_id", userID, "error", err)
	}
}

func copyCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = append([]domain.CartItem(nil), c.Items...)
	if out.Items == nil {
		out.Items = []domain.CartItem{}
	}
	return &out
}
