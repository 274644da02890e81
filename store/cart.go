package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"storefront/models"
	"storefront/storage"
)

// CartStore holds the cart line items. Every mutation writes the whole cart
// to storage before returning; a failed write is logged and the in-memory
// state stands.
type CartStore struct {
	mu    sync.Mutex
	items []models.CartItem
	ls    storage.Storage
	log   *slog.Logger
}

func NewCartStore(ls storage.Storage, log *slog.Logger) *CartStore {
	return &CartStore{ls: ls, log: log}
}

// Load restores the persisted cart. Missing or unreadable data yields an
// empty cart.
func (c *CartStore) Load(ctx context.Context) {
	raw, ok, err := c.ls.GetItem(ctx, storage.KeyCart)
	if err != nil {
		c.log.Warn("load cart", slog.Any("err", err))
		return
	}
	if !ok {
		return
	}
	var items []models.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		c.log.Warn("persisted cart unreadable, starting empty", slog.Any("err", err))
		return
	}

	c.mu.Lock()
	c.items = sanitize(items)
	c.mu.Unlock()
}

func (c *CartStore) Add(ctx context.Context, p models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.find(p.ID); i >= 0 {
		c.items[i].Qty++
	} else {
		c.items = append(c.items, models.CartItem{Product: p, Qty: 1})
	}
	c.persist(ctx)
}

// Remove decrements the item, deleting it instead of going below 1.
func (c *CartStore) Remove(ctx context.Context, productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.find(productID); i >= 0 {
		if c.items[i].Qty > 1 {
			c.items[i].Qty--
		} else {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
	}
	c.persist(ctx)
}

// SetQuantity clamps qty to at least 1. Unknown products are ignored.
func (c *CartStore) SetQuantity(ctx context.Context, productID string, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.find(productID); i >= 0 {
		c.items[i].Qty = max(1, qty)
	}
	c.persist(ctx)
}

// Replace swaps the whole cart.
func (c *CartStore) Replace(ctx context.Context, items []models.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = sanitize(items)
	c.persist(ctx)
}

// Clear empties the cart and drops the persisted copy.
func (c *CartStore) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	if err := c.ls.RemoveItem(ctx, storage.KeyCart); err != nil {
		c.log.Warn("remove persisted cart", slog.Any("err", err))
	}
}

func (c *CartStore) Items() []models.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

// Total is derived on every call so it always matches the items.
func (c *CartStore) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum float64
	for _, it := range c.items {
		sum += it.Subtotal()
	}
	return sum
}

// Count is the number of units in the cart.
func (c *CartStore) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		n += it.Qty
	}
	return n
}

func (c *CartStore) find(productID string) int {
	for i, it := range c.items {
		if it.ID == productID {
			return i
		}
	}
	return -1
}

// persist must be called with mu held.
func (c *CartStore) persist(ctx context.Context) {
	items := c.items
	if items == nil {
		items = []models.CartItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		c.log.Error("encode cart", slog.Any("err", err))
		return
	}
	if err := c.ls.SetItem(ctx, storage.KeyCart, string(b)); err != nil {
		c.log.Warn("persist cart", slog.Any("err", err))
	}
}

// sanitize merges duplicate products and lifts quantities below 1.
func sanitize(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		it.Qty = max(1, it.Qty)
		if i, ok := seen[it.ID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		seen[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}
