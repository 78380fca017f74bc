package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetMember(ctx context.Context, memberID string) (domain.Member, error) {
	const query = `SELECT id, name, created_at FROM members WHERE id = $1`

	var m domain.Member
	err := s.queryRow(ctx, query, memberID).Scan(&m.ID, &m.Name, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *Store) UpsertMember(ctx context.Context, m domain.Member) error {
	const stmt = `
INSERT INTO members (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	if _, err := s.exec(ctx, stmt, m.ID, m.Name); err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	const query = `SELECT id, name, price, stock, image_url FROM items WHERE id = $1`

	var it domain.Item
	err := s.queryRow(ctx, query, itemID).Scan(&it.ID, &it.Name, &it.Price, &it.Stock, &it.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *Store) UpsertItem(ctx context.Context, it domain.Item) error {
	if it.Price < 0 || it.Stock < 0 {
		return fmt.Errorf("item %s: negative price or stock: %w", it.ID, domain.ErrInvalidArgument)
	}
	const stmt = `
INSERT INTO items (id, name, price, stock, image_url) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
    image_url = EXCLUDED.image_url, updated_at = now()`

	if _, err := s.exec(ctx, stmt, it.ID, it.Name, it.Price, it.Stock, it.ImageURL); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// AdjustStock locks the item row, checks the result stays non-negative, then
// writes it.
func (s *Store) AdjustStock(ctx context.Context, itemID string, delta int) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		var stock int
		err := s.queryRow(ctx, `SELECT stock FROM items WHERE id = $1 FOR UPDATE`, itemID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}
		if stock+delta < 0 {
			return fmt.Errorf("item %s has %d, needs %d: %w", itemID, stock, -delta, domain.ErrInsufficientStock)
		}
		if _, err := s.exec(ctx, `UPDATE items SET stock = stock + $2, updated_at = now() WHERE id = $1`, itemID, delta); err != nil {
			return fmt.Errorf("adjust stock: %w", err)
		}
		return nil
	})
}
