package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Consumed lines (consumed_order_id set) belong to an order already and are
// filtered out of every read.
const selectLine = `
SELECT l.id, l.cart_id, c.member_id, l.item_id, l.quantity, l.version, l.created_at, l.updated_at
FROM cart_lines l
JOIN carts c ON c.id = l.cart_id`

func scanLine(row pgx.Row) (domain.CartLine, error) {
	var l domain.CartLine
	err := row.Scan(&l.ID, &l.CartID, &l.MemberID, &l.ItemID, &l.Quantity, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *Store) GetOrCreateCart(ctx context.Context, memberID string, now time.Time) (domain.Cart, error) {
	const stmt = `
INSERT INTO carts (id, member_id, created_at) VALUES ($1, $2, $3)
ON CONFLICT (member_id) DO UPDATE SET member_id = EXCLUDED.member_id
RETURNING id, member_id, created_at`

	var c domain.Cart
	if err := s.queryRow(ctx, stmt, uuid.NewString(), memberID, now).Scan(&c.ID, &c.MemberID, &c.CreatedAt); err != nil {
		return domain.Cart{}, fmt.Errorf("get or create cart: %w", err)
	}
	return c, nil
}

func (s *Store) GetCartByMember(ctx context.Context, memberID string) (domain.Cart, error) {
	const query = `SELECT id, member_id, created_at FROM carts WHERE member_id = $1`

	var c domain.Cart
	err := s.queryRow(ctx, query, memberID).Scan(&c.ID, &c.MemberID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	return c, nil
}

// AddLineQuantity merges into the live line for the item or starts a new one.
func (s *Store) AddLineQuantity(ctx context.Context, cartID, itemID string, quantity int, now time.Time) (string, error) {
	const stmt = `
INSERT INTO cart_lines (id, cart_id, item_id, quantity, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, 1, $5, $5)
ON CONFLICT (cart_id, item_id) WHERE consumed_order_id IS NULL DO UPDATE SET
    quantity = cart_lines.quantity + EXCLUDED.quantity,
    version = cart_lines.version + 1,
    updated_at = EXCLUDED.updated_at
RETURNING id`

	var id string
	if err := s.queryRow(ctx, stmt, uuid.NewString(), cartID, itemID, quantity, now).Scan(&id); err != nil {
		return "", fmt.Errorf("add cart line: %w", err)
	}
	return id, nil
}

func (s *Store) GetLine(ctx context.Context, lineID string) (domain.CartLine, error) {
	return s.getLine(ctx, selectLine+` WHERE l.id = $1 AND l.consumed_order_id IS NULL`, lineID)
}

// GetLineForUpdate row-locks the line. A line consumed while we waited for the
// lock no longer matches and reads as not found.
func (s *Store) GetLineForUpdate(ctx context.Context, lineID string) (domain.CartLine, error) {
	return s.getLine(ctx, selectLine+` WHERE l.id = $1 AND l.consumed_order_id IS NULL FOR UPDATE OF l`, lineID)
}

func (s *Store) getLine(ctx context.Context, query, lineID string) (domain.CartLine, error) {
	l, err := scanLine(s.queryRow(ctx, query, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("get cart line: %w", err)
	}
	return l, nil
}

func (s *Store) ListLines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	return s.listLines(ctx, selectLine+`
WHERE l.cart_id = $1 AND l.consumed_order_id IS NULL
ORDER BY l.created_at DESC, l.id`, cartID)
}

func (s *Store) ListLinesForUpdate(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	return s.listLines(ctx, selectLine+`
WHERE l.cart_id = $1 AND l.consumed_order_id IS NULL
ORDER BY l.created_at DESC, l.id
FOR UPDATE OF l`, cartID)
}

func (s *Store) listLines(ctx context.Context, query, cartID string) ([]domain.CartLine, error) {
	rows, err := s.query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	var out []domain.CartLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLineQuantity(ctx context.Context, lineID string, quantity, version int, now time.Time) error {
	const stmt = `
UPDATE cart_lines SET quantity = $2, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $3 AND consumed_order_id IS NULL`

	tag, err := s.exec(ctx, stmt, lineID, quantity, version, now)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, lineID)
	}
	return nil
}

func (s *Store) DeleteLine(ctx context.Context, lineID string, version int) error {
	const stmt = `DELETE FROM cart_lines WHERE id = $1 AND version = $2 AND consumed_order_id IS NULL`

	tag, err := s.exec(ctx, stmt, lineID, version)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, lineID)
	}
	return nil
}

// missOrConflict explains a versioned write that touched no row.
func (s *Store) missOrConflict(ctx context.Context, lineID string) error {
	var live bool
	const query = `SELECT EXISTS (SELECT 1 FROM cart_lines WHERE id = $1 AND consumed_order_id IS NULL)`
	if err := s.queryRow(ctx, query, lineID).Scan(&live); err != nil {
		return fmt.Errorf("check cart line: %w", err)
	}
	if live {
		return domain.ErrVersionConflict
	}
	return domain.ErrCartLineNotFound
}

// DeleteAllLines removes every line of the cart, claimed leftovers included.
func (s *Store) DeleteAllLines(ctx context.Context, cartID string) (int, error) {
	tag, err := s.exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ConsumeLines claims the lines for orderID. If any line is gone or already
// claimed nothing is claimed.
func (s *Store) ConsumeLines(ctx context.Context, orderID string, lineIDs []string, now time.Time) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		const stmt = `
UPDATE cart_lines SET consumed_order_id = $1, version = version + 1, updated_at = $3
WHERE id = ANY($2) AND consumed_order_id IS NULL`

		tag, err := s.exec(ctx, stmt, orderID, lineIDs, now)
		if err != nil {
			return fmt.Errorf("consume cart lines: %w", err)
		}
		if int(tag.RowsAffected()) != len(lineIDs) {
			return domain.ErrCartLineNotFound
		}
		return nil
	})
}

func (s *Store) DeleteConsumedLines(ctx context.Context, orderID string) (int, error) {
	tag, err := s.exec(ctx, `DELETE FROM cart_lines WHERE consumed_order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("delete consumed lines: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) PurgeConsumedLines(ctx context.Context) (int, error) {
	tag, err := s.exec(ctx, `DELETE FROM cart_lines WHERE consumed_order_id IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("purge consumed lines: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
