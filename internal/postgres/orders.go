package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateOrder(ctx context.Context, o domain.Order) error {
	if len(o.Lines) == 0 {
		return domain.ErrEmptySelection
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx, `
INSERT INTO orders (id, member_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`, o.ID, o.MemberID, string(o.Status), o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s already exists: %w", o.ID, domain.ErrConflict)
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i, l := range o.Lines {
			_, err = s.exec(ctx, `
INSERT INTO order_lines (id, order_id, position, item_id, item_name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, l.ID, o.ID, i, l.ItemID, l.ItemName, l.Quantity, l.UnitPrice)
			if err != nil {
				return fmt.Errorf("create order line: %w", err)
			}
		}
		return nil
	})
}

const selectOrder = `SELECT id, member_id, status, created_at, updated_at FROM orders`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.MemberID, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.Status(status)
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.getOrder(ctx, selectOrder+` WHERE id = $1`, orderID)
}

func (s *Store) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return s.getOrder(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, orderID)
}

func (s *Store) getOrder(ctx context.Context, query, orderID string) (domain.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	lines, err := s.orderLines(ctx, []string{o.ID})
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.Status, now time.Time) error {
	const stmt = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	tag, err := s.exec(ctx, stmt, orderID, string(from), string(to), now)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *Store) ListOrdersByMember(ctx context.Context, memberID string) ([]domain.Order, error) {
	rows, err := s.query(ctx, selectOrder+` WHERE member_id = $1 ORDER BY created_at DESC, seq DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		out []domain.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return out, nil
	}
	lines, err := s.orderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (s *Store) orderLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	const query = `
SELECT id, order_id, item_id, item_name, quantity, unit_price
FROM order_lines
WHERE order_id = ANY($1)
ORDER BY order_id, position`

	rows, err := s.query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.ItemName, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}
