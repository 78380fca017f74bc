// Package memstore keeps carts, orders, the catalog and members in memory.
//
// A transaction works on a private copy of the whole state while holding the
// store mutex and swaps it in on success, so transactions are serializable and
// a failed one leaves nothing behind. Calls made outside WithTx are atomic on
// their own.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"github.com/google/uuid"
)

type lineRow struct {
	line       domain.CartLine
	consumedBy string // order id once claimed by an order
}

type state struct {
	members map[string]domain.Member
	items   map[string]domain.Item
	carts   map[string]domain.Cart
	cartOf  map[string]string // member id -> cart id
	lines   map[string]lineRow
	orders  map[string]domain.Order

	// orderSeq records insertion order to break created_at ties.
	orderSeq map[string]int64
	nextSeq  int64
}

func newState() *state {
	return &state{
		members: map[string]domain.Member{},
		items:   map[string]domain.Item{},
		carts:   map[string]domain.Cart{},
		cartOf:  map[string]string{},
		lines:   map[string]lineRow{},
		orders:  map[string]domain.Order{},

		orderSeq: map[string]int64{},
	}
}

// clone copies every table. Order lines are never modified in place, so the
// slices can be shared.
func (st *state) clone() *state {
	c := newState()
	for k, v := range st.members {
		c.members[k] = v
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = v
	}
	for k, v := range st.cartOf {
		c.cartOf[k] = v
	}
	for k, v := range st.lines {
		c.lines[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.orderSeq {
		c.orderSeq[k] = v
	}
	c.nextSeq = st.nextSeq
	return c
}

type txKey struct{ s *Store }

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{s}).(*state); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st, ok := ctx.Value(txKey{s}).(*state); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// ---- members & catalog ----

func (s *Store) UpsertMember(ctx context.Context, m domain.Member) error {
	return s.do(ctx, func(st *state) error {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		st.members[m.ID] = m
		return nil
	})
}

func (s *Store) GetMember(ctx context.Context, memberID string) (domain.Member, error) {
	var m domain.Member
	err := s.do(ctx, func(st *state) error {
		var ok bool
		if m, ok = st.members[memberID]; !ok {
			return domain.ErrMemberNotFound
		}
		return nil
	})
	return m, err
}

func (s *Store) UpsertItem(ctx context.Context, item domain.Item) error {
	if item.Price < 0 || item.Stock < 0 {
		return fmt.Errorf("item %s: negative price or stock: %w", item.ID, domain.ErrInvalidArgument)
	}
	return s.do(ctx, func(st *state) error {
		st.items[item.ID] = item
		return nil
	})
}

func (s *Store) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	var it domain.Item
	err := s.do(ctx, func(st *state) error {
		var ok bool
		if it, ok = st.items[itemID]; !ok {
			return domain.ErrItemNotFound
		}
		return nil
	})
	return it, err
}

func (s *Store) AdjustStock(ctx context.Context, itemID string, delta int) error {
	return s.do(ctx, func(st *state) error {
		it, ok := st.items[itemID]
		if !ok {
			return domain.ErrItemNotFound
		}
		if it.Stock+delta < 0 {
			return fmt.Errorf("item %s has %d, needs %d: %w", itemID, it.Stock, -delta, domain.ErrInsufficientStock)
		}
		it.Stock += delta
		st.items[itemID] = it
		return nil
	})
}

// ---- carts ----

func (s *Store) GetOrCreateCart(ctx context.Context, memberID string, now time.Time) (domain.Cart, error) {
	var c domain.Cart
	err := s.do(ctx, func(st *state) error {
		if id, ok := st.cartOf[memberID]; ok {
			c = st.carts[id]
			return nil
		}
		c = domain.Cart{ID: uuid.NewString(), MemberID: memberID, CreatedAt: now}
		st.carts[c.ID] = c
		st.cartOf[memberID] = c.ID
		return nil
	})
	return c, err
}

func (s *Store) GetCartByMember(ctx context.Context, memberID string) (domain.Cart, error) {
	var c domain.Cart
	err := s.do(ctx, func(st *state) error {
		id, ok := st.cartOf[memberID]
		if !ok {
			return domain.ErrCartNotFound
		}
		c = st.carts[id]
		return nil
	})
	return c, err
}

func (s *Store) AddLineQuantity(ctx context.Context, cartID, itemID string, quantity int, now time.Time) (string, error) {
	var id string
	err := s.do(ctx, func(st *state) error {
		if _, ok := st.carts[cartID]; !ok {
			return domain.ErrCartNotFound
		}
		for lid, row := range st.lines {
			if row.consumedBy == "" && row.line.CartID == cartID && row.line.ItemID == itemID {
				row.line.Quantity += quantity
				row.line.Version++
				row.line.UpdatedAt = now
				st.lines[lid] = row
				id = lid
				return nil
			}
		}
		id = uuid.NewString()
		st.lines[id] = lineRow{line: domain.CartLine{
			ID:        id,
			CartID:    cartID,
			ItemID:    itemID,
			Quantity:  quantity,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}}
		return nil
	})
	return id, err
}

func (st *state) liveLine(lineID string) (domain.CartLine, bool) {
	row, ok := st.lines[lineID]
	if !ok || row.consumedBy != "" {
		return domain.CartLine{}, false
	}
	l := row.line
	l.MemberID = st.carts[l.CartID].MemberID
	return l, true
}

func (s *Store) GetLine(ctx context.Context, lineID string) (domain.CartLine, error) {
	var l domain.CartLine
	err := s.do(ctx, func(st *state) error {
		var ok bool
		if l, ok = st.liveLine(lineID); !ok {
			return domain.ErrCartLineNotFound
		}
		return nil
	})
	return l, err
}

// GetLineForUpdate is GetLine; the store mutex already serializes writers.
func (s *Store) GetLineForUpdate(ctx context.Context, lineID string) (domain.CartLine, error) {
	return s.GetLine(ctx, lineID)
}

func (s *Store) ListLines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	var out []domain.CartLine
	err := s.do(ctx, func(st *state) error {
		for id, row := range st.lines {
			if row.line.CartID != cartID {
				continue
			}
			if l, ok := st.liveLine(id); ok {
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *Store) ListLinesForUpdate(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	return s.ListLines(ctx, cartID)
}

func (s *Store) UpdateLineQuantity(ctx context.Context, lineID string, quantity, version int, now time.Time) error {
	return s.do(ctx, func(st *state) error {
		l, ok := st.liveLine(lineID)
		if !ok {
			return domain.ErrCartLineNotFound
		}
		if l.Version != version {
			return domain.ErrVersionConflict
		}
		row := st.lines[lineID]
		row.line.Quantity = quantity
		row.line.Version++
		row.line.UpdatedAt = now
		st.lines[lineID] = row
		return nil
	})
}

func (s *Store) DeleteLine(ctx context.Context, lineID string, version int) error {
	return s.do(ctx, func(st *state) error {
		l, ok := st.liveLine(lineID)
		if !ok {
			return domain.ErrCartLineNotFound
		}
		if l.Version != version {
			return domain.ErrVersionConflict
		}
		delete(st.lines, lineID)
		return nil
	})
}

// DeleteAllLines removes every line of the cart, claimed leftovers included.
func (s *Store) DeleteAllLines(ctx context.Context, cartID string) (int, error) {
	n := 0
	err := s.do(ctx, func(st *state) error {
		for id, row := range st.lines {
			if row.line.CartID == cartID {
				delete(st.lines, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// ConsumeLines claims live lines for orderID. Either all are claimed or none.
func (s *Store) ConsumeLines(ctx context.Context, orderID string, lineIDs []string, now time.Time) error {
	return s.do(ctx, func(st *state) error {
		for _, id := range lineIDs {
			if _, ok := st.liveLine(id); !ok {
				return domain.ErrCartLineNotFound
			}
		}
		for _, id := range lineIDs {
			row := st.lines[id]
			row.consumedBy = orderID
			row.line.Version++
			row.line.UpdatedAt = now
			st.lines[id] = row
		}
		return nil
	})
}

func (s *Store) DeleteConsumedLines(ctx context.Context, orderID string) (int, error) {
	n := 0
	err := s.do(ctx, func(st *state) error {
		for id, row := range st.lines {
			if row.consumedBy == orderID {
				delete(st.lines, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// PurgeConsumedLines deletes every claimed line, whatever order claimed it.
func (s *Store) PurgeConsumedLines(ctx context.Context) (int, error) {
	n := 0
	err := s.do(ctx, func(st *state) error {
		for id, row := range st.lines {
			if row.consumedBy != "" {
				delete(st.lines, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// ---- orders ----

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	if len(order.Lines) == 0 {
		return domain.ErrEmptySelection
	}
	return s.do(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrConflict)
		}
		order.Lines = append([]domain.OrderLine(nil), order.Lines...)
		st.orders[order.ID] = order
		st.nextSeq++
		st.orderSeq[order.ID] = st.nextSeq
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	err := s.do(ctx, func(st *state) error {
		var ok bool
		if o, ok = st.orders[orderID]; !ok {
			return domain.ErrOrderNotFound
		}
		o.Lines = append([]domain.OrderLine(nil), o.Lines...)
		return nil
	})
	return o, err
}

func (s *Store) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return s.GetOrder(ctx, orderID)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.Status, now time.Time) error {
	return s.do(ctx, func(st *state) error {
		o, ok := st.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if o.Status != from {
			return domain.ErrVersionConflict
		}
		o.Status = to
		o.UpdatedAt = now
		st.orders[orderID] = o
		return nil
	})
}

func (s *Store) ListOrdersByMember(ctx context.Context, memberID string) ([]domain.Order, error) {
	var out []domain.Order
	err := s.do(ctx, func(st *state) error {
		for _, o := range st.orders {
			if o.MemberID == memberID {
				o.Lines = append([]domain.OrderLine(nil), o.Lines...)
				out = append(out, o)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return st.orderSeq[out[i].ID] > st.orderSeq[out[j].ID]
		})
		return nil
	})
	return out, err
}
