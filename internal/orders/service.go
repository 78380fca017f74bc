package orders

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/clock"
	"github.com/ariefcatur/go-cart-orders/internal/domain"
	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Store covers the cart and order tables touched while placing and cancelling
// orders. GetLineForUpdate and ListLinesForUpdate lock the rows they return and
// skip lines already consumed by another order.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCartByMember(ctx context.Context, memberID string) (domain.Cart, error)
	GetLineForUpdate(ctx context.Context, lineID string) (domain.CartLine, error)
	ListLinesForUpdate(ctx context.Context, cartID string) ([]domain.CartLine, error)
	ConsumeLines(ctx context.Context, orderID string, lineIDs []string, now time.Time) error
	DeleteConsumedLines(ctx context.Context, orderID string) (int, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.Status, now time.Time) error
	ListOrdersByMember(ctx context.Context, memberID string) ([]domain.Order, error)
}

type Catalog interface {
	GetItem(ctx context.Context, itemID string) (domain.Item, error)
	// AdjustStock adds delta to the item's stock, failing with
	// domain.ErrInsufficientStock when the result would be negative.
	AdjustStock(ctx context.Context, itemID string, delta int) error
}

type Members interface {
	GetMember(ctx context.Context, memberID string) (domain.Member, error)
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type ItemQuantity struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// SelectedLine references a cart line to order. Quantity and Price are whatever
// the client sent; they are ignored and re-derived from the cart and catalog.
type SelectedLine struct {
	CartLineID string `json:"cart_line_id"`
	Quantity   int    `json:"quantity,omitempty"`
	Price      int64  `json:"price,omitempty"`
}

type Service struct {
	store   Store
	catalog Catalog
	members Members
	clock   clock.Clock

	created   EventPublisher
	cancelled EventPublisher
	producer  string
}

type Option func(*Service)

// WithEvents publishes order.created and order.cancelled envelopes after commit.
func WithEvents(created, cancelled EventPublisher, producer string) Option {
	return func(s *Service) {
		s.created = created
		s.cancelled = cancelled
		s.producer = producer
	}
}

func NewService(store Store, catalog Catalog, members Members, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		members: members,
		clock:   clk,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// draft is what a collector hands to placeOrder: priced lines plus the cart
// lines the order consumes.
type draft struct {
	lines    []domain.PricedLine
	consumed []string
}

// OrderDirect buys one item without touching the cart.
func (s *Service) OrderDirect(ctx context.Context, memberID, itemID string, quantity int) (domain.Order, error) {
	return s.OrderDirectMulti(ctx, memberID, []ItemQuantity{{ItemID: itemID, Quantity: quantity}})
}

func (s *Service) OrderDirectMulti(ctx context.Context, memberID string, items []ItemQuantity) (domain.Order, error) {
	if len(items) == 0 {
		return domain.Order{}, domain.ErrEmptySelection
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return domain.Order{}, domain.ErrInvalidQuantity
		}
	}
	return s.placeOrder(ctx, memberID, SourceDirect, func(txCtx context.Context) (draft, error) {
		var d draft
		for _, it := range items {
			item, err := s.catalog.GetItem(txCtx, it.ItemID)
			if err != nil {
				return draft{}, err
			}
			d.lines = append(d.lines, domain.PriceLine(item, it.Quantity))
		}
		return d, nil
	})
}

// OrderFromCartSelection orders the selected cart lines. Every line is locked
// and ownership-checked before anything is written; quantity and price come
// from the line and the live item, never from the request.
func (s *Service) OrderFromCartSelection(ctx context.Context, memberID string, selected []SelectedLine) (domain.Order, error) {
	ids := uniqueLineIDs(selected)
	if len(ids) == 0 {
		return domain.Order{}, domain.ErrEmptySelection
	}
	return s.placeOrder(ctx, memberID, SourceCartSelection, func(txCtx context.Context) (draft, error) {
		lines := make([]domain.CartLine, 0, len(ids))
		for _, id := range ids {
			line, err := s.store.GetLineForUpdate(txCtx, id)
			if err != nil {
				return draft{}, err
			}
			if line.MemberID != memberID {
				return draft{}, domain.ErrNotOwner
			}
			lines = append(lines, line)
		}
		return s.priceCartLines(txCtx, lines)
	})
}

// OrderFromWholeCart orders every live line in the member's cart.
func (s *Service) OrderFromWholeCart(ctx context.Context, memberID string) (domain.Order, error) {
	return s.placeOrder(ctx, memberID, SourceCart, func(txCtx context.Context) (draft, error) {
		c, err := s.store.GetCartByMember(txCtx, memberID)
		if err != nil {
			return draft{}, err
		}
		lines, err := s.store.ListLinesForUpdate(txCtx, c.ID)
		if err != nil {
			return draft{}, err
		}
		if len(lines) == 0 {
			return draft{}, domain.ErrEmptySelection
		}
		return s.priceCartLines(txCtx, lines)
	})
}

func (s *Service) priceCartLines(ctx context.Context, lines []domain.CartLine) (draft, error) {
	d := draft{
		lines:    make([]domain.PricedLine, 0, len(lines)),
		consumed: make([]string, 0, len(lines)),
	}
	for _, line := range lines {
		item, err := s.catalog.GetItem(ctx, line.ItemID)
		if err != nil {
			return draft{}, err
		}
		d.lines = append(d.lines, domain.PriceLine(item, line.Quantity))
		d.consumed = append(d.consumed, line.ID)
	}
	return d, nil
}

// placeOrder persists the order, its stock effects and the cart-line claims in
// one transaction. Deleting the claimed lines happens after commit; if that
// fails the lines stay claimed (invisible to the cart) until the sweeper or the
// next Clear removes them.
func (s *Service) placeOrder(ctx context.Context, memberID, source string, collect func(ctx context.Context) (draft, error)) (domain.Order, error) {
	if _, err := s.members.GetMember(ctx, memberID); err != nil {
		return domain.Order{}, err
	}

	now := s.clock.Now()
	var (
		order    domain.Order
		fromCart bool
	)
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		d, err := collect(txCtx)
		if err != nil {
			return err
		}
		if len(d.lines) == 0 {
			return domain.ErrEmptySelection
		}
		order = newOrder(memberID, d.lines, now)
		for _, q := range aggregate(order.Lines) {
			if err := s.catalog.AdjustStock(txCtx, q.ItemID, -q.Qty); err != nil {
				return err
			}
		}
		if err := s.store.CreateOrder(txCtx, order); err != nil {
			return err
		}
		fromCart = len(d.consumed) > 0
		if fromCart {
			return s.store.ConsumeLines(txCtx, order.ID, d.consumed, now)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if fromCart {
		if n, err := s.store.DeleteConsumedLines(ctx, order.ID); err != nil {
			log.Printf("orders: cart cleanup pending order=%s member=%s: %v", order.ID, memberID, err)
		} else {
			log.Printf("orders: removed %d ordered cart line(s) order=%s", n, order.ID)
		}
	}
	s.publishCreated(order, source)
	return order, nil
}

// Cancel flips a CREATED order to CANCELLED and puts its stock back, both in
// one transaction.
func (s *Service) Cancel(ctx context.Context, orderID, memberID string) (domain.Order, error) {
	now := s.clock.Now()
	var order domain.Order
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		o, err := s.store.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if o.MemberID != memberID {
			return domain.ErrNotOwner
		}
		if !domain.CanTransition(o.Status, domain.StatusCancelled) {
			return domain.ErrOrderCancelled
		}
		for _, q := range aggregate(o.Lines) {
			if err := s.catalog.AdjustStock(txCtx, q.ItemID, q.Qty); err != nil {
				return err
			}
		}
		if err := s.store.UpdateOrderStatus(txCtx, o.ID, o.Status, domain.StatusCancelled, now); err != nil {
			return err
		}
		o.Status = domain.StatusCancelled
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.publishCancelled(order)
	return order, nil
}

// OrderHistory returns every order of the member, newest first.
func (s *Service) OrderHistory(ctx context.Context, memberID string) ([]domain.Order, error) {
	if _, err := s.members.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	return s.store.ListOrdersByMember(ctx, memberID)
}

func (s *Service) GetOrder(ctx context.Context, orderID, memberID string) (domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.MemberID != memberID {
		return domain.Order{}, domain.ErrNotOwner
	}
	return o, nil
}

func newOrder(memberID string, lines []domain.PricedLine, now time.Time) domain.Order {
	o := domain.Order{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		Status:    domain.StatusCreated,
		Lines:     make([]domain.OrderLine, 0, len(lines)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range lines {
		o.Lines = append(o.Lines, p.Snapshot(uuid.NewString(), o.ID))
	}
	return o
}

// aggregate sums quantities per item, sorted by item id so concurrent orders
// lock item rows in the same order.
func aggregate(lines []domain.OrderLine) []ItemQty {
	byItem := map[string]int{}
	for _, l := range lines {
		byItem[l.ItemID] += l.Quantity
	}
	out := make([]ItemQty, 0, len(byItem))
	for id, qty := range byItem {
		out = append(out, ItemQty{ItemID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func uniqueLineIDs(selected []SelectedLine) []string {
	seen := make(map[string]bool, len(selected))
	ids := make([]string, 0, len(selected))
	for _, sl := range selected {
		if sl.CartLineID == "" || seen[sl.CartLineID] {
			continue
		}
		seen[sl.CartLineID] = true
		ids = append(ids, sl.CartLineID)
	}
	return ids
}

func (s *Service) publishCreated(o domain.Order, source string) {
	if s.created == nil {
		return
	}
	items := make([]ItemPrice, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, ItemPrice{ItemID: l.ItemID, Qty: l.Quantity, UnitPrice: l.UnitPrice})
	}
	s.publish(s.created, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:    o.ID,
		MemberID:   o.MemberID,
		Source:     source,
		Items:      items,
		TotalPrice: o.Total(),
	})
}

func (s *Service) publishCancelled(o domain.Order) {
	if s.cancelled == nil {
		return
	}
	s.publish(s.cancelled, EventOrderCancelled, o.ID, OrderCancelledPayload{
		OrderID:   o.ID,
		MemberID:  o.MemberID,
		Restocked: aggregate(o.Lines),
	})
}

func (s *Service) publish(p EventPublisher, eventType, orderID string, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.clock.Now(),
		Producer:      s.producer,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, 1)...)
}
