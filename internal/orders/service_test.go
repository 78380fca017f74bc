package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/cart"
	"github.com/ariefcatur/go-cart-orders/internal/clock"
	"github.com/ariefcatur/go-cart-orders/internal/domain"
	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/ariefcatur/go-cart-orders/internal/memstore"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/sweeper"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ann = "ann@example.com"
	bob = "bob@example.com"
)

type published struct {
	key     string
	env     orders.Envelope
	headers []kafkago.Header
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(key, value []byte, headers ...kafkago.Header) {
	var env orders.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		panic(err)
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, published{key: string(key), env: env, headers: headers})
	r.mu.Unlock()
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

type fixture struct {
	store     *memstore.Store
	clock     *clock.Manual
	carts     *cart.Service
	svc       *orders.Service
	created   *recorder
	cancelled *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	for _, m := range []domain.Member{{ID: ann, Name: "Ann"}, {ID: bob, Name: "Bob"}} {
		require.NoError(t, st.UpsertMember(ctx, m))
	}
	for _, it := range []domain.Item{
		{ID: "mug", Name: "Mug", Price: 1000, Stock: 5},
		{ID: "pen", Name: "Pen", Price: 250, Stock: 10},
	} {
		require.NoError(t, st.UpsertItem(ctx, it))
	}
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	created, cancelled := &recorder{}, &recorder{}
	return fixture{
		store:     st,
		clock:     clk,
		carts:     cart.NewService(st, st, st, clk),
		svc:       orders.NewService(st, st, st, clk, orders.WithEvents(created, cancelled, "orders-test")),
		created:   created,
		cancelled: cancelled,
	}
}

func (f fixture) stock(t *testing.T, itemID string) int {
	t.Helper()
	it, err := f.store.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	return it.Stock
}

func TestOrderDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.OrderDirect(ctx, ann, "mug", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, o.Status)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "Mug", o.Lines[0].ItemName)
	assert.Equal(t, int64(2000), o.Total())
	assert.Equal(t, 3, f.stock(t, "mug"))

	msgs := f.created.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, o.ID, msgs[0].key)
	assert.Equal(t, orders.EventOrderCreated, msgs[0].env.EventType)
	payload, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](msgs[0].env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.SourceDirect, payload.Source)
	assert.Equal(t, int64(2000), payload.TotalPrice)
}

func TestOrderDirectValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OrderDirect(ctx, ann, "mug", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.svc.OrderDirect(ctx, "ghost@example.com", "mug", 1)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
	_, err = f.svc.OrderDirect(ctx, ann, "nope", 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	_, err = f.svc.OrderDirectMulti(ctx, ann, nil)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
	assert.Empty(t, f.created.all())
}

func TestOrderDirectMultiAggregatesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.OrderDirectMulti(ctx, ann, []orders.ItemQuantity{
		{ItemID: "pen", Quantity: 2},
		{ItemID: "mug", Quantity: 1},
		{ItemID: "pen", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Len(t, o.Lines, 3)
	assert.Equal(t, 6, o.TotalQuantity())
	assert.Equal(t, 5, f.stock(t, "pen"))
	assert.Equal(t, 4, f.stock(t, "mug"))
}

func TestInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lineID, err := f.carts.AddItem(ctx, ann, "mug", 6)
	require.NoError(t, err)

	_, err = f.svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{{CartLineID: lineID}})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.OrderDirectMulti(ctx, ann, []orders.ItemQuantity{{ItemID: "pen", Quantity: 1}, {ItemID: "mug", Quantity: 9}})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 5, f.stock(t, "mug"))
	assert.Equal(t, 10, f.stock(t, "pen"))
	history, err := f.svc.OrderHistory(ctx, ann)
	require.NoError(t, err)
	assert.Empty(t, history)
	n, _ := f.carts.CountLines(ctx, ann)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.created.all())
}

func TestOrderFromCartSelectionRederivesPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mugLine, _ := f.carts.AddItem(ctx, ann, "mug", 3)
	penLine, _ := f.carts.AddItem(ctx, ann, "pen", 1)

	o, err := f.svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{
		{CartLineID: mugLine, Quantity: 1, Price: 1},
	})
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 3, o.Lines[0].Quantity)
	assert.Equal(t, int64(1000), o.Lines[0].UnitPrice)
	assert.Equal(t, int64(3000), o.Total())

	lines, err := f.carts.ListLines(ctx, ann)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, penLine, lines[0].LineID)

	_, err = f.carts.IsLineOwnedBy(ctx, mugLine, ann)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderFromCartSelectionOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	annLine, _ := f.carts.AddItem(ctx, ann, "mug", 1)
	bobLine, _ := f.carts.AddItem(ctx, bob, "pen", 1)

	_, err := f.svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{{CartLineID: annLine}, {CartLineID: bobLine}})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// nothing was taken from either cart
	n, _ := f.carts.CountLines(ctx, ann)
	assert.Equal(t, 1, n)
	n, _ = f.carts.CountLines(ctx, bob)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, f.stock(t, "mug"))
}

func TestOrderFromCartSelectionMissingOrEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OrderFromCartSelection(ctx, ann, nil)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
	_, err = f.svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{{CartLineID: "missing"}})
	assert.ErrorIs(t, err, domain.ErrCartLineNotFound)
}

func TestSelectionDuplicatesCountOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.carts.AddItem(ctx, ann, "pen", 2)

	o, err := f.svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{{CartLineID: id}, {CartLineID: id}})
	require.NoError(t, err)
	assert.Equal(t, 2, o.TotalQuantity())
	assert.Equal(t, 8, f.stock(t, "pen"))
}

func TestConcurrentOverlappingSelections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared, _ := f.carts.AddItem(ctx, ann, "mug", 1)
	pen, _ := f.carts.AddItem(ctx, ann, "pen", 1)

	selections := [][]orders.SelectedLine{
		{{CartLineID: shared}},
		{{CartLineID: shared}, {CartLineID: pen}},
	}
	errs := make([]error, len(selections))
	var wg sync.WaitGroup
	for i, sel := range selections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.OrderFromCartSelection(ctx, ann, sel)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 4, f.stock(t, "mug"))

	history, _ := f.svc.OrderHistory(ctx, ann)
	require.Len(t, history, 1)
}

func TestOrderFromWholeCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OrderFromWholeCart(ctx, ann)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, _ = f.carts.AddItem(ctx, ann, "mug", 1)
	_, _ = f.carts.AddItem(ctx, ann, "pen", 4)

	o, err := f.svc.OrderFromWholeCart(ctx, ann)
	require.NoError(t, err)
	assert.Equal(t, int64(1000+4*250), o.Total())
	n, _ := f.carts.CountLines(ctx, ann)
	assert.Zero(t, n)

	_, err = f.svc.OrderFromWholeCart(ctx, ann)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)

	payload, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](f.created.all()[0].env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.SourceCart, payload.Source)
}

// cleanupFails loses the post-commit delete of ordered cart lines.
type cleanupFails struct {
	*memstore.Store
}

func (cleanupFails) DeleteConsumedLines(context.Context, string) (int, error) {
	return 0, errors.New("connection reset")
}

func TestCartCleanupFailureLeavesOrderAndHidesLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := orders.NewService(cleanupFails{f.store}, f.store, f.store, f.clock)

	ordered, _ := f.carts.AddItem(ctx, ann, "mug", 2)
	kept, _ := f.carts.AddItem(ctx, ann, "pen", 1)

	o, err := svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{{CartLineID: ordered}})
	require.NoError(t, err)
	got, err := svc.GetOrder(ctx, o.ID, ann)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Total())
	assert.Equal(t, 3, f.stock(t, "mug"))

	lines, err := f.carts.ListLines(ctx, ann)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, kept, lines[0].LineID)
	_, err = svc.OrderFromCartSelection(ctx, ann, []orders.SelectedLine{{CartLineID: ordered}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sw := &sweeper.Service{Store: f.store, Name: "sweeper-test"}
	n, err := sw.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = sw.SweepAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, _ := f.carts.CountLines(ctx, ann)
	assert.Equal(t, 1, count)
}

func TestOrderSnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.OrderDirect(ctx, ann, "mug", 1)
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertItem(ctx, domain.Item{ID: "mug", Name: "Big Mug", Price: 5000, Stock: 4}))

	got, err := f.svc.GetOrder(ctx, o.ID, ann)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Total())
	assert.Equal(t, "Mug", got.Lines[0].ItemName)
}

func TestCancelRestoresStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.OrderDirect(ctx, ann, "mug", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, "mug"))

	_, err = f.svc.Cancel(ctx, o.ID, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	f.clock.Advance(time.Minute)
	cancelled, err := f.svc.Cancel(ctx, o.ID, ann)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, f.clock.Now(), cancelled.UpdatedAt)
	assert.Equal(t, 5, f.stock(t, "mug"))

	_, err = f.svc.Cancel(ctx, o.ID, ann)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 5, f.stock(t, "mug"))

	_, err = f.svc.Cancel(ctx, "missing", ann)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	msgs := f.cancelled.all()
	require.Len(t, msgs, 1)
	payload, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](msgs[0].env.Payload)
	require.NoError(t, err)
	assert.Equal(t, []orders.ItemQty{{ItemID: "mug", Qty: 2}}, payload.Restocked)
	assert.Equal(t, orders.EventOrderCancelled, kafkax.HeaderValue(kafkago.Message{Headers: msgs[0].headers}, kafkax.HeaderEventType))
}

func TestOrderHistoryNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.OrderDirect(ctx, ann, "pen", 1)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	b, err := f.svc.OrderDirect(ctx, ann, "mug", 1)
	require.NoError(t, err)
	_, err = f.svc.OrderDirect(ctx, bob, "mug", 1)
	require.NoError(t, err)

	history, err := f.svc.OrderHistory(ctx, ann)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, b.ID, history[0].ID)
	assert.Equal(t, a.ID, history[1].ID)

	_, err = f.svc.OrderHistory(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestGetOrderOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.svc.OrderDirect(ctx, ann, "pen", 1)

	_, err := f.svc.GetOrder(ctx, o.ID, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	got, err := f.svc.GetOrder(ctx, o.ID, ann)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestWithoutEvents(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.UpsertMember(ctx, domain.Member{ID: ann}))
	require.NoError(t, st.UpsertItem(ctx, domain.Item{ID: "mug", Price: 10, Stock: 1}))
	svc := orders.NewService(st, st, st, clock.NewSystem())

	_, err := svc.OrderDirect(ctx, ann, "mug", 1)
	assert.NoError(t, err)
}
