package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/clock"
	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Store is the slice of the cart store this service needs. Lines consumed by an
// order are never returned by GetLine or ListLines.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrCreateCart(ctx context.Context, memberID string, now time.Time) (domain.Cart, error)
	GetCartByMember(ctx context.Context, memberID string) (domain.Cart, error)
	AddLineQuantity(ctx context.Context, cartID, itemID string, quantity int, now time.Time) (string, error)
	GetLine(ctx context.Context, lineID string) (domain.CartLine, error)
	ListLines(ctx context.Context, cartID string) ([]domain.CartLine, error)
	UpdateLineQuantity(ctx context.Context, lineID string, quantity, version int, now time.Time) error
	DeleteLine(ctx context.Context, lineID string, version int) error
	DeleteAllLines(ctx context.Context, cartID string) (int, error)
}

type Catalog interface {
	GetItem(ctx context.Context, itemID string) (domain.Item, error)
}

type Members interface {
	GetMember(ctx context.Context, memberID string) (domain.Member, error)
}

// lookupConcurrency bounds parallel catalog reads when building a cart view.
const lookupConcurrency = 8

type Service struct {
	store   Store
	catalog Catalog
	members Members
	clock   clock.Clock
}

func NewService(store Store, catalog Catalog, members Members, clk clock.Clock) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		members: members,
		clock:   clk,
	}
}

type LineView struct {
	LineID    string    `json:"cart_line_id"`
	ItemID    string    `json:"item_id"`
	ItemName  string    `json:"item_name"`
	ImageURL  string    `json:"image_url,omitempty"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Subtotal  int64     `json:"subtotal"`
	Version   int       `json:"version"`
	AddedAt   time.Time `json:"added_at"`
}

type Summary struct {
	Lines         []LineView `json:"lines"`
	TotalQuantity int        `json:"total_quantity"`
	TotalPrice    int64      `json:"total_price"`
}

type UpdateQuantityInput struct {
	LineID   string
	MemberID string
	Quantity int
	// Version is the line version the caller last saw. An update against any
	// other version fails with ErrVersionConflict.
	Version int
}

// AddItem merges quantity into the member's line for itemID, creating the cart
// and the line on first use. Stock is not checked here.
func (s *Service) AddItem(ctx context.Context, memberID, itemID string, quantity int) (string, error) {
	if quantity < 1 {
		return "", domain.ErrInvalidQuantity
	}
	if _, err := s.members.GetMember(ctx, memberID); err != nil {
		return "", err
	}
	if _, err := s.catalog.GetItem(ctx, itemID); err != nil {
		return "", err
	}

	now := s.clock.Now()
	var lineID string
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		c, err := s.store.GetOrCreateCart(txCtx, memberID, now)
		if err != nil {
			return err
		}
		lineID, err = s.store.AddLineQuantity(txCtx, c.ID, itemID, quantity, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return lineID, nil
}

// ListLines returns the member's live cart lines, newest first, priced at the
// current catalog price.
func (s *Service) ListLines(ctx context.Context, memberID string) ([]LineView, error) {
	lines, err := s.liveLines(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, lines)
}

func (s *Service) Summarize(ctx context.Context, memberID string) (Summary, error) {
	views, err := s.ListLines(ctx, memberID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Lines: views}
	for _, v := range views {
		sum.TotalQuantity += v.Quantity
		sum.TotalPrice += v.Subtotal
	}
	return sum, nil
}

// CountLines is the number of distinct items in the member's cart.
func (s *Service) CountLines(ctx context.Context, memberID string) (int, error) {
	lines, err := s.liveLines(ctx, memberID)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// IsLineOwnedBy reports whether lineID sits in memberID's cart. A missing line is
// ErrCartLineNotFound, not false.
func (s *Service) IsLineOwnedBy(ctx context.Context, lineID, memberID string) (bool, error) {
	line, err := s.store.GetLine(ctx, lineID)
	if err != nil {
		return false, err
	}
	return line.MemberID == memberID, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, in UpdateQuantityInput) error {
	if in.Quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	if in.Version < 1 {
		return domain.ErrVersionRequired
	}
	now := s.clock.Now()
	return s.store.WithTx(ctx, func(txCtx context.Context) error {
		line, err := s.ownedLine(txCtx, in.LineID, in.MemberID)
		if err != nil {
			return err
		}
		return s.store.UpdateLineQuantity(txCtx, line.ID, in.Quantity, in.Version, now)
	})
}

// RemoveLine deletes one line. Removing a line that is already gone fails with
// ErrCartLineNotFound.
func (s *Service) RemoveLine(ctx context.Context, lineID, memberID string) error {
	return s.store.WithTx(ctx, func(txCtx context.Context) error {
		line, err := s.ownedLine(txCtx, lineID, memberID)
		if err != nil {
			return err
		}
		return s.store.DeleteLine(txCtx, line.ID, line.Version)
	})
}

func (s *Service) Clear(ctx context.Context, memberID string) error {
	return s.store.WithTx(ctx, func(txCtx context.Context) error {
		c, err := s.store.GetCartByMember(txCtx, memberID)
		if err != nil {
			return err
		}
		n, err := s.store.DeleteAllLines(txCtx, c.ID)
		if err != nil {
			return err
		}
		log.Printf("cart: cleared %d line(s) member=%s", n, memberID)
		return nil
	})
}

func (s *Service) ownedLine(ctx context.Context, lineID, memberID string) (domain.CartLine, error) {
	line, err := s.store.GetLine(ctx, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if line.MemberID != memberID {
		return domain.CartLine{}, domain.ErrNotOwner
	}
	return line, nil
}

func (s *Service) liveLines(ctx context.Context, memberID string) ([]domain.CartLine, error) {
	if _, err := s.members.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	c, err := s.store.GetCartByMember(ctx, memberID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.ListLines(ctx, c.ID)
}

// views joins each line with its live catalog entry. Lines whose item left the
// catalog are skipped.
func (s *Service) views(ctx context.Context, lines []domain.CartLine) ([]LineView, error) {
	priced := make([]*domain.PricedLine, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, line := range lines {
		g.Go(func() error {
			item, err := s.catalog.GetItem(gctx, line.ItemID)
			if errors.Is(err, domain.ErrItemNotFound) {
				log.Printf("cart: skipping line %s, item %s no longer in catalog", line.ID, line.ItemID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("price cart line %s: %w", line.ID, err)
			}
			p := domain.PriceLine(item, line.Quantity)
			priced[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]LineView, 0, len(lines))
	for i, line := range lines {
		p := priced[i]
		if p == nil {
			continue
		}
		out = append(out, LineView{
			LineID:    line.ID,
			ItemID:    line.ItemID,
			ItemName:  p.ItemName,
			ImageURL:  p.ImageURL,
			Quantity:  line.Quantity,
			UnitPrice: p.UnitPrice,
			Subtotal:  p.Subtotal(),
			Version:   line.Version,
			AddedAt:   line.CreatedAt,
		})
	}
	return out, nil
}
