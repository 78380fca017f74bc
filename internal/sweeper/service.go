// Package sweeper removes cart lines left behind by orders: lines an order has
// claimed but that were not deleted right after the order committed.
package sweeper

import (
	"context"
	"encoding/json"
	"log"

	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

type Store interface {
	DeleteConsumedLines(ctx context.Context, orderID string) (int, error)
	PurgeConsumedLines(ctx context.Context) (int, error)
}

// Deduper is satisfied by *redisx.Cache.
type Deduper interface {
	MarkProcessed(ctx context.Context, service, eventID string) (bool, error)
	UnmarkProcessed(ctx context.Context, service, eventID string) error
}

type Service struct {
	Store Store
	Dedup Deduper // optional
	Name  string
}

// HandleOrderCreated is the consumer handler for order.created.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && t != orders.EventOrderCreated {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Printf("sweeper: dropping undecodable message offset=%d: %v", m.Offset, err)
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		log.Printf("sweeper: dropping event %s: %v", env.EventID, err)
		return nil
	}
	if p.Source == orders.SourceDirect {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.MarkProcessed(ctx, s.Name, env.EventID)
		if err != nil {
			log.Printf("sweeper: dedup unavailable event=%s: %v", env.EventID, err)
		} else if !first {
			return nil
		}
	}

	n, err := s.Store.DeleteConsumedLines(ctx, p.OrderID)
	if err != nil {
		if s.Dedup != nil {
			if uerr := s.Dedup.UnmarkProcessed(ctx, s.Name, env.EventID); uerr != nil {
				log.Printf("sweeper: release dedup event=%s: %v", env.EventID, uerr)
			}
		}
		return err
	}
	if n > 0 {
		log.Printf("sweeper: removed %d leftover cart line(s) order=%s member=%s", n, p.OrderID, p.MemberID)
	}
	return nil
}

// SweepAll deletes every claimed cart line regardless of order.
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	n, err := s.Store.PurgeConsumedLines(ctx)
	if err != nil {
		return 0, err
	}
	log.Printf("sweeper: purged %d leftover cart line(s)", n)
	return n, nil
}
