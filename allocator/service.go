// Package allocator is the service layer: a small message bus that
// dispatches allocation commands and the domain events they produce.
package allocator

import (
	"context"

	"github.com/adonese/allocation/mailer"
	"github.com/adonese/allocation/stock"
	"github.com/adonese/allocation/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// UnitOfWork is the transaction boundary the handlers work against.
// *store.UnitOfWork is the production implementation; tests supply an
// in-memory fake.
type UnitOfWork interface {
	AddProduct(ctx context.Context, p *stock.Product) error
	GetProduct(ctx context.Context, sku string) (*stock.Product, error)
	GetProductByBatchRef(ctx context.Context, ref string) (*stock.Product, error)
	SaveProduct(ctx context.Context, p *stock.Product) error
	AddAllocationView(ctx context.Context, orderID, sku, batchref string) error
	RemoveAllocationView(ctx context.Context, orderID, sku string) error
	Commit(ctx context.Context) error
	Rollback() error
	CollectNewEvents() []stock.Event
}

// Storage begins units of work.
type Storage interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// SQLStorage adapts *store.Store to the Storage interface.
type SQLStorage struct {
	Store *store.Store
}

func (s SQLStorage) Begin(ctx context.Context) (UnitOfWork, error) {
	return s.Store.Begin(ctx)
}

// Service wires the handlers to their collaborators.
type Service struct {
	Store  Storage
	Redis  *redis.Client
	Mailer mailer.Mailer
	Config stock.Config
	Logger *logrus.Logger
}

// Handle dispatches a command and then every event it raises, until the
// queue drains. Command handler failures propagate; event handler
// failures are logged and swallowed. The returned slice carries one
// entry per Allocate command processed: the chosen batch reference, or
// "" when the product was out of stock.
func (s *Service) Handle(ctx context.Context, msg stock.Message) ([]string, error) {
	queue := []stock.Message{msg}
	var results []string
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]

		switch m := head.(type) {
		case stock.Command:
			result, hasResult, events, err := s.handleCommand(ctx, m)
			if err != nil {
				return results, err
			}
			if hasResult {
				results = append(results, result)
			}
			queue = append(queue, asMessages(events)...)
		case stock.Event:
			followups, err := s.handleEvent(ctx, m)
			if err != nil {
				s.Logger.WithError(err).WithField("event", eventName(m)).Warn("event handler failed")
				continue
			}
			queue = append(queue, followups...)
		default:
			s.Logger.Warnf("unhandled message type %T", head)
		}
	}
	return results, nil
}

func (s *Service) handleCommand(ctx context.Context, cmd stock.Command) (string, bool, []stock.Event, error) {
	switch c := cmd.(type) {
	case stock.CreateBatch:
		events, err := s.addBatch(ctx, c)
		return "", false, events, err
	case stock.Allocate:
		ref, events, err := s.allocate(ctx, c)
		return ref, err == nil, events, err
	case stock.ChangeBatchQuantity:
		events, err := s.changeBatchQuantity(ctx, c)
		return "", false, events, err
	default:
		s.Logger.Warnf("unhandled command type %T", cmd)
		return "", false, nil, nil
	}
}

func asMessages(events []stock.Event) []stock.Message {
	msgs := make([]stock.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, e)
	}
	return msgs
}

func eventName(e stock.Event) string {
	switch e.(type) {
	case stock.Allocated:
		return "allocated"
	case stock.Deallocated:
		return "deallocated"
	case stock.OutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}
