package allocator

import (
	"context"
	"fmt"

	"github.com/adonese/allocation/apperr"
	"github.com/adonese/allocation/stock"
)

// maxConcurrencyRetries bounds how often a command is retried after an
// optimistic-concurrency conflict on the product version.
const maxConcurrencyRetries = 3

func (s *Service) addBatch(ctx context.Context, cmd stock.CreateBatch) ([]stock.Event, error) {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	product, err := uow.GetProduct(ctx, cmd.Sku)
	if err != nil {
		if !apperr.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		product = stock.NewProduct(cmd.Sku)
		if err := uow.AddProduct(ctx, product); err != nil {
			return nil, err
		}
	}
	product.AddBatch(stock.NewBatch(cmd.Ref, cmd.Sku, cmd.Qty, cmd.ETA))
	if err := uow.SaveProduct(ctx, product); err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}
	return uow.CollectNewEvents(), nil
}

func (s *Service) allocate(ctx context.Context, cmd stock.Allocate) (string, []stock.Event, error) {
	line := stock.OrderLine{OrderID: cmd.OrderID, Sku: cmd.Sku, Qty: cmd.Qty}

	for attempt := 0; attempt < maxConcurrencyRetries; attempt++ {
		uow, err := s.Store.Begin(ctx)
		if err != nil {
			return "", nil, err
		}

		product, err := uow.GetProduct(ctx, cmd.Sku)
		if err != nil {
			_ = uow.Rollback()
			if apperr.Is(err, apperr.ErrNotFound) {
				return "", nil, apperr.Wrap(err, apperr.ErrInvalidSku, fmt.Sprintf("invalid sku %s", cmd.Sku))
			}
			return "", nil, err
		}

		ref := product.Allocate(line)
		if err := uow.SaveProduct(ctx, product); err != nil {
			_ = uow.Rollback()
			if apperr.Is(err, apperr.ErrConcurrency) {
				s.Logger.WithField("sku", cmd.Sku).Infof("allocation raced, retry %d", attempt+1)
				continue
			}
			return "", nil, err
		}
		if err := uow.Commit(ctx); err != nil {
			return "", nil, err
		}
		return ref, uow.CollectNewEvents(), nil
	}
	return "", nil, apperr.Wrap(fmt.Errorf("gave up after %d attempts", maxConcurrencyRetries),
		apperr.ErrConcurrency, fmt.Sprintf("allocation contention on sku %s", cmd.Sku))
}

func (s *Service) changeBatchQuantity(ctx context.Context, cmd stock.ChangeBatchQuantity) ([]stock.Event, error) {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	product, err := uow.GetProductByBatchRef(ctx, cmd.Ref)
	if err != nil {
		return nil, err
	}
	product.ChangeBatchQuantity(cmd.Ref, cmd.Qty)
	if err := uow.SaveProduct(ctx, product); err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}
	return uow.CollectNewEvents(), nil
}

// handleEvent runs the side effects of a single event and returns any
// follow-up messages to put back on the queue.
func (s *Service) handleEvent(ctx context.Context, e stock.Event) ([]stock.Message, error) {
	switch evt := e.(type) {
	case stock.OutOfStock:
		return nil, s.notifyOutOfStock(ctx, evt)
	case stock.Allocated:
		if err := s.publishAllocated(ctx, evt); err != nil {
			s.Logger.WithError(err).Warn("publish line_allocated failed")
		}
		return nil, s.addAllocationToView(ctx, evt)
	case stock.Deallocated:
		if err := s.removeAllocationFromView(ctx, evt); err != nil {
			return nil, err
		}
		// the line goes back on the queue so it lands on another batch
		return []stock.Message{stock.Allocate{OrderID: evt.OrderID, Sku: evt.Sku, Qty: evt.Qty}}, nil
	default:
		return nil, nil
	}
}

func (s *Service) notifyOutOfStock(ctx context.Context, evt stock.OutOfStock) error {
	if s.Mailer == nil {
		return nil
	}
	return s.Mailer.Send(ctx, s.Config.StockAdminEmail,
		fmt.Sprintf("Out of stock for %s", evt.Sku),
		fmt.Sprintf("There is no stock left to allocate sku %s", evt.Sku))
}

func (s *Service) addAllocationToView(ctx context.Context, evt stock.Allocated) error {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := uow.AddAllocationView(ctx, evt.OrderID, evt.Sku, evt.BatchRef); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (s *Service) removeAllocationFromView(ctx context.Context, evt stock.Deallocated) error {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := uow.RemoveAllocationView(ctx, evt.OrderID, evt.Sku); err != nil {
		return err
	}
	return uow.Commit(ctx)
}
