package allocator

import (
	"context"
	"encoding/json"

	"github.com/adonese/allocation/stock"
	"github.com/google/uuid"
)

const (
	// ChannelLineAllocated carries a message per successful allocation.
	ChannelLineAllocated = "line_allocated"
	// ChannelChangeBatchQuantity receives external quantity corrections.
	ChannelChangeBatchQuantity = "change_batch_quantity"
)

// allocatedMessage is the wire shape published on line_allocated.
type allocatedMessage struct {
	ID string `json:"id"`
	stock.Allocated
}

func (s *Service) publishAllocated(ctx context.Context, evt stock.Allocated) error {
	if s.Redis == nil {
		return nil
	}
	payload, err := json.Marshal(allocatedMessage{ID: uuid.NewString(), Allocated: evt})
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, ChannelLineAllocated, payload).Err()
}

// ListenBatchQuantityChanges consumes change_batch_quantity messages
// until the context is cancelled. Meant to run in its own goroutine
// from main.
func (s *Service) ListenBatchQuantityChanges(ctx context.Context) {
	if s.Redis == nil {
		s.Logger.Warn("redis disabled, batch quantity listener not started")
		return
	}
	pubsub := s.Redis.Subscribe(ctx, ChannelChangeBatchQuantity)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		s.Logger.WithError(err).Error("subscribe change_batch_quantity failed")
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd stock.ChangeBatchQuantity
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				s.Logger.WithError(err).Warn("bad change_batch_quantity payload")
				continue
			}
			if _, err := s.Handle(ctx, cmd); err != nil {
				s.Logger.WithError(err).WithField("batchref", cmd.Ref).Error("change batch quantity failed")
			}
		}
	}
}
