package allocator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/adonese/allocation/stock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublishAllocated(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Redis = newTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := svc.Redis.Subscribe(ctx, ChannelLineAllocated)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := svc.Handle(ctx, stock.CreateBatch{Ref: "batch1", Sku: "LAMP", Qty: 100}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, err := svc.Handle(ctx, stock.Allocate{OrderID: "o1", Sku: "LAMP", Qty: 10}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got allocatedMessage
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.ID == "" {
		t.Error("published message has no id")
	}
	if got.OrderID != "o1" || got.Sku != "LAMP" || got.BatchRef != "batch1" {
		t.Errorf("payload = %+v", got)
	}
}

func TestListenBatchQuantityChanges(t *testing.T) {
	svc, storage, _ := newTestService()
	svc.Redis = newTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eta := time.Now().AddDate(0, 0, 1)
	history := []stock.Message{
		stock.CreateBatch{Ref: "batch1", Sku: "VELVET-SOFA", Qty: 50},
		stock.CreateBatch{Ref: "batch2", Sku: "VELVET-SOFA", Qty: 50, ETA: &eta},
		stock.Allocate{OrderID: "order1", Sku: "VELVET-SOFA", Qty: 20},
	}
	for _, msg := range history {
		if _, err := svc.Handle(ctx, msg); err != nil {
			t.Fatalf("Handle(%T) error = %v", msg, err)
		}
	}

	// the reallocation triggered by the quantity change publishes on
	// line_allocated; receiving it is our join point with the listener
	sub := svc.Redis.Subscribe(ctx, ChannelLineAllocated)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	go svc.ListenBatchQuantityChanges(ctx)
	waitForSubscriber(t, ctx, svc.Redis, ChannelChangeBatchQuantity)

	payload, _ := json.Marshal(stock.ChangeBatchQuantity{Ref: "batch1", Qty: 5})
	if err := svc.Redis.Publish(ctx, ChannelChangeBatchQuantity, payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var reallocated allocatedMessage
	if err := json.Unmarshal([]byte(msg.Payload), &reallocated); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if reallocated.OrderID != "order1" || reallocated.BatchRef != "batch2" {
		t.Errorf("reallocated = %+v, want order1 on batch2", reallocated)
	}

	batch1 := storage.products["VELVET-SOFA"].BatchByRef("batch1")
	if batch1.PurchasedQuantity != 5 {
		t.Errorf("purchased quantity = %d, want 5", batch1.PurchasedQuantity)
	}
}

func waitForSubscriber(t *testing.T, ctx context.Context, client *redis.Client, channel string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		counts, err := client.PubSubNumSub(ctx, channel).Result()
		if err != nil {
			t.Fatalf("pubsub numsub: %v", err)
		}
		if counts[channel] > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
