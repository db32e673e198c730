// Package stock holds the allocation domain model: order lines are
// allocated against batches of stock, and a product aggregates every
// batch that shares its sku.
package stock

import (
	"sort"
	"time"
)

// OrderLine is a single line of a customer order. Lines are value
// objects: two lines with the same orderid, sku and qty are the same line.
type OrderLine struct {
	OrderID string `json:"orderid" binding:"required"`
	Sku     string `json:"sku" binding:"required"`
	Qty     int    `json:"qty" binding:"required,gt=0"`
}

// Batch is a batch of stock purchased for a sku. A nil ETA means the
// batch is already in the warehouse; otherwise it is a shipment on its way.
type Batch struct {
	ID                int64
	Reference         string
	Sku               string
	PurchasedQuantity int
	ETA               *time.Time

	allocations map[OrderLine]struct{}
}

func NewBatch(reference, sku string, qty int, eta *time.Time) *Batch {
	return &Batch{
		Reference:         reference,
		Sku:               sku,
		PurchasedQuantity: qty,
		ETA:               eta,
		allocations:       make(map[OrderLine]struct{}),
	}
}

func (b *Batch) AllocatedQuantity() int {
	total := 0
	for line := range b.allocations {
		total += line.Qty
	}
	return total
}

func (b *Batch) AvailableQuantity() int {
	return b.PurchasedQuantity - b.AllocatedQuantity()
}

func (b *Batch) CanAllocate(line OrderLine) bool {
	return b.Sku == line.Sku && b.AvailableQuantity() >= line.Qty
}

// Allocate attaches line to the batch. Allocating the same line twice
// has no further effect.
func (b *Batch) Allocate(line OrderLine) {
	if b.allocations == nil {
		b.allocations = make(map[OrderLine]struct{})
	}
	if b.CanAllocate(line) {
		b.allocations[line] = struct{}{}
	}
}

func (b *Batch) Deallocate(line OrderLine) {
	delete(b.allocations, line)
}

// RestoreAllocation reattaches a persisted line without availability
// checks. Used by the store when rehydrating an aggregate.
func (b *Batch) RestoreAllocation(line OrderLine) {
	if b.allocations == nil {
		b.allocations = make(map[OrderLine]struct{})
	}
	b.allocations[line] = struct{}{}
}

// DeallocateOne removes an arbitrary allocated line and returns it. The
// boolean is false when nothing is allocated.
func (b *Batch) DeallocateOne() (OrderLine, bool) {
	for line := range b.allocations {
		delete(b.allocations, line)
		return line, true
	}
	return OrderLine{}, false
}

func (b *Batch) HasAllocation(line OrderLine) bool {
	_, ok := b.allocations[line]
	return ok
}

// Allocations returns the allocated lines in no particular order.
func (b *Batch) Allocations() []OrderLine {
	lines := make([]OrderLine, 0, len(b.allocations))
	for line := range b.allocations {
		lines = append(lines, line)
	}
	return lines
}

// earlier orders warehouse stock before shipments, and shipments by ETA.
func (b *Batch) earlier(other *Batch) bool {
	if b.ETA == nil {
		return true
	}
	if other.ETA == nil {
		return false
	}
	return b.ETA.Before(*other.ETA)
}

// Product is the aggregate and consistency boundary for everything that
// concerns a single sku. Version is bumped on every allocation so
// concurrent writers can be detected at commit time.
type Product struct {
	Sku     string
	Version int
	Batches []*Batch

	events []Event
}

func NewProduct(sku string) *Product {
	return &Product{Sku: sku}
}

func (p *Product) AddBatch(b *Batch) {
	p.Batches = append(p.Batches, b)
}

// Allocate picks the preferred batch that can take the line and returns
// its reference. An empty reference means the product is out of stock
// for that line; an OutOfStock event is recorded instead.
func (p *Product) Allocate(line OrderLine) string {
	batches := make([]*Batch, len(p.Batches))
	copy(batches, p.Batches)
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].earlier(batches[j])
	})
	for _, b := range batches {
		if !b.CanAllocate(line) {
			continue
		}
		b.Allocate(line)
		p.Version++
		p.record(Allocated{
			OrderID:  line.OrderID,
			Sku:      line.Sku,
			Qty:      line.Qty,
			BatchRef: b.Reference,
		})
		return b.Reference
	}
	p.record(OutOfStock{Sku: line.Sku})
	return ""
}

// ChangeBatchQuantity sets a new purchased quantity on the referenced
// batch and kicks out allocated lines until the batch is no longer
// oversubscribed. Each kicked line is recorded as Deallocated so it can
// be reallocated elsewhere.
func (p *Product) ChangeBatchQuantity(ref string, qty int) {
	batch := p.BatchByRef(ref)
	if batch == nil {
		return
	}
	batch.PurchasedQuantity = qty
	for batch.AvailableQuantity() < 0 {
		line, ok := batch.DeallocateOne()
		if !ok {
			break
		}
		p.record(Deallocated{OrderID: line.OrderID, Sku: line.Sku, Qty: line.Qty})
	}
}

func (p *Product) BatchByRef(ref string) *Batch {
	for _, b := range p.Batches {
		if b.Reference == ref {
			return b
		}
	}
	return nil
}

func (p *Product) record(e Event) {
	p.events = append(p.events, e)
}

// PopEvents drains and returns the events recorded since the last call.
func (p *Product) PopEvents() []Event {
	events := p.events
	p.events = nil
	return events
}
