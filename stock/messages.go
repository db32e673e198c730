package stock

import "time"

// Message is anything the bus can dispatch: a command or an event.
type Message interface {
	message()
}

// Command is an instruction from the outside world. Failures propagate
// to the caller.
type Command interface {
	Message
	command()
}

// Event is a fact recorded by the domain. Event handler failures are
// logged and swallowed.
type Event interface {
	Message
	event()
}

// CreateBatch registers a new batch of purchased stock.
type CreateBatch struct {
	Ref string     `json:"ref" binding:"required"`
	Sku string     `json:"sku" binding:"required"`
	Qty int        `json:"qty" binding:"required,gt=0"`
	ETA *time.Time `json:"eta"`
}

// Allocate asks for an order line to be allocated to a batch.
type Allocate struct {
	OrderID string `json:"orderid" binding:"required"`
	Sku     string `json:"sku" binding:"required"`
	Qty     int    `json:"qty" binding:"required,gt=0"`
}

// ChangeBatchQuantity corrects the purchased quantity of a batch, for
// example after a short delivery.
type ChangeBatchQuantity struct {
	Ref string `json:"batchref" binding:"required"`
	Qty int    `json:"qty" binding:"required,gte=0"`
}

func (CreateBatch) message()         {}
func (CreateBatch) command()         {}
func (Allocate) message()            {}
func (Allocate) command()            {}
func (ChangeBatchQuantity) message() {}
func (ChangeBatchQuantity) command() {}

// Allocated is recorded when a line lands on a batch.
type Allocated struct {
	OrderID  string `json:"orderid"`
	Sku      string `json:"sku"`
	Qty      int    `json:"qty"`
	BatchRef string `json:"batchref"`
}

// Deallocated is recorded when a line is kicked off a shrunk batch.
type Deallocated struct {
	OrderID string `json:"orderid"`
	Sku     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// OutOfStock is recorded when no batch can take a line.
type OutOfStock struct {
	Sku string `json:"sku"`
}

func (Allocated) message()   {}
func (Allocated) event()     {}
func (Deallocated) message() {}
func (Deallocated) event()   {}
func (OutOfStock) message()  {}
func (OutOfStock) event()    {}
