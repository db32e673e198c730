package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adonese/allocation/apperr"
	"github.com/adonese/allocation/stock"
	"github.com/jmoiron/sqlx"
)

// UnitOfWork is a transaction boundary over the product repository. It
// tracks every product it hands out so the message bus can collect the
// domain events recorded during the transaction.
type UnitOfWork struct {
	tx     *sqlx.Tx
	driver string
	seen   []*stock.Product
	loaded map[string]int
	done   bool
}

// Begin opens a transaction-scoped unit of work.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	if _, err := s.ensureDB(); err != nil {
		return nil, err
	}
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "begin transaction")
	}
	return &UnitOfWork{tx: tx, driver: s.DB.Driver, loaded: map[string]int{}}, nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "commit transaction")
	}
	return nil
}

// Rollback is a no-op after Commit, so it is safe to defer.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback()
}

// CollectNewEvents drains the events recorded by every product this
// unit of work has seen.
func (u *UnitOfWork) CollectNewEvents() []stock.Event {
	var events []stock.Event
	for _, p := range u.seen {
		events = append(events, p.PopEvents()...)
	}
	return events
}

func (u *UnitOfWork) see(p *stock.Product) {
	for _, existing := range u.seen {
		if existing == p {
			return
		}
	}
	u.seen = append(u.seen, p)
}

// AddProduct inserts a brand-new product row.
func (u *UnitOfWork) AddProduct(ctx context.Context, p *stock.Product) error {
	stmt := u.tx.Rebind("INSERT INTO products(sku, version_number) VALUES(?, ?)")
	if _, err := u.tx.ExecContext(ctx, stmt, p.Sku, p.Version); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "insert product")
	}
	u.loaded[p.Sku] = p.Version
	u.see(p)
	return nil
}

// GetProduct loads a product aggregate with its batches and their
// allocated lines.
func (u *UnitOfWork) GetProduct(ctx context.Context, sku string) (*stock.Product, error) {
	stmt := u.tx.Rebind("SELECT version_number FROM products WHERE sku = ?")
	var version int
	if err := u.tx.GetContext(ctx, &version, stmt, sku); err != nil {
		if ErrNotFound(err) {
			return nil, apperr.Wrap(err, apperr.ErrNotFound, fmt.Sprintf("unknown sku %s", sku))
		}
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "get product")
	}

	product := stock.NewProduct(sku)
	product.Version = version

	batchStmt := u.tx.Rebind("SELECT id, reference, sku, purchased_quantity, eta FROM batches WHERE sku = ? ORDER BY id")
	var batchRows []struct {
		ID                int64      `db:"id"`
		Reference         string     `db:"reference"`
		Sku               string     `db:"sku"`
		PurchasedQuantity int        `db:"purchased_quantity"`
		ETA               *time.Time `db:"eta"`
	}
	if err := u.tx.SelectContext(ctx, &batchRows, batchStmt, sku); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "load batches")
	}

	batchesByID := map[int64]*stock.Batch{}
	for _, row := range batchRows {
		batch := stock.NewBatch(row.Reference, row.Sku, row.PurchasedQuantity, row.ETA)
		batch.ID = row.ID
		product.AddBatch(batch)
		batchesByID[row.ID] = batch
	}

	lineStmt := u.tx.Rebind(`SELECT ol.order_id, ol.sku, ol.qty, a.batch_id
		FROM order_lines ol
		JOIN allocations a ON a.orderline_id = ol.id
		JOIN batches b ON b.id = a.batch_id
		WHERE b.sku = ?`)
	var lineRows []struct {
		OrderID string `db:"order_id"`
		Sku     string `db:"sku"`
		Qty     int    `db:"qty"`
		BatchID int64  `db:"batch_id"`
	}
	if err := u.tx.SelectContext(ctx, &lineRows, lineStmt, sku); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "load allocations")
	}
	for _, row := range lineRows {
		if batch, ok := batchesByID[row.BatchID]; ok {
			batch.RestoreAllocation(stock.OrderLine{OrderID: row.OrderID, Sku: row.Sku, Qty: row.Qty})
		}
	}

	u.loaded[sku] = version
	u.see(product)
	return product, nil
}

// GetProductByBatchRef resolves a batch reference to its product.
func (u *UnitOfWork) GetProductByBatchRef(ctx context.Context, ref string) (*stock.Product, error) {
	stmt := u.tx.Rebind("SELECT sku FROM batches WHERE reference = ?")
	var sku string
	if err := u.tx.GetContext(ctx, &sku, stmt, ref); err != nil {
		if ErrNotFound(err) {
			return nil, apperr.Wrap(err, apperr.ErrNotFound, fmt.Sprintf("unknown batch %s", ref))
		}
		return nil, apperr.Wrap(err, apperr.ErrDatabase, "resolve batch")
	}
	return u.GetProduct(ctx, sku)
}

// SaveProduct persists the aggregate: batches are upserted, the
// allocation rows are rewritten, and the product version is advanced
// with a compare-and-swap against the version read at load time.
func (u *UnitOfWork) SaveProduct(ctx context.Context, p *stock.Product) error {
	loaded, ok := u.loaded[p.Sku]
	if !ok {
		return apperr.Wrap(fmt.Errorf("product %s was not loaded in this unit of work", p.Sku), apperr.ErrInternal, "")
	}

	casStmt := u.tx.Rebind("UPDATE products SET version_number = ? WHERE sku = ? AND version_number = ?")
	res, err := u.tx.ExecContext(ctx, casStmt, p.Version, p.Sku, loaded)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "update product version")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperr.Wrap(fmt.Errorf("version moved from %d", loaded), apperr.ErrConcurrency,
			fmt.Sprintf("concurrent update on product %s", p.Sku))
	}
	u.loaded[p.Sku] = p.Version

	for _, batch := range p.Batches {
		if err := u.saveBatch(ctx, batch); err != nil {
			return err
		}
	}
	if err := u.rewriteAllocations(ctx, p); err != nil {
		return err
	}
	return nil
}

func (u *UnitOfWork) saveBatch(ctx context.Context, batch *stock.Batch) error {
	// the update is scoped to the owning sku: a reference held by a
	// different product's batch must not be rewritten from here
	stmt := u.tx.Rebind(`INSERT INTO batches(reference, sku, purchased_quantity, eta)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET purchased_quantity = excluded.purchased_quantity, eta = excluded.eta
		WHERE batches.sku = excluded.sku`)
	res, err := u.tx.ExecContext(ctx, stmt, batch.Reference, batch.Sku, batch.PurchasedQuantity, batch.ETA)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "upsert batch")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperr.Wrap(fmt.Errorf("reference %s is taken by another sku", batch.Reference),
			apperr.ErrConflict, fmt.Sprintf("batch %s belongs to another product", batch.Reference))
	}
	idStmt := u.tx.Rebind("SELECT id FROM batches WHERE reference = ? AND sku = ?")
	if err := u.tx.GetContext(ctx, &batch.ID, idStmt, batch.Reference, batch.Sku); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "resolve batch id")
	}
	return nil
}

func (u *UnitOfWork) rewriteAllocations(ctx context.Context, p *stock.Product) error {
	// deleting the lines cascades to their allocation rows
	delLines := u.tx.Rebind(`DELETE FROM order_lines WHERE id IN (
		SELECT orderline_id FROM allocations WHERE batch_id IN (SELECT id FROM batches WHERE sku = ?))`)
	if _, err := u.tx.ExecContext(ctx, delLines, p.Sku); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "clear order lines")
	}

	for _, batch := range p.Batches {
		for _, line := range batch.Allocations() {
			lineID, err := u.insertOrderLine(ctx, line)
			if err != nil {
				return err
			}
			allocStmt := u.tx.Rebind("INSERT INTO allocations(orderline_id, batch_id) VALUES(?, ?)")
			if _, err := u.tx.ExecContext(ctx, allocStmt, lineID, batch.ID); err != nil {
				return apperr.Wrap(err, apperr.ErrDatabase, "insert allocation")
			}
		}
	}
	return nil
}

func (u *UnitOfWork) insertOrderLine(ctx context.Context, line stock.OrderLine) (int64, error) {
	if u.driver == DriverPostgres {
		stmt := u.tx.Rebind("INSERT INTO order_lines(order_id, sku, qty) VALUES(?, ?, ?) RETURNING id")
		var id int64
		if err := u.tx.GetContext(ctx, &id, stmt, line.OrderID, line.Sku, line.Qty); err != nil {
			return 0, apperr.Wrap(err, apperr.ErrDatabase, "insert order line")
		}
		return id, nil
	}
	stmt := u.tx.Rebind("INSERT INTO order_lines(order_id, sku, qty) VALUES(?, ?, ?)")
	res, err := u.tx.ExecContext(ctx, stmt, line.OrderID, line.Sku, line.Qty)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.ErrDatabase, "insert order line")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.ErrDatabase, "order line id")
	}
	return id, nil
}

// AddAllocationView inserts a row into the allocations read model.
func (u *UnitOfWork) AddAllocationView(ctx context.Context, orderID, sku, batchref string) error {
	stmt := u.tx.Rebind("INSERT INTO allocations_view(order_id, sku, batchref) VALUES(?, ?, ?)")
	if _, err := u.tx.ExecContext(ctx, stmt, orderID, sku, batchref); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "insert allocation view")
	}
	return nil
}

// RemoveAllocationView deletes the read-model rows for an order line.
func (u *UnitOfWork) RemoveAllocationView(ctx context.Context, orderID, sku string) error {
	stmt := u.tx.Rebind("DELETE FROM allocations_view WHERE order_id = ? AND sku = ?")
	if _, err := u.tx.ExecContext(ctx, stmt, orderID, sku); err != nil {
		return apperr.Wrap(err, apperr.ErrDatabase, "delete allocation view")
	}
	return nil
}
