// Package store provides manual-SQL data access for the allocation
// service: the product repository, the unit of work and the
// allocations read model.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store provides manual-SQL data access.
type Store struct {
	DB *DB
}

func New(db *DB) *Store {
	return &Store{DB: db}
}

func (s *Store) ensureDB() (*sqlx.DB, error) {
	if s == nil || s.DB == nil || s.DB.DB == nil {
		return nil, fmt.Errorf("nil db")
	}
	return s.DB.DB, nil
}

// AllocationView is one row of the allocations read model.
type AllocationView struct {
	Sku      string `json:"sku" db:"sku"`
	BatchRef string `json:"batchref" db:"batchref"`
}

// AllocationsByOrderID reads the denormalized allocations for an order.
// The view is kept in sync by the Allocated/Deallocated event handlers.
func (s *Store) AllocationsByOrderID(ctx context.Context, orderID string) ([]AllocationView, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	stmt := s.DB.Rebind("SELECT sku, batchref FROM allocations_view WHERE order_id = ?")
	var views []AllocationView
	if err := db.SelectContext(ctx, &views, stmt, orderID); err != nil {
		return nil, err
	}
	return views, nil
}

// BatchRecord is the read-side shape of a batch.
type BatchRecord struct {
	Reference         string     `json:"reference" db:"reference"`
	Sku               string     `json:"sku" db:"sku"`
	PurchasedQuantity int        `json:"purchased_quantity" db:"purchased_quantity"`
	AllocatedQuantity int        `json:"allocated_quantity" db:"allocated_quantity"`
	ETA               *time.Time `json:"eta,omitempty" db:"eta"`
}

func (r BatchRecord) AvailableQuantity() int {
	return r.PurchasedQuantity - r.AllocatedQuantity
}

// GetBatchByRef fetches a single batch together with its allocated total.
func (s *Store) GetBatchByRef(ctx context.Context, ref string) (*BatchRecord, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	stmt := s.DB.Rebind(`SELECT b.reference, b.sku, b.purchased_quantity, b.eta,
		COALESCE((SELECT SUM(ol.qty) FROM allocations a
			JOIN order_lines ol ON ol.id = a.orderline_id
			WHERE a.batch_id = b.id), 0) AS allocated_quantity
		FROM batches b WHERE b.reference = ?`)
	var record BatchRecord
	if err := db.GetContext(ctx, &record, stmt, ref); err != nil {
		return nil, err
	}
	return &record, nil
}

// ErrNotFound returns true if the provided error is a not found error.
func ErrNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	return strings.Contains(err.Error(), "no rows") || strings.Contains(err.Error(), "not found")
}
