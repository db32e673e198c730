package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adonese/allocation/apperr"
	"github.com/adonese/allocation/stock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenFromConfig("", dbPath, "sqlite3")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func addProductWithBatch(t *testing.T, s *Store, sku, ref string, qty int, eta *time.Time) {
	t.Helper()
	ctx := context.Background()
	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer uow.Rollback()
	product := stock.NewProduct(sku)
	if err := uow.AddProduct(ctx, product); err != nil {
		t.Fatalf("add product: %v", err)
	}
	product.AddBatch(stock.NewBatch(ref, sku, qty, eta))
	if err := uow.SaveProduct(ctx, product); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestUnitOfWork_roundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	eta := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	addProductWithBatch(t, s, "GLASS-TABLE", "batch-001", 20, &eta)

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer uow.Rollback()
	product, err := uow.GetProduct(ctx, "GLASS-TABLE")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	batch := product.BatchByRef("batch-001")
	if batch == nil {
		t.Fatal("batch-001 not rehydrated")
	}
	if batch.PurchasedQuantity != 20 {
		t.Errorf("PurchasedQuantity = %v, want %v", batch.PurchasedQuantity, 20)
	}
	if batch.ETA == nil || !batch.ETA.Equal(eta) {
		t.Errorf("ETA = %v, want %v", batch.ETA, eta)
	}
}

func TestUnitOfWork_persistsAllocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProductWithBatch(t, s, "ELEGANT-LAMP", "batch-002", 20, nil)

	line := stock.OrderLine{OrderID: "order1", Sku: "ELEGANT-LAMP", Qty: 2}

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	product, err := uow.GetProduct(ctx, "ELEGANT-LAMP")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if ref := product.Allocate(line); ref != "batch-002" {
		t.Fatalf("Allocate() = %v, want batch-002", ref)
	}
	if err := uow.SaveProduct(ctx, product); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	check, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer check.Rollback()
	reloaded, err := check.GetProduct(ctx, "ELEGANT-LAMP")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	batch := reloaded.BatchByRef("batch-002")
	if !batch.HasAllocation(line) {
		t.Error("allocation was not persisted")
	}
	if got := batch.AvailableQuantity(); got != 18 {
		t.Errorf("AvailableQuantity() = %v, want %v", got, 18)
	}
	if reloaded.Version != 1 {
		t.Errorf("Version = %v, want %v", reloaded.Version, 1)
	}
}

func TestUnitOfWork_rollbackDiscardsChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	product := stock.NewProduct("FLEETING-CHAIR")
	if err := uow.AddProduct(ctx, product); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	check, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer check.Rollback()
	if _, err := check.GetProduct(ctx, "FLEETING-CHAIR"); !apperr.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetProduct() error = %v, want not_found", err)
	}
}

func TestUnitOfWork_GetProductByBatchRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProductWithBatch(t, s, "RED-CHAIR", "batch-rc", 10, nil)

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer uow.Rollback()
	product, err := uow.GetProductByBatchRef(ctx, "batch-rc")
	if err != nil {
		t.Fatalf("get by batchref: %v", err)
	}
	if product.Sku != "RED-CHAIR" {
		t.Errorf("Sku = %v, want RED-CHAIR", product.Sku)
	}

	if _, err := uow.GetProductByBatchRef(ctx, "no-such-batch"); !apperr.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetProductByBatchRef() error = %v, want not_found", err)
	}
}

func TestUnitOfWork_batchReferenceIsOwnedByOneProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProductWithBatch(t, s, "WHITE-SOFA", "shared-ref", 100, nil)

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer uow.Rollback()
	intruder := stock.NewProduct("BLACK-SOFA")
	if err := uow.AddProduct(ctx, intruder); err != nil {
		t.Fatalf("add product: %v", err)
	}
	intruder.AddBatch(stock.NewBatch("shared-ref", "BLACK-SOFA", 7, nil))
	if err := uow.SaveProduct(ctx, intruder); !apperr.Is(err, apperr.ErrConflict) {
		t.Fatalf("SaveProduct() error = %v, want conflict", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	record, err := s.GetBatchByRef(ctx, "shared-ref")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if record.Sku != "WHITE-SOFA" || record.PurchasedQuantity != 100 {
		t.Errorf("batch = %+v, want WHITE-SOFA untouched at 100", record)
	}
}

func TestStore_allocationsView(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.AddAllocationView(ctx, "order1", "RED-CHAIR", "batch1"); err != nil {
		t.Fatalf("add view: %v", err)
	}
	if err := uow.AddAllocationView(ctx, "order1", "RED-TABLE", "batch2"); err != nil {
		t.Fatalf("add view: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	views, err := s.AllocationsByOrderID(ctx, "order1")
	if err != nil {
		t.Fatalf("allocations by order: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}

	uow, err = s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.RemoveAllocationView(ctx, "order1", "RED-CHAIR"); err != nil {
		t.Fatalf("remove view: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	views, err = s.AllocationsByOrderID(ctx, "order1")
	if err != nil {
		t.Fatalf("allocations by order: %v", err)
	}
	if len(views) != 1 || views[0].Sku != "RED-TABLE" {
		t.Errorf("views = %+v, want only RED-TABLE", views)
	}
}

func TestStore_GetBatchByRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addProductWithBatch(t, s, "OAK-DESK", "batch-od", 50, nil)

	uow, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	product, err := uow.GetProduct(ctx, "OAK-DESK")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	product.Allocate(stock.OrderLine{OrderID: "order9", Sku: "OAK-DESK", Qty: 15})
	if err := uow.SaveProduct(ctx, product); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	record, err := s.GetBatchByRef(ctx, "batch-od")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if record.Sku != "OAK-DESK" || record.PurchasedQuantity != 50 {
		t.Errorf("record = %+v", record)
	}
	if got := record.AvailableQuantity(); got != 35 {
		t.Errorf("AvailableQuantity() = %v, want %v", got, 35)
	}

	if _, err := s.GetBatchByRef(ctx, "missing"); !ErrNotFound(err) {
		t.Errorf("GetBatchByRef() error = %v, want not found", err)
	}
}
