package lynxkv_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/untoldecay/lynxkv"
)

func mustDB(t *testing.T, tables map[string]lynxkv.TableDefinition) *lynxkv.Database {
	t.Helper()
	db, err := lynxkv.NewDatabase(tables)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// S1: update plus insert in one transaction, sizes observed before and
// after commit.
func TestScenarioProductsUpdateAndInsert(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{
		"products": {PrimaryKey: []string{"id"}},
	})
	products, err := db.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	seed := []lynxkv.Record{
		{"id": float64(1), "name": "L", "price": float64(1500), "stock": float64(30)},
		{"id": float64(2), "name": "K", "price": float64(500), "stock": float64(12)},
		{"id": float64(3), "name": "M", "price": float64(300), "stock": float64(5)},
		{"id": float64(4), "name": "Monitor", "price": float64(900), "stock": float64(20)},
		{"id": float64(5), "name": "Cam", "price": float64(200), "stock": float64(8)},
	}
	if _, err := products.BulkInsert(seed); err != nil {
		t.Fatal(err)
	}

	err = db.Transaction(context.Background(), func(tx *lynxkv.Tx) error {
		txProducts, err := tx.Get("products")
		if err != nil {
			return err
		}
		n, err := txProducts.Update(context.Background(),
			lynxkv.PartialRecord{"price": float64(1100), "stock": float64(10)},
			lynxkv.Filter{"id": lynxkv.Filter{"eq": float64(4)}})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("expected 1 affected, got %d", n)
		}
		if _, err := txProducts.Insert(lynxkv.Record{
			"id": float64(100), "name": "T", "price": float64(800), "stock": float64(10),
		}); err != nil {
			return err
		}
		if products.Size() != 5 {
			t.Fatalf("base table must still read 5 pre-commit, got %d", products.Size())
		}
		if txProducts.Size() != 6 {
			t.Fatalf("tx must see effective size 6, got %d", txProducts.Size())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := products.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(4)})
	if err != nil {
		t.Fatal(err)
	}
	if got["price"] != float64(1100) || got["stock"] != float64(10) {
		t.Fatalf("expected committed update, got %v", got)
	}
	inserted, err := products.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(100)})
	if err != nil {
		t.Fatal(err)
	}
	if inserted == nil || inserted["name"] != "T" {
		t.Fatalf("expected inserted record visible after commit, got %v", inserted)
	}
	if products.Size() != 6 {
		t.Fatalf("expected base size 6 after commit, got %d", products.Size())
	}
}

// S2: composite primary key insert/findByPk/deleteByPk round trip.
func TestScenarioCompositeKeyEnrollments(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{
		"enrollments": {PrimaryKey: []string{"year", "semester", "courseId", "studentId"}},
	})
	enrollments, err := db.Get("enrollments")
	if err != nil {
		t.Fatal(err)
	}
	rec := lynxkv.Record{
		"year": float64(2025), "semester": "Spring",
		"courseId": float64(1), "studentId": float64(1), "grade": nil,
	}
	if _, err := enrollments.Insert(rec); err != nil {
		t.Fatal(err)
	}

	key := lynxkv.PartialRecord{
		"year": float64(2025), "semester": "Spring",
		"courseId": float64(1), "studentId": float64(1),
	}
	got, err := enrollments.FindByPk(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got["semester"] != "Spring" {
		t.Fatalf("expected composite PK lookup to find the record, got %v", got)
	}

	deleted, err := enrollments.DeleteByPk(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if deleted == nil {
		t.Fatal("expected the deleted record to be returned")
	}

	gone, err := enrollments.FindByPk(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Fatalf("expected nil after delete, got %v", gone)
	}
}

// S6: the $-prefixed filter DSL, an $or across two independent predicates.
func TestScenarioFilterDSLOr(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{
		"users": {PrimaryKey: []string{"id"}},
	})
	users, err := db.Get("users")
	if err != nil {
		t.Fatal(err)
	}
	seed := []lynxkv.Record{
		{"id": float64(1), "name": "alice"},
		{"id": float64(2), "name": "bob"},
		{"id": float64(3), "name": "carol"},
		{"id": float64(4), "name": "jhon"},
	}
	if _, err := users.BulkInsert(seed); err != nil {
		t.Fatal(err)
	}

	where := lynxkv.Filter{"$or": []any{
		lynxkv.Filter{"id": lynxkv.Filter{"$gte": float64(3)}},
		lynxkv.Filter{"name": lynxkv.Filter{"$like": "jh%"}},
	}}
	got, err := users.Select(context.Background(), nil, where)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches (id 3, id 4), got %d: %v", len(got), got)
	}
	seen := map[float64]bool{}
	for _, r := range got {
		seen[r["id"].(float64)] = true
	}
	if !seen[3] || !seen[4] {
		t.Fatalf("expected ids 3 and 4, got %v", got)
	}
}

// Testable property 5 / S5: a failed commit leaves no participant mutated,
// and a base-table mutation racing a pending transaction surfaces as
// TransactionConflict wrapping ExternalModification.
func TestExternalModificationDuringCommit(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{
		"products": {PrimaryKey: []string{"id"}},
		"orders":   {PrimaryKey: []string{"id"}},
	})
	products, err := db.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	orders, err := db.Get("orders")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := products.Insert(lynxkv.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}

	tx := db.CreateTransaction()
	txOrders, err := tx.Get("orders")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txOrders.Insert(lynxkv.Record{"id": float64(9)}); err != nil {
		t.Fatal(err)
	}
	txProducts, err := tx.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txProducts.Update(context.Background(),
		lynxkv.PartialRecord{"name": "pending"},
		lynxkv.Filter{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}

	// External mutation outside the transaction bumps the version.
	if _, err := products.Update(lynxkv.PartialRecord{"name": "external"}, lynxkv.Filter{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}

	err = tx.Commit(context.Background())
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	var kerr *lynxkv.Error
	if !errors.As(err, &kerr) || kerr.Kind != lynxkv.KindTransactionConflict {
		t.Fatalf("expected TransactionConflict, got %v", err)
	}
	if orders.Size() != 0 {
		t.Fatal("orders insert must not have been applied: commit is atomic across participants")
	}
}

func TestGetUnknownTableFails(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{"products": {}})
	if _, err := db.Get("nope"); err == nil {
		t.Fatal("expected TableNotFound")
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{"products": {PrimaryKey: []string{"id"}}})
	boom := errors.New("boom")
	err := db.Transaction(context.Background(), func(tx *lynxkv.Tx) error {
		txProducts, err := tx.Get("products")
		if err != nil {
			return err
		}
		if _, err := txProducts.Insert(lynxkv.Record{"id": float64(1)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback's error to propagate, got %v", err)
	}
	products, err := db.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if products.Size() != 0 {
		t.Fatal("rolled-back insert must not be committed")
	}
}

func TestResetLetsInFlightTransactionSurvive(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{"products": {PrimaryKey: []string{"id"}}})
	products, err := db.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := products.Insert(lynxkv.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}

	tx := db.CreateTransaction()
	txProducts, err := tx.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txProducts.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}

	db.Reset()
	if products.Size() != 0 {
		t.Fatal("expected Reset to clear the committed store")
	}

	err = tx.Commit(context.Background())
	if err == nil {
		t.Fatal("expected commit to fail against a reset table")
	}
	var kerr *lynxkv.Error
	if !errors.As(err, &kerr) || kerr.Kind != lynxkv.KindTransactionConflict {
		t.Fatalf("expected TransactionConflict, got %v", err)
	}
}

func TestFindByPkReturnsIndependentCopy(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{"products": {PrimaryKey: []string{"id"}}})
	products, err := db.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := products.Insert(lynxkv.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}
	got, err := products.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	got["name"] = "mutated"

	again, err := products.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if again["name"] != "a" {
		t.Fatal("mutating a returned record must not affect store state")
	}
}

func TestIsolationLevelOverridePerTransaction(t *testing.T) {
	db := mustDB(t, map[string]lynxkv.TableDefinition{"products": {PrimaryKey: []string{"id"}}})
	products, err := db.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := products.Insert(lynxkv.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}

	tx1 := db.CreateTransaction(lynxkv.Options{IsolationLevel: lynxkv.Serializable, LockTimeout: time.Second})
	t1, err := tx1.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := t1.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}

	tx2 := db.CreateTransaction(lynxkv.Options{IsolationLevel: lynxkv.Serializable, LockTimeout: 50 * time.Millisecond})
	t2, err := tx2.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	_, err = t2.FindByPk(context.Background(), lynxkv.PartialRecord{"id": float64(1)})
	if err == nil {
		t.Fatal("expected LockTimeout under Serializable isolation")
	}
	var kerr *lynxkv.Error
	if !errors.As(err, &kerr) || kerr.Kind != lynxkv.KindLockTimeout {
		t.Fatalf("expected LockTimeout, got %v", err)
	}
	_ = tx1.Rollback()
	_ = tx2.Rollback()
}
