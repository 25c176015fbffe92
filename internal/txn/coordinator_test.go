package txn

import (
	"context"
	"testing"
	"time"

	"github.com/untoldecay/lynxkv/internal/filter"
	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/lock"
	"github.com/untoldecay/lynxkv/internal/pk"
	"github.com/untoldecay/lynxkv/internal/table"
)

func newRegistry(t *testing.T, names ...string) map[string]*table.Base {
	t.Helper()
	locks := lock.NewManager()
	reg := make(map[string]*table.Base, len(names))
	for _, n := range names {
		pkMgr, err := pk.New([]string{"id"})
		if err != nil {
			t.Fatal(err)
		}
		reg[n] = table.NewBase(n, pkMgr, locks, time.Second)
	}
	return reg
}

func TestCommitAcrossMultipleTables(t *testing.T) {
	reg := newRegistry(t, "products", "orders")
	c := New("tx1", reg, kvtypes.ReadLatest, time.Second)

	products, err := c.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := products.Insert(kvtypes.Record{"id": float64(1), "name": "widget"}); err != nil {
		t.Fatal(err)
	}
	orders, err := c.Get("orders")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orders.Insert(kvtypes.Record{"id": float64(1), "productId": float64(1)}); err != nil {
		t.Fatal(err)
	}

	if err := c.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if reg["products"].Size() != 1 || reg["orders"].Size() != 1 {
		t.Fatalf("expected both base tables to reflect the commit")
	}
}

func TestGetUnknownTable(t *testing.T) {
	reg := newRegistry(t, "products")
	c := New("tx1", reg, kvtypes.ReadLatest, time.Second)
	_, err := c.Get("nope")
	if err == nil {
		t.Fatal("expected TableNotFound")
	}
	kerr, ok := err.(*kvtypes.Error)
	if !ok || kerr.Kind != kvtypes.KindTableNotFound {
		t.Fatalf("got %v", err)
	}
}

func TestOperationsFailAfterCommit(t *testing.T) {
	reg := newRegistry(t, "products")
	c := New("tx1", reg, kvtypes.ReadLatest, time.Second)
	if _, err := c.Get("products"); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("products"); err == nil {
		t.Fatal("expected TransactionCompleted after commit")
	}
}

func TestCommitFailureRollsBackEveryParticipant(t *testing.T) {
	reg := newRegistry(t, "products", "orders")
	if _, err := reg["products"].Insert(kvtypes.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}

	c := New("tx1", reg, kvtypes.ReadLatest, time.Second)
	orders, err := c.Get("orders")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orders.Insert(kvtypes.Record{"id": float64(9)}); err != nil {
		t.Fatal(err)
	}

	products, err := c.Get("products")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := products.Update(context.Background(), kvtypes.PartialRecord{"name": "pending"}, filter.Filter{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}
	// Externally mutate products.{id:1} so this transaction's prepare fails.
	if _, err := reg["products"].Update(kvtypes.PartialRecord{"name": "external"}, filter.Filter{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}

	err = c.Commit(context.Background())
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	if reg["orders"].Size() != 0 {
		t.Fatal("orders insert must not have been applied: commit is atomic across participants")
	}
}
