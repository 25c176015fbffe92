package table

import (
	"context"
	"testing"
	"time"

	"github.com/untoldecay/lynxkv/internal/filter"
	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/lock"
	"github.com/untoldecay/lynxkv/internal/pk"
)

func newTestBase(t *testing.T, fields ...string) *Base {
	t.Helper()
	pkMgr, err := pk.New(fields)
	if err != nil {
		t.Fatal(err)
	}
	return NewBase("t", pkMgr, lock.NewManager(), time.Second)
}

func TestInsertAndSize(t *testing.T) {
	b := newTestBase(t, "id")
	for i := 1; i <= 5; i++ {
		if _, err := b.Insert(kvtypes.Record{"id": float64(i), "name": "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if b.Size() != 5 {
		t.Fatalf("got size %d", b.Size())
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	b := newTestBase(t, "id")
	if _, err := b.Insert(kvtypes.Record{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}
	_, err := b.Insert(kvtypes.Record{"id": float64(1)})
	if err == nil {
		t.Fatal("expected DuplicatePrimaryKeyValue")
	}
}

func TestInsertReturnsDefensiveCopy(t *testing.T) {
	b := newTestBase(t, "id")
	inserted, err := b.Insert(kvtypes.Record{"id": float64(1), "name": "orig"})
	if err != nil {
		t.Fatal(err)
	}
	inserted["name"] = "mutated"

	got, err := b.FindByPk(context.Background(), kvtypes.PartialRecord{"id": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "orig" {
		t.Fatalf("store was corrupted by caller mutation: %v", got)
	}
}

func TestFindByPkMissingReturnsNil(t *testing.T) {
	b := newTestBase(t, "id")
	got, err := b.FindByPk(context.Background(), kvtypes.PartialRecord{"id": float64(99)})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestDefaultPkGeneratesID(t *testing.T) {
	b := newTestBase(t)
	rec, err := b.Insert(kvtypes.Record{"name": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if rec[pk.DefaultIDField] == nil || rec[pk.DefaultIDField] == "" {
		t.Fatal("expected a generated _id")
	}
}

func TestBulkInsertAllOrNothing(t *testing.T) {
	b := newTestBase(t, "id")
	if _, err := b.Insert(kvtypes.Record{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}
	_, err := b.BulkInsert([]kvtypes.Record{
		{"id": float64(2)},
		{"id": float64(1)}, // collides with existing
	})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if b.Size() != 1 {
		t.Fatalf("expected no partial writes, size=%d", b.Size())
	}
}

func TestUpdateIncrementsAndRehomesPk(t *testing.T) {
	b := newTestBase(t, "id")
	if _, err := b.Insert(kvtypes.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}
	n, err := b.Update(kvtypes.PartialRecord{"id": float64(2)}, filter.Filter{"id": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 affected, got %d", n)
	}
	if got, _ := b.FindByPk(context.Background(), kvtypes.PartialRecord{"id": float64(1)}); got != nil {
		t.Fatal("old pk should be gone")
	}
	got, err := b.FindByPk(context.Background(), kvtypes.PartialRecord{"id": float64(2)})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got["name"] != "a" {
		t.Fatalf("expected rehomed record, got %v", got)
	}
	if v, ok := b.store.Get("2"); !ok || v.Version != 2 {
		t.Fatalf("expected version 2 after update, got %+v ok=%v", v, ok)
	}
}

func TestDeleteByPk(t *testing.T) {
	b := newTestBase(t, "id")
	if _, err := b.Insert(kvtypes.Record{"id": float64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}
	removed, err := b.DeleteByPk(context.Background(), kvtypes.PartialRecord{"id": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if removed["name"] != "a" {
		t.Fatalf("got %v", removed)
	}
	again, err := b.DeleteByPk(context.Background(), kvtypes.PartialRecord{"id": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatal("expected nil on second delete")
	}
}

func TestSelectProjection(t *testing.T) {
	b := newTestBase(t, "id")
	for i := 1; i <= 3; i++ {
		if _, err := b.Insert(kvtypes.Record{"id": float64(i), "name": "x", "extra": true}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := b.Select(context.Background(), []string{"id"}, filter.Filter{"id": map[string]any{"gte": float64(2)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if _, ok := r["extra"]; ok {
			t.Fatal("projection should drop unlisted fields")
		}
	}
}

func TestReset(t *testing.T) {
	b := newTestBase(t, "id")
	if _, err := b.Insert(kvtypes.Record{"id": float64(1)}); err != nil {
		t.Fatal(err)
	}
	b.Reset()
	if b.Size() != 0 {
		t.Fatal("expected empty store after reset")
	}
}
