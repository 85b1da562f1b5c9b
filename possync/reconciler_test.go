package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// tenTypeRegistry registers the two required globals plus ten establishment-scoped types.
func tenTypeRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		Entry{Name: "establishment", Handle: NewGlobalHandle[models.Establishment]()},
		Entry{Name: "role", Handle: NewGlobalHandle[models.Role]()},
		Entry{Name: "user", Handle: NewScopedHandle[models.User]()},
		Entry{Name: "category", Handle: NewScopedHandle[models.Category]()},
		Entry{Name: "product", Handle: NewScopedHandle[models.Product]()},
		Entry{Name: "customer", Handle: NewScopedHandle[models.Customer]()},
		Entry{Name: "supplier", Handle: NewScopedHandle[models.Supplier]()},
		Entry{Name: "payment_method", Handle: NewScopedHandle[models.PaymentMethod]()},
		Entry{Name: "table", Handle: NewScopedHandle[models.DiningTable]()},
		Entry{Name: "order", Handle: NewScopedHandle[models.Order]()},
		Entry{Name: "order_item", Handle: NewScopedHandle[models.OrderItem]()},
		Entry{Name: "invoice", Handle: NewScopedHandle[models.Invoice]()},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func establishment(id string) *models.Establishment {
	e := &models.Establishment{Name: "Shop " + id, IsActive: true}
	e.ID = id
	e.UpdatedAt = ts(1)
	e.CreatedAt = ts(1)
	return e
}

func TestReconcileIsolatesFailedPulls(t *testing.T) {
	db := newTestDB(t)
	central := newFakeCentral()
	registry := tenTypeRegistry(t)

	establishments := []string{"est-1", "est-2", "est-3"}
	for _, id := range establishments {
		central.lists["establishment|"] = append(central.lists["establishment|"], mustJSON(t, establishment(id)))
		central.lists["product|"+id] = []json.RawMessage{
			mustJSON(t, newProduct("p-"+id, id, "Espresso", ts(5))),
		}
		c := &models.Category{Name: "Drinks"}
		c.ID = "c-" + id
		c.EstablishmentId = id
		c.UpdatedAt = ts(5)
		central.lists["category|"+id] = []json.RawMessage{mustJSON(t, c)}
	}
	central.listErr["product|est-2"] = &TransientNetworkError{Op: "list", Err: context.DeadlineExceeded}

	r := NewReconciler(db, registry, central, credsFor(t, "est-1"), nil, newTestLogger(), 4, 0)
	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if report.Pulls != 2+3*10 {
		t.Fatalf("pulls = %d, want 32", report.Pulls)
	}
	if report.Failures != 1 || len(report.Errors) != 1 || !strings.HasPrefix(report.Errors[0], "product[est-2]") {
		t.Fatalf("failures = %d, errors = %v", report.Failures, report.Errors)
	}
	if report.Inserted != 3+2+3 {
		t.Fatalf("inserted = %d, want 8", report.Inserted)
	}

	if loadProduct(t, db, "p-est-1") == nil || loadProduct(t, db, "p-est-3") == nil {
		t.Fatalf("healthy product pulls were not merged")
	}
	if loadProduct(t, db, "p-est-2") != nil {
		t.Fatalf("failed pull merged data")
	}
	var categories int64
	db.Model(&models.Category{}).Count(&categories)
	if categories != 3 {
		t.Fatalf("categories = %d, want 3", categories)
	}
}

func TestReconcilePullsGlobalsFirst(t *testing.T) {
	db := newTestDB(t)
	central := newFakeCentral()
	central.lists["establishment|"] = []json.RawMessage{mustJSON(t, establishment("est-9"))}

	r := NewReconciler(db, newTestRegistry(t), central, credsFor(t, "est-1"), nil, newTestLogger(), 1, 0)
	if _, err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	calls := central.listCall
	if len(calls) < 2 || calls[0] != "establishment|" || calls[1] != "role|" {
		t.Fatalf("first calls = %v", calls[:2])
	}
	sawDiscovered := false
	for _, c := range calls {
		if c == "product|est-9" {
			sawDiscovered = true
		}
	}
	if !sawDiscovered {
		t.Fatalf("establishment discovered by the global pull was not reconciled: %v", calls)
	}
}

func TestReconcileWithoutCredential(t *testing.T) {
	r := NewReconciler(newTestDB(t), newTestRegistry(t), newFakeCentral(), NewCredentialStore(), nil, newTestLogger(), 1, 0)
	if _, err := r.Reconcile(context.Background()); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v", err)
	}
}

func TestReconcileCountsBadRecords(t *testing.T) {
	db := newTestDB(t)
	central := newFakeCentral()
	central.lists["product|est-1"] = []json.RawMessage{
		mustJSON(t, newProduct("p-1", "est-1", "ok", ts(5))),
		json.RawMessage(`{"name":"no id"}`),
	}

	r := NewReconciler(db, newTestRegistry(t), central, credsFor(t, "est-1"), nil, newTestLogger(), 2, 0)
	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Failures != 1 || report.Inserted != 1 {
		t.Fatalf("report = %+v", report)
	}
	if loadProduct(t, db, "p-1") == nil {
		t.Fatalf("good record skipped")
	}
}

func TestReconcileNeverRegresses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("local rows only move forward in time", prop.ForAll(
		func(localSecs, remoteSecs []int) bool {
			db := newTestDB(t)
			central := newFakeCentral()
			n := len(localSecs)
			if len(remoteSecs) < n {
				n = len(remoteSecs)
			}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("p-%d", i)
				seed(t, db, newProduct(id, "est-1", "local", ts(localSecs[i])))
				central.lists["product|est-1"] = append(central.lists["product|est-1"],
					mustJSON(t, newProduct(id, "est-1", "remote", ts(remoteSecs[i]))))
			}
			r := NewReconciler(db, newTestRegistry(t), central, credsFor(t, "est-1"), nil, newTestLogger(), 2, 0)
			if _, err := r.Reconcile(context.Background()); err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				got := loadProduct(t, db, fmt.Sprintf("p-%d", i))
				want := localSecs[i]
				if remoteSecs[i] > want {
					want = remoteSecs[i]
				}
				if got == nil || !got.UpdatedAt.Equal(ts(want)) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.IntRange(0, 59)),
		gen.SliceOfN(5, gen.IntRange(0, 59)),
	))

	properties.TestingRun(t)
}
