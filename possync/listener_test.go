package possync

import (
	"context"
	"errors"
	"testing"
)

func newTestListener(t *testing.T) (*Listener, *fakeCentral) {
	t.Helper()
	central := newFakeCentral()
	l := NewListener(newTestDB(t), newTestRegistry(t), central, credsFor(t, "est-1"), nil, newTestLogger(), 0)
	return l, central
}

func TestListenerInsertsFetchedEntity(t *testing.T) {
	l, central := newTestListener(t)
	central.entities["product|x-1"] = mustJSON(t, newProduct("x-1", "est-1", "Espresso", ts(10)))

	decision, err := l.Apply(context.Background(), DataChangedEvent{
		EntityName: "product", EntityUuid: "x-1", ChangedAt: ts(10), OperationType: OperationInsert, EstablishmentId: "est-1",
	})
	if err != nil || decision != DecisionInsert {
		t.Fatalf("Apply = %s, %v", decision, err)
	}
	if got := loadProduct(t, l.db, "x-1"); got == nil || got.Name != "Espresso" {
		t.Fatalf("stored = %+v", got)
	}
}

func TestListenerKeepsNewerLocalCopy(t *testing.T) {
	l, central := newTestListener(t)
	seed(t, l.db, newProduct("x-1", "est-1", "local", ts(20)))
	central.entities["product|x-1"] = mustJSON(t, newProduct("x-1", "est-1", "remote", ts(15)))

	decision, err := l.Apply(context.Background(), DataChangedEvent{EntityName: "product", EntityUuid: "x-1", OperationType: OperationUpdate})
	if err != nil || decision != DecisionSkip {
		t.Fatalf("Apply = %s, %v", decision, err)
	}
	if got := loadProduct(t, l.db, "x-1"); got.Name != "local" {
		t.Fatalf("local copy overwritten: %+v", got)
	}
}

func TestListenerOverwritesOlderLocalCopy(t *testing.T) {
	l, central := newTestListener(t)
	seed(t, l.db, newProduct("x-1", "est-1", "local", ts(10)))
	central.entities["product|x-1"] = mustJSON(t, newProduct("x-1", "est-1", "remote", ts(15)))

	decision, err := l.Apply(context.Background(), DataChangedEvent{EntityName: "product", EntityUuid: "x-1", OperationType: OperationUpdate})
	if err != nil || decision != DecisionOverwrite {
		t.Fatalf("Apply = %s, %v", decision, err)
	}
	got := loadProduct(t, l.db, "x-1")
	if got.Name != "remote" || !got.UpdatedAt.Equal(ts(15)) {
		t.Fatalf("stored = %+v", got)
	}
}

func TestListenerDeleteIsIdempotent(t *testing.T) {
	l, _ := newTestListener(t)
	seed(t, l.db, newProduct("x-1", "est-1", "local", ts(10)))
	ev := DataChangedEvent{EntityName: "product", EntityUuid: "x-1", OperationType: OperationDelete}

	if d, err := l.Apply(context.Background(), ev); err != nil || d != DecisionDelete {
		t.Fatalf("first delete = %s, %v", d, err)
	}
	if d, err := l.Apply(context.Background(), ev); err != nil || d != DecisionSkip {
		t.Fatalf("second delete = %s, %v", d, err)
	}
	if loadProduct(t, l.db, "x-1") != nil {
		t.Fatalf("row still present")
	}
}

func TestListenerRemoteGoneIsNoop(t *testing.T) {
	l, _ := newTestListener(t)
	d, err := l.Apply(context.Background(), DataChangedEvent{EntityName: "product", EntityUuid: "gone", OperationType: OperationUpdate})
	if err != nil || d != DecisionSkip {
		t.Fatalf("Apply = %s, %v", d, err)
	}
}

func TestListenerUnknownEntity(t *testing.T) {
	l, _ := newTestListener(t)
	_, err := l.Apply(context.Background(), DataChangedEvent{EntityName: "stock_movement", EntityUuid: "x", OperationType: OperationUpdate})
	if !errors.Is(err, ErrUnknownEntityType) {
		t.Fatalf("err = %v", err)
	}
}

func TestListenerNeedsCredentialToFetch(t *testing.T) {
	l, central := newTestListener(t)
	l.creds.Clear()
	central.entities["product|x-1"] = mustJSON(t, newProduct("x-1", "est-1", "remote", ts(15)))

	_, err := l.Apply(context.Background(), DataChangedEvent{EntityName: "product", EntityUuid: "x-1", OperationType: OperationInsert})
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v", err)
	}
}

func TestListenerHandleEventDecodesPayload(t *testing.T) {
	l, central := newTestListener(t)
	central.entities["product|x-1"] = mustJSON(t, newProduct("x-1", "est-1", "Espresso", ts(10)))

	l.HandleEvent(context.Background(), "other-event", []byte(`{}`))
	l.HandleEvent(context.Background(), EventDataChanged, []byte(`not json`))
	l.HandleEvent(context.Background(), EventDataChanged, mustJSON(t, DataChangedEvent{
		EntityName: "product", EntityUuid: "x-1", OperationType: OperationInsert, EstablishmentId: "est-1",
	}))

	if loadProduct(t, l.db, "x-1") == nil {
		t.Fatalf("event was not applied")
	}
}

type fakeSubscriber struct {
	rooms []string
	err   error
}

func (s *fakeSubscriber) Subscribe(room string, handler EventHandler) error {
	if s.err != nil {
		return s.err
	}
	s.rooms = append(s.rooms, room)
	return nil
}

func TestListenerSubscribeAll(t *testing.T) {
	l, _ := newTestListener(t)
	sub := &fakeSubscriber{}
	if err := l.SubscribeAll(sub, []string{"est-1", "", "est-2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(sub.rooms) != 2 || sub.rooms[0] != "establishment-est-1" || sub.rooms[1] != "establishment-est-2" {
		t.Fatalf("rooms = %v", sub.rooms)
	}

	sub.err = errors.New("closed")
	if err := l.SubscribeAll(sub, []string{"est-3"}); err == nil {
		t.Fatalf("expected error")
	}
}
