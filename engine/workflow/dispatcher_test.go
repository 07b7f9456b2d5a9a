package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
)

func TestDispatcherRoutesByEvent(t *testing.T) {
	d := NewDispatcher(testLogger())

	var got []string
	d.On(domain.EventProductCreated, func(_ context.Context, id string) error {
		got = append(got, "created:"+id)
		return nil
	})
	d.On(domain.EventProductDeleted, func(_ context.Context, id string) error {
		got = append(got, "deleted:"+id)
		return nil
	})

	d.Dispatch(context.Background(), domain.EventProductCreated, "p1")
	d.Dispatch(context.Background(), domain.EventProductDeleted, "p2")
	d.Dispatch(context.Background(), "product.unknown", "p3")

	if len(got) != 2 || got[0] != "created:p1" || got[1] != "deleted:p2" {
		t.Fatalf("got %v", got)
	}
}

func TestDispatcherSwallowsHandlerErrors(t *testing.T) {
	d := NewDispatcher(testLogger())
	d.On(domain.EventProductUpdated, func(context.Context, string) error {
		return errors.New("boom")
	})

	// Must not panic or propagate.
	d.Dispatch(context.Background(), domain.EventProductUpdated, "p1")
}

func TestWireRegistersLifecycleHandlers(t *testing.T) {
	cat := &fakeCatalog{products: map[string]domain.Product{"prod_01": gamingMouse()}}
	enq := &fakeEnqueuer{}
	del := &fakeDeleter{}
	wf := newWorkflow(cat, &fakeEmbedder{}, enq, del)

	d := NewDispatcher(testLogger())
	Wire(d, wf, del)

	d.Dispatch(context.Background(), domain.EventProductCreated, "prod_01")
	if len(enq.jobs) != 1 {
		t.Fatalf("created event should run the embedding workflow, got %d jobs", len(enq.jobs))
	}

	d.Dispatch(context.Background(), domain.EventProductUpdated, "prod_01")
	if len(enq.jobs) != 2 {
		t.Fatalf("updated event should run the embedding workflow, got %d jobs", len(enq.jobs))
	}

	d.Dispatch(context.Background(), domain.EventProductDeleted, "prod_01")
	if len(del.deleted) != 1 || del.deleted[0] != "prod_01" {
		t.Fatalf("deleted event should remove the record, got %v", del.deleted)
	}
}
