package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pi-cam-service/picamd/internal/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open(database.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewService(db)
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ev := &Event{
		Type:    TypeReconfiguration,
		Subject: "camera.reconfigured",
		Payload: json.RawMessage(`{"applied_width":1920}`),
	}
	if err := svc.Create(ctx, ev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Fatalf("Create did not fill defaults: %+v", ev)
	}

	got, err := svc.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != TypeReconfiguration || got.Subject != "camera.reconfigured" {
		t.Errorf("got = %+v", got)
	}
	if string(got.Payload) != `{"applied_width":1920}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestGetMissing(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Get(context.Background(), "nope"); err == nil {
		t.Error("Get of missing event succeeded")
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		typ := TypeControl
		if i%2 == 0 {
			typ = TypeStreaming
		}
		ev := &Event{
			Type:      typ,
			Subject:   "test",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := svc.Create(ctx, ev); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	all, total, err := svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("List = %d events, total %d, want 5/5", len(all), total)
	}
	// Newest first.
	if !all[0].CreatedAt.After(all[4].CreatedAt) {
		t.Error("events not sorted newest first")
	}

	controls, total, err := svc.List(ctx, ListOptions{Type: TypeControl})
	if err != nil {
		t.Fatalf("List(control): %v", err)
	}
	if total != 2 || len(controls) != 2 {
		t.Errorf("control events = %d, total %d, want 2/2", len(controls), total)
	}

	page, total, err := svc.List(ctx, ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List(paged): %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Errorf("page = %d events, total %d, want 2/5", len(page), total)
	}

	since, _, err := svc.List(ctx, ListOptions{StartTime: base.Add(3*time.Minute - time.Second)})
	if err != nil {
		t.Fatalf("List(since): %v", err)
	}
	if len(since) != 2 {
		t.Errorf("since filter = %d events, want 2", len(since))
	}
}

func TestPrune(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	old := &Event{Type: TypeConfig, Subject: "test", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Event{Type: TypeConfig, Subject: "test"}
	if err := svc.Create(ctx, old); err != nil {
		t.Fatalf("Create old: %v", err)
	}
	if err := svc.Create(ctx, fresh); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	n, err := svc.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d events, want 1", n)
	}

	_, total, err := svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Errorf("remaining = %d, want 1", total)
	}
}
