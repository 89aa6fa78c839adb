package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"crontabd/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 { return &v }

func minuteTask(url string) core.Task {
	return core.Task{Spec: core.TaskSpec{URL: url, At: &core.At{MinuteOfHours: int64Ptr(0)}}}
}

// Both implementations must satisfy the same contract.
func storeImplementations(t *testing.T) map[string]core.TaskStore {
	t.Helper()
	manager := NewManager(t.TempDir(), testLogger())
	t.Cleanup(func() { manager.Close() })
	sqlite, err := manager.ForTenant("contract")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return map[string]core.TaskStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStoreCRUD(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			now := time.Now().UTC().Truncate(time.Second)
			success := false
			task := minuteTask("https://example.com/hook")
			task.Spec.Payload = map[string]any{"kind": "reminder", "count": float64(3)}
			task.Spec.Timezone = "Europe/Paris"
			task.LastTrig = &now
			task.Success = &success
			task.ErrorCount = 2

			created, err := s.Create(ctx, task)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if created.ID == "" {
				t.Fatal("Create assigned no id")
			}
			if created.Version != 0 {
				t.Errorf("created version = %d, want 0", created.Version)
			}

			got, err := s.Retrieve(ctx, created.ID)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if got.Task.Spec.URL != task.Spec.URL {
				t.Errorf("url = %q, want %q", got.Task.Spec.URL, task.Spec.URL)
			}
			if got.Task.Spec.Timezone != "Europe/Paris" {
				t.Errorf("timezone = %q, want Europe/Paris", got.Task.Spec.Timezone)
			}
			if got.Task.LastTrig == nil || !got.Task.LastTrig.Equal(now) {
				t.Errorf("last trig = %v, want %v", got.Task.LastTrig, now)
			}
			if got.Task.Success == nil || *got.Task.Success {
				t.Errorf("success = %v, want false", got.Task.Success)
			}
			if got.Task.ErrorCount != 2 {
				t.Errorf("error count = %d, want 2", got.Task.ErrorCount)
			}

			updatedTask := got.Task
			updatedTask.ErrorCount = 0
			updated, err := s.Update(ctx, got, updatedTask)
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if updated.Version != 1 {
				t.Errorf("updated version = %d, want 1", updated.Version)
			}

			again, err := s.Update(ctx, updated, updatedTask)
			if err != nil {
				t.Fatalf("Update again: %v", err)
			}
			if again.Version != 2 {
				t.Errorf("second update version = %d, want 2", again.Version)
			}

			if err := s.Delete(ctx, again); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Retrieve(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("Retrieve after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Retrieve(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("Retrieve = %v, want ErrNotFound", err)
			}
			if _, err := s.Update(ctx, core.TaskEntity{ID: "missing"}, minuteTask("https://example.com")); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("Update = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, core.TaskEntity{ID: "missing"}); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("Delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreCreateWithID(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.CreateWithID(ctx, "fixed-id", minuteTask("https://example.com/1")); err != nil {
				t.Fatalf("CreateWithID: %v", err)
			}
			if _, err := s.CreateWithID(ctx, "fixed-id", minuteTask("https://example.com/2")); err == nil {
				t.Error("expected duplicate id to be rejected")
			}
		})
	}
}

func TestStorePage(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 7; i++ {
				if _, err := s.Create(ctx, minuteTask(fmt.Sprintf("https://example.com/%d", i))); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			page, total, err := s.Page(ctx, 0, 2)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			if total != 7 {
				t.Errorf("total = %d, want 7", total)
			}
			if len(page) != 3 {
				t.Errorf("page size = %d, want 3", len(page))
			}
			if page[0].Task.Spec.URL != "https://example.com/0" {
				t.Errorf("paging is not in insertion order, first url = %q", page[0].Task.Spec.URL)
			}

			tail, _, err := s.Page(ctx, 5, 20)
			if err != nil {
				t.Fatalf("Page tail: %v", err)
			}
			if len(tail) != 2 {
				t.Errorf("tail page size = %d, want 2", len(tail))
			}

			past, total, err := s.Page(ctx, 100, 110)
			if err != nil {
				t.Fatalf("Page past end: %v", err)
			}
			if len(past) != 0 || total != 7 {
				t.Errorf("page past end = %d entries, total %d; want 0 and 7", len(past), total)
			}

			if _, _, err := s.Page(ctx, 5, 2); err == nil {
				t.Error("expected an inverted range to be rejected")
			}
		})
	}
}

func TestManagerRejectsUnsafeTenantNames(t *testing.T) {
	manager := NewManager(t.TempDir(), testLogger())
	defer manager.Close()

	for _, tenant := range []string{"", "../escape", "a/b", ".hidden"} {
		if _, err := manager.ForTenant(tenant); err == nil {
			t.Errorf("ForTenant(%q) accepted an unsafe tenant name", tenant)
		}
	}
	if _, err := manager.ForTenant("tenant-1.prod"); err != nil {
		t.Errorf("ForTenant(tenant-1.prod) = %v, want nil", err)
	}
}

func TestManagerIsolatesTenants(t *testing.T) {
	manager := NewManager(t.TempDir(), testLogger())
	defer manager.Close()
	ctx := context.Background()

	alpha, err := manager.ForTenant("alpha")
	if err != nil {
		t.Fatalf("ForTenant(alpha): %v", err)
	}
	beta, err := manager.ForTenant("beta")
	if err != nil {
		t.Fatalf("ForTenant(beta): %v", err)
	}

	created, err := alpha.Create(ctx, minuteTask("https://example.com/alpha"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := beta.Retrieve(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("beta sees alpha's task: %v", err)
	}

	// Same tenant resolves to the same store.
	alphaAgain, err := manager.ForTenant("alpha")
	if err != nil {
		t.Fatalf("ForTenant(alpha) again: %v", err)
	}
	if _, err := alphaAgain.Retrieve(ctx, created.ID); err != nil {
		t.Errorf("re-resolved store lost the task: %v", err)
	}
}
