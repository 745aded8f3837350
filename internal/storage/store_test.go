package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/t1modo/NotiTron/internal/task"
	logx "github.com/t1modo/NotiTron/pkg/logx"
)

func openTestStores(t *testing.T) map[string]task.Store {
	t.Helper()
	sq, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "tasks.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]task.Store{
		"sqlite": sq,
		"memory": NewMemory(),
	}
}

func sampleTask(due time.Time) task.Task {
	return task.Task{
		OwnerID:        "owner-1",
		OwnerName:      "alice",
		ChannelID:      "chan-1",
		ClassName:      "CS101",
		AssignmentName: "hw3",
		DueAt:          due,
		CreatedAt:      due.Add(-72 * time.Hour),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	due := time.Date(2025, 3, 10, 9, 0, 0, 0, time.FixedZone("PDT", -7*3600))

	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleTask(due)
			id, err := st.Insert(ctx, want)
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			if id == "" {
				t.Fatal("empty id from insert")
			}

			got, err := st.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.ID != id {
				t.Fatalf("id = %q, want %q", got.ID, id)
			}
			if got.OwnerID != want.OwnerID || got.OwnerName != want.OwnerName ||
				got.ChannelID != want.ChannelID || got.ClassName != want.ClassName ||
				got.AssignmentName != want.AssignmentName {
				t.Fatalf("fields changed in round trip:\n got %+v\nwant %+v", got, want)
			}
			if !got.DueAt.Equal(want.DueAt) {
				t.Fatalf("DueAt = %v, want %v", got.DueAt, want.DueAt)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) {
				t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
			}
			if got.SecondaryOffset != 0 || got.SecondarySent || got.PrimarySent {
				t.Fatalf("fresh record has reminder state: %+v", got)
			}
		})
	}
}

func TestStoreMissingRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.Get(ctx, "nope"); !errors.Is(err, task.ErrNotFound) {
				t.Fatalf("get: got %v, want ErrNotFound", err)
			}
			if err := st.MarkPrimarySent(ctx, "nope"); !errors.Is(err, task.ErrNotFound) {
				t.Fatalf("mark primary: got %v, want ErrNotFound", err)
			}
			if err := st.SetSecondaryOffset(ctx, "nope", 3); !errors.Is(err, task.ErrNotFound) {
				t.Fatalf("set offset: got %v, want ErrNotFound", err)
			}
			// delete of an absent record is a deliberate no-op
			if err := st.Delete(ctx, "nope"); err != nil {
				t.Fatalf("delete absent: %v", err)
			}
		})
	}
}

func TestStoreFlagUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	due := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := st.Insert(ctx, sampleTask(due))
			if err != nil {
				t.Fatalf("insert: %v", err)
			}

			if err := st.SetSecondaryOffset(ctx, id, 3); err != nil {
				t.Fatalf("set offset: %v", err)
			}
			if err := st.MarkPrimarySent(ctx, id); err != nil {
				t.Fatalf("mark primary: %v", err)
			}
			if err := st.MarkSecondarySent(ctx, id); err != nil {
				t.Fatalf("mark secondary: %v", err)
			}

			got, err := st.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.SecondaryOffset != 3 || !got.PrimarySent || !got.SecondarySent {
				t.Fatalf("updates not persisted: %+v", got)
			}

			// marking again is idempotent
			if err := st.MarkPrimarySent(ctx, id); err != nil {
				t.Fatalf("re-mark primary: %v", err)
			}
		})
	}
}

func TestStoreListingPredicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			insert := func(due time.Time) string {
				t.Helper()
				id, err := st.Insert(ctx, sampleTask(due))
				if err != nil {
					t.Fatalf("insert: %v", err)
				}
				return id
			}

			early := insert(base.Add(-2 * time.Hour))
			mid := insert(base.Add(1 * time.Hour))
			late := insert(base.Add(48 * time.Hour))

			before, err := st.ListDueBefore(ctx, base)
			if err != nil {
				t.Fatalf("ListDueBefore: %v", err)
			}
			if len(before) != 1 || before[0].ID != early {
				t.Fatalf("ListDueBefore = %v, want just %s", ids(before), early)
			}

			between, err := st.ListDueBetween(ctx, base, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("ListDueBetween: %v", err)
			}
			if len(between) != 1 || between[0].ID != mid {
				t.Fatalf("ListDueBetween = %v, want just %s", ids(between), mid)
			}

			all, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("List len = %d, want 3", len(all))
			}
			for i := 1; i < len(all); i++ {
				if all[i-1].DueAt.After(all[i].DueAt) {
					t.Fatal("List not ordered by due time")
				}
			}

			pending, err := st.ListSecondaryPending(ctx)
			if err != nil {
				t.Fatalf("ListSecondaryPending: %v", err)
			}
			if len(pending) != 0 {
				t.Fatalf("no offsets set, pending = %v", ids(pending))
			}

			if err := st.SetSecondaryOffset(ctx, late, 6); err != nil {
				t.Fatalf("set offset: %v", err)
			}
			pending, err = st.ListSecondaryPending(ctx)
			if err != nil {
				t.Fatalf("ListSecondaryPending: %v", err)
			}
			if len(pending) != 1 || pending[0].ID != late {
				t.Fatalf("pending = %v, want just %s", ids(pending), late)
			}

			if err := st.MarkSecondarySent(ctx, late); err != nil {
				t.Fatalf("mark secondary: %v", err)
			}
			pending, err = st.ListSecondaryPending(ctx)
			if err != nil {
				t.Fatalf("ListSecondaryPending: %v", err)
			}
			if len(pending) != 0 {
				t.Fatalf("sent offset still pending: %v", ids(pending))
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	due := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := st.Insert(ctx, sampleTask(due))
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := st.Delete(ctx, id); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := st.Get(ctx, id); !errors.Is(err, task.ErrNotFound) {
				t.Fatalf("get after delete: got %v, want ErrNotFound", err)
			}
			// deleting again stays a no-op
			if err := st.Delete(ctx, id); err != nil {
				t.Fatalf("double delete: %v", err)
			}
		})
	}
}

func ids(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
