package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/t1modo/NotiTron/internal/eventbus"
	"github.com/t1modo/NotiTron/internal/notify"
	"github.com/t1modo/NotiTron/internal/storage"
	"github.com/t1modo/NotiTron/internal/task"
	logx "github.com/t1modo/NotiTron/pkg/logx"
)

type fakePort struct {
	mu    sync.Mutex
	sent  []string // delivered texts
	fail  bool
	calls int
}

func (p *fakePort) Send(_ context.Context, _ notify.Target, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return errors.New("gateway down")
	}
	p.sent = append(p.sent, text)
	return nil
}

func (p *fakePort) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func testScheduler(t *testing.T, now time.Time) (*Service, *storage.Memory, *fakePort) {
	t.Helper()
	st := storage.NewMemory()
	port := &fakePort{}
	s, err := New(st, port, eventbus.New(), Config{
		Enabled:     true,
		Timezone:    "UTC",
		GraceWindow: 24 * time.Hour,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetClock(func() time.Time { return now })
	return s, st, port
}

func insertTask(t *testing.T, st *storage.Memory, tk task.Task) task.Task {
	t.Helper()
	id, err := st.Insert(context.Background(), tk)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	tk.ID = id
	return tk
}

func TestPassFiresPrimaryOnceOnDueDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	s, st, port := testScheduler(t, now)
	ctx := context.Background()

	tk := insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d reminders, want 1", port.sentCount())
	}
	got, err := st.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.PrimarySent {
		t.Fatal("primary flag not persisted after delivery")
	}

	// further passes are no-ops
	s.pass(ctx)
	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d reminders after repeat passes, want 1", port.sentCount())
	}
}

func TestPassRetriesFailedSend(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	s, st, port := testScheduler(t, now)
	ctx := context.Background()

	tk := insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	port.fail = true
	s.pass(ctx)
	got, err := st.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PrimarySent {
		t.Fatal("flag flipped even though the send failed")
	}

	port.fail = false
	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d after recovery, want 1", port.sentCount())
	}
	got, _ = st.Get(ctx, tk.ID)
	if !got.PrimarySent {
		t.Fatal("flag not set after successful retry")
	}
}

func TestPassSecondaryReminder(t *testing.T) {
	t.Parallel()
	// due 09:00, 3h offset: ripe from 06:00
	s, st, port := testScheduler(t, time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC))
	ctx := context.Background()

	tk := insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt:           time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		SecondaryOffset: 3,
		PrimarySent:     true,
	})

	s.pass(ctx)
	if port.sentCount() != 0 {
		t.Fatalf("05:00 is before the offset instant, sent %d", port.sentCount())
	}

	s.SetClock(func() time.Time { return time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC) })
	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d at offset instant, want 1", port.sentCount())
	}
	if !strings.Contains(port.sent[0], "3 hour") {
		t.Fatalf("secondary text missing offset: %q", port.sent[0])
	}
	got, _ := st.Get(ctx, tk.ID)
	if !got.SecondarySent {
		t.Fatal("secondary flag not persisted")
	}
}

func TestPassExpiresSilently(t *testing.T) {
	t.Parallel()
	// due 2025-03-10 09:00, grace 24h: expired from 03-11 09:00:01
	s, st, port := testScheduler(t, time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	tk := insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	s.pass(ctx)
	if port.sentCount() != 0 {
		t.Fatalf("expiry must not notify, sent %d", port.sentCount())
	}
	if _, err := st.Get(ctx, tk.ID); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expired task still stored: %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("store has %d records after expiry, want 0", st.Len())
	}
}

func TestPassLeavesUnripeTasksAlone(t *testing.T) {
	t.Parallel()
	s, st, port := testScheduler(t, time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	// two consecutive passes at t1 < t2, both before any boundary
	s.pass(ctx)
	s.SetClock(func() time.Time { return time.Date(2025, 3, 8, 12, 1, 0, 0, time.UTC) })
	s.pass(ctx)
	if port.sentCount() != 0 {
		t.Fatalf("unripe task triggered %d sends", port.sentCount())
	}
	if st.Len() != 1 {
		t.Fatalf("unripe task was removed")
	}
}

// flakyStore injects a listing failure in front of a healthy store.
type flakyStore struct {
	task.Store
	listDueErr error
}

func (f *flakyStore) ListDueBefore(ctx context.Context, threshold time.Time) ([]task.Task, error) {
	if f.listDueErr != nil {
		return nil, f.listDueErr
	}
	return f.Store.ListDueBefore(ctx, threshold)
}

func TestPassAbortsOnStoreFailureAndRecovers(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)
	mem := storage.NewMemory()
	fl := &flakyStore{Store: mem}
	port := &fakePort{}
	s, err := New(fl, port, eventbus.New(), Config{
		Enabled:     true,
		Timezone:    "UTC",
		GraceWindow: 24 * time.Hour,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	tk := insertTask(t, mem, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	// the broken query aborts the pass without sending or mutating
	fl.listDueErr = errors.New("disk io")
	s.pass(ctx)
	if port.calls != 0 {
		t.Fatalf("aborted pass attempted %d sends", port.calls)
	}
	got, err := mem.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PrimarySent {
		t.Fatal("aborted pass mutated the task")
	}

	// the next pass against a healthy store delivers normally
	fl.listDueErr = nil
	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d after recovery, want 1", port.sentCount())
	}
	got, _ = mem.Get(ctx, tk.ID)
	if !got.PrimarySent {
		t.Fatal("flag not persisted after recovery")
	}
}

func TestPassToleratesClockRegression(t *testing.T) {
	t.Parallel()
	s, st, port := testScheduler(t, time.Date(2025, 3, 10, 0, 5, 0, 0, time.UTC))
	ctx := context.Background()

	tk := insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d on first pass, want 1", port.sentCount())
	}

	// wall clock jumps backwards before the due day: the regression is
	// warned about, and the persisted flag keeps the decision idempotent —
	// no duplicate, no lost state
	s.SetClock(func() time.Time { return time.Date(2025, 3, 9, 23, 55, 0, 0, time.UTC) })
	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("regressed clock changed send count to %d", port.sentCount())
	}
	got, err := st.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.PrimarySent {
		t.Fatal("regressed clock reset the sent flag")
	}

	// and moving forward again stays settled
	s.SetClock(func() time.Time { return time.Date(2025, 3, 10, 0, 10, 0, 0, time.UTC) })
	s.pass(ctx)
	if port.sentCount() != 1 {
		t.Fatalf("sent %d after clock recovered, want 1", port.sentCount())
	}
}

func TestCollectDedupes(t *testing.T) {
	t.Parallel()
	// due later today with a pending offset: task matches both listings
	now := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	s, st, _ := testScheduler(t, now)
	ctx := context.Background()

	insertTask(t, st, task.Task{
		OwnerID: "u1", ChannelID: "c1",
		ClassName: "CS101", AssignmentName: "hw3",
		DueAt:           time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		SecondaryOffset: 3,
	})

	got, err := s.collect(ctx, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("collect returned %d candidates, want 1", len(got))
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	_, err := New(storage.NewMemory(), &fakePort{}, eventbus.New(), Config{
		Enabled:  true,
		Timezone: "Mars/Olympus",
	}, logx.Nop())
	if err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
