package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/t1modo/NotiTron/internal/task"
	logx "github.com/t1modo/NotiTron/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (task.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, owner_id, owner_name, channel_id, class_name, assignment_name,
	due_at, secondary_offset, secondary_sent, primary_sent, created_at`

func (s *sqliteStore) Insert(ctx context.Context, t task.Task) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`, due_unix)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, t.OwnerID, nullStr(t.OwnerName), nullStr(t.ChannelID),
		t.ClassName, t.AssignmentName,
		t.DueAt.Format(time.RFC3339Nano), t.SecondaryOffset,
		boolInt(t.SecondarySent), boolInt(t.PrimarySent),
		t.CreatedAt.Format(time.RFC3339Nano), t.DueAt.Unix(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) List(ctx context.Context) ([]task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY due_unix`)
}

func (s *sqliteStore) ListDueBetween(ctx context.Context, a, b time.Time) ([]task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE due_unix >= ? AND due_unix <= ? ORDER BY due_unix`,
		a.Unix(), b.Unix())
}

func (s *sqliteStore) ListDueBefore(ctx context.Context, threshold time.Time) ([]task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE due_unix < ? ORDER BY due_unix`,
		threshold.Unix())
}

func (s *sqliteStore) ListSecondaryPending(ctx context.Context) ([]task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE secondary_offset > 0 AND secondary_sent = 0 ORDER BY due_unix`)
}

func (s *sqliteStore) SetSecondaryOffset(ctx context.Context, id string, hours int) error {
	return s.updateField(ctx,
		`UPDATE tasks SET secondary_offset = ? WHERE id = ?`, hours, id)
}

func (s *sqliteStore) MarkPrimarySent(ctx context.Context, id string) error {
	return s.updateField(ctx,
		`UPDATE tasks SET primary_sent = 1 WHERE id = ?`, id)
}

func (s *sqliteStore) MarkSecondarySent(ctx context.Context, id string) error {
	return s.updateField(ctx,
		`UPDATE tasks SET secondary_sent = 1 WHERE id = ?`, id)
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	// Deleting an absent record is a no-op, not an error: the scheduler may
	// retry after a partial failure.
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) updateField(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) queryTasks(ctx context.Context, query string, args ...any) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t                       task.Task
		ownerName, channelID    sql.NullString
		dueAt, createdAt        string
		secondarySent, primSent int
	)
	err := r.Scan(&t.ID, &t.OwnerID, &ownerName, &channelID,
		&t.ClassName, &t.AssignmentName,
		&dueAt, &t.SecondaryOffset, &secondarySent, &primSent, &createdAt)
	if err != nil {
		return task.Task{}, err
	}
	t.OwnerName = ownerName.String
	t.ChannelID = channelID.String
	t.SecondarySent = secondarySent != 0
	t.PrimarySent = primSent != 0
	if t.DueAt, err = time.Parse(time.RFC3339Nano, dueAt); err != nil {
		return task.Task{}, fmt.Errorf("parse due_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return task.Task{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
