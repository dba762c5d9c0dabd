package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLConfig holds connection pool settings.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// QueryTimeout bounds every statement issued by the store.
	QueryTimeout time.Duration
}

// DefaultSQLConfig returns default configuration.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		QueryTimeout:    5 * time.Second,
	}
}

// SQLStore implements Store on top of database/sql. The same statements run on Postgres and
// SQLite; both accept $N placeholders. It expects this schema to exist:
//
//	users(id TEXT PRIMARY KEY, email TEXT UNIQUE, username TEXT, is_staff BOOLEAN, is_online BOOLEAN)
//	tasks(id TEXT PRIMARY KEY, user_id TEXT REFERENCES users(id), title TEXT, description TEXT,
//	      completed BOOLEAN, created_at TIMESTAMP)
//	task_shares(task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE, user_id TEXT REFERENCES users(id),
//	      PRIMARY KEY (task_id, user_id))
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

var _ Store = (*SQLStore)(nil)

// driverName maps the configured storage driver to the registered database/sql driver.
func driverName(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "postgres", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// OpenSQL opens and pings a database for the given driver ("postgres" or "sqlite").
func OpenSQL(driver, dsn string, config *SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultSQLConfig()
	}
	name, err := driverName(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStore(db, config.QueryTimeout), nil
}

// NewSQLStore wraps an already opened database.
func NewSQLStore(db *sql.DB, queryTimeout time.Duration) *SQLStore {
	return &SQLStore{db: db, timeout: queryTimeout}
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SQLStore) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, task.ID, task.OwnerID, task.Title, task.Description, task.Completed, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, u.email, t.title, t.description, t.completed, t.created_at
		FROM tasks t JOIN users u ON u.id = t.user_id
		WHERE t.id = $1
	`, id)

	var task Task
	var description sql.NullString
	err := row.Scan(&task.ID, &task.OwnerID, &task.OwnerEmail, &task.Title, &description, &task.Completed, &task.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	task.Description = description.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.email FROM task_shares s JOIN users u ON u.id = s.user_id
		WHERE s.task_id = $1 ORDER BY u.email
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get task shares: %w", err)
	}
	defer rows.Close()

	task.SharedWith = []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan task share: %w", err)
		}
		task.SharedWith = append(task.SharedWith, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task shares: %w", err)
	}
	return &task, nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = $2, description = $3, completed = $4 WHERE id = $1
	`, task.ID, task.Title, task.Description, task.Completed)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectRow(res, "update task")
}

func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectRow(res, "delete task")
}

func (s *SQLStore) AddShare(ctx context.Context, taskID, userID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_shares (task_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("add share: %w", err)
	}
	return nil
}

func (s *SQLStore) CountTasks(ctx context.Context, ownerID string) (TaskCounts, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var c TaskCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE user_id = $1
	`, ownerID).Scan(&c.Total, &c.Completed)
	if err != nil {
		return TaskCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, is_staff, is_online FROM users WHERE id = $1
	`, id)
	return scanUser(row, "get user")
}

func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, is_staff, is_online FROM users WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row, "find user")
}

func (s *SQLStore) SetOnline(ctx context.Context, userID string, online bool) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = $2 WHERE id = $1`, userID, online)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return expectRow(res, "set online")
}

func (s *SQLStore) ListOnline(ctx context.Context) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT email FROM users WHERE is_online = $1 ORDER BY email`, true)
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan online user: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate online users: %w", err)
	}
	return emails, nil
}

func (s *SQLStore) ResetOnline(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = $1 WHERE is_online = $2`, false, true); err != nil {
		return fmt.Errorf("reset online: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row, op string) (*User, error) {
	var u User
	var username sql.NullString
	err := row.Scan(&u.ID, &u.Email, &username, &u.IsStaff, &u.IsOnline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.Username = username.String
	return &u, nil
}

func expectRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
