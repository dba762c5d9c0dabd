package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// setupMockDB creates a new mock database for testing.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLStore) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock, NewSQLStore(db, time.Second)
}

func TestSQLStore_CreateTask(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		task        *Task
		setupMock   func(sqlmock.Sqlmock)
		wantErr     bool
		errContains string
	}{
		{
			name: "successful create",
			task: &Task{ID: "t1", OwnerID: "1", Title: "Buy milk", CreatedAt: now},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO tasks").
					WithArgs("t1", "1", "Buy milk", "", false, now).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:        "nil task",
			task:        nil,
			setupMock:   func(mock sqlmock.Sqlmock) {},
			wantErr:     true,
			errContains: "task is required",
		},
		{
			name: "database error",
			task: &Task{ID: "t1", OwnerID: "1", Title: "x"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO tasks").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr:     true,
			errContains: "create task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockDB(t)
			tt.setupMock(mock)

			err := store.CreateTask(context.Background(), tt.task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateTask() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.errContains != "" && (err == nil || !strings.Contains(err.Error(), tt.errContains)) {
				t.Errorf("error %v should contain %q", err, tt.errContains)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_GetTask(t *testing.T) {
	now := time.Now()

	t.Run("found with shares", func(t *testing.T) {
		_, mock, store := setupMockDB(t)
		mock.ExpectQuery("SELECT (.+) FROM tasks t JOIN users u").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "title", "description", "completed", "created_at"}).
				AddRow("t1", "1", "a@x.com", "Buy milk", nil, true, now))
		mock.ExpectQuery("SELECT u.email FROM task_shares").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("b@x.com").AddRow("c@x.com"))

		task, err := store.GetTask(context.Background(), "t1")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if task.OwnerEmail != "a@x.com" || !task.Completed || task.Description != "" {
			t.Errorf("unexpected task: %+v", task)
		}
		if len(task.SharedWith) != 2 || task.SharedWith[1] != "c@x.com" {
			t.Errorf("unexpected shares: %v", task.SharedWith)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, mock, store := setupMockDB(t)
		mock.ExpectQuery("SELECT (.+) FROM tasks t JOIN users u").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetTask(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSQLStore_UpdateAndDeleteReportMissingRows(t *testing.T) {
	_, mock, store := setupMockDB(t)
	mock.ExpectExec("UPDATE tasks SET").
		WithArgs("t1", "new", "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tasks").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateTask(context.Background(), &Task{ID: "t1", Title: "new", Completed: true}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if err := store.DeleteTask(context.Background(), "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for zero affected rows, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_CountTasks(t *testing.T) {
	_, mock, store := setupMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "completed"}).AddRow(5, 2))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WithArgs("2").
		WillReturnError(errors.New("connection reset"))

	c, err := store.CountTasks(context.Background(), "1")
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if c.Total != 5 || c.Completed != 2 || c.Incomplete() != 3 {
		t.Errorf("unexpected counts %+v", c)
	}
	if _, err := store.CountTasks(context.Background(), "2"); err == nil || !strings.Contains(err.Error(), "count tasks") {
		t.Errorf("expected wrapped count error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Users(t *testing.T) {
	_, mock, store := setupMockDB(t)
	cols := []string{"id", "email", "username", "is_staff", "is_online"}
	mock.ExpectQuery("SELECT id, email, username, is_staff, is_online FROM users WHERE id").
		WithArgs("3").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("3", "admin@x.com", "admin", true, false))
	mock.ExpectQuery("SELECT id, email, username, is_staff, is_online FROM users WHERE lower").
		WithArgs("nobody@x.com").
		WillReturnError(sql.ErrNoRows)

	u, err := store.GetUser(context.Background(), "3")
	if err != nil || !u.IsStaff || u.Username != "admin" {
		t.Fatalf("unexpected user %+v, err %v", u, err)
	}
	if _, err := store.FindUserByEmail(context.Background(), "nobody@x.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Presence(t *testing.T) {
	_, mock, store := setupMockDB(t)
	mock.ExpectExec("UPDATE users SET is_online").
		WithArgs("1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET is_online").
		WithArgs("ghost", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT email FROM users WHERE is_online").
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@x.com"))
	mock.ExpectExec("UPDATE users SET is_online").
		WithArgs(false, true).
		WillReturnError(errors.New("disk full"))

	ctx := context.Background()
	if err := store.SetOnline(ctx, "1", true); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	if err := store.SetOnline(ctx, "ghost", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	online, err := store.ListOnline(ctx)
	if err != nil || len(online) != 1 || online[0] != "a@x.com" {
		t.Errorf("unexpected online list %v, err %v", online, err)
	}
	if err := store.ResetOnline(ctx); err == nil || !strings.Contains(err.Error(), "reset online") {
		t.Errorf("expected wrapped reset error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDriverName(t *testing.T) {
	for _, d := range []string{"postgres", "sqlite"} {
		if _, err := driverName(d); err != nil {
			t.Errorf("driverName(%q) failed: %v", d, err)
		}
	}
	if _, err := driverName("mysql"); err == nil {
		t.Error("expected unsupported driver error")
	}
}
