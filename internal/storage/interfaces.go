// Package storage is the boundary to the persistent task/user store.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced task or user does not exist.
var ErrNotFound = errors.New("not found")

// Task is a collaboration task as persisted.
type Task struct {
	ID          string
	OwnerID     string
	OwnerEmail  string
	Title       string
	Description string
	Completed   bool
	// SharedWith holds the emails of users the task is shared with, sorted.
	SharedWith []string
	CreatedAt  time.Time
}

// TaskCounts summarises the tasks one user owns.
type TaskCounts struct {
	Total     int
	Completed int
}

func (c TaskCounts) Incomplete() int { return c.Total - c.Completed }

// User is a directory entry.
type User struct {
	ID       string
	Email    string
	Username string
	IsStaff  bool
	IsOnline bool
}

// TaskStore is the CRUD contract for tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	// GetTask returns ErrNotFound when the task does not exist.
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	// DeleteTask returns ErrNotFound when there was nothing to delete.
	DeleteTask(ctx context.Context, id string) error
	// AddShare records that the task is shared with the user. Sharing twice is a no-op.
	AddShare(ctx context.Context, taskID, userID string) error
	// CountTasks tallies the tasks owned by the user. Unknown users own nothing.
	CountTasks(ctx context.Context, ownerID string) (TaskCounts, error)
}

// UserDirectory resolves users.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// PresenceStore persists the per-user online flag.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	// ListOnline returns the emails of users flagged online, sorted.
	ListOnline(ctx context.Context) ([]string, error)
	// ResetOnline flags every user offline. Called at startup when no connections exist.
	ResetOnline(ctx context.Context) error
}

// Store bundles every collaborator the realtime core needs.
type Store interface {
	TaskStore
	UserDirectory
	PresenceStore
	Close() error
}
