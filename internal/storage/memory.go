package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	shares  map[string]map[string]struct{} // task id -> user ids
	users   map[string]*User
	byEmail map[string]string // lowercased email -> user id
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*Task),
		shares:  make(map[string]map[string]struct{}),
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

// PutUser inserts or replaces a directory entry.
func (s *MemoryStore) PutUser(user User) error {
	if strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Email) == "" {
		return fmt.Errorf("user id and email are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if owner, taken := s.byEmail[key]; taken && owner != user.ID {
		return fmt.Errorf("email %q already belongs to user %s", user.Email, owner)
	}
	if prev, ok := s.users[user.ID]; ok {
		delete(s.byEmail, strings.ToLower(prev.Email))
	}
	u := user
	s.users[user.ID] = &u
	s.byEmail[key] = user.ID
	return nil
}

func (s *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("create task: id %s already exists", task.ID)
	}
	owner, ok := s.users[task.OwnerID]
	if !ok {
		return fmt.Errorf("create task: owner %s: %w", task.OwnerID, ErrNotFound)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.OwnerEmail = owner.Email
	stored := *task
	stored.SharedWith = nil
	s.tasks[task.ID] = &stored
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(id)
}

func (s *MemoryStore) snapshotLocked(id string) (*Task, error) {
	stored, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	task := *stored
	if owner, ok := s.users[task.OwnerID]; ok {
		task.OwnerEmail = owner.Email
	}
	task.SharedWith = []string{}
	for userID := range s.shares[id] {
		if u, ok := s.users[userID]; ok {
			task.SharedWith = append(task.SharedWith, u.Email)
		}
	}
	sort.Strings(task.SharedWith)
	return &task, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Title = task.Title
	stored.Description = task.Description
	stored.Completed = task.Completed
	return nil
}

func (s *MemoryStore) CountTasks(_ context.Context, ownerID string) (TaskCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c TaskCounts
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		c.Total++
		if t.Completed {
			c.Completed++
		}
	}
	return c, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	delete(s.shares, id)
	return nil
}

func (s *MemoryStore) AddShare(_ context.Context, taskID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("share recipient %s: %w", userID, ErrNotFound)
	}
	set, ok := s.shares[taskID]
	if !ok {
		set = make(map[string]struct{})
		s.shares[taskID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) SetOnline(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	return nil
}

func (s *MemoryStore) ListOnline(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emails := []string{}
	for _, u := range s.users {
		if u.IsOnline {
			emails = append(emails, u.Email)
		}
	}
	sort.Strings(emails)
	return emails, nil
}

func (s *MemoryStore) ResetOnline(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.IsOnline = false
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
