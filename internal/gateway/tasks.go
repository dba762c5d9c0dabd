package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/a-essam23/taskpulse/internal/broadcast"
	"github.com/a-essam23/taskpulse/internal/event"
	"github.com/a-essam23/taskpulse/internal/presence"
	"github.com/a-essam23/taskpulse/internal/router"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/oklog/ulid/v2"
)

const maxTitleLength = 200

// TaskGateway serves the task collaboration path. Every authenticated user may connect;
// mutations are checked against the stored owner before they reach storage.
type TaskGateway struct {
	logger    *slog.Logger
	registry  state.Registry
	publisher broadcast.Publisher
	tracker   *presence.Tracker
	tasks     storage.TaskStore
	users     storage.UserDirectory
	router    *router.ActionRouter

	now   func() time.Time
	newID func() string
}

var _ Gateway = (*TaskGateway)(nil)

// NewTaskGateway registers the task actions on rt.
func NewTaskGateway(logger *slog.Logger, registry state.Registry, publisher broadcast.Publisher, tracker *presence.Tracker, tasks storage.TaskStore, users storage.UserDirectory, rt *router.ActionRouter) *TaskGateway {
	g := &TaskGateway{
		logger:    logger.With(slog.String("component", "task_gateway")),
		registry:  registry,
		publisher: publisher,
		tracker:   tracker,
		tasks:     tasks,
		users:     users,
		router:    rt,
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
	}
	rt.Handle(event.ActionCreateTask, g.createTask)
	rt.Handle(event.ActionUpdateTask, g.updateTask)
	rt.Handle(event.ActionDeleteTask, g.deleteTask)
	rt.Handle(event.ActionShareTask, g.shareTask)
	rt.Handle(event.OperationGenerateReport, g.generateReport)
	return g
}

func (g *TaskGateway) Name() string { return "tasks" }

func (g *TaskGateway) NewSession(logger *slog.Logger) *Session {
	return newSession(g, logger)
}

func (g *TaskGateway) authorize(ident *state.Identity) error {
	if err := g.registry.Allowed(ident, state.TopicTasks); err != nil {
		return fmt.Errorf("task collaboration: %w", err)
	}
	return nil
}

func (g *TaskGateway) activate(ctx context.Context, conn *state.Connection) error {
	ident := conn.Identity()
	first, err := g.tracker.Connect(ctx, ident)
	if err != nil {
		g.logger.Error("Failed to record user online", slog.String("userID", ident.UserID), slog.Any("error", err))
	}
	if err := g.registry.Admit(conn.ID, state.TopicTasks); err != nil {
		if _, dErr := g.tracker.Disconnect(ctx, ident); dErr != nil {
			g.logger.Error("Failed to roll back presence", slog.String("userID", ident.UserID), slog.Any("error", dErr))
		}
		return err
	}
	if first {
		g.tracker.Announce(ctx)
	}
	return nil
}

func (g *TaskGateway) cleanup(ctx context.Context, conn *state.Connection) {
	ident := conn.Identity()
	if err := g.registry.Remove(conn.ID, state.TopicTasks); err != nil {
		g.logger.Error("Failed to leave tasks topic", slog.String("connID", conn.ID.String()), slog.Any("error", err))
	}
	last, err := g.tracker.Disconnect(ctx, ident)
	if err != nil {
		g.logger.Error("Failed to record user offline", slog.String("userID", ident.UserID), slog.Any("error", err))
	}
	if last {
		g.tracker.Announce(ctx)
	}
}

func (g *TaskGateway) message(ctx context.Context, conn *state.Connection, msg []byte) {
	action, err := g.router.Dispatch(ctx, conn, msg)
	if err == nil {
		return
	}
	if isClientError(err) {
		g.logger.Warn("Request rejected", slog.String("action", action), slog.String("connID", conn.ID.String()), slog.Any("error", err))
	} else {
		g.logger.Error("Request failed", slog.String("action", action), slog.String("connID", conn.ID.String()), slog.Any("error", err))
	}
	if action == "" {
		action = "error"
	}
	if sErr := g.publisher.SendTo(conn, event.Failure{RequestAction: action, Message: clientMessage(err)}); sErr != nil {
		g.logger.Debug("Could not deliver error reply", slog.Any("error", sErr))
	}
}

func (g *TaskGateway) publish(e event.Event) {
	if _, err := g.publisher.Publish(state.TopicTasks, e); err != nil {
		g.logger.Error("Failed to publish task event", slog.String("action", e.Action()), slog.Any("error", err))
	}
}

func (g *TaskGateway) origin(ident *state.Identity) event.Origin {
	return event.Origin{By: ident.Email, At: g.now().UTC()}
}

func decode(req *router.Request, v any) error {
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func checkTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationErr("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", validationErr("title must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

func snapshot(t *storage.Task) event.TaskSnapshot {
	shared := append([]string{}, t.SharedWith...)
	return event.TaskSnapshot{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		User:        t.OwnerEmail,
		SharedWith:  shared,
		CreatedAt:   t.CreatedAt,
	}
}

// ownedTask loads a task and checks that ident owns it. A missing task is returned as
// storage.ErrNotFound.
func (g *TaskGateway) ownedTask(ctx context.Context, ident *state.Identity, id, verb string) (*storage.Task, error) {
	task, err := g.tasks.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load task", err)
	}
	if task.OwnerID != ident.UserID {
		return nil, fmt.Errorf("%w: only the owner may %s task %s", state.ErrForbidden, verb, id)
	}
	return task, nil
}

type createTaskRequest struct {
	Title       *string `json:"title"`
	Description string  `json:"description"`
	Completed   bool    `json:"completed"`
}

func (g *TaskGateway) createTask(ctx context.Context, req *router.Request) error {
	var in createTaskRequest
	if err := decode(req, &in); err != nil {
		return err
	}
	if in.Title == nil {
		return validationErr("title is required")
	}
	title, err := checkTitle(*in.Title)
	if err != nil {
		return err
	}

	ident := req.Identity()
	task := &storage.Task{
		ID:          g.newID(),
		OwnerID:     ident.UserID,
		OwnerEmail:  ident.Email,
		Title:       title,
		Description: in.Description,
		Completed:   in.Completed,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.tasks.CreateTask(ctx, task); err != nil {
		return storageErr("create task", err)
	}
	g.publish(event.TaskCreated{Origin: g.origin(ident), Task: snapshot(task)})
	return nil
}

type updateTaskRequest struct {
	Task *struct {
		ID          string  `json:"id"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Completed   *bool   `json:"completed"`
	} `json:"task"`
}

func (g *TaskGateway) updateTask(ctx context.Context, req *router.Request) error {
	var in updateTaskRequest
	if err := decode(req, &in); err != nil {
		return err
	}
	if in.Task == nil || strings.TrimSpace(in.Task.ID) == "" {
		return validationErr("task id is required")
	}

	ident := req.Identity()
	task, err := g.ownedTask(ctx, ident, in.Task.ID, "update")
	if err != nil {
		return err
	}
	if in.Task.Title != nil {
		if task.Title, err = checkTitle(*in.Task.Title); err != nil {
			return err
		}
	}
	if in.Task.Description != nil {
		task.Description = *in.Task.Description
	}
	if in.Task.Completed != nil {
		task.Completed = *in.Task.Completed
	}

	if err := g.tasks.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("task %s: %w", task.ID, storage.ErrNotFound)
		}
		return storageErr("update task", err)
	}
	g.publish(event.TaskUpdated{Origin: g.origin(ident), Task: snapshot(task)})
	return nil
}

type taskRefRequest struct {
	TaskID string `json:"task_id"`
	Email  string `json:"email"`
}

// deleteTask is idempotent: deleting a task that is already gone still announces the deletion.
func (g *TaskGateway) deleteTask(ctx context.Context, req *router.Request) error {
	var in taskRefRequest
	if err := decode(req, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.TaskID) == "" {
		return validationErr("task_id is required")
	}

	ident := req.Identity()
	_, err := g.ownedTask(ctx, ident, in.TaskID, "delete")
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := g.tasks.DeleteTask(ctx, in.TaskID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storageErr("delete task", err)
		}
	}
	g.publish(event.TaskDeleted{Origin: g.origin(ident), TaskID: in.TaskID})
	return nil
}

func (g *TaskGateway) shareTask(ctx context.Context, req *router.Request) error {
	var in taskRefRequest
	if err := decode(req, &in); err != nil {
		return err
	}
	ident := req.Identity()
	email := strings.TrimSpace(in.Email)
	if strings.EqualFold(email, ident.Email) {
		return ErrSelfShare
	}
	if strings.TrimSpace(in.TaskID) == "" {
		return validationErr("task_id is required")
	}
	if email == "" {
		return validationErr("email is required")
	}

	if _, err := g.ownedTask(ctx, ident, in.TaskID, "share"); err != nil {
		return err
	}
	recipient, err := g.users.FindUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
	}
	if err != nil {
		return storageErr("find recipient", err)
	}
	if recipient.ID == ident.UserID {
		return ErrSelfShare
	}

	if err := g.tasks.AddShare(ctx, in.TaskID, recipient.ID); err != nil {
		return storageErr("share task", err)
	}
	task, err := g.tasks.GetTask(ctx, in.TaskID)
	if err != nil {
		return storageErr("reload task", err)
	}
	g.publish(event.TaskShared{Origin: g.origin(ident), Task: snapshot(task), Recipient: recipient.Email})
	return nil
}

// generateReport tallies the requester's own tasks, notifies administrators and echoes the
// report back to the requester.
func (g *TaskGateway) generateReport(ctx context.Context, req *router.Request) error {
	ident := req.Identity()
	counts, err := g.tasks.CountTasks(ctx, ident.UserID)
	if err != nil {
		return storageErr("count tasks", err)
	}
	report := event.TaskReport{
		Origin:     g.origin(ident),
		UserID:     ident.UserID,
		Total:      counts.Total,
		Completed:  counts.Completed,
		Incomplete: counts.Incomplete(),
	}
	if _, err := g.publisher.Publish(state.TopicAdminNotifications, report); err != nil {
		g.logger.Error("Failed to publish task report", slog.String("userID", ident.UserID), slog.Any("error", err))
	}
	if err := g.publisher.SendTo(req.Conn, report); err != nil {
		g.logger.Debug("Could not deliver report to requester", slog.Any("error", err))
	}
	return nil
}
