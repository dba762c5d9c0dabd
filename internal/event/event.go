// Package event defines the closed set of messages the server pushes to clients.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ActionCreateTask  = "create_task"
	ActionUpdateTask  = "update_task"
	ActionDeleteTask  = "delete_task"
	ActionShareTask   = "share_task"
	ActionOnlineUsers = "online_users"
	ActionTaskReport  = "task_report"

	// OperationGenerateReport is the inbound action that produces a TaskReport.
	OperationGenerateReport = "generate_report"
)

// Event is implemented only by the types in this package.
type Event interface {
	Action() string
	sealed()
}

// TaskSnapshot is the client-facing view of a task.
type TaskSnapshot struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	User        string    `json:"user"` // owner email
	SharedWith  []string  `json:"shared_with"`
	CreatedAt   time.Time `json:"created_at"`
}

// Origin records who caused an event and when.
type Origin struct {
	By string
	At time.Time
}

type TaskCreated struct {
	Origin
	Task TaskSnapshot
}

type TaskUpdated struct {
	Origin
	Task TaskSnapshot
}

type TaskDeleted struct {
	Origin
	TaskID string
}

type TaskShared struct {
	Origin
	Task      TaskSnapshot
	Recipient string
}

// OnlineUsers is both the admin snapshot and every later presence delta.
type OnlineUsers struct {
	Users []string
	At    time.Time
}

// TaskReport tallies one user's tasks for the admin notification feed.
type TaskReport struct {
	Origin
	UserID     string
	Total      int
	Completed  int
	Incomplete int
}

// Failure is an error reply to the single connection whose request failed.
type Failure struct {
	RequestAction string
	Message       string
}

func (TaskCreated) Action() string { return ActionCreateTask }
func (TaskUpdated) Action() string { return ActionUpdateTask }
func (TaskDeleted) Action() string { return ActionDeleteTask }
func (TaskShared) Action() string  { return ActionShareTask }
func (OnlineUsers) Action() string { return ActionOnlineUsers }
func (TaskReport) Action() string  { return ActionTaskReport }
func (f Failure) Action() string   { return f.RequestAction }

func (TaskCreated) sealed() {}
func (TaskUpdated) sealed() {}
func (TaskDeleted) sealed() {}
func (TaskShared) sealed()  {}
func (OnlineUsers) sealed() {}
func (TaskReport) sealed()  {}
func (Failure) sealed()     {}

// Message is the outbound wire shape. Clients decode every frame into it.
type Message struct {
	Action    string        `json:"action"`
	Task      *TaskSnapshot `json:"task,omitempty"`
	TaskID    string        `json:"task_id,omitempty"`
	Users     []string      `json:"users,omitempty"`
	Recipient string        `json:"recipient,omitempty"`
	By        string        `json:"by,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// presence frames always carry the users array, even when nobody is online.
type presenceMessage struct {
	Action    string   `json:"action"`
	Users     []string `json:"users"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type reportCounts struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Incomplete int `json:"incomplete"`
}

type reportMessage struct {
	Action    string       `json:"action"`
	Operation string       `json:"operation"`
	UserID    string       `json:"user_id"`
	By        string       `json:"by,omitempty"`
	Report    reportCounts `json:"report"`
	Result    string       `json:"result"`
	Timestamp string       `json:"timestamp,omitempty"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func taskRef(t TaskSnapshot) *TaskSnapshot {
	if t.SharedWith == nil {
		t.SharedWith = []string{}
	}
	return &t
}

// Encode renders an event to its wire form.
func Encode(e Event) ([]byte, error) {
	var msg any
	switch ev := e.(type) {
	case TaskCreated:
		msg = Message{Action: ev.Action(), Task: taskRef(ev.Task), By: ev.By, Timestamp: stamp(ev.At)}
	case TaskUpdated:
		msg = Message{Action: ev.Action(), Task: taskRef(ev.Task), By: ev.By, Timestamp: stamp(ev.At)}
	case TaskDeleted:
		msg = Message{Action: ev.Action(), TaskID: ev.TaskID, By: ev.By, Timestamp: stamp(ev.At)}
	case TaskShared:
		msg = Message{Action: ev.Action(), Task: taskRef(ev.Task), Recipient: ev.Recipient, By: ev.By, Timestamp: stamp(ev.At)}
	case OnlineUsers:
		users := ev.Users
		if users == nil {
			users = []string{}
		}
		msg = presenceMessage{Action: ev.Action(), Users: users, Timestamp: stamp(ev.At)}
	case TaskReport:
		msg = reportMessage{
			Action:    ev.Action(),
			Operation: OperationGenerateReport,
			UserID:    ev.UserID,
			By:        ev.By,
			Report:    reportCounts{Total: ev.Total, Completed: ev.Completed, Incomplete: ev.Incomplete},
			Result: fmt.Sprintf("User %s Task Report: Total: %d, Completed: %d, Incomplete: %d",
				ev.UserID, ev.Total, ev.Completed, ev.Incomplete),
			Timestamp: stamp(ev.At),
		}
	case Failure:
		msg = Message{Action: ev.RequestAction, Error: ev.Message}
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
	return json.Marshal(msg)
}
