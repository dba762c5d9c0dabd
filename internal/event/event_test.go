package event_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/taskpulse/internal/event"
)

func decode(t *testing.T, e event.Event) event.Message {
	t.Helper()
	raw, err := event.Encode(e)
	if err != nil {
		t.Fatalf("Encode(%T) failed: %v", e, err)
	}
	var msg event.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func TestEncodeTaskCreated(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := decode(t, event.TaskCreated{
		Origin: event.Origin{By: "a@x.com", At: at},
		Task:   event.TaskSnapshot{ID: "t1", Title: "Buy milk", User: "a@x.com"},
	})
	if msg.Action != "create_task" || msg.Task == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Task.Title != "Buy milk" || msg.Task.Completed || msg.Task.User != "a@x.com" {
		t.Errorf("unexpected task: %+v", msg.Task)
	}
	if msg.Task.SharedWith == nil {
		t.Error("shared_with should encode as an empty array, not null")
	}
	if msg.Timestamp != "2026-01-02T03:04:05Z" || msg.By != "a@x.com" {
		t.Errorf("unexpected origin: by=%q ts=%q", msg.By, msg.Timestamp)
	}
}

func TestEncodeDeleteAndShare(t *testing.T) {
	del := decode(t, event.TaskDeleted{TaskID: "t9"})
	if del.Action != "delete_task" || del.TaskID != "t9" || del.Task != nil {
		t.Errorf("unexpected delete message: %+v", del)
	}
	share := decode(t, event.TaskShared{Task: event.TaskSnapshot{ID: "t1"}, Recipient: "b@x.com"})
	if share.Action != "share_task" || share.Recipient != "b@x.com" || share.Task.ID != "t1" {
		t.Errorf("unexpected share message: %+v", share)
	}
}

func TestEncodeOnlineUsersAlwaysCarriesList(t *testing.T) {
	raw, err := event.Encode(event.OnlineUsers{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"users":[]`) {
		t.Errorf("empty presence list must still be present, got %s", raw)
	}
}

func TestEncodeFailureKeepsRequestAction(t *testing.T) {
	msg := decode(t, event.Failure{RequestAction: "update_task", Message: "forbidden"})
	if msg.Action != "update_task" || msg.Error != "forbidden" {
		t.Errorf("unexpected failure message: %+v", msg)
	}
}

func TestEncodeTaskReport(t *testing.T) {
	raw, err := event.Encode(event.TaskReport{
		Origin:     event.Origin{By: "a@x.com", At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		UserID:     "1",
		Total:      3,
		Completed:  1,
		Incomplete: 2,
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var msg struct {
		Action    string `json:"action"`
		Operation string `json:"operation"`
		UserID    string `json:"user_id"`
		Report    struct {
			Total, Completed, Incomplete int
		} `json:"report"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Action != "task_report" || msg.Operation != "generate_report" || msg.UserID != "1" {
		t.Errorf("unexpected envelope: %s", raw)
	}
	if msg.Report.Total != 3 || msg.Report.Completed != 1 || msg.Report.Incomplete != 2 {
		t.Errorf("unexpected counts: %+v", msg.Report)
	}
	if msg.Result != "User 1 Task Report: Total: 3, Completed: 1, Incomplete: 2" {
		t.Errorf("unexpected result line %q", msg.Result)
	}
}
