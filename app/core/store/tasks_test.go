package store

import (
	"context"
	"database/sql"
	"testing"
)

func TestAddTaskAutoCreatesProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, err := s.AddTask(ctx, "g1", "Novel", "x", TaskOptions{})
	if err != nil {
		t.Fatalf("add task failed: %v", err)
	}
	if taskID == 0 {
		t.Fatal("expected non-zero task id")
	}
	if _, err := s.GetProjectID(ctx, "g1", "Novel"); err != nil {
		t.Fatalf("project was not auto-created: %v", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if task.Status != StatusTodo {
		t.Fatalf("expected default status TODO, got %s", task.Status)
	}
	if task.ProjectName != "Novel" {
		t.Fatalf("unexpected project name: %s", task.ProjectName)
	}
}

func TestAddTaskRecordsMeetingSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meetingID, err := s.SaveMeeting(ctx, "g1", "회의", "ch-1", `{"title":"회의"}`, "")
	if err != nil {
		t.Fatalf("save meeting failed: %v", err)
	}
	taskID, err := s.AddTask(ctx, "g1", "일반", "로그인 API 구현", TaskOptions{SourceMeetingID: meetingID})
	if err != nil {
		t.Fatalf("add task failed: %v", err)
	}
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if task.SourceMeetingID != meetingID {
		t.Fatalf("expected source meeting %d, got %d", meetingID, task.SourceMeetingID)
	}
}

func TestGetActiveTasksSimpleExcludesDone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _ := s.AddTask(ctx, "g1", "p", "keep", TaskOptions{})
	id2, _ := s.AddTask(ctx, "g1", "p", "done", TaskOptions{})
	if err := s.UpdateTaskStatus(ctx, id2, StatusDone); err != nil {
		t.Fatalf("update status failed: %v", err)
	}

	active, err := s.GetActiveTasksSimple(ctx, "g1")
	if err != nil {
		t.Fatalf("active tasks failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != id1 {
		t.Fatalf("expected only task %d active, got %+v", id1, active)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.AddTask(ctx, "g1", "p", "x", TaskOptions{})
	if err := s.UpdateTaskStatus(ctx, id, StatusInProgress); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	// Any transition is allowed, including backwards.
	if err := s.UpdateTaskStatus(ctx, id, StatusTodo); err != nil {
		t.Fatalf("backwards transition failed: %v", err)
	}
	if err := s.UpdateTaskStatus(ctx, id, "WONTFIX"); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := s.UpdateTaskStatus(ctx, 9999, StatusDone); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestAssignTaskAndRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.AddTask(ctx, "g1", "p", "x", TaskOptions{})
	if err := s.AssignTask(ctx, id, "u-7", "민수"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := s.SetTaskRefs(ctx, id, "thread-1", "msg-1"); err != nil {
		t.Fatalf("set refs failed: %v", err)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if task.AssigneeID != "u-7" || task.AssigneeName != "민수" {
		t.Fatalf("unexpected assignee: %+v", task)
	}
	if task.ThreadID != "thread-1" || task.MessageID != "msg-1" {
		t.Fatalf("unexpected refs: %+v", task)
	}
}

func TestGetTasksByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AddTask(ctx, "g1", "a", "task-a", TaskOptions{})
	s.AddTask(ctx, "g1", "b", "task-b", TaskOptions{})

	all, err := s.GetTasks(ctx, "g1", "")
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}
	only, err := s.GetTasks(ctx, "g1", "b")
	if err != nil {
		t.Fatalf("get by project failed: %v", err)
	}
	if len(only) != 1 || only[0].Content != "task-b" {
		t.Fatalf("unexpected filtered tasks: %+v", only)
	}
}

func TestGetTaskMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask(context.Background(), 42); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
