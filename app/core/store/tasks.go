package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TaskOptions carries the optional references recorded with a new task.
type TaskOptions struct {
	SourceMeetingID int64
	ThreadID        string
	MessageID       string
}

// AddTask inserts a task under the named project, creating the project
// first when it does not exist yet.
func (s *Store) AddTask(ctx context.Context, guildID string, projectName string, content string, opts TaskOptions) (int64, error) {
	projectName = strings.TrimSpace(projectName)
	if projectName == "" {
		projectName = "일반"
	}
	projectID, err := s.GetProjectID(ctx, guildID, projectName)
	if err == sql.ErrNoRows {
		projectID, err = s.CreateProject(ctx, guildID, projectName, "")
	}
	if err != nil {
		return 0, err
	}

	var meetingID interface{}
	if opts.SourceMeetingID > 0 {
		meetingID = opts.SourceMeetingID
	}
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO tasks (guild_id, project_id, content, status, created_at, source_meeting_id, thread_id, message_id)
		 VALUES (?, ?, ?, 'TODO', ?, ?, ?, ?)`,
		guildID, projectID, content, time.Now().Unix(), meetingID, opts.ThreadID, opts.MessageID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const taskColumns = `t.id, t.guild_id, t.project_id, COALESCE(p.name, ''), t.content,
	COALESCE(t.assignee_id, ''), COALESCE(t.assignee_name, ''), t.status, t.created_at,
	COALESCE(t.source_meeting_id, 0), COALESCE(t.thread_id, ''), COALESCE(t.message_id, '')`

// GetTasks returns the guild's tasks ordered by id, optionally limited to
// one project.
func (s *Store) GetTasks(ctx context.Context, guildID string, projectName string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t LEFT JOIN projects p ON p.id = t.project_id WHERE t.guild_id = ?`
	args := []interface{}{guildID}
	if strings.TrimSpace(projectName) != "" {
		query += ` AND p.name = ?`
		args = append(args, strings.TrimSpace(projectName))
	}
	query += ` ORDER BY t.id ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.GuildID, &t.ProjectID, &t.ProjectName, &t.Content,
			&t.AssigneeID, &t.AssigneeName, &t.Status, &t.CreatedAt,
			&t.SourceMeetingID, &t.ThreadID, &t.MessageID); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (Task, error) {
	var t Task
	err := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks t LEFT JOIN projects p ON p.id = t.project_id WHERE t.id = ?`, taskID).
		Scan(&t.ID, &t.GuildID, &t.ProjectID, &t.ProjectName, &t.Content,
			&t.AssigneeID, &t.AssigneeName, &t.Status, &t.CreatedAt,
			&t.SourceMeetingID, &t.ThreadID, &t.MessageID)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// GetActiveTasksSimple returns every task that is not DONE, in the
// compact shape prompts consume.
func (s *Store) GetActiveTasksSimple(ctx context.Context, guildID string) ([]TaskBrief, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, content, status FROM tasks WHERE guild_id = ? AND status != 'DONE' ORDER BY id ASC`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TaskBrief
	for rows.Next() {
		var b TaskBrief
		if err := rows.Scan(&b.ID, &b.Content, &b.Status); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

// UpdateTaskStatus sets any valid status; there is no transition check.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE id = ?`, status, taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) AssignTask(ctx context.Context, taskID int64, userID string, displayName string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET assignee_id = ?, assignee_name = ? WHERE id = ?`, userID, displayName, taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetTaskRefs records the chat thread and message created for the task.
func (s *Store) SetTaskRefs(ctx context.Context, taskID int64, threadID string, messageID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET thread_id = ?, message_id = ? WHERE id = ?`, threadID, messageID, taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
