package store

import "errors"

const (
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

var (
	ErrDuplicateProject = errors.New("store: project already exists")
	ErrProjectNotFound  = errors.New("store: project not found")
	ErrTaskNotFound     = errors.New("store: task not found")
	ErrWouldCycle       = errors.New("store: parent link would close a cycle")
	ErrInvalidStatus    = errors.New("store: invalid task status")
)

func ValidStatus(status string) bool {
	switch status {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Project struct {
	ID               int64
	GuildID          string
	Name             string
	ParentID         int64 // 0 when the project is a root
	CategoryID       string
	ForumChannelID   string
	MeetingChannelID string
	CreatedAt        int64
}

type Task struct {
	ID              int64
	GuildID         string
	ProjectID       int64
	ProjectName     string
	Content         string
	AssigneeID      string
	AssigneeName    string
	Status          string
	CreatedAt       int64
	SourceMeetingID int64
	ThreadID        string
	MessageID       string
}

// TaskBrief is the compact shape fed into LLM prompts.
type TaskBrief struct {
	ID      int64
	Content string
	Status  string
}

type Meeting struct {
	ID          int64
	GuildID     string
	Title       string
	ChannelID   string
	SummaryJSON string
	JumpURL     string
	CreatedAt   int64
}

type Repo struct {
	ID        int64
	GuildID   string
	RepoName  string
	ChannelID string
}
