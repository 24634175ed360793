package confirm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"moim/app/core/meeting"
	"moim/app/core/store"
	"moim/app/pkg/logger"
	"moim/app/pkg/types"
)

// Stage enumerates the interactive approval sequence, ordered from
// least destructive (status changes) to most destructive (new rows).
// Skipping an earlier stage never blocks a later one.
type Stage int

const (
	StageStatusUpdates Stage = iota
	StageProjects
	StageTasks
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageStatusUpdates:
		return "status_updates"
	case StageProjects:
		return "projects"
	case StageTasks:
		return "tasks"
	default:
		return "done"
	}
}

type sessionKind int

const (
	kindMeeting sessionKind = iota
	kindAction
)

type session struct {
	id        string
	kind      sessionKind
	guildID   string
	channelID string
	ownerID   string
	proposal  meeting.Proposal
	stage     Stage
	deadline  time.Time
	msgRef    types.MessageRef

	selectedUpdates []int
	selectedTasks   []int

	actionLabel   string
	actionExecute func(ctx context.Context) (string, error)
}

// Options tunes the two inactivity windows.
type Options struct {
	Timeout         time.Duration // staged meeting flow
	ActionTimeout   time.Duration // single-action flow
	FallbackProject string
}

// Manager owns every live confirmation session. Nothing is written to
// the store until the user confirms a stage; expiry is a silent no-op.
type Manager struct {
	mu       sync.Mutex
	store    *store.Store
	surface  types.Surface
	sessions map[string]*session
	opts     Options
	nextID   uint64
	now      func() time.Time
}

func NewManager(st *store.Store, surface types.Surface, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 60 * time.Second
	}
	if strings.TrimSpace(opts.FallbackProject) == "" {
		opts.FallbackProject = "회의도출"
	}
	return &Manager{
		store:    st,
		surface:  surface,
		sessions: make(map[string]*session),
		opts:     opts,
		now:      time.Now,
	}
}

// BeginMeeting starts the staged flow for a pipeline proposal. An empty
// proposal starts nothing and reports false.
func (m *Manager) BeginMeeting(ctx context.Context, proposal meeting.Proposal) (bool, error) {
	if proposal.Empty() {
		return false, nil
	}
	m.mu.Lock()
	m.nextID++
	s := &session{
		id:        fmt.Sprintf("c-%d", m.nextID),
		kind:      kindMeeting,
		guildID:   proposal.GuildID,
		channelID: proposal.ChannelID,
		proposal:  proposal,
		stage:     StageStatusUpdates,
		deadline:  m.now().Add(m.opts.Timeout),
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.advance(ctx, s, false)
	return true, nil
}

// BeginAction starts a single [Execute]/[Cancel] confirmation. Only the
// owner may interact with it.
func (m *Manager) BeginAction(ctx context.Context, guildID, channelID, ownerID, label string, execute func(ctx context.Context) (string, error)) error {
	m.mu.Lock()
	m.nextID++
	s := &session{
		id:            fmt.Sprintf("c-%d", m.nextID),
		kind:          kindAction,
		guildID:       guildID,
		channelID:     channelID,
		ownerID:       ownerID,
		stage:         StageDone,
		deadline:      m.now().Add(m.opts.ActionTimeout),
		actionLabel:   label,
		actionExecute: execute,
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	ref, err := m.surface.Send(ctx, channelID, types.Outgoing{
		Text: label,
		Components: []types.Component{
			{Kind: types.ComponentButton, CustomID: m.customID(s, "execute"), Label: "실행"},
			{Kind: types.ComponentButton, CustomID: m.customID(s, "cancel"), Label: "취소"},
		},
	})
	if err != nil {
		m.drop(s.id)
		return err
	}
	m.mu.Lock()
	s.msgRef = ref
	m.mu.Unlock()
	return nil
}

const customIDPrefix = "confirm|"

// Owns reports whether a component event belongs to this manager.
func Owns(customID string) bool {
	return strings.HasPrefix(customID, customIDPrefix)
}

func (m *Manager) customID(s *session, verb string) string {
	return customIDPrefix + s.id + "|" + verb
}

func parseCustomID(customID string) (sessionID string, verb string, ok bool) {
	if !Owns(customID) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(customID, customIDPrefix), "|", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// HandleSelect stores the user's current selection; nothing is applied
// until the stage's confirm button.
func (m *Manager) HandleSelect(_ context.Context, ev types.SelectEvent) {
	sessionID, verb, ok := parseCustomID(ev.CustomID)
	if !ok || verb != "select" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[sessionID]
	if !exists {
		return
	}
	indices := make([]int, 0, len(ev.Values))
	for _, v := range ev.Values {
		if idx, err := strconv.Atoi(v); err == nil {
			indices = append(indices, idx)
		}
	}
	switch s.stage {
	case StageStatusUpdates:
		s.selectedUpdates = indices
	case StageTasks:
		s.selectedTasks = indices
	}
	s.deadline = m.now().Add(m.opts.Timeout)
}

func (m *Manager) HandleButton(ctx context.Context, ev types.ButtonEvent) {
	sessionID, verb, ok := parseCustomID(ev.CustomID)
	if !ok {
		return
	}
	m.mu.Lock()
	s, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return
	}
	if s.kind == kindAction && ev.UserID != s.ownerID {
		m.mu.Unlock()
		_, _ = m.surface.Send(ctx, s.channelID, types.Outgoing{Text: "⚠️ 요청한 사용자만 확인할 수 있습니다."})
		return
	}
	s.deadline = m.now().Add(m.opts.Timeout)
	m.mu.Unlock()

	if s.kind == kindAction {
		m.handleActionButton(ctx, s, verb)
		return
	}

	switch s.stage {
	case StageStatusUpdates:
		if verb == "confirm" {
			m.applyStatusUpdates(ctx, s)
		}
		m.advance(ctx, s, true)
	case StageProjects:
		switch verb {
		case "approve":
			m.applyNewProjects(ctx, s)
		case "reject", "skip":
			m.rewriteToFallback(s)
		}
		m.advance(ctx, s, true)
	case StageTasks:
		if verb == "confirm" {
			m.applyNewTasks(ctx, s)
		}
		m.finish(ctx, s)
	}
}

func (m *Manager) handleActionButton(ctx context.Context, s *session, verb string) {
	switch verb {
	case "execute":
		result, err := s.actionExecute(ctx)
		if err != nil {
			result = fmt.Sprintf("❌ 실패: %v", err)
		}
		_ = m.surface.Edit(ctx, s.msgRef, types.Outgoing{Text: result})
	case "cancel":
		_ = m.surface.Edit(ctx, s.msgRef, types.Outgoing{Text: "취소되었습니다."})
	default:
		return
	}
	m.drop(s.id)
}

// advance moves to the next non-empty stage and presents it. fromStage
// marks that the previous stage's view should no longer be interactive.
func (m *Manager) advance(ctx context.Context, s *session, fromStage bool) {
	if fromStage {
		m.mu.Lock()
		s.stage++
		m.mu.Unlock()
	}
	for {
		m.mu.Lock()
		stage := s.stage
		m.mu.Unlock()
		if stage == StageDone {
			m.finish(ctx, s)
			return
		}
		if m.stageEmpty(s, stage) {
			m.mu.Lock()
			s.stage++
			m.mu.Unlock()
			continue
		}
		m.present(ctx, s, stage)
		return
	}
}

func (m *Manager) stageEmpty(s *session, stage Stage) bool {
	switch stage {
	case StageStatusUpdates:
		return len(s.proposal.Updates) == 0
	case StageProjects:
		return len(newProjects(s.proposal.NewTasks)) == 0
	case StageTasks:
		return len(s.proposal.NewTasks) == 0
	}
	return true
}

func (m *Manager) present(ctx context.Context, s *session, stage Stage) {
	var out types.Outgoing
	switch stage {
	case StageStatusUpdates:
		options := make([]types.SelectOption, 0, len(s.proposal.Updates))
		var b strings.Builder
		b.WriteString("📌 상태 변경 제안입니다. 적용할 항목을 선택하세요.\n")
		for i, u := range s.proposal.Updates {
			fmt.Fprintf(&b, "- #%d → %s (%s)\n", u.TaskID, u.Status, u.Reason)
			options = append(options, types.SelectOption{
				Value:       strconv.Itoa(i),
				Label:       fmt.Sprintf("#%d → %s", u.TaskID, u.Status),
				Description: u.Reason,
			})
		}
		out = types.Outgoing{
			Text: strings.TrimSpace(b.String()),
			Components: []types.Component{
				{Kind: types.ComponentSelect, CustomID: m.customID(s, "select"), Options: options, MaxValues: len(options)},
				{Kind: types.ComponentButton, CustomID: m.customID(s, "confirm"), Label: "적용"},
				{Kind: types.ComponentButton, CustomID: m.customID(s, "skip"), Label: "건너뛰기"},
			},
		}
	case StageProjects:
		var b strings.Builder
		b.WriteString("🆕 새 프로젝트 제안입니다.\n")
		for _, p := range newProjects(s.proposal.NewTasks) {
			if p.parent != "" {
				fmt.Fprintf(&b, "- %s (상위: %s)\n", p.name, p.parent)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.name)
			}
		}
		out = types.Outgoing{
			Text: strings.TrimSpace(b.String()),
			Components: []types.Component{
				{Kind: types.ComponentButton, CustomID: m.customID(s, "approve"), Label: "생성"},
				{Kind: types.ComponentButton, CustomID: m.customID(s, "reject"), Label: "거절"},
			},
		}
	case StageTasks:
		options := make([]types.SelectOption, 0, len(s.proposal.NewTasks))
		var b strings.Builder
		b.WriteString("📝 도출된 할일입니다. 등록할 항목을 선택하세요.\n")
		for i, task := range s.proposal.NewTasks {
			fmt.Fprintf(&b, "- [%s] %s\n", task.Project, task.Content)
			options = append(options, types.SelectOption{
				Value:       strconv.Itoa(i),
				Label:       task.Content,
				Description: task.Project,
			})
		}
		out = types.Outgoing{
			Text: strings.TrimSpace(b.String()),
			Components: []types.Component{
				{Kind: types.ComponentSelect, CustomID: m.customID(s, "select"), Options: options, MaxValues: len(options)},
				{Kind: types.ComponentButton, CustomID: m.customID(s, "confirm"), Label: "등록"},
				{Kind: types.ComponentButton, CustomID: m.customID(s, "skip"), Label: "건너뛰기"},
			},
		}
	}

	ref, err := m.surface.Send(ctx, s.channelID, out)
	if err != nil {
		logger.Error("[Confirm] failed to present stage %s: %v", stage, err)
		m.drop(s.id)
		return
	}
	m.mu.Lock()
	s.msgRef = ref
	m.mu.Unlock()
}

func (m *Manager) applyStatusUpdates(ctx context.Context, s *session) {
	for _, idx := range s.selectedUpdates {
		if idx < 0 || idx >= len(s.proposal.Updates) {
			continue
		}
		u := s.proposal.Updates[idx]
		if err := m.store.UpdateTaskStatus(ctx, u.TaskID, u.Status); err != nil {
			logger.Error("[Confirm] status update #%d failed: %v", u.TaskID, err)
		}
	}
}

type proposedProject struct {
	name   string
	parent string
}

// newProjects collects the distinct project names flagged as new, in
// first-appearance order, each paired with its suggested parent.
func newProjects(tasks []meeting.NewTask) []proposedProject {
	seen := make(map[string]bool)
	var out []proposedProject
	for _, t := range tasks {
		name := strings.TrimSpace(t.Project)
		if !t.IsNewProject || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, proposedProject{name: name, parent: strings.TrimSpace(t.SuggestedParent)})
	}
	return out
}

func (m *Manager) applyNewProjects(ctx context.Context, s *session) {
	for _, p := range newProjects(s.proposal.NewTasks) {
		if _, err := m.store.CreateProject(ctx, s.guildID, p.name, ""); err != nil && err != store.ErrDuplicateProject {
			logger.Error("[Confirm] create project %s failed: %v", p.name, err)
		}
	}
	// Parent links are best effort; a bad suggestion never blocks tasks.
	for _, p := range newProjects(s.proposal.NewTasks) {
		if p.parent == "" {
			continue
		}
		if err := m.store.SetParent(ctx, s.guildID, p.name, p.parent); err != nil {
			logger.Error("[Confirm] parent link %s -> %s failed: %v", p.name, p.parent, err)
		}
	}
}

func (m *Manager) rewriteToFallback(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range s.proposal.NewTasks {
		if s.proposal.NewTasks[i].IsNewProject {
			s.proposal.NewTasks[i].Project = m.opts.FallbackProject
			s.proposal.NewTasks[i].IsNewProject = false
		}
	}
}

func (m *Manager) applyNewTasks(ctx context.Context, s *session) {
	for _, idx := range s.selectedTasks {
		if idx < 0 || idx >= len(s.proposal.NewTasks) {
			continue
		}
		task := s.proposal.NewTasks[idx]
		taskID, err := m.store.AddTask(ctx, s.guildID, task.Project, task.Content, store.TaskOptions{
			SourceMeetingID: s.proposal.MeetingID,
		})
		if err != nil {
			logger.Error("[Confirm] add task failed: %v", err)
			continue
		}

		notifyChannel := s.channelID
		if proj, err := m.store.GetProject(ctx, s.guildID, task.Project); err == nil && proj.ForumChannelID != "" {
			thread, ref, err := m.surface.CreateForumPost(ctx, proj.ForumChannelID,
				fmt.Sprintf("#%d %s", taskID, task.Content), task.Content)
			if err != nil {
				// The task row stays; only the chat artifacts are lost.
				logger.Error("[Confirm] forum post for task #%d failed: %v", taskID, err)
			} else {
				if err := m.store.SetTaskRefs(ctx, taskID, thread.ID, ref.MessageID); err != nil {
					logger.Error("[Confirm] task refs for #%d failed: %v", taskID, err)
				}
				notifyChannel = thread.ID
			}
		}

		hint := strings.TrimSpace(task.AssigneeHint)
		if hint == "" {
			continue
		}
		member, found := m.surface.FindMember(ctx, s.guildID, hint)
		if !found {
			continue
		}
		if err := m.store.AssignTask(ctx, taskID, member.ID, member.DisplayName); err != nil {
			logger.Error("[Confirm] assign task #%d failed: %v", taskID, err)
			continue
		}
		_, _ = m.surface.Send(ctx, notifyChannel, types.Outgoing{
			Text: fmt.Sprintf("👤 #%d 담당: %s", taskID, member.DisplayName),
		})
	}
}

func (m *Manager) finish(ctx context.Context, s *session) {
	m.drop(s.id)
	_, _ = m.surface.Send(ctx, s.channelID, types.Outgoing{Text: "✅ 회의 처리가 완료되었습니다."})
}

func (m *Manager) drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// ExpireSessions removes sessions whose deadline passed. Expiry commits
// nothing; the presented view is edited to a timeout notice.
func (m *Manager) ExpireSessions(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	var expired []*session
	for id, s := range m.sessions {
		if now.After(s.deadline) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if s.msgRef.MessageID != "" {
			_ = m.surface.Edit(ctx, s.msgRef, types.Outgoing{Text: "⏱️ 시간이 초과되어 취소되었습니다."})
		}
	}
	return len(expired)
}

// Active reports the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
