package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"moim/app/core/meeting"
	"moim/app/core/store"
	"moim/app/pkg/logger"
	"moim/app/pkg/types"

	"github.com/tidwall/gjson"
)

const Prefix = "!"

// Commands executes the explicit chat commands. Unlike assistant
// actions these run immediately; typing the command is the consent.
type Commands struct {
	store    *store.Store
	registry *meeting.Registry
	surface  types.Surface

	// StopMeeting runs the full ingestion flow; wired by the dispatcher.
	StopMeeting func(ctx context.Context, guildID string, channelID string) (string, error)
}

func New(st *store.Store, registry *meeting.Registry, surface types.Surface) *Commands {
	return &Commands{store: st, registry: registry, surface: surface}
}

// Handle runs the message as a command. It reports false when the
// message does not carry the command prefix.
func (c *Commands) Handle(ctx context.Context, msg types.Message) bool {
	if !strings.HasPrefix(msg.Content, Prefix) {
		return false
	}
	fields := strings.Fields(strings.TrimPrefix(msg.Content, Prefix))
	if len(fields) == 0 {
		return false
	}

	var reply string
	switch fields[0] {
	case "회의":
		reply = c.meeting(ctx, msg, fields[1:])
	case "프로젝트":
		reply = c.project(ctx, msg, fields[1:])
	case "할일":
		reply = c.addTask(ctx, msg, fields[1:])
	case "현황":
		reply = c.status(ctx, msg)
	case "완료":
		reply = c.complete(ctx, msg, fields[1:])
	case "담당":
		reply = c.assign(ctx, msg, fields[1:])
	case "레포등록":
		reply = c.addRepo(ctx, msg, fields[1:])
	case "레포삭제":
		reply = c.removeRepo(ctx, msg, fields[1:])
	case "레포목록":
		reply = c.listRepos(ctx, msg)
	case "권한추가":
		reply = c.addAdmin(ctx, msg, fields[1:])
	case "권한삭제":
		reply = c.removeAdmin(ctx, msg, fields[1:])
	case "기억":
		reply = c.remember(ctx, msg, fields[1:])
	case "비서채널":
		reply = c.setAssistantChannel(ctx, msg)
	case "도움말":
		reply = helpText
	default:
		return false
	}

	if reply != "" {
		if _, err := c.surface.Send(ctx, msg.ChannelID, types.Outgoing{Text: reply}); err != nil {
			logger.Error("[Commands] reply failed: %v", err)
		}
	}
	return true
}

func (c *Commands) meeting(ctx context.Context, msg types.Message, args []string) string {
	if len(args) == 0 {
		return "사용법: !회의 시작|종료|목록|조회|삭제"
	}
	switch args[0] {
	case "시작":
		name := strings.Join(args[1:], " ")
		buf, err := c.registry.Start(msg.GuildID, msg.ChannelID, name)
		if err == meeting.ErrAlreadyRecording {
			return "⚠️ 이 채널은 이미 회의를 기록하고 있습니다."
		}
		if err != nil {
			return fmt.Sprintf("❌ 회의 시작 실패: %v", err)
		}
		c.registry.SetJumpURL(msg.ChannelID, msg.JumpURL)
		return fmt.Sprintf("🎙️ '%s' 기록을 시작합니다. 이 채널의 대화가 회의록에 담깁니다.", buf.Name)

	case "종료":
		if c.StopMeeting == nil {
			return "❌ 회의 종료를 처리할 수 없습니다."
		}
		out, err := c.StopMeeting(ctx, msg.GuildID, msg.ChannelID)
		if err != nil {
			return fmt.Sprintf("❌ 회의 종료 실패: %v", err)
		}
		return out

	case "목록":
		meetings, err := c.store.GetRecentMeetings(ctx, msg.GuildID, 10)
		if err != nil {
			return fmt.Sprintf("❌ 조회 실패: %v", err)
		}
		if len(meetings) == 0 {
			return "기록된 회의가 없습니다."
		}
		var b strings.Builder
		b.WriteString("🗂️ 최근 회의\n")
		for _, m := range meetings {
			fmt.Fprintf(&b, "#%d %s\n", m.ID, m.Title)
		}
		return strings.TrimSpace(b.String())

	case "조회":
		id, ok := parseID(args[1:])
		if !ok {
			return "사용법: !회의 조회 <번호>"
		}
		detail, err := c.store.GetMeetingDetail(ctx, msg.GuildID, id)
		if err != nil {
			return fmt.Sprintf("❌ 회의 #%d를 찾을 수 없습니다.", id)
		}
		return renderMeetingDetail(detail)

	case "삭제":
		id, ok := parseID(args[1:])
		if !ok {
			return "사용법: !회의 삭제 <번호>"
		}
		if denied := c.requireAdmin(ctx, msg); denied != "" {
			return denied
		}
		removed, err := c.store.DeleteMeeting(ctx, msg.GuildID, id)
		if err != nil {
			return fmt.Sprintf("❌ 삭제 실패: %v", err)
		}
		if !removed {
			return fmt.Sprintf("❌ 회의 #%d를 찾을 수 없습니다.", id)
		}
		return fmt.Sprintf("🗑️ 회의 #%d 삭제 완료", id)
	}
	return "사용법: !회의 시작|종료|목록|조회|삭제"
}

func (c *Commands) project(ctx context.Context, msg types.Message, args []string) string {
	if len(args) == 0 {
		return "사용법: !프로젝트 생성|구조|상위설정|할일|현황"
	}
	switch args[0] {
	case "생성":
		if len(args) < 2 {
			return "사용법: !프로젝트 생성 <이름> [상위]"
		}
		parent := ""
		if len(args) >= 3 {
			parent = args[2]
		}
		id, err := c.store.CreateProject(ctx, msg.GuildID, args[1], parent)
		if err == store.ErrDuplicateProject {
			return fmt.Sprintf("⚠️ 프로젝트 '%s'는 이미 있습니다.", args[1])
		}
		if err != nil {
			return fmt.Sprintf("❌ 생성 실패: %v", err)
		}
		return fmt.Sprintf("✅ 프로젝트 '%s' 생성 완료 (#%d)", args[1], id)

	case "구조":
		tree, err := c.store.GetProjectTree(ctx, msg.GuildID)
		if err != nil {
			return fmt.Sprintf("❌ 조회 실패: %v", err)
		}
		if len(tree) == 0 {
			return "등록된 프로젝트가 없습니다."
		}
		return renderTree(tree)

	case "상위설정":
		if len(args) < 3 {
			return "사용법: !프로젝트 상위설정 <프로젝트> <상위>"
		}
		err := c.store.SetParent(ctx, msg.GuildID, args[1], args[2])
		switch err {
		case nil:
			return fmt.Sprintf("✅ '%s' → 상위 '%s' 설정 완료", args[1], args[2])
		case store.ErrWouldCycle:
			return "⚠️ 순환 구조는 만들 수 없습니다."
		case store.ErrProjectNotFound:
			return "❌ 프로젝트를 찾을 수 없습니다."
		default:
			return fmt.Sprintf("❌ 설정 실패: %v", err)
		}

	case "채널설정":
		if len(args) < 2 {
			return "사용법: !프로젝트 채널설정 <이름> (할일 스레드가 열릴 채널에서 실행)"
		}
		projectID, err := c.store.GetProjectID(ctx, msg.GuildID, args[1])
		if err != nil {
			return fmt.Sprintf("❌ 프로젝트 '%s'를 찾을 수 없습니다.", args[1])
		}
		if err := c.store.SetProjectChannels(ctx, projectID, "", msg.ChannelID, ""); err != nil {
			return fmt.Sprintf("❌ 설정 실패: %v", err)
		}
		return fmt.Sprintf("📌 '%s'의 할일 스레드가 이 채널에 열립니다.", args[1])

	case "할일":
		if len(args) < 2 {
			return "사용법: !프로젝트 할일 <이름>"
		}
		tasks, err := c.store.GetTasks(ctx, msg.GuildID, args[1])
		if err != nil {
			return fmt.Sprintf("❌ 조회 실패: %v", err)
		}
		if len(tasks) == 0 {
			return fmt.Sprintf("'%s'에 등록된 할일이 없습니다.", args[1])
		}
		return renderTasks(fmt.Sprintf("📋 %s 할일", args[1]), tasks)

	case "현황":
		if len(args) < 2 {
			return "사용법: !프로젝트 현황 <이름>"
		}
		tasks, err := c.store.GetTasks(ctx, msg.GuildID, args[1])
		if err != nil {
			return fmt.Sprintf("❌ 조회 실패: %v", err)
		}
		if len(tasks) == 0 {
			return fmt.Sprintf("'%s'에 등록된 할일이 없습니다.", args[1])
		}
		var open []store.Task
		done := 0
		for _, t := range tasks {
			if t.Status == store.StatusDone {
				done++
			} else {
				open = append(open, t)
			}
		}
		header := fmt.Sprintf("📊 %s 현황 — 진행 %d · 완료 %d", args[1], len(open), done)
		if len(open) == 0 {
			return header + "\n모든 할일이 완료되었습니다."
		}
		return renderTasks(header, open)
	}
	return "사용법: !프로젝트 생성|구조|상위설정|할일|현황"
}

func (c *Commands) addTask(ctx context.Context, msg types.Message, args []string) string {
	if len(args) < 2 {
		return "사용법: !할일 <프로젝트> <내용>"
	}
	content := strings.Join(args[1:], " ")
	id, err := c.store.AddTask(ctx, msg.GuildID, args[0], content, store.TaskOptions{})
	if err != nil {
		return fmt.Sprintf("❌ 등록 실패: %v", err)
	}
	return fmt.Sprintf("✅ 할일 #%d 등록 완료 (%s)", id, args[0])
}

func (c *Commands) status(ctx context.Context, msg types.Message) string {
	tasks, err := c.store.GetTasks(ctx, msg.GuildID, "")
	if err != nil {
		return fmt.Sprintf("❌ 조회 실패: %v", err)
	}
	var open []store.Task
	for _, t := range tasks {
		if t.Status != store.StatusDone {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return "진행 중인 할일이 없습니다."
	}
	return renderTasks("📊 진행 중인 할일", open)
}

func (c *Commands) complete(ctx context.Context, msg types.Message, args []string) string {
	id, ok := parseID(args)
	if !ok {
		return "사용법: !완료 <번호>"
	}
	err := c.store.UpdateTaskStatus(ctx, id, store.StatusDone)
	if err == store.ErrTaskNotFound {
		return fmt.Sprintf("❌ 할일 #%d를 찾을 수 없습니다.", id)
	}
	if err != nil {
		return fmt.Sprintf("❌ 처리 실패: %v", err)
	}
	return fmt.Sprintf("✅ 할일 #%d 완료", id)
}

func (c *Commands) assign(ctx context.Context, msg types.Message, args []string) string {
	if len(args) < 2 {
		return "사용법: !담당 <번호> <멤버>"
	}
	id, ok := parseID(args[:1])
	if !ok {
		return "사용법: !담당 <번호> <멤버>"
	}
	query := strings.Join(args[1:], " ")
	member, found := c.surface.FindMember(ctx, msg.GuildID, query)
	if !found {
		return fmt.Sprintf("❌ 멤버 '%s'를 찾을 수 없습니다.", query)
	}
	if err := c.store.AssignTask(ctx, id, member.ID, member.DisplayName); err != nil {
		if err == store.ErrTaskNotFound {
			return fmt.Sprintf("❌ 할일 #%d를 찾을 수 없습니다.", id)
		}
		return fmt.Sprintf("❌ 배정 실패: %v", err)
	}
	return fmt.Sprintf("👤 할일 #%d 담당: %s", id, member.DisplayName)
}

func (c *Commands) addRepo(ctx context.Context, msg types.Message, args []string) string {
	if len(args) < 1 {
		return "사용법: !레포등록 <owner/repo>"
	}
	if denied := c.requireAdmin(ctx, msg); denied != "" {
		return denied
	}
	if err := c.store.AddRepo(ctx, msg.GuildID, args[0], msg.ChannelID); err != nil {
		return fmt.Sprintf("❌ 등록 실패: %v", err)
	}
	return fmt.Sprintf("✅ 레포 '%s' 알림을 이 채널로 연결했습니다.", args[0])
}

func (c *Commands) removeRepo(ctx context.Context, msg types.Message, args []string) string {
	if len(args) < 1 {
		return "사용법: !레포삭제 <owner/repo>"
	}
	if denied := c.requireAdmin(ctx, msg); denied != "" {
		return denied
	}
	removed, err := c.store.RemoveRepo(ctx, msg.GuildID, args[0])
	if err != nil {
		return fmt.Sprintf("❌ 삭제 실패: %v", err)
	}
	if !removed {
		return fmt.Sprintf("❌ 등록되지 않은 레포입니다: %s", args[0])
	}
	return fmt.Sprintf("🗑️ 레포 '%s' 연결 해제 완료", args[0])
}

func (c *Commands) listRepos(ctx context.Context, msg types.Message) string {
	repos, err := c.store.ListRepos(ctx, msg.GuildID)
	if err != nil {
		return fmt.Sprintf("❌ 조회 실패: %v", err)
	}
	if len(repos) == 0 {
		return "등록된 레포가 없습니다."
	}
	var b strings.Builder
	b.WriteString("🔗 등록된 레포\n")
	for _, r := range repos {
		fmt.Fprintf(&b, "- %s\n", r.RepoName)
	}
	return strings.TrimSpace(b.String())
}

// addAdmin bootstraps: with no admins yet, the first caller registers
// themselves. After that only admins may grant.
func (c *Commands) addAdmin(ctx context.Context, msg types.Message, args []string) string {
	count, err := c.store.CountAdmins(ctx)
	if err != nil {
		return fmt.Sprintf("❌ 처리 실패: %v", err)
	}
	if count == 0 {
		if err := c.store.EnsureAdmin(ctx, msg.UserID, msg.UserName); err != nil {
			return fmt.Sprintf("❌ 처리 실패: %v", err)
		}
		return fmt.Sprintf("👑 %s님이 첫 관리자로 등록되었습니다.", msg.UserName)
	}
	if denied := c.requireAdmin(ctx, msg); denied != "" {
		return denied
	}
	if len(args) < 1 {
		return "사용법: !권한추가 <멤버>"
	}
	query := strings.Join(args, " ")
	member, found := c.surface.FindMember(ctx, msg.GuildID, query)
	if !found {
		return fmt.Sprintf("❌ 멤버 '%s'를 찾을 수 없습니다.", query)
	}
	if err := c.store.EnsureAdmin(ctx, member.ID, member.DisplayName); err != nil {
		return fmt.Sprintf("❌ 처리 실패: %v", err)
	}
	return fmt.Sprintf("👑 %s님에게 관리자 권한을 부여했습니다.", member.DisplayName)
}

func (c *Commands) removeAdmin(ctx context.Context, msg types.Message, args []string) string {
	if denied := c.requireAdmin(ctx, msg); denied != "" {
		return denied
	}
	if len(args) < 1 {
		return "사용법: !권한삭제 <멤버>"
	}
	query := strings.Join(args, " ")
	member, found := c.surface.FindMember(ctx, msg.GuildID, query)
	if !found {
		return fmt.Sprintf("❌ 멤버 '%s'를 찾을 수 없습니다.", query)
	}
	removed, err := c.store.RemoveAdmin(ctx, member.ID)
	if err != nil {
		return fmt.Sprintf("❌ 처리 실패: %v", err)
	}
	if !removed {
		return fmt.Sprintf("❌ %s님은 관리자가 아닙니다.", member.DisplayName)
	}
	return fmt.Sprintf("✂️ %s님의 관리자 권한을 해제했습니다.", member.DisplayName)
}

func (c *Commands) remember(ctx context.Context, msg types.Message, args []string) string {
	if len(args) == 0 {
		return "사용법: !기억 <내용>"
	}
	content := strings.Join(args, " ")
	if err := c.store.AddMemory(ctx, msg.GuildID, fmt.Sprintf("%s: %s", msg.UserName, content)); err != nil {
		return fmt.Sprintf("❌ 저장 실패: %v", err)
	}
	return "🧠 기억해 두겠습니다."
}

// setAssistantChannel marks the current channel: messages there reach
// the assistant without an explicit mention.
func (c *Commands) setAssistantChannel(ctx context.Context, msg types.Message) string {
	if denied := c.requireAdmin(ctx, msg); denied != "" {
		return denied
	}
	if err := c.store.SetAssistantChannel(ctx, msg.GuildID, msg.ChannelID); err != nil {
		return fmt.Sprintf("❌ 설정 실패: %v", err)
	}
	return "🤖 이 채널의 모든 메시지에 비서가 응답합니다."
}

func (c *Commands) requireAdmin(ctx context.Context, msg types.Message) string {
	count, err := c.store.CountAdmins(ctx)
	if err != nil {
		return fmt.Sprintf("❌ 권한 확인 실패: %v", err)
	}
	if count == 0 {
		return ""
	}
	authorized, err := c.store.IsAuthorized(ctx, msg.UserID)
	if err != nil {
		return fmt.Sprintf("❌ 권한 확인 실패: %v", err)
	}
	if !authorized {
		return "🚫 관리자만 사용할 수 있는 명령입니다."
	}
	return ""
}

func parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func renderTree(tree []store.Project) string {
	var b strings.Builder
	b.WriteString("🌳 프로젝트 구조\n")
	children := make(map[int64][]store.Project)
	var roots []store.Project
	for _, p := range tree {
		if p.ParentID == 0 {
			roots = append(roots, p)
		} else {
			children[p.ParentID] = append(children[p.ParentID], p)
		}
	}
	var walk func(p store.Project, depth int)
	walk = func(p store.Project, depth int) {
		fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", depth), p.Name)
		for _, child := range children[p.ID] {
			walk(child, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
	return strings.TrimSpace(b.String())
}

func renderTasks(title string, tasks []store.Task) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "#%d [%s] %s", t.ID, t.Status, t.Content)
		if t.AssigneeName != "" {
			fmt.Fprintf(&b, " (담당: %s)", t.AssigneeName)
		}
		if t.ProjectName != "" {
			fmt.Fprintf(&b, " — %s", t.ProjectName)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// renderMeetingDetail re-reads the stored summary JSON instead of
// keeping a parallel struct in sync with the pipeline's schema.
func renderMeetingDetail(m store.Meeting) string {
	var b strings.Builder
	title := gjson.Get(m.SummaryJSON, "title").String()
	if title == "" {
		title = m.Title
	}
	fmt.Fprintf(&b, "📋 %s (%s)\n\n%s\n", title, gjson.Get(m.SummaryJSON, "date").String(), gjson.Get(m.SummaryJSON, "summary").String())
	agenda := gjson.Get(m.SummaryJSON, "agenda").Array()
	if len(agenda) > 0 {
		b.WriteString("\n안건:\n")
		for _, item := range agenda {
			fmt.Fprintf(&b, "- %s: %s\n", item.Get("topic").String(), item.Get("content").String())
		}
	}
	decisions := gjson.Get(m.SummaryJSON, "decisions").Array()
	if len(decisions) > 0 {
		b.WriteString("\n결정 사항:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s\n", d.String())
		}
	}
	if m.JumpURL != "" {
		fmt.Fprintf(&b, "\n🔗 %s", m.JumpURL)
	}
	return strings.TrimSpace(b.String())
}

const helpText = `📖 명령어
!회의 시작 [이름] — 이 채널의 회의 기록 시작
!회의 종료 — 기록을 끝내고 요약/할일 도출
!회의 목록 · !회의 조회 <번호> · !회의 삭제 <번호>
!프로젝트 생성 <이름> [상위] · !프로젝트 구조 · !프로젝트 상위설정 <프로젝트> <상위> · !프로젝트 할일 <이름> · !프로젝트 현황 <이름> · !프로젝트 채널설정 <이름>
!할일 <프로젝트> <내용> — 할일 등록
!현황 — 진행 중인 할일
!완료 <번호> · !담당 <번호> <멤버>
!레포등록 <owner/repo> · !레포삭제 <owner/repo> · !레포목록
!권한추가 <멤버> · !권한삭제 <멤버>
!기억 <내용> — 비서가 기억할 내용 저장
!비서채널 — 이 채널을 멘션 없는 비서 채널로 지정
봇을 멘션하면 자연어로도 요청할 수 있습니다.`
