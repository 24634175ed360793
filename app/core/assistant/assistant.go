package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	config "moim/app/configs"
	"moim/app/core/confirm"
	"moim/app/core/llm"
	"moim/app/core/meeting"
	"moim/app/core/prompts"
	"moim/app/core/store"
	"moim/app/pkg/logger"
	"moim/app/pkg/types"
)

var mentionPattern = regexp.MustCompile(`<@!?\w+>`)

const historyDepth = 10

// action is the JSON shape the analysis prompt asks for. Unknown
// actions are reported back to the user, never silently dropped.
type action struct {
	Action   string `json:"action"`
	Comment  string `json:"comment"`
	Question string `json:"question"`
	Name     string `json:"name"`
	Parent   string `json:"parent"`
	Project  string `json:"project"`
	Content  string `json:"content"`
	TaskID   int64  `json:"task_id"`
	Assignee string `json:"assignee"`
	Repo     string `json:"repo"`
}

// Assistant answers bot mentions: gatekeep, gather context, ask the
// model for one action, then either reply or stage the action behind a
// single confirmation.
type Assistant struct {
	store    *store.Store
	gen      llm.Generator
	lib      *prompts.Library
	surface  types.Surface
	confirm  *confirm.Manager
	registry *meeting.Registry
	cfg      *config.Manager

	// StopMeeting is injected by the dispatcher because stopping runs
	// the whole ingestion pipeline, which lives above this package.
	StopMeeting func(ctx context.Context, guildID string, channelID string) (string, error)
}

func New(st *store.Store, gen llm.Generator, lib *prompts.Library, surface types.Surface, cm *confirm.Manager, registry *meeting.Registry, cfg *config.Manager) *Assistant {
	return &Assistant{
		store:    st,
		gen:      gen,
		lib:      lib,
		surface:  surface,
		confirm:  cm,
		registry: registry,
		cfg:      cfg,
	}
}

// Handle processes one mention. A mention with no text after the
// mention token is ignored.
func (a *Assistant) Handle(ctx context.Context, msg types.Message) {
	request := stripMention(msg.Content)
	if request == "" {
		return
	}

	if a.cfg.Get().GatekeeperEnabled && !a.worthAnswering(ctx, request) {
		logger.Info("[Assistant] gatekeeper dropped message from %s", msg.UserName)
		return
	}

	prompt, err := a.lib.Render("assistant_analysis", map[string]string{
		"active_tasks": a.renderActiveTasks(ctx, msg.GuildID),
		"projects":     a.renderProjects(ctx, msg.GuildID),
		"memories":     a.renderMemories(ctx, msg.GuildID, request),
		"history":      a.renderHistory(ctx, msg.ChannelID),
		"request":      fmt.Sprintf("%s: %s", msg.UserName, request),
	})
	if err != nil {
		logger.Error("[Assistant] render failed: %v", err)
		return
	}
	raw := a.gen.Generate(ctx, prompt, true)

	normalized, ok := llm.Normalize(raw)
	if !ok {
		// Plain text means the model answered directly; relay it.
		a.reply(ctx, msg.ChannelID, strings.TrimSpace(raw))
		return
	}
	var act action
	if err := json.Unmarshal([]byte(normalized), &act); err != nil {
		a.reply(ctx, msg.ChannelID, "⚠️ 응답을 해석하지 못했습니다. 다시 말씀해 주세요.")
		return
	}

	a.dispatch(ctx, msg, act)

	if err := a.store.AddMemory(ctx, msg.GuildID, fmt.Sprintf("%s: %s", msg.UserName, request)); err != nil {
		logger.Error("[Assistant] memory save failed: %v", err)
	}
}

func (a *Assistant) dispatch(ctx context.Context, msg types.Message, act action) {
	switch act.Action {
	case "", "none":
		a.reply(ctx, msg.ChannelID, act.Comment)

	case "ask_user":
		question := strings.TrimSpace(act.Question)
		if question == "" {
			question = act.Comment
		}
		a.reply(ctx, msg.ChannelID, "❓ "+question)

	case "status":
		tasks, err := a.store.GetActiveTasksSimple(ctx, msg.GuildID)
		if err != nil {
			a.reply(ctx, msg.ChannelID, fmt.Sprintf("❌ 현황 조회 실패: %v", err))
			return
		}
		a.reply(ctx, msg.ChannelID, "📊 진행 중인 할일\n"+meeting.RenderTaskBriefs(tasks))

	case "create_project":
		name := strings.TrimSpace(act.Name)
		if name == "" {
			a.reply(ctx, msg.ChannelID, "❓ 프로젝트 이름을 알려주세요.")
			return
		}
		a.stage(ctx, msg, fmt.Sprintf("프로젝트 '%s'를 생성할까요?", name), func(ctx context.Context) (string, error) {
			id, err := a.store.CreateProject(ctx, msg.GuildID, name, strings.TrimSpace(act.Parent))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ 프로젝트 '%s' 생성 완료 (#%d)", name, id), nil
		})

	case "set_parent":
		a.stage(ctx, msg, fmt.Sprintf("'%s'의 상위 프로젝트를 '%s'로 설정할까요?", act.Name, act.Parent), func(ctx context.Context) (string, error) {
			if err := a.store.SetParent(ctx, msg.GuildID, act.Name, act.Parent); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ '%s' → 상위 '%s' 설정 완료", act.Name, act.Parent), nil
		})

	case "add_task":
		content := strings.TrimSpace(act.Content)
		if content == "" {
			a.reply(ctx, msg.ChannelID, "❓ 할일 내용을 알려주세요.")
			return
		}
		a.stage(ctx, msg, fmt.Sprintf("할일 '%s'를 등록할까요?", content), func(ctx context.Context) (string, error) {
			id, err := a.store.AddTask(ctx, msg.GuildID, act.Project, content, store.TaskOptions{})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ 할일 #%d 등록 완료", id), nil
		})

	case "complete_task":
		a.stage(ctx, msg, fmt.Sprintf("할일 #%d를 완료 처리할까요?", act.TaskID), func(ctx context.Context) (string, error) {
			if err := a.store.UpdateTaskStatus(ctx, act.TaskID, store.StatusDone); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ 할일 #%d 완료", act.TaskID), nil
		})

	case "assign_task":
		a.stage(ctx, msg, fmt.Sprintf("할일 #%d를 '%s'에게 배정할까요?", act.TaskID, act.Assignee), func(ctx context.Context) (string, error) {
			member, found := a.surface.FindMember(ctx, msg.GuildID, act.Assignee)
			if !found {
				return "", fmt.Errorf("멤버 '%s'를 찾을 수 없습니다", act.Assignee)
			}
			if err := a.store.AssignTask(ctx, act.TaskID, member.ID, member.DisplayName); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ 할일 #%d 담당: %s", act.TaskID, member.DisplayName), nil
		})

	case "start_meeting":
		a.stage(ctx, msg, "회의 기록을 시작할까요?", func(ctx context.Context) (string, error) {
			buf, err := a.registry.Start(msg.GuildID, msg.ChannelID, act.Name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("🎙️ '%s' 기록을 시작합니다. 이 채널의 대화가 회의록에 담깁니다.", buf.Name), nil
		})

	case "stop_meeting":
		if a.StopMeeting == nil {
			a.reply(ctx, msg.ChannelID, "❌ 회의 종료를 처리할 수 없습니다.")
			return
		}
		a.stage(ctx, msg, "회의 기록을 종료하고 정리할까요?", func(ctx context.Context) (string, error) {
			return a.StopMeeting(ctx, msg.GuildID, msg.ChannelID)
		})

	case "add_repo":
		a.stage(ctx, msg, fmt.Sprintf("레포 '%s' 알림을 이 채널에 연결할까요?", act.Repo), func(ctx context.Context) (string, error) {
			if err := a.store.AddRepo(ctx, msg.GuildID, act.Repo, msg.ChannelID); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ 레포 '%s' 등록 완료", act.Repo), nil
		})

	case "remove_repo":
		a.stage(ctx, msg, fmt.Sprintf("레포 '%s' 연결을 해제할까요?", act.Repo), func(ctx context.Context) (string, error) {
			removed, err := a.store.RemoveRepo(ctx, msg.GuildID, act.Repo)
			if err != nil {
				return "", err
			}
			if !removed {
				return "", fmt.Errorf("등록되지 않은 레포입니다: %s", act.Repo)
			}
			return fmt.Sprintf("✅ 레포 '%s' 해제 완료", act.Repo), nil
		})

	default:
		a.reply(ctx, msg.ChannelID, fmt.Sprintf("⚠️ 알 수 없는 동작입니다: %s", act.Action))
	}
}

// stage wraps a mutation behind the single-action confirmation.
func (a *Assistant) stage(ctx context.Context, msg types.Message, label string, execute func(ctx context.Context) (string, error)) {
	if err := a.confirm.BeginAction(ctx, msg.GuildID, msg.ChannelID, msg.UserID, label, execute); err != nil {
		logger.Error("[Assistant] confirmation failed: %v", err)
	}
}

func (a *Assistant) reply(ctx context.Context, channelID string, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := a.surface.Send(ctx, channelID, types.Outgoing{Text: text}); err != nil {
		logger.Error("[Assistant] reply failed: %v", err)
	}
}

// worthAnswering runs the cheap relevance check. Any answer that is not
// an explicit NO lets the message through.
func (a *Assistant) worthAnswering(ctx context.Context, request string) bool {
	prompt, err := a.lib.Render("gatekeeper", map[string]string{"message": request})
	if err != nil {
		return true
	}
	verdict := strings.ToUpper(strings.TrimSpace(a.gen.Generate(ctx, prompt, false)))
	return !strings.HasPrefix(verdict, "NO")
}

func (a *Assistant) renderHistory(ctx context.Context, channelID string) string {
	history, err := a.surface.FetchHistory(ctx, channelID, historyDepth)
	if err != nil || len(history) == 0 {
		return "없음"
	}
	var b strings.Builder
	for _, msg := range history {
		content := mentionPattern.ReplaceAllString(msg.Content, "@Bot")
		if msg.FromBot {
			fmt.Fprintf(&b, "[Assistant] %s\n", content)
		} else {
			fmt.Fprintf(&b, "[User] %s: %s\n", msg.UserName, content)
		}
	}
	return strings.TrimSpace(b.String())
}

func (a *Assistant) renderMemories(ctx context.Context, guildID string, request string) string {
	memories, err := a.store.SearchMemories(ctx, guildID, request, 3)
	if err != nil || len(memories) == 0 {
		return "없음"
	}
	return "- " + strings.Join(memories, "\n- ")
}

func (a *Assistant) renderActiveTasks(ctx context.Context, guildID string) string {
	tasks, err := a.store.GetActiveTasksSimple(ctx, guildID)
	if err != nil {
		return "없음"
	}
	return meeting.RenderTaskBriefs(tasks)
}

func (a *Assistant) renderProjects(ctx context.Context, guildID string) string {
	tree, err := a.store.GetProjectTree(ctx, guildID)
	if err != nil || len(tree) == 0 {
		return "없음"
	}
	names := make([]string, 0, len(tree))
	for _, proj := range tree {
		names = append(names, proj.Name)
	}
	return strings.Join(names, ", ")
}

// stripMention removes mention tokens and returns the bare request.
func stripMention(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, " "))
}
