package assistant

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	config "moim/app/configs"
	"moim/app/core/confirm"
	"moim/app/core/meeting"
	"moim/app/core/prompts"
	"moim/app/core/store"
	"moim/app/core/surface"
	"moim/app/pkg/types"
)

type genFunc func(ctx context.Context, prompt string, jsonMode bool) string

func (f genFunc) Generate(ctx context.Context, prompt string, jsonMode bool) string {
	return f(ctx, prompt, jsonMode)
}

type fixture struct {
	assistant *Assistant
	store     *store.Store
	surface   *surface.Memory
	confirm   *confirm.Manager
	cfg       *config.Manager
}

func newFixture(t *testing.T, gen genFunc) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	lib, err := prompts.Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("load prompts failed: %v", err)
	}
	cfg, err := config.NewManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	mem := surface.NewMemory()
	cm := confirm.NewManager(st, mem, confirm.Options{})
	return &fixture{
		assistant: New(st, gen, lib, mem, cm, meeting.NewRegistry(), cfg),
		store:     st,
		surface:   mem,
		confirm:   cm,
		cfg:       cfg,
	}
}

func mentionMsg(content string) types.Message {
	return types.Message{
		ID:          "msg-1",
		GuildID:     "g1",
		ChannelID:   "ch-1",
		UserID:      "u-1",
		UserName:    "민수",
		Content:     content,
		MentionsBot: true,
	}
}

func pressButton(t *testing.T, f *fixture, label string) {
	t.Helper()
	sent, ok := f.surface.LastSent()
	if !ok {
		t.Fatal("no confirmation was presented")
	}
	for _, c := range sent.Out.Components {
		if c.Kind == types.ComponentButton && c.Label == label {
			f.confirm.HandleButton(context.Background(), types.ButtonEvent{UserID: "u-1", CustomID: c.CustomID})
			return
		}
	}
	t.Fatalf("no %q button in %+v", label, sent.Out.Components)
}

func TestHandleIgnoresBareMention(t *testing.T) {
	called := false
	gen := genFunc(func(context.Context, string, bool) string {
		called = true
		return "{}"
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot>  "))

	if called {
		t.Fatal("bare mention must not reach the model")
	}
	if len(f.surface.Sent) != 0 {
		t.Fatal("bare mention must not produce a reply")
	}
}

func TestHandleNoneAction(t *testing.T) {
	gen := genFunc(func(_ context.Context, prompt string, _ bool) string {
		if !strings.Contains(prompt, "민수: 안녕하세요") {
			t.Fatalf("request missing from prompt: %s", prompt)
		}
		return `{"action":"none","comment":"안녕하세요! 무엇을 도와드릴까요?"}`
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 안녕하세요"))

	sent, _ := f.surface.LastSent()
	if !strings.Contains(sent.Out.Text, "무엇을 도와드릴까요") {
		t.Fatalf("comment not relayed: %s", sent.Out.Text)
	}
}

func TestHandleAskUser(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"ask_user","question":"어느 프로젝트에 추가할까요?"}`
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 할일 추가해줘"))

	sent, _ := f.surface.LastSent()
	if !strings.Contains(sent.Out.Text, "어느 프로젝트에") {
		t.Fatalf("question not relayed: %s", sent.Out.Text)
	}
}

func TestHandlePlainTextRelayed(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return "그건 제가 도울 수 없는 일이에요."
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 날씨 알려줘"))

	sent, _ := f.surface.LastSent()
	if sent.Out.Text != "그건 제가 도울 수 없는 일이에요." {
		t.Fatalf("plain text not relayed: %s", sent.Out.Text)
	}
}

func TestHandleArrayWrappedResponse(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `[{"action":"none","comment":"배열 응답"}]`
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 테스트"))

	sent, _ := f.surface.LastSent()
	if sent.Out.Text != "배열 응답" {
		t.Fatalf("array-wrapped response not unwrapped: %s", sent.Out.Text)
	}
}

func TestHandleUnknownAction(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"launch_rocket"}`
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 발사"))

	sent, _ := f.surface.LastSent()
	if !strings.Contains(sent.Out.Text, "알 수 없는 동작") {
		t.Fatalf("unknown action not reported: %s", sent.Out.Text)
	}
}

func TestCreateProjectStagedBehindConfirmation(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"create_project","name":"결제","comment":"결제 프로젝트를 만들게요."}`
	})
	f := newFixture(t, gen)
	ctx := context.Background()

	f.assistant.Handle(ctx, mentionMsg("<@bot> 결제 프로젝트 만들어줘"))

	// Nothing is written before the user confirms.
	if _, err := f.store.GetProject(ctx, "g1", "결제"); err == nil {
		t.Fatal("project created without confirmation")
	}

	pressButton(t, f, "실행")

	if _, err := f.store.GetProject(ctx, "g1", "결제"); err != nil {
		t.Fatalf("confirmed project missing: %v", err)
	}
	if len(f.surface.Edits) != 1 || !strings.Contains(f.surface.Edits[0].Out.Text, "생성 완료") {
		t.Fatalf("result edit missing: %+v", f.surface.Edits)
	}
}

func TestCompleteTaskStaged(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"complete_task","task_id":1}`
	})
	f := newFixture(t, gen)
	ctx := context.Background()

	id, _ := f.store.AddTask(ctx, "g1", "백엔드", "로그인 수정", store.TaskOptions{})

	f.assistant.Handle(ctx, mentionMsg("<@bot> 로그인 수정 끝났어"))
	pressButton(t, f, "실행")

	task, _ := f.store.GetTask(ctx, id)
	if task.Status != store.StatusDone {
		t.Fatalf("task not completed: %+v", task)
	}
}

func TestStartMeetingStaged(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"start_meeting","name":"주간 회의"}`
	})
	f := newFixture(t, gen)

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 회의 시작하자"))
	pressButton(t, f, "실행")

	if !f.assistant.registry.Recording("ch-1") {
		t.Fatal("meeting not recording after confirmation")
	}
}

func TestGatekeeperDropsNo(t *testing.T) {
	calls := 0
	gen := genFunc(func(_ context.Context, prompt string, jsonMode bool) string {
		calls++
		if calls == 1 {
			if jsonMode {
				t.Fatal("gatekeeper must not use json mode")
			}
			if !strings.Contains(prompt, "asdfqwer") {
				t.Fatalf("message missing from gatekeeper prompt: %s", prompt)
			}
			return "NO"
		}
		t.Fatal("dropped message must not reach analysis")
		return ""
	})
	f := newFixture(t, gen)
	f.cfg.Update(func(c *config.Config) { c.GatekeeperEnabled = true })

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> asdfqwer"))

	if len(f.surface.Sent) != 0 {
		t.Fatal("dropped message must not produce a reply")
	}
}

func TestGatekeeperPassesYes(t *testing.T) {
	calls := 0
	gen := genFunc(func(context.Context, string, bool) string {
		calls++
		if calls == 1 {
			return "YES"
		}
		return `{"action":"none","comment":"통과"}`
	})
	f := newFixture(t, gen)
	f.cfg.Update(func(c *config.Config) { c.GatekeeperEnabled = true })

	f.assistant.Handle(context.Background(), mentionMsg("<@bot> 현황 알려줘"))

	if calls != 2 {
		t.Fatalf("expected gatekeeper then analysis, got %d calls", calls)
	}
	sent, _ := f.surface.LastSent()
	if sent.Out.Text != "통과" {
		t.Fatalf("passed message not answered: %s", sent.Out.Text)
	}
}

func TestPromptCarriesHistoryAndMemories(t *testing.T) {
	var captured string
	gen := genFunc(func(_ context.Context, prompt string, _ bool) string {
		captured = prompt
		return `{"action":"none","comment":"ok"}`
	})
	f := newFixture(t, gen)
	ctx := context.Background()

	f.store.AddMemory(ctx, "g1", "지은: 로그인 이슈는 다음 주에 처리")
	f.surface.History["ch-1"] = []types.Message{
		{UserName: "지은", Content: "<@bot> 어제 얘기한 거 기억나?"},
		{FromBot: true, Content: "네, 기억합니다."},
	}

	f.assistant.Handle(ctx, mentionMsg("<@bot> 로그인 이슈 어떻게 됐어?"))

	if !strings.Contains(captured, "[User] 지은: @Bot 어제 얘기한 거 기억나?") {
		t.Fatalf("history user line missing or mention not rewritten:\n%s", captured)
	}
	if !strings.Contains(captured, "[Assistant] 네, 기억합니다.") {
		t.Fatalf("history bot line missing:\n%s", captured)
	}
	if !strings.Contains(captured, "로그인 이슈는 다음 주에 처리") {
		t.Fatalf("recalled memory missing:\n%s", captured)
	}
}

func TestHandleSavesMemory(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"none","comment":"ok"}`
	})
	f := newFixture(t, gen)
	ctx := context.Background()

	f.assistant.Handle(ctx, mentionMsg("<@bot> 배포 일정은 금요일로 확정"))

	memories, err := f.store.SearchMemories(ctx, "g1", "배포 일정", 3)
	if err != nil || len(memories) != 1 {
		t.Fatalf("request not remembered: %v %v", memories, err)
	}
	if !strings.Contains(memories[0], "민수: 배포 일정은 금요일로 확정") {
		t.Fatalf("unexpected memory: %s", memories[0])
	}
}

func TestStatusAnswersImmediately(t *testing.T) {
	gen := genFunc(func(context.Context, string, bool) string {
		return `{"action":"status"}`
	})
	f := newFixture(t, gen)
	ctx := context.Background()

	f.store.AddTask(ctx, "g1", "백엔드", "로그인 수정", store.TaskOptions{})

	f.assistant.Handle(ctx, mentionMsg("<@bot> 현황"))

	sent := f.surface.Sent[0]
	if !strings.Contains(sent.Out.Text, "로그인 수정") {
		t.Fatalf("status reply missing tasks: %s", sent.Out.Text)
	}
	if len(sent.Out.Components) != 0 {
		t.Fatal("read-only status must not require confirmation")
	}
}
