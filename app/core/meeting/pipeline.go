package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"moim/app/core/anonymizer"
	"moim/app/core/llm"
	"moim/app/core/prompts"
	"moim/app/core/store"
	"moim/app/pkg/logger"
	"moim/app/pkg/types"
)

// Fixed instruction prepended to both meeting prompts. Output language
// and pseudonym preservation are non-negotiable regardless of template
// overrides.
const systemInstruction = "모든 출력은 반드시 한국어로 작성하세요. 회의록의 {Speaker X} 가명은 절대 변형하지 말고 그대로 유지하세요."

type StatusUpdate struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type NewTask struct {
	Content         string `json:"content"`
	Project         string `json:"project"`
	IsNewProject    bool   `json:"is_new_project"`
	SuggestedParent string `json:"suggested_parent"`
	AssigneeHint    string `json:"assignee_hint"`
}

// Proposal is what the pipeline hands to the confirmation machine. It
// is consumed exactly once.
type Proposal struct {
	MeetingID int64
	GuildID   string
	ChannelID string
	Updates   []StatusUpdate
	NewTasks  []NewTask
}

func (p Proposal) Empty() bool {
	return len(p.Updates) == 0 && len(p.NewTasks) == 0
}

type AgendaItem struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type Summary struct {
	Title     string       `json:"title"`
	Date      string       `json:"date"`
	Summary   string       `json:"summary"`
	Agenda    []AgendaItem `json:"agenda"`
	Decisions []string     `json:"decisions"`
}

type Result struct {
	MeetingID int64
	Summary   Summary
	Degraded  bool
	Proposal  Proposal
}

type Pipeline struct {
	store   *store.Store
	gen     llm.Generator
	lib     *prompts.Library
	surface types.Surface
}

func NewPipeline(st *store.Store, gen llm.Generator, lib *prompts.Library, surface types.Surface) *Pipeline {
	return &Pipeline{store: st, gen: gen, lib: lib, surface: surface}
}

// Run executes the ingestion stages on a drained buffer: anonymize, two
// sequential model calls, de-anonymize, date repair, persist, announce.
// Model failures degrade; only a persistence failure is an error.
func (p *Pipeline) Run(ctx context.Context, buf *Buffer) (Result, error) {
	transcript, _, reverse := anonymizer.Anonymize(buf.Lines)

	summaryPrompt, err := p.lib.Render("meeting_summary", map[string]string{
		"transcript": transcript,
	})
	if err != nil {
		return Result{}, err
	}
	rawSummary := p.gen.Generate(ctx, systemInstruction+"\n\n"+summaryPrompt, true)

	extractPrompt, err := p.lib.Render("extract_tasks", map[string]string{
		"projects":     p.renderProjects(ctx, buf.GuildID),
		"active_tasks": p.renderActiveTasks(ctx, buf.GuildID),
		"roles":        strings.Join(p.surface.ListRoles(ctx, buf.GuildID), ", "),
		"members":      renderMembers(p.surface.ListMembers(ctx, buf.GuildID)),
		"transcript":   transcript,
	})
	if err != nil {
		return Result{}, err
	}
	rawExtract := p.gen.Generate(ctx, systemInstruction+"\n\n"+extractPrompt, true)

	summary, degraded := parseSummary(rawSummary, reverse, buf.Name)
	if !validDate(summary.Date) {
		summary.Date = time.Now().Format("2006-01-02")
	}
	updates, newTasks := parseExtract(rawExtract, reverse)

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return Result{}, err
	}
	meetingID, err := p.store.SaveMeeting(ctx, buf.GuildID, summary.Title, buf.ChannelID, string(summaryJSON), buf.JumpURL)
	if err != nil {
		return Result{}, fmt.Errorf("save meeting: %w", err)
	}

	out := types.Outgoing{
		Text:  RenderSummaryText(summary),
		Files: []types.File{{Name: "meeting_summary.json", Data: summaryJSON}},
	}
	if _, err := p.surface.Send(ctx, buf.ChannelID, out); err != nil {
		logger.Error("[Pipeline] failed to announce summary: %v", err)
	}

	return Result{
		MeetingID: meetingID,
		Summary:   summary,
		Degraded:  degraded,
		Proposal: Proposal{
			MeetingID: meetingID,
			GuildID:   buf.GuildID,
			ChannelID: buf.ChannelID,
			Updates:   updates,
			NewTasks:  newTasks,
		},
	}, nil
}

// parseSummary normalizes and de-anonymizes the summary output. A
// response that does not parse becomes the degraded record with the raw
// text as summary.
func parseSummary(raw string, reverse map[string]string, fallbackTitle string) (Summary, bool) {
	normalized, ok := llm.Normalize(raw)
	if ok {
		restored := anonymizer.RestoreJSON(normalized, reverse)
		var s Summary
		if err := json.Unmarshal([]byte(restored), &s); err == nil {
			if strings.TrimSpace(s.Title) == "" {
				s.Title = fallbackTitle
			}
			if s.Agenda == nil {
				s.Agenda = []AgendaItem{}
			}
			if s.Decisions == nil {
				s.Decisions = []string{}
			}
			return s, false
		}
	}
	return Summary{
		Title:     fallbackTitle,
		Summary:   anonymizer.Restore(raw, reverse),
		Agenda:    []AgendaItem{},
		Decisions: []string{},
	}, true
}

func parseExtract(raw string, reverse map[string]string) ([]StatusUpdate, []NewTask) {
	normalized, ok := llm.Normalize(raw)
	if !ok {
		return nil, nil
	}
	restored := anonymizer.RestoreJSON(normalized, reverse)
	var payload struct {
		NewTasks []NewTask      `json:"new_tasks"`
		Updates  []StatusUpdate `json:"updates"`
	}
	if err := json.Unmarshal([]byte(restored), &payload); err != nil {
		return nil, nil
	}
	var tasks []NewTask
	for _, t := range payload.NewTasks {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	var updates []StatusUpdate
	for _, u := range payload.Updates {
		if u.TaskID <= 0 || !store.ValidStatus(u.Status) {
			continue
		}
		updates = append(updates, u)
	}
	return updates, tasks
}

// validDate accepts YYYY-MM-DD: exactly ten bytes starting with a digit.
func validDate(s string) bool {
	if len(s) != 10 {
		return false
	}
	if s[0] < '0' || s[0] > '9' {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func (p *Pipeline) renderProjects(ctx context.Context, guildID string) string {
	tree, err := p.store.GetProjectTree(ctx, guildID)
	if err != nil {
		logger.Error("[Pipeline] project tree failed: %v", err)
		return "없음"
	}
	if len(tree) == 0 {
		return "없음"
	}
	names := make(map[int64]string, len(tree))
	for _, proj := range tree {
		names[proj.ID] = proj.Name
	}
	var b strings.Builder
	for _, proj := range tree {
		if proj.ParentID != 0 {
			fmt.Fprintf(&b, "- %s (상위: %s)\n", proj.Name, names[proj.ParentID])
		} else {
			fmt.Fprintf(&b, "- %s\n", proj.Name)
		}
	}
	return strings.TrimSpace(b.String())
}

func (p *Pipeline) renderActiveTasks(ctx context.Context, guildID string) string {
	tasks, err := p.store.GetActiveTasksSimple(ctx, guildID)
	if err != nil {
		logger.Error("[Pipeline] active tasks failed: %v", err)
		return "없음"
	}
	return RenderTaskBriefs(tasks)
}

func RenderTaskBriefs(tasks []store.TaskBrief) string {
	if len(tasks) == 0 {
		return "없음"
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "#%d [%s] %s\n", t.ID, t.Status, t.Content)
	}
	return strings.TrimSpace(b.String())
}

func renderMembers(members []types.Member) string {
	if len(members) == 0 {
		return "없음"
	}
	var b strings.Builder
	for _, m := range members {
		fmt.Fprintf(&b, "- %s (%s)\n", m.DisplayName, m.UserName)
	}
	return strings.TrimSpace(b.String())
}

// RenderSummaryText is the human-readable announcement of a meeting.
func RenderSummaryText(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s (%s)\n\n%s\n", s.Title, s.Date, s.Summary)
	if len(s.Agenda) > 0 {
		b.WriteString("\n안건:\n")
		for _, item := range s.Agenda {
			fmt.Fprintf(&b, "- %s: %s\n", item.Topic, item.Content)
		}
	}
	if len(s.Decisions) > 0 {
		b.WriteString("\n결정 사항:\n")
		for _, d := range s.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return strings.TrimSpace(b.String())
}
