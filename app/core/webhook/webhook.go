package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"moim/app/core/llm"
	"moim/app/core/prompts"
	"moim/app/core/store"
	"moim/app/pkg/logger"
	"moim/app/pkg/types"

	"github.com/tidwall/gjson"
)

const maxBody = 1 << 20

// closeKeyword matches commit-closing verbs as whole words, so that
// "fixture" or "disclosed" never close anything.
var (
	closeKeyword = regexp.MustCompile(`(?i)\b(fix(?:e[sd])?|close[sd]?|resolve[sd]?)\b`)
	taskRef      = regexp.MustCompile(`#(\d+)`)
)

// Server receives Git hosting callbacks: push events close referenced
// tasks, pull-request events get an automated review comment.
type Server struct {
	store   *store.Store
	gen     llm.Generator
	lib     *prompts.Library
	surface types.Surface
	http    *http.Server
}

func NewServer(st *store.Store, gen llm.Generator, lib *prompts.Library, surface types.Surface, port int) *Server {
	s := &Server{store: st, gen: gen, lib: lib, surface: surface}
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/push", s.handlePush)
	mux.HandleFunc("/webhook/pr", s.handlePR)
	mux.HandleFunc("/health", s.handleHealth)
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() {
	go func() {
		logger.Info("[Webhook] listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("[Webhook] server stopped: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	repoName := gjson.GetBytes(body, "repository.full_name").String()
	if repoName == "" {
		http.Error(w, "missing repository.full_name", http.StatusBadRequest)
		return
	}
	channels, err := s.store.GetRepoChannels(r.Context(), repoName)
	if err != nil {
		logger.Error("[Webhook] repo lookup failed: %v", err)
	}
	if len(channels) == 0 {
		// Unregistered repos are acknowledged and ignored.
		w.WriteHeader(http.StatusOK)
		return
	}

	var closed []int64
	var lines []string
	gjson.GetBytes(body, "commits").ForEach(func(_, commit gjson.Result) bool {
		message := commit.Get("message").String()
		if first := strings.Split(message, "\n")[0]; first != "" {
			lines = append(lines, "• "+first)
		}
		for _, id := range ClosedTaskIDs(message) {
			if err := s.store.UpdateTaskStatus(r.Context(), id, store.StatusDone); err != nil {
				logger.Error("[Webhook] close task #%d failed: %v", id, err)
				continue
			}
			closed = append(closed, id)
		}
		return true
	})

	var b strings.Builder
	fmt.Fprintf(&b, "📦 %s push\n", repoName)
	b.WriteString(strings.Join(lines, "\n"))
	if len(closed) > 0 {
		b.WriteString("\n")
		for _, id := range closed {
			fmt.Fprintf(&b, "\n✅ 할일 #%d 완료 처리", id)
		}
	}
	notice := strings.TrimSpace(b.String())
	for _, channelID := range channels {
		if _, err := s.surface.Send(r.Context(), channelID, types.Outgoing{Text: notice}); err != nil {
			logger.Error("[Webhook] push notice failed: %v", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePR(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	repoName := gjson.GetBytes(body, "repository.full_name").String()
	if repoName == "" {
		http.Error(w, "missing repository.full_name", http.StatusBadRequest)
		return
	}
	channels, err := s.store.GetRepoChannels(r.Context(), repoName)
	if err != nil {
		logger.Error("[Webhook] repo lookup failed: %v", err)
	}
	if len(channels) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	title := gjson.GetBytes(body, "pull_request.title").String()
	diff := gjson.GetBytes(body, "pull_request.diff").String()
	prompt, err := s.lib.Render("code_review", map[string]string{
		"title": title,
		"diff":  diff,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	raw := s.gen.Generate(r.Context(), prompt, true)
	review := renderReview(repoName, title, raw)
	for _, channelID := range channels {
		if _, err := s.surface.Send(r.Context(), channelID, types.Outgoing{Text: review}); err != nil {
			logger.Error("[Webhook] review notice failed: %v", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ClosedTaskIDs extracts the task ids a commit message closes: every
// #N on the remainder of a line after a closing keyword.
func ClosedTaskIDs(message string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, line := range strings.Split(message, "\n") {
		loc := closeKeyword.FindStringIndex(line)
		if loc == nil {
			continue
		}
		for _, match := range taskRef.FindAllStringSubmatch(line[loc[1]:], -1) {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil || id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func renderReview(repoName string, title string, raw string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 %s PR 리뷰: %s\n", repoName, title)
	normalized, ok := llm.Normalize(raw)
	if !ok {
		b.WriteString(strings.TrimSpace(raw))
		return strings.TrimSpace(b.String())
	}
	if summary := gjson.Get(normalized, "summary").String(); summary != "" {
		b.WriteString("\n" + summary + "\n")
	}
	issues := gjson.Get(normalized, "issues").Array()
	if len(issues) > 0 {
		b.WriteString("\n지적 사항:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- [%s/%s] %s: %s\n",
				issue.Get("type").String(), issue.Get("severity").String(),
				issue.Get("file").String(), issue.Get("description").String())
		}
	}
	suggestions := gjson.Get(normalized, "suggestions").Array()
	if len(suggestions) > 0 {
		b.WriteString("\n개선 제안:\n")
		for _, sg := range suggestions {
			fmt.Fprintf(&b, "- %s\n", sg.String())
		}
	}
	if score := gjson.Get(normalized, "score"); score.Exists() {
		fmt.Fprintf(&b, "\n점수: %d/10", score.Int())
	}
	return strings.TrimSpace(b.String())
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return nil, false
	}
	if !gjson.ValidBytes(body) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}
