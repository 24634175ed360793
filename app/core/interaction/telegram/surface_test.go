package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moim/app/pkg/types"
)

func okResult(result interface{}) map[string]interface{} {
	return map[string]interface{}{"ok": true, "result": result}
}

func TestPollOnceDispatchesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(okResult([]map[string]interface{}{
			{
				"update_id": 101,
				"message": map[string]interface{}{
					"message_id": 77,
					"date":       1756300000,
					"text":       "@moimbot 현황 알려줘",
					"from":       map[string]interface{}{"id": 11, "username": "minsu", "first_name": "민수"},
					"chat":       map[string]interface{}{"id": 22},
				},
			},
		}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	s.botName = "moimbot"
	var got types.Message
	s.OnMessage(func(msg types.Message) { got = msg })

	if err := s.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if got.ChannelID != "22" || got.GuildID != "22" || got.UserID != "11" {
		t.Fatalf("unexpected routing: %+v", got)
	}
	if !got.MentionsBot {
		t.Fatal("bot mention not detected")
	}
	if !strings.Contains(got.Content, "<@moimbot>") {
		t.Fatalf("mention not normalized: %s", got.Content)
	}
	if got.UserName != "민수" {
		t.Fatalf("display name wrong: %s", got.UserName)
	}

	// The sender is now findable and the message landed in history.
	member, found := s.FindMember(context.Background(), "22", "민수")
	if !found || member.ID != "11" {
		t.Fatalf("member roster not updated: %+v", member)
	}
	history, _ := s.FetchHistory(context.Background(), "22", 10)
	if len(history) != 1 {
		t.Fatalf("history not recorded: %+v", history)
	}
}

func TestSendWithComponents(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{"message_id": 900}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	ref, err := s.Send(context.Background(), "22", types.Outgoing{
		Text: "등록할 항목을 선택하세요.",
		Components: []types.Component{
			{Kind: types.ComponentSelect, CustomID: "confirm|c-1|select", Options: []types.SelectOption{
				{Value: "0", Label: "로그인 수정"},
				{Value: "1", Label: "배포 점검"},
			}},
			{Kind: types.ComponentButton, CustomID: "confirm|c-1|confirm", Label: "등록"},
		},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if ref.MessageID != "900" || ref.ChannelID != "22" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if payload["chat_id"] != "22" {
		t.Fatalf("unexpected chat id: %v", payload["chat_id"])
	}
	markup, _ := json.Marshal(payload["reply_markup"])
	for _, want := range []string{"tgl|0", "tgl|1", "confirm|c-1|confirm", "로그인 수정"} {
		if !strings.Contains(string(markup), want) {
			t.Fatalf("keyboard missing %q: %s", want, markup)
		}
	}
}

func TestSendIntoThread(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{"message_id": 1}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	if _, err := s.Send(context.Background(), "22:7", types.Outgoing{Text: "스레드 공지"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if payload["chat_id"] != "22" || payload["message_thread_id"] != float64(7) {
		t.Fatalf("thread routing wrong: %+v", payload)
	}
}

func TestSelectionToggleAccumulates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{"message_id": 900}))
			return
		}
		_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	var events []types.SelectEvent
	s.OnSelect(func(ev types.SelectEvent) { events = append(events, ev) })

	_, err := s.Send(context.Background(), "22", types.Outgoing{
		Text: "선택",
		Components: []types.Component{
			{Kind: types.ComponentSelect, CustomID: "confirm|c-1|select", Options: []types.SelectOption{
				{Value: "0", Label: "a"},
				{Value: "1", Label: "b"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	press := func(data string) {
		s.handleCallback(context.Background(), callbackQuery{
			ID:      "cb",
			Data:    data,
			From:    callbackUser{ID: 11},
			Message: callbackMessage{MessageID: 900, Chat: callbackChat{ID: 22}},
		})
	}

	press("tgl|0")
	press("tgl|1")
	press("tgl|0") // toggle off again

	if len(events) != 3 {
		t.Fatalf("expected 3 select events, got %d", len(events))
	}
	if events[0].CustomID != "confirm|c-1|select" {
		t.Fatalf("custom id lost: %+v", events[0])
	}
	wants := [][]string{{"0"}, {"0", "1"}, {"1"}}
	for i, want := range wants {
		if len(events[i].Values) != len(want) {
			t.Fatalf("event %d values = %v, want %v", i, events[i].Values, want)
		}
		for j := range want {
			if events[i].Values[j] != want[j] {
				t.Fatalf("event %d values = %v, want %v", i, events[i].Values, want)
			}
		}
	}
}

func TestCallbackRoutesButtons(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	var got types.ButtonEvent
	s.OnButton(func(ev types.ButtonEvent) { got = ev })

	s.handleCallback(context.Background(), callbackQuery{
		ID:      "cb",
		Data:    "confirm|c-1|execute",
		From:    callbackUser{ID: 11},
		Message: callbackMessage{MessageID: 900, Chat: callbackChat{ID: 22}},
	})

	if got.CustomID != "confirm|c-1|execute" || got.UserID != "11" || got.Ref.MessageID != "900" {
		t.Fatalf("unexpected button event: %+v", got)
	}
}

func TestCreateForumPost(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/createForumTopic") {
			_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{"message_thread_id": 55, "name": "#3 로그인"}))
			return
		}
		_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{"message_id": 2}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	thread, ref, err := s.CreateForumPost(context.Background(), "22", "#3 로그인", "로그인 수정")
	if err != nil {
		t.Fatalf("forum post failed: %v", err)
	}
	if thread.ID != "22:55" {
		t.Fatalf("unexpected thread id: %s", thread.ID)
	}
	if ref.ChannelID != "22:55" || ref.MessageID != "2" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if len(paths) != 2 || !strings.HasSuffix(paths[0], "/createForumTopic") {
		t.Fatalf("unexpected call order: %v", paths)
	}
}

func TestSendDocument(t *testing.T) {
	var sawDocument bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendDocument") {
			sawDocument = true
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("not multipart: %v", err)
			}
			if r.FormValue("chat_id") != "22" {
				t.Fatalf("chat id missing: %v", r.Form)
			}
			file, header, err := r.FormFile("document")
			if err != nil {
				t.Fatalf("document missing: %v", err)
			}
			defer file.Close()
			if header.Filename != "meeting_summary.json" {
				t.Fatalf("unexpected filename: %s", header.Filename)
			}
			_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{}))
			return
		}
		_ = json.NewEncoder(w).Encode(okResult(map[string]interface{}{"message_id": 1}))
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	_, err := s.Send(context.Background(), "22", types.Outgoing{
		Text:  "요약",
		Files: []types.File{{Name: "meeting_summary.json", Data: []byte("{}")}},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !sawDocument {
		t.Fatal("document upload not attempted")
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "description": "Bad Request: chat not found"})
	}))
	defer server.Close()

	s := New(Config{BotToken: "token", APIRoot: server.URL})
	_, err := s.Send(context.Background(), "22", types.Outgoing{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("api error not surfaced: %v", err)
	}
}
