package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"moim/app/pkg/logger"
	"moim/app/pkg/types"
)

const (
	defaultAPIRoot = "https://api.telegram.org"
	historyKeep    = 50
)

type Config struct {
	BotToken      string
	PollInterval  time.Duration
	TimeoutSec    int
	DefaultChatID string
	APIRoot       string
}

// Surface drives one Telegram bot over long polling. Channel ids are
// "<chat_id>" or "<chat_id>:<thread_id>" for forum topics.
//
// The Bot API cannot read history or enumerate members, so both are
// served from in-memory rosters fed by the update stream.
type Surface struct {
	cfg     Config
	client  *http.Client
	id      string
	botID   int64
	botName string

	mu        sync.Mutex
	offset    int64
	history   map[string][]types.Message
	members   map[string]types.Member
	selection map[string]*pendingSelect

	onMessage func(types.Message)
	onButton  func(types.ButtonEvent)
	onSelect  func(types.SelectEvent)
}

// pendingSelect tracks the toggled options of one presented select.
// Telegram has no native multi-select; each option is a toggle button
// and every press reports the accumulated values.
type pendingSelect struct {
	customID string
	options  []types.SelectOption
	selected map[string]bool
}

func New(cfg Config) *Surface {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 20
	}
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	return &Surface{
		cfg:       cfg,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec+10) * time.Second},
		id:        "telegram",
		history:   make(map[string][]types.Message),
		members:   make(map[string]types.Member),
		selection: make(map[string]*pendingSelect),
	}
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) OnMessage(handler func(types.Message)) { s.onMessage = handler }

func (s *Surface) OnButton(handler func(types.ButtonEvent)) { s.onButton = handler }

func (s *Surface) OnSelect(handler func(types.SelectEvent)) { s.onSelect = handler }

// Start resolves the bot identity, then polls until ctx ends.
func (s *Surface) Start(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	var me getMeResponse
	if err := s.call(ctx, "getMe", map[string]interface{}{}, &me); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	s.botID = me.Result.ID
	s.botName = me.Result.Username
	logger.Info("[Telegram] connected as @%s", s.botName)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("[Telegram] poll error: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Surface) Send(ctx context.Context, channelID string, out types.Outgoing) (types.MessageRef, error) {
	chatID, threadID := splitChannelID(channelID)
	if chatID == "" {
		chatID = s.cfg.DefaultChatID
	}
	if chatID == "" {
		return types.MessageRef{}, fmt.Errorf("telegram chat id is required")
	}

	var ref types.MessageRef
	if strings.TrimSpace(out.Text) != "" || len(out.Components) > 0 {
		payload := map[string]interface{}{
			"chat_id": chatID,
			"text":    out.Text,
		}
		if threadID != 0 {
			payload["message_thread_id"] = threadID
		}
		if markup := s.buildMarkup(out.Components); markup != nil {
			payload["reply_markup"] = markup
		}
		var resp sendMessageResponse
		if err := s.call(ctx, "sendMessage", payload, &resp); err != nil {
			return types.MessageRef{}, err
		}
		ref = types.MessageRef{ChannelID: channelID, MessageID: strconv.FormatInt(resp.Result.MessageID, 10)}
		s.registerSelection(ref, out.Components)
		s.recordOutbound(channelID, out.Text)
	}

	for _, file := range out.Files {
		if err := s.sendDocument(ctx, chatID, threadID, file); err != nil {
			return ref, err
		}
	}
	if ref.MessageID == "" && len(out.Files) == 0 {
		return ref, fmt.Errorf("empty outgoing message")
	}
	return ref, nil
}

func (s *Surface) Edit(ctx context.Context, ref types.MessageRef, out types.Outgoing) error {
	chatID, _ := splitChannelID(ref.ChannelID)
	messageID, err := strconv.ParseInt(ref.MessageID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad message ref: %w", err)
	}
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       out.Text,
	}
	if markup := s.buildMarkup(out.Components); markup != nil {
		payload["reply_markup"] = markup
	}
	if err := s.call(ctx, "editMessageText", payload, nil); err != nil {
		return err
	}
	s.registerSelection(ref, out.Components)
	return nil
}

func (s *Surface) Delete(ctx context.Context, ref types.MessageRef) error {
	chatID, _ := splitChannelID(ref.ChannelID)
	messageID, err := strconv.ParseInt(ref.MessageID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad message ref: %w", err)
	}
	return s.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (s *Surface) FetchHistory(_ context.Context, channelID string, limit int) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history[channelID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]types.Message, len(history))
	copy(out, history)
	return out, nil
}

// CreateThread opens a forum topic. The owning chat must have topics
// enabled; the returned id routes later sends into the topic.
func (s *Surface) CreateThread(ctx context.Context, channelID string, name string) (types.Thread, error) {
	chatID, _ := splitChannelID(channelID)
	var resp createForumTopicResponse
	err := s.call(ctx, "createForumTopic", map[string]interface{}{
		"chat_id": chatID,
		"name":    name,
	}, &resp)
	if err != nil {
		return types.Thread{}, err
	}
	return types.Thread{
		ID:   fmt.Sprintf("%s:%d", chatID, resp.Result.MessageThreadID),
		Name: resp.Result.Name,
	}, nil
}

func (s *Surface) CreateForumPost(ctx context.Context, forumChannelID string, name string, content string) (types.Thread, types.MessageRef, error) {
	thread, err := s.CreateThread(ctx, forumChannelID, name)
	if err != nil {
		return types.Thread{}, types.MessageRef{}, err
	}
	ref, err := s.Send(ctx, thread.ID, types.Outgoing{Text: content})
	if err != nil {
		return thread, types.MessageRef{}, err
	}
	return thread, ref, nil
}

// FindMember searches the seen-user roster by substring.
func (s *Surface) FindMember(_ context.Context, _ string, query string) (types.Member, bool) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return types.Member{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, member := range s.members {
		if strings.Contains(strings.ToLower(member.DisplayName), query) ||
			strings.Contains(strings.ToLower(member.UserName), query) {
			return member, true
		}
	}
	return types.Member{}, false
}

func (s *Surface) ListMembers(_ context.Context, _ string) []types.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Member, 0, len(s.members))
	for _, member := range s.members {
		out = append(out, member)
	}
	return out
}

// ListRoles is empty on Telegram; chats have no role taxonomy.
func (s *Surface) ListRoles(context.Context, string) []string { return nil }

func (s *Surface) pollOnce(ctx context.Context) error {
	s.mu.Lock()
	offset := s.offset
	s.mu.Unlock()

	payload := map[string]interface{}{
		"timeout":         s.cfg.TimeoutSec,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}
	var resp getUpdatesResponse
	if err := s.call(ctx, "getUpdates", payload, &resp); err != nil {
		return err
	}

	for _, upd := range resp.Result {
		s.mu.Lock()
		if upd.UpdateID >= s.offset {
			s.offset = upd.UpdateID + 1
		}
		s.mu.Unlock()

		switch {
		case upd.CallbackQuery.ID != "":
			s.handleCallback(ctx, upd.CallbackQuery)
		case upd.Message.MessageID != 0:
			s.handleMessage(upd.Message)
		}
	}
	return nil
}

func (s *Surface) handleMessage(m incomingMessage) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" {
		return
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	channelID := chatID
	if m.MessageThreadID != 0 {
		channelID = fmt.Sprintf("%s:%d", chatID, m.MessageThreadID)
	}

	member := types.Member{
		ID:          strconv.FormatInt(m.From.ID, 10),
		UserName:    m.From.Username,
		DisplayName: strings.TrimSpace(strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)),
	}
	if member.DisplayName == "" {
		member.DisplayName = member.UserName
	}

	mentionsBot := s.botName != "" && strings.Contains(text, "@"+s.botName)
	msg := types.Message{
		ID:          strconv.FormatInt(m.MessageID, 10),
		GuildID:     chatID,
		ChannelID:   channelID,
		UserID:      member.ID,
		UserName:    member.DisplayName,
		Content:     rewriteBotMention(text, s.botName),
		Time:        time.Unix(m.Date, 0),
		FromBot:     m.From.ID == s.botID || m.From.IsBot,
		MentionsBot: mentionsBot,
	}

	s.mu.Lock()
	s.members[member.ID] = member
	s.appendHistoryLocked(channelID, msg)
	handler := s.onMessage
	s.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

func (s *Surface) handleCallback(ctx context.Context, cb callbackQuery) {
	// Acknowledge first so the client stops its spinner.
	if err := s.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": cb.ID,
	}, nil); err != nil {
		logger.Error("[Telegram] answerCallbackQuery failed: %v", err)
	}

	chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
	ref := types.MessageRef{
		ChannelID: chatID,
		MessageID: strconv.FormatInt(cb.Message.MessageID, 10),
	}
	userID := strconv.FormatInt(cb.From.ID, 10)

	if idx, ok := strings.CutPrefix(cb.Data, "tgl|"); ok {
		s.toggleSelection(cb.Message.Chat.ID, cb.Message.MessageID, idx, ref, userID, chatID)
		return
	}

	s.mu.Lock()
	handler := s.onButton
	s.mu.Unlock()
	if handler != nil {
		handler(types.ButtonEvent{
			GuildID:  chatID,
			UserID:   userID,
			Ref:      ref,
			CustomID: cb.Data,
		})
	}
}

// toggleSelection flips one option and reports the whole selection.
func (s *Surface) toggleSelection(chatID int64, messageID int64, idx string, ref types.MessageRef, userID string, guildID string) {
	key := selectionKey(chatID, messageID)
	s.mu.Lock()
	pending, exists := s.selection[key]
	if !exists {
		s.mu.Unlock()
		return
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 || i >= len(pending.options) {
		s.mu.Unlock()
		return
	}
	value := pending.options[i].Value
	if pending.selected[value] {
		delete(pending.selected, value)
	} else {
		pending.selected[value] = true
	}
	values := make([]string, 0, len(pending.selected))
	for _, opt := range pending.options {
		if pending.selected[opt.Value] {
			values = append(values, opt.Value)
		}
	}
	customID := pending.customID
	handler := s.onSelect
	s.mu.Unlock()

	if handler != nil {
		handler(types.SelectEvent{
			GuildID:  guildID,
			UserID:   userID,
			Ref:      ref,
			CustomID: customID,
			Values:   values,
		})
	}
}

// buildMarkup renders components as an inline keyboard: one row per
// select option (as a toggle), one row with all the plain buttons.
func (s *Surface) buildMarkup(components []types.Component) map[string]interface{} {
	if len(components) == 0 {
		return nil
	}
	var rows [][]map[string]string
	var buttonRow []map[string]string
	for _, c := range components {
		switch c.Kind {
		case types.ComponentSelect:
			for i, opt := range c.Options {
				label := opt.Label
				if opt.Description != "" {
					label = fmt.Sprintf("%s — %s", opt.Label, opt.Description)
				}
				rows = append(rows, []map[string]string{{
					"text":          label,
					"callback_data": "tgl|" + strconv.Itoa(i),
				}})
			}
		case types.ComponentButton:
			buttonRow = append(buttonRow, map[string]string{
				"text":          c.Label,
				"callback_data": c.CustomID,
			})
		}
	}
	if len(buttonRow) > 0 {
		rows = append(rows, buttonRow)
	}
	if len(rows) == 0 {
		return nil
	}
	return map[string]interface{}{"inline_keyboard": rows}
}

func (s *Surface) registerSelection(ref types.MessageRef, components []types.Component) {
	for _, c := range components {
		if c.Kind != types.ComponentSelect {
			continue
		}
		chatID, _ := splitChannelID(ref.ChannelID)
		chat, err1 := strconv.ParseInt(chatID, 10, 64)
		msgID, err2 := strconv.ParseInt(ref.MessageID, 10, 64)
		if err1 != nil || err2 != nil {
			return
		}
		s.mu.Lock()
		s.selection[selectionKey(chat, msgID)] = &pendingSelect{
			customID: c.CustomID,
			options:  c.Options,
			selected: make(map[string]bool),
		}
		s.mu.Unlock()
		return
	}
}

func (s *Surface) sendDocument(ctx context.Context, chatID string, threadID int64, file types.File) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("chat_id", chatID)
	if threadID != 0 {
		_ = writer.WriteField("message_thread_id", strconv.FormatInt(threadID, 10))
	}
	part, err := writer.CreateFormFile("document", file.Name)
	if err != nil {
		return err
	}
	if _, err := part.Write(file.Data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url := strings.TrimRight(s.cfg.APIRoot, "/") + "/bot" + s.cfg.BotToken + "/sendDocument"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (s *Surface) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	url := strings.TrimRight(s.cfg.APIRoot, "/") + "/bot" + s.cfg.BotToken + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var base apiResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return err
	}
	if !base.OK {
		return fmt.Errorf("telegram api error: %s", base.Description)
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

func (s *Surface) recordOutbound(channelID string, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHistoryLocked(channelID, types.Message{
		ChannelID: channelID,
		Content:   text,
		Time:      time.Now(),
		FromBot:   true,
	})
}

func (s *Surface) appendHistoryLocked(channelID string, msg types.Message) {
	history := append(s.history[channelID], msg)
	if len(history) > historyKeep {
		history = history[len(history)-historyKeep:]
	}
	s.history[channelID] = history
}

func rewriteBotMention(text string, botName string) string {
	if botName == "" {
		return text
	}
	return strings.ReplaceAll(text, "@"+botName, "<@"+botName+">")
}

func splitChannelID(channelID string) (chatID string, threadID int64) {
	chatID = channelID
	if idx := strings.LastIndex(channelID, ":"); idx > 0 {
		if id, err := strconv.ParseInt(channelID[idx+1:], 10, 64); err == nil {
			return channelID[:idx], id
		}
	}
	return chatID, 0
}

func selectionKey(chatID int64, messageID int64) string {
	return fmt.Sprintf("%d/%d", chatID, messageID)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type getMeResponse struct {
	apiResponse
	Result struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"result"`
}

type sendMessageResponse struct {
	apiResponse
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

type createForumTopicResponse struct {
	apiResponse
	Result struct {
		MessageThreadID int64  `json:"message_thread_id"`
		Name            string `json:"name"`
	} `json:"result"`
}

type getUpdatesResponse struct {
	apiResponse
	Result []update `json:"result"`
}

type update struct {
	UpdateID      int64           `json:"update_id"`
	Message       incomingMessage `json:"message"`
	CallbackQuery callbackQuery   `json:"callback_query"`
}

type incomingMessage struct {
	MessageID       int64  `json:"message_id"`
	MessageThreadID int64  `json:"message_thread_id"`
	Date            int64  `json:"date"`
	Text            string `json:"text"`
	Caption         string `json:"caption"`
	From            struct {
		ID        int64  `json:"id"`
		IsBot     bool   `json:"is_bot"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

type callbackQuery struct {
	ID      string          `json:"id"`
	Data    string          `json:"data"`
	From    callbackUser    `json:"from"`
	Message callbackMessage `json:"message"`
}

type callbackUser struct {
	ID int64 `json:"id"`
}

type callbackMessage struct {
	MessageID int64        `json:"message_id"`
	Chat      callbackChat `json:"chat"`
}

type callbackChat struct {
	ID int64 `json:"id"`
}
