package surface

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"moim/app/pkg/types"
)

// Memory is an in-process chat surface. It backs tests and local dry
// runs; everything is stored in maps and events are injected by hand.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	Sent     []SentMessage
	Edits    []SentMessage
	Deleted  []types.MessageRef
	Threads  []types.Thread
	History  map[string][]types.Message
	Members  []types.Member
	Roles    []string
	FailSend bool

	onMessage func(types.Message)
	onButton  func(types.ButtonEvent)
	onSelect  func(types.SelectEvent)
}

type SentMessage struct {
	ChannelID string
	Ref       types.MessageRef
	Out       types.Outgoing
}

func NewMemory() *Memory {
	return &Memory{History: make(map[string][]types.Message)}
}

func (m *Memory) ID() string { return "memory" }

func (m *Memory) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *Memory) Send(_ context.Context, channelID string, out types.Outgoing) (types.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend {
		return types.MessageRef{}, fmt.Errorf("send failed")
	}
	m.nextID++
	ref := types.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("m-%d", m.nextID)}
	m.Sent = append(m.Sent, SentMessage{ChannelID: channelID, Ref: ref, Out: out})
	return ref, nil
}

func (m *Memory) Edit(_ context.Context, ref types.MessageRef, out types.Outgoing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edits = append(m.Edits, SentMessage{ChannelID: ref.ChannelID, Ref: ref, Out: out})
	return nil
}

func (m *Memory) Delete(_ context.Context, ref types.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, ref)
	return nil
}

func (m *Memory) FetchHistory(_ context.Context, channelID string, limit int) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.History[channelID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]types.Message, len(history))
	copy(out, history)
	return out, nil
}

func (m *Memory) CreateThread(_ context.Context, channelID string, name string) (types.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	thread := types.Thread{ID: fmt.Sprintf("t-%d", m.nextID), Name: name}
	m.Threads = append(m.Threads, thread)
	return thread, nil
}

func (m *Memory) CreateForumPost(_ context.Context, forumChannelID string, name string, content string) (types.Thread, types.MessageRef, error) {
	m.mu.Lock()
	if m.FailSend {
		m.mu.Unlock()
		return types.Thread{}, types.MessageRef{}, fmt.Errorf("forum post failed")
	}
	m.nextID++
	thread := types.Thread{ID: fmt.Sprintf("t-%d", m.nextID), Name: name}
	m.Threads = append(m.Threads, thread)
	m.mu.Unlock()

	ref, err := m.Send(context.Background(), thread.ID, types.Outgoing{Text: content})
	return thread, ref, err
}

func (m *Memory) FindMember(_ context.Context, _ string, query string) (types.Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return types.Member{}, false
	}
	for _, member := range m.Members {
		if strings.Contains(strings.ToLower(member.DisplayName), query) ||
			strings.Contains(strings.ToLower(member.UserName), query) {
			return member, true
		}
	}
	return types.Member{}, false
}

func (m *Memory) ListMembers(_ context.Context, _ string) []types.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Member, len(m.Members))
	copy(out, m.Members)
	return out
}

func (m *Memory) ListRoles(_ context.Context, _ string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Roles))
	copy(out, m.Roles)
	return out
}

func (m *Memory) OnMessage(handler func(types.Message)) { m.onMessage = handler }

func (m *Memory) OnButton(handler func(types.ButtonEvent)) { m.onButton = handler }

func (m *Memory) OnSelect(handler func(types.SelectEvent)) { m.onSelect = handler }

// InjectMessage feeds an inbound message as if the platform delivered it.
func (m *Memory) InjectMessage(msg types.Message) {
	m.mu.Lock()
	m.History[msg.ChannelID] = append(m.History[msg.ChannelID], msg)
	handler := m.onMessage
	m.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (m *Memory) InjectButton(ev types.ButtonEvent) {
	if m.onButton != nil {
		m.onButton(ev)
	}
}

func (m *Memory) InjectSelect(ev types.SelectEvent) {
	if m.onSelect != nil {
		m.onSelect(ev)
	}
}

// LastSent returns the most recent outbound message, if any.
func (m *Memory) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentMessage{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}
