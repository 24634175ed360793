package types

import (
	"context"
	"time"
)

// Message represents an inbound chat message.
type Message struct {
	ID          string
	GuildID     string
	ChannelID   string
	UserID      string
	UserName    string
	Content     string
	Time        time.Time
	JumpURL     string
	FromBot     bool
	MentionsBot bool
}

// Member is a guild member as seen by the chat platform.
type Member struct {
	ID          string
	UserName    string
	DisplayName string
	Roles       []string
}

// MessageRef identifies a message that was already delivered.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Thread identifies a thread or forum post container.
type Thread struct {
	ID   string
	Name string
}

// SelectOption is one entry of a multi-select component.
type SelectOption struct {
	Value       string
	Label       string
	Description string
}

const (
	ComponentButton = "button"
	ComponentSelect = "select"
)

// Component is an interactive element attached to an outbound message.
type Component struct {
	Kind      string
	CustomID  string
	Label     string
	Options   []SelectOption
	MaxValues int
}

// File is a raw attachment.
type File struct {
	Name string
	Data []byte
}

// Outgoing is the payload of a message the bot sends.
type Outgoing struct {
	Text       string
	Files      []File
	Components []Component
}

// ButtonEvent is fired when a user presses an interactive button.
type ButtonEvent struct {
	GuildID  string
	UserID   string
	Ref      MessageRef
	CustomID string
}

// SelectEvent is fired when a user submits a multi-select.
type SelectEvent struct {
	GuildID  string
	UserID   string
	Ref      MessageRef
	CustomID string
	Values   []string
}

// Surface abstracts the chat platform. The core never talks to a
// platform SDK directly; everything goes through this interface.
type Surface interface {
	Send(ctx context.Context, channelID string, out Outgoing) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, out Outgoing) error
	Delete(ctx context.Context, ref MessageRef) error
	FetchHistory(ctx context.Context, channelID string, limit int) ([]Message, error)
	CreateThread(ctx context.Context, channelID string, name string) (Thread, error)
	CreateForumPost(ctx context.Context, forumChannelID string, name string, content string) (Thread, MessageRef, error)
	FindMember(ctx context.Context, guildID string, query string) (Member, bool)
	ListMembers(ctx context.Context, guildID string) []Member
	ListRoles(ctx context.Context, guildID string) []string

	OnMessage(handler func(Message))
	OnButton(handler func(ButtonEvent))
	OnSelect(handler func(SelectEvent))

	Start(ctx context.Context) error
	ID() string
}
