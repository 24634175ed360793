package meeting

import (
	"errors"
	"strings"
	"sync"
	"time"

	"moim/app/core/anonymizer"
)

var ErrAlreadyRecording = errors.New("meeting: channel is already recording")

// Buffer accumulates the transcript of one recording channel. It lives
// only in memory; stopping the meeting drains it.
type Buffer struct {
	GuildID   string
	ChannelID string
	Name      string
	JumpURL   string
	StartedAt time.Time
	Lines     []anonymizer.Line
}

// Registry is the explicit owner of all live buffers, keyed by channel.
// It is handed to the message handler and the pipeline; there are no
// package-level globals.
type Registry struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
}

func NewRegistry() *Registry {
	return &Registry{buffers: make(map[string]*Buffer)}
}

// Start begins recording in the channel. The name defaults to a
// timestamp string when empty.
func (r *Registry) Start(guildID string, channelID string, name string) (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.buffers[channelID]; exists {
		return nil, ErrAlreadyRecording
	}
	name = strings.TrimSpace(name)
	now := time.Now()
	if name == "" {
		name = now.Format("2006-01-02 15:04") + " 회의"
	}
	buf := &Buffer{
		GuildID:   guildID,
		ChannelID: channelID,
		Name:      name,
		StartedAt: now,
	}
	r.buffers[channelID] = buf
	return buf, nil
}

// Append records one utterance; it reports false when the channel is
// not recording.
func (r *Registry) Append(channelID string, line anonymizer.Line) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, exists := r.buffers[channelID]
	if !exists {
		return false
	}
	buf.Lines = append(buf.Lines, line)
	return true
}

func (r *Registry) Recording(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.buffers[channelID]
	return exists
}

func (r *Registry) SetJumpURL(channelID string, jumpURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, exists := r.buffers[channelID]; exists {
		buf.JumpURL = jumpURL
	}
}

// Stop removes the buffer from the live map before returning it, so the
// pipeline always works on a snapshot no handler can still mutate.
func (r *Registry) Stop(channelID string) (*Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, exists := r.buffers[channelID]
	if !exists {
		return nil, false
	}
	delete(r.buffers, channelID)
	return buf, true
}

// Stale returns channels that have been recording since before cutoff.
func (r *Registry) Stale(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var channels []string
	for channelID, buf := range r.buffers {
		if buf.StartedAt.Before(cutoff) {
			channels = append(channels, channelID)
		}
	}
	return channels
}
