package bot

import (
	"context"
	"fmt"
	"time"

	"moim/app/core/anonymizer"
	"moim/app/core/assistant"
	"moim/app/core/commands"
	"moim/app/core/confirm"
	"moim/app/core/meeting"
	"moim/app/core/queue"
	"moim/app/core/store"
	"moim/app/pkg/logger"
	"moim/app/pkg/types"
)

// Bot routes inbound chat events. All handlers run on the queue's
// single worker, so store and registry access is naturally serialized.
type Bot struct {
	surface   types.Surface
	queue     *queue.Queue
	registry  *meeting.Registry
	pipeline  *meeting.Pipeline
	confirm   *confirm.Manager
	assistant *assistant.Assistant
	commands  *commands.Commands
	store     *store.Store
}

func New(surface types.Surface, q *queue.Queue, registry *meeting.Registry, pipeline *meeting.Pipeline, cm *confirm.Manager, asst *assistant.Assistant, cmds *commands.Commands, st *store.Store) *Bot {
	b := &Bot{
		surface:   surface,
		queue:     q,
		registry:  registry,
		pipeline:  pipeline,
		confirm:   cm,
		assistant: asst,
		commands:  cmds,
		store:     st,
	}
	// Stopping a meeting runs the whole ingestion flow, which only the
	// dispatcher can see end to end.
	asst.StopMeeting = b.stopMeeting
	cmds.StopMeeting = b.stopMeeting
	return b
}

// Start attaches the surface handlers and spins up the worker.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.queue.Start(ctx, 1); err != nil {
		return err
	}
	b.surface.OnMessage(func(msg types.Message) {
		if err := b.queue.Enqueue(func(ctx context.Context) { b.handleMessage(ctx, msg) }); err != nil {
			logger.Error("[Bot] message dropped: %v", err)
		}
	})
	b.surface.OnButton(func(ev types.ButtonEvent) {
		if err := b.queue.Enqueue(func(ctx context.Context) { b.confirm.HandleButton(ctx, ev) }); err != nil {
			logger.Error("[Bot] button dropped: %v", err)
		}
	})
	b.surface.OnSelect(func(ev types.SelectEvent) {
		if err := b.queue.Enqueue(func(ctx context.Context) { b.confirm.HandleSelect(ctx, ev) }); err != nil {
			logger.Error("[Bot] select dropped: %v", err)
		}
	})
	return nil
}

func (b *Bot) Stop(timeout time.Duration) error {
	return b.queue.Stop(timeout)
}

func (b *Bot) handleMessage(ctx context.Context, msg types.Message) {
	if msg.FromBot {
		return
	}
	if b.commands.Handle(ctx, msg) {
		return
	}
	if msg.MentionsBot {
		b.assistant.Handle(ctx, msg)
		return
	}
	if b.registry.Recording(msg.ChannelID) {
		b.registry.Append(msg.ChannelID, anonymizer.Line{
			Time:    msg.Time.Format("15:04"),
			User:    msg.UserName,
			Content: msg.Content,
		})
		return
	}
	// In the designated assistant channel every message is a request.
	if channelID, err := b.store.GetAssistantChannel(ctx, msg.GuildID); err == nil && channelID == msg.ChannelID {
		b.assistant.Handle(ctx, msg)
	}
}

// stopMeeting drains the channel's buffer, runs the pipeline and hands
// the proposal to the confirmation machine.
func (b *Bot) stopMeeting(ctx context.Context, guildID string, channelID string) (string, error) {
	buf, ok := b.registry.Stop(channelID)
	if !ok {
		return "", fmt.Errorf("이 채널에는 기록 중인 회의가 없습니다")
	}
	if len(buf.Lines) == 0 {
		return "🗑️ 기록된 발언이 없어 회의를 취소했습니다.", nil
	}

	result, err := b.pipeline.Run(ctx, buf)
	if err != nil {
		return "", err
	}
	started, err := b.confirm.BeginMeeting(ctx, result.Proposal)
	if err != nil {
		logger.Error("[Bot] confirmation start failed: %v", err)
	}

	text := fmt.Sprintf("📝 회의 #%d 정리 완료", result.MeetingID)
	if result.Degraded {
		text += " (요약 생성이 불완전해 원문을 저장했습니다)"
	}
	if !started {
		text += " — 도출된 변경 사항이 없습니다."
	}
	return text, nil
}

// SweepStaleMeetings nudges channels whose recording outlived maxAge.
// The buffer keeps recording; only an explicit stop drains it.
func (b *Bot) SweepStaleMeetings(ctx context.Context, maxAge time.Duration) error {
	for _, channelID := range b.registry.Stale(time.Now().Add(-maxAge)) {
		_, err := b.surface.Send(ctx, channelID, types.Outgoing{
			Text: "⏰ 회의가 오랫동안 기록 중입니다. 끝났다면 `!회의 종료`로 정리하세요.",
		})
		if err != nil {
			logger.Error("[Bot] stale reminder failed: %v", err)
		}
	}
	return nil
}
