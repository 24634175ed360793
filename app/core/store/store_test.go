package store

import (
	"context"
	"database/sql"
	"testing"
)

func TestEnsureAdminIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureAdmin(ctx, "u-1", "지은"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if err := s.EnsureAdmin(ctx, "u-1", "지은"); err != nil {
		t.Fatalf("second ensure admin failed: %v", err)
	}
	count, err := s.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one admin row, got %d", count)
	}

	ok, err := s.IsAuthorized(ctx, "u-1")
	if err != nil || !ok {
		t.Fatalf("expected u-1 authorized, ok=%v err=%v", ok, err)
	}
	ok, err = s.IsAuthorized(ctx, "u-2")
	if err != nil || ok {
		t.Fatalf("expected u-2 not authorized, ok=%v err=%v", ok, err)
	}

	removed, err := s.RemoveAdmin(ctx, "u-1")
	if err != nil || !removed {
		t.Fatalf("remove admin failed: removed=%v err=%v", removed, err)
	}
}

func TestMeetingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveMeeting(ctx, "g1", "주간 회의", "ch-1", `{"title":"주간 회의","agenda":[]}`, "https://chat/jump/1")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	detail, err := s.GetMeetingDetail(ctx, "g1", id)
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	if detail.Title != "주간 회의" || detail.JumpURL != "https://chat/jump/1" {
		t.Fatalf("unexpected meeting: %+v", detail)
	}

	recent, err := s.GetRecentMeetings(ctx, "g1", 5)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 meeting, got %d", len(recent))
	}

	deleted, err := s.DeleteMeeting(ctx, "g1", id)
	if err != nil || !deleted {
		t.Fatalf("delete failed: deleted=%v err=%v", deleted, err)
	}
	if _, err := s.GetMeetingDetail(ctx, "g1", id); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
	// Deleting a foreign guild's meeting is a no-op.
	id2, _ := s.SaveMeeting(ctx, "g1", "t", "ch", "{}", "")
	deleted, err = s.DeleteMeeting(ctx, "g2", id2)
	if err != nil || deleted {
		t.Fatalf("expected no-op cross-guild delete, deleted=%v err=%v", deleted, err)
	}
}

func TestRepoChannels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddRepo(ctx, "g1", "team/app", "ch-1"); err != nil {
		t.Fatalf("add repo failed: %v", err)
	}
	if err := s.AddRepo(ctx, "g2", "team/app", "ch-2"); err != nil {
		t.Fatalf("add repo in second guild failed: %v", err)
	}
	// Re-registering updates the channel instead of duplicating.
	if err := s.AddRepo(ctx, "g1", "team/app", "ch-9"); err != nil {
		t.Fatalf("re-add repo failed: %v", err)
	}

	channels, err := s.GetRepoChannels(ctx, "team/app")
	if err != nil {
		t.Fatalf("channels failed: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected channels from both guilds, got %v", channels)
	}

	removed, err := s.RemoveRepo(ctx, "g1", "team/app")
	if err != nil || !removed {
		t.Fatalf("remove failed: removed=%v err=%v", removed, err)
	}
	removed, err = s.RemoveRepo(ctx, "g1", "team/app")
	if err != nil || removed {
		t.Fatalf("expected second remove to be a no-op, removed=%v err=%v", removed, err)
	}
}

func TestSearchMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{
		"배포는 금요일에 한다",
		"로그인 API는 민수 담당",
		"로그인 세션 만료는 30분",
		"디자인 리뷰는 수요일",
	} {
		if err := s.AddMemory(ctx, "g1", text); err != nil {
			t.Fatalf("add memory failed: %v", err)
		}
	}

	hits, err := s.SearchMemories(ctx, "g1", "로그인 이슈", 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %v", hits)
	}
	// Newest first.
	if hits[0] != "로그인 세션 만료는 30분" {
		t.Fatalf("expected newest hit first, got %v", hits)
	}

	// Single-rune tokens are dropped; with no usable token there is no query.
	hits, err = s.SearchMemories(ctx, "g1", "a b", 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected no hits for short tokens, got %v", hits)
	}
}

func TestGuildSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.GetAssistantChannel(ctx, "g1")
	if err != nil || ch != "" {
		t.Fatalf("expected empty channel for fresh guild, got %q err=%v", ch, err)
	}
	if err := s.SetAssistantChannel(ctx, "g1", "ch-1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.SetAssistantChannel(ctx, "g1", "ch-2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	ch, err = s.GetAssistantChannel(ctx, "g1")
	if err != nil || ch != "ch-2" {
		t.Fatalf("expected ch-2, got %q err=%v", ch, err)
	}
}

func TestSchemaInitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.initSchema(); err != nil {
		t.Fatalf("second initSchema failed: %v", err)
	}
}
