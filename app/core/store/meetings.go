package store

import (
	"context"
	"time"
)

func (s *Store) SaveMeeting(ctx context.Context, guildID string, title string, channelID string, summaryJSON string, jumpURL string) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO meetings (guild_id, title, channel_id, summary_json, jump_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		guildID, title, channelID, summaryJSON, jumpURL, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) DeleteMeeting(ctx context.Context, guildID string, meetingID int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM meetings WHERE id = ? AND guild_id = ?`, meetingID, guildID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) GetRecentMeetings(ctx context.Context, guildID string, limit int) ([]Meeting, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, COALESCE(guild_id, ''), title, COALESCE(channel_id, ''), summary_json, COALESCE(jump_url, ''), created_at
		 FROM meetings WHERE guild_id = ? ORDER BY id DESC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.GuildID, &m.Title, &m.ChannelID, &m.SummaryJSON, &m.JumpURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *Store) GetMeetingDetail(ctx context.Context, guildID string, meetingID int64) (Meeting, error) {
	var m Meeting
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, COALESCE(guild_id, ''), title, COALESCE(channel_id, ''), summary_json, COALESCE(jump_url, ''), created_at
		 FROM meetings WHERE id = ? AND guild_id = ?`, meetingID, guildID).
		Scan(&m.ID, &m.GuildID, &m.Title, &m.ChannelID, &m.SummaryJSON, &m.JumpURL, &m.CreatedAt)
	if err != nil {
		return Meeting{}, err
	}
	return m, nil
}
