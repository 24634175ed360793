package store

import (
	"context"
	"database/sql"
)

func (s *Store) SetAssistantChannel(ctx context.Context, guildID string, channelID string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, assistant_channel_id) VALUES (?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET assistant_channel_id = excluded.assistant_channel_id`,
		guildID, channelID)
	return err
}

func (s *Store) GetAssistantChannel(ctx context.Context, guildID string) (string, error) {
	var channelID sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT assistant_channel_id FROM guild_settings WHERE guild_id = ?`, guildID).Scan(&channelID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return channelID.String, nil
}
