package store

import (
	"context"
	"strings"
)

func (s *Store) AddRepo(ctx context.Context, guildID string, repoName string, channelID string) error {
	repoName = strings.TrimSpace(repoName)
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO repos (guild_id, repo_name, channel_id) VALUES (?, ?, ?)
		 ON CONFLICT(guild_id, repo_name) DO UPDATE SET channel_id = excluded.channel_id`,
		guildID, repoName, channelID)
	return err
}

func (s *Store) RemoveRepo(ctx context.Context, guildID string, repoName string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM repos WHERE guild_id = ? AND repo_name = ?`, guildID, strings.TrimSpace(repoName))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListRepos(ctx context.Context, guildID string) ([]Repo, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, guild_id, repo_name, channel_id FROM repos WHERE guild_id = ? ORDER BY id ASC`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Repo
	for rows.Next() {
		var r Repo
		if err := rows.Scan(&r.ID, &r.GuildID, &r.RepoName, &r.ChannelID); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// GetRepoChannels returns every channel the repo is linked to, across
// guilds. Webhook payloads carry no guild scope.
func (s *Store) GetRepoChannels(ctx context.Context, repoName string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT channel_id FROM repos WHERE repo_name = ? ORDER BY id ASC`, strings.TrimSpace(repoName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
