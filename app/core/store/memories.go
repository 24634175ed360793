package store

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

func (s *Store) AddMemory(ctx context.Context, guildID string, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO memories (guild_id, content, created_at) VALUES (?, ?, ?)`,
		guildID, content, time.Now().Unix())
	return err
}

// SearchMemories is keyword recall, not vector search: every token of at
// least two runes becomes a LIKE term, OR-joined, newest rows first.
func (s *Store) SearchMemories(ctx context.Context, guildID string, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	var terms []string
	var args []interface{}
	args = append(args, guildID)
	for _, tok := range strings.Fields(query) {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		terms = append(terms, `content LIKE ?`)
		args = append(args, "%"+tok+"%")
	}
	if len(terms) == 0 {
		return nil, nil
	}
	args = append(args, limit)

	sqlText := `SELECT content FROM memories WHERE guild_id = ? AND (` +
		strings.Join(terms, " OR ") + `) ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		items = append(items, content)
	}
	return items, rows.Err()
}
