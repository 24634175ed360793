package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// CreateProject inserts a project under (guild, name). parentName may be
// empty. Returns ErrDuplicateProject when the name is already taken.
func (s *Store) CreateProject(ctx context.Context, guildID string, name string, parentName string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrProjectNotFound
	}
	if _, err := s.GetProjectID(ctx, guildID, name); err == nil {
		return 0, ErrDuplicateProject
	} else if err != sql.ErrNoRows {
		return 0, err
	}

	var parentID interface{}
	if strings.TrimSpace(parentName) != "" {
		pid, err := s.GetProjectID(ctx, guildID, strings.TrimSpace(parentName))
		if err == nil {
			parentID = pid
		} else if err != sql.ErrNoRows {
			return 0, err
		}
	}

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO projects (guild_id, name, parent_id, created_at) VALUES (?, ?, ?, ?)`,
		guildID, name, parentID, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetProjectID(ctx context.Context, guildID string, name string) (int64, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM projects WHERE guild_id = ? AND name = ?`, guildID, name).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetProject(ctx context.Context, guildID string, name string) (Project, error) {
	var p Project
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, guild_id, name, COALESCE(parent_id, 0), COALESCE(category_id, ''), COALESCE(forum_channel_id, ''), COALESCE(meeting_channel_id, ''), created_at
		 FROM projects WHERE guild_id = ? AND name = ?`, guildID, name).
		Scan(&p.ID, &p.GuildID, &p.Name, &p.ParentID, &p.CategoryID, &p.ForumChannelID, &p.MeetingChannelID, &p.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// SetParent links child under parent. The walk from the proposed parent
// up to the roots must not reach the child; the existing tree is acyclic
// so the walk terminates.
func (s *Store) SetParent(ctx context.Context, guildID string, childName string, parentName string) error {
	childID, err := s.GetProjectID(ctx, guildID, strings.TrimSpace(childName))
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrProjectNotFound
		}
		return err
	}
	parentID, err := s.GetProjectID(ctx, guildID, strings.TrimSpace(parentName))
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrProjectNotFound
		}
		return err
	}
	if childID == parentID {
		return ErrWouldCycle
	}

	cursor := parentID
	for cursor != 0 {
		if cursor == childID {
			return ErrWouldCycle
		}
		var next sql.NullInt64
		if err := s.conn.QueryRowContext(ctx,
			`SELECT parent_id FROM projects WHERE id = ?`, cursor).Scan(&next); err != nil {
			if err == sql.ErrNoRows {
				break
			}
			return err
		}
		if !next.Valid {
			break
		}
		cursor = next.Int64
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE projects SET parent_id = ? WHERE id = ?`, parentID, childID)
	return err
}

// GetProjectTree returns every project of the guild ordered by id.
func (s *Store) GetProjectTree(ctx context.Context, guildID string) ([]Project, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, guild_id, name, COALESCE(parent_id, 0), COALESCE(category_id, ''), COALESCE(forum_channel_id, ''), COALESCE(meeting_channel_id, ''), created_at
		 FROM projects WHERE guild_id = ? ORDER BY id ASC`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.GuildID, &p.Name, &p.ParentID, &p.CategoryID, &p.ForumChannelID, &p.MeetingChannelID, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *Store) SetProjectChannels(ctx context.Context, projectID int64, categoryID string, forumChannelID string, meetingChannelID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE projects SET category_id = ?, forum_channel_id = ?, meeting_channel_id = ? WHERE id = ?`,
		categoryID, forumChannelID, meetingChannelID, projectID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProjectNotFound
	}
	return nil
}
