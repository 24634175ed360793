package store

import (
	"context"
	"time"
)

// EnsureAdmin grants authorization to a user. Calling it again for the
// same user is a no-op; exactly one row per user id.
func (s *Store) EnsureAdmin(ctx context.Context, userID string, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO admins (user_id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, name, time.Now().Unix())
	return err
}

func (s *Store) RemoveAdmin(ctx context.Context, userID string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM admins WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) IsAuthorized(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM admins WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM admins`).Scan(&count)
	return count, err
}
