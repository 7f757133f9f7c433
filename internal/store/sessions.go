package store

import (
	"fmt"
	"time"
)

// SessionRow is the persisted view of a live session. In-memory state
// (ref maps, mutexes, browser handles) never touches the database; these
// rows exist so other processes can see which sessions are live.
type SessionRow struct {
	ID           string
	Tier         int
	Profile      string
	PID          int
	CreatedAt    string
	LastActivity string
}

// InsertSession records a newly launched session.
func (s *Store) InsertSession(id string, tier int, profile string, pid int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.conn.Exec(
		`INSERT INTO sessions (id, tier, profile, pid, created_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, tier, profile, pid, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// TouchSession updates a session's last-activity timestamp.
func (s *Store) TouchSession(id string) error {
	_, err := s.conn.Exec(
		`UPDATE sessions SET last_activity = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session row on close or reap.
func (s *Store) DeleteSession(id string) error {
	_, err := s.conn.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ListSessions returns all persisted session rows, newest first.
func (s *Store) ListSessions() ([]SessionRow, error) {
	rows, err := s.conn.Query(
		`SELECT id, tier, COALESCE(profile, ''), pid, created_at, last_activity
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.ID, &r.Tier, &r.Profile, &r.PID, &r.CreatedAt, &r.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
