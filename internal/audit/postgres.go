package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The audit_entries table has
// no update or delete paths anywhere in the codebase.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	detail := []byte("{}")
	if len(entry.Detail) > 0 {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return err
		}
		detail = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries (id, subject_id, event_type, actor_hint, occurred_at, detail)
		values ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.SubjectID, entry.EventType, entry.ActorHint, entry.OccurredAt, detail)
	return err
}

func (s *PGStore) Query(ctx context.Context, subjectID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, subject_id, event_type, actor_hint, occurred_at, detail
		from audit_entries
		where subject_id = $1
		order by occurred_at asc, id asc
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var (
			e   Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.EventType, &e.ActorHint, &e.OccurredAt, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, err
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
