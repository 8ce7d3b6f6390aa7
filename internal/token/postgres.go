package token

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The claim is a single
// conditional update, so linearizability holds across multiple service
// instances without application-level locking.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const tokenColumns = `id, secret, purpose, subject_id, recipient_hint, created_at, expires_at, used, used_at, revoked, expired`

func (s *PGStore) Insert(ctx context.Context, tok *ActionToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into action_tokens (id, secret, purpose, subject_id, recipient_hint, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, tok.ID, tok.Secret, tok.Purpose, tok.SubjectID, tok.RecipientHint, tok.CreatedAt, tok.ExpiresAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		// Secret collision is a 2^-256 event; surface it as invalid input
		// so the caller can retry issuance.
		return ErrInvalidInput
	}
	return err
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*ActionToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from action_tokens where id = $1`, id)
	return scanToken(row)
}

func (s *PGStore) FindBySecret(ctx context.Context, secret string) (*ActionToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from action_tokens where secret = $1`, secret)
	return scanToken(row)
}

func (s *PGStore) Claim(ctx context.Context, secret string, purpose Purpose, now time.Time) (*ActionToken, error) {
	row := s.db.QueryRowContext(ctx, `
		update action_tokens
		set used = true, used_at = $3
		where secret = $1 and purpose = $2
		  and not used and not revoked and expires_at > $3
		returning `+tokenColumns+`
	`, secret, purpose, now)
	tok, err := scanToken(row)
	if errors.Is(err, ErrNotFound) {
		return nil, errNotClaimed
	}
	return tok, err
}

func (s *PGStore) Revoke(ctx context.Context, id string) (*ActionToken, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		update action_tokens
		set revoked = true
		where id = $1 and not revoked
		returning `+tokenColumns+`
	`, id)
	tok, err := scanToken(row)
	if errors.Is(err, ErrNotFound) {
		// Either missing or already revoked; look it up to keep Revoke
		// idempotent for the latter.
		tok, ferr := s.FindByID(ctx, id)
		if ferr != nil {
			return nil, false, ferr
		}
		return tok, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return tok, true, nil
}

func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) ([]ActionToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		update action_tokens
		set expired = true
		where expires_at <= $1 and not expired and not used and not revoked
		returning `+tokenColumns+`
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swept []ActionToken
	for rows.Next() {
		tok, err := scanTokenRow(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, *tok)
	}
	return swept, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*ActionToken, error) {
	tok, err := scanTokenRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tok, err
}

func scanTokenRow(row rowScanner) (*ActionToken, error) {
	var (
		tok    ActionToken
		usedAt sql.NullTime
	)
	if err := row.Scan(
		&tok.ID, &tok.Secret, &tok.Purpose, &tok.SubjectID, &tok.RecipientHint,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.Used, &usedAt, &tok.Revoked, &tok.Expired,
	); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		tok.UsedAt = &t
	}
	return &tok, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	if err == nil {
		return nil, false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
