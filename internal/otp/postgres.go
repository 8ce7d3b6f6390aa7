package otp

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Attempt increments are
// conditional updates so no interleaving of concurrent verifications can
// lose an increment or push the counter past its budget.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const challengeColumns = `token_id, subject_id, code_hash, expires_at, attempts, max_attempts, verified, verified_at, expired`

func (s *PGStore) Create(ctx context.Context, ch *Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		insert into otp_challenges (token_id, subject_id, code_hash, expires_at, max_attempts)
		values ($1, $2, $3, $4, $5)
	`, ch.TokenID, ch.SubjectID, ch.CodeHash, ch.ExpiresAt, ch.MaxAttempts)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGStore) Find(ctx context.Context, tokenID string) (*Challenge, error) {
	row := s.db.QueryRowContext(ctx, `select `+challengeColumns+` from otp_challenges where token_id = $1`, tokenID)
	return scanChallenge(row)
}

func (s *PGStore) IncrementAttempts(ctx context.Context, tokenID string) (*Challenge, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		update otp_challenges
		set attempts = attempts + 1
		where token_id = $1 and attempts < max_attempts
		returning `+challengeColumns+`
	`, tokenID)
	ch, err := scanChallenge(row)
	if errors.Is(err, ErrNotFound) {
		// No row updated: either missing or the budget is spent.
		ch, ferr := s.Find(ctx, tokenID)
		if ferr != nil {
			return nil, false, ferr
		}
		return ch, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ch, false, nil
}

func (s *PGStore) MarkVerified(ctx context.Context, tokenID string, at time.Time) (*Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		update otp_challenges
		set verified = true, verified_at = $2
		where token_id = $1 and not verified
		returning `+challengeColumns+`
	`, tokenID, at)
	ch, err := scanChallenge(row)
	if errors.Is(err, ErrNotFound) {
		return s.Find(ctx, tokenID)
	}
	return ch, err
}

func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) ([]Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		update otp_challenges
		set expired = true
		where expires_at <= $1 and not expired and not verified
		returning `+challengeColumns+`
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swept []Challenge
	for rows.Next() {
		ch, err := scanChallengeRow(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, *ch)
	}
	return swept, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*Challenge, error) {
	ch, err := scanChallengeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

func scanChallengeRow(row rowScanner) (*Challenge, error) {
	var (
		ch         Challenge
		verifiedAt sql.NullTime
	)
	if err := row.Scan(
		&ch.TokenID, &ch.SubjectID, &ch.CodeHash, &ch.ExpiresAt,
		&ch.Attempts, &ch.MaxAttempts, &ch.Verified, &verifiedAt, &ch.Expired,
	); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		ch.VerifiedAt = &t
	}
	return &ch, nil
}
