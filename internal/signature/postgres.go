package signature

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Apply is a single conditional
// update so a row signs at most once across service instances.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const sigColumns = `deal_id, signer_role, signer_name, signer_email, token_id, signed, signed_at, otp_verified, otp_verified_at, created_at`

func (s *PGStore) Ensure(ctx context.Context, dealID string, role Role, signerName, signerEmail string, now time.Time) (*ContractSignature, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into contract_signatures (deal_id, signer_role, signer_name, signer_email, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (deal_id, signer_role) do update set deal_id = contract_signatures.deal_id
		returning `+sigColumns+`
	`, dealID, role, signerName, signerEmail, now)
	return scanSig(row)
}

func (s *PGStore) Find(ctx context.Context, dealID string, role Role) (*ContractSignature, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sigColumns+` from contract_signatures where deal_id = $1 and signer_role = $2`,
		dealID, role)
	return scanSig(row)
}

func (s *PGStore) FindByToken(ctx context.Context, tokenID string) (*ContractSignature, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sigColumns+` from contract_signatures where token_id = $1`, tokenID)
	return scanSig(row)
}

func (s *PGStore) List(ctx context.Context, dealID string) ([]ContractSignature, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sigColumns+` from contract_signatures where deal_id = $1 order by signer_role`,
		dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContractSignature
	for rows.Next() {
		sig, err := scanSigRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

func (s *PGStore) SetToken(ctx context.Context, dealID string, role Role, tokenID string) (*ContractSignature, error) {
	row := s.db.QueryRowContext(ctx, `
		update contract_signatures
		set token_id = $3
		where deal_id = $1 and signer_role = $2
		returning `+sigColumns+`
	`, dealID, role, tokenID)
	return scanSig(row)
}

func (s *PGStore) Apply(ctx context.Context, dealID string, role Role, signerName string, at time.Time) (*ContractSignature, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		update contract_signatures
		set signed = true, signed_at = $3,
		    otp_verified = true, otp_verified_at = $3,
		    signer_name = case when $4 <> '' then $4 else signer_name end
		where deal_id = $1 and signer_role = $2 and not signed
		returning `+sigColumns+`
	`, dealID, role, at, signerName)
	sig, err := scanSig(row)
	if errors.Is(err, ErrNotFound) {
		// Missing row or already signed; distinguish by re-reading.
		sig, ferr := s.Find(ctx, dealID, role)
		if ferr != nil {
			return nil, false, ferr
		}
		return sig, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sig, true, nil
}

func (s *PGStore) Reset(ctx context.Context, dealID string, role Role) (*ContractSignature, error) {
	row := s.db.QueryRowContext(ctx, `
		update contract_signatures
		set signed = false, signed_at = null,
		    otp_verified = false, otp_verified_at = null,
		    token_id = null
		where deal_id = $1 and signer_role = $2
		returning `+sigColumns+`
	`, dealID, role)
	return scanSig(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSig(row rowScanner) (*ContractSignature, error) {
	sig, err := scanSigRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sig, err
}

func scanSigRow(row rowScanner) (*ContractSignature, error) {
	var (
		sig           ContractSignature
		tokenID       sql.NullString
		signedAt      sql.NullTime
		otpVerifiedAt sql.NullTime
	)
	if err := row.Scan(
		&sig.DealID, &sig.Role, &sig.SignerName, &sig.SignerEmail, &tokenID,
		&sig.Signed, &signedAt, &sig.OTPVerified, &otpVerifiedAt, &sig.CreatedAt,
	); err != nil {
		return nil, err
	}
	sig.TokenID = tokenID.String
	if signedAt.Valid {
		t := signedAt.Time
		sig.SignedAt = &t
	}
	if otpVerifiedAt.Valid {
		t := otpVerifiedAt.Time
		sig.OTPVerifiedAt = &t
	}
	return &sig, nil
}
