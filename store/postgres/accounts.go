package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/internal/ids"
)

const accountColumns = `id, email, password_hash, role, active, provider, federated_sub,
	email_verified, phone_number, phone_verified, failed_login_count, locked_until,
	last_login_at, last_login_ip, last_login_user_agent, created_at, updated_at`

// Accounts implements account.Store on a Postgres accounts table.
type Accounts struct {
	db  *sql.DB
	now func() time.Time
}

var _ account.Store = (*Accounts)(nil)

func NewAccounts(db *sql.DB) *Accounts {
	return &Accounts{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		a          account.Account
		role       string
		provider   string
		subject    sql.NullString
		lockedTill sql.NullTime
		lastLogin  sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &role, &a.Active, &provider, &subject,
		&a.EmailVerified, &a.PhoneNumber, &a.PhoneVerified, &a.FailedLoginCount, &lockedTill,
		&lastLogin, &a.LastLoginIP, &a.LastLoginUserAgent, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}

	if a.Role, err = account.ParseRole(role); err != nil {
		return account.Account{}, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.Provider = account.Provider(provider)
	a.FederatedSubject = subject.String
	a.LockedUntil = timePtr(lockedTill)
	a.LastLoginAt = timePtr(lastLogin)
	return a, nil
}

func (s *Accounts) GetByID(ctx context.Context, id string) (account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id = $1`, id))
}

func (s *Accounts) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email = $1`, account.NormalizeEmail(email)))
}

func (s *Accounts) GetByFederatedSubject(ctx context.Context, subject string) (account.Account, error) {
	if subject == "" {
		return account.Account{}, account.ErrNotFound
	}
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where federated_sub = $1`, subject))
}

func (s *Accounts) Create(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.Email = account.NormalizeEmail(acct.Email)
	if acct.ID == "" {
		acct.ID = ids.New()
	}
	if acct.Role == account.RoleUnknown {
		acct.Role = account.RoleUser
	}
	if acct.Provider == "" {
		acct.Provider = account.ProviderLocal
	}
	now := s.now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		insert into accounts (`+accountColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.Role.String(), acct.Active, string(acct.Provider),
		nullString(acct.FederatedSubject), acct.EmailVerified, acct.PhoneNumber, acct.PhoneVerified,
		acct.FailedLoginCount, nullTime(acct.LockedUntil), nullTime(acct.LastLoginAt),
		acct.LastLoginIP, acct.LastLoginUserAgent, acct.CreatedAt, acct.UpdatedAt,
	)
	switch uniqueConstraint(err) {
	case "":
	case constraintEmail:
		return account.Account{}, account.ErrEmailTaken
	case constraintFederation:
		return account.Account{}, account.ErrSubjectTaken
	}
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// BindFederatedSubject attaches subject only when the account has none. A
// zero-row update is disambiguated by a follow-up read.
func (s *Accounts) BindFederatedSubject(ctx context.Context, id, subject string, provider account.Provider) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set federated_sub = $2, provider = $3, email_verified = true, updated_at = $4
		where id = $1 and federated_sub is null`,
		id, subject, string(provider), s.now().UTC(),
	)
	if uniqueConstraint(err) == constraintFederation {
		return account.ErrSubjectTaken
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from accounts where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return account.ErrNotFound
	}
	return account.ErrSubjectAlreadySet
}

func (s *Accounts) UpdateFederatedProfile(ctx context.Context, id string, profile account.FederatedProfile) error {
	return s.execOne(ctx, `
		update accounts
		set email_verified = email_verified or $2,
			phone_number = case when $3 = '' then phone_number else $3 end,
			phone_verified = $4,
			updated_at = $5
		where id = $1`,
		id, profile.EmailVerified, profile.PhoneNumber, profile.PhoneVerified, s.now().UTC(),
	)
}

// RecordLoginFailure increments the failure counter and applies the lock in
// one statement. An active lock is kept as-is; an expired one restarts the
// count at 1.
func (s *Accounts) RecordLoginFailure(ctx context.Context, id string, policy account.LockoutPolicy, now time.Time) (account.LockoutState, error) {
	now = now.UTC()
	var (
		state  account.LockoutState
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		with prev as (
			select locked_until as prev_locked from accounts where id = $1 for update
		)
		update accounts a set
			failed_login_count = case
				when a.locked_until is not null and a.locked_until <= $2 then 1
				else a.failed_login_count + 1
			end,
			locked_until = case
				when a.locked_until > $2 then a.locked_until
				when $3 > 0 and (case
					when a.locked_until is not null and a.locked_until <= $2 then 1
					else a.failed_login_count + 1
				end) >= $3 then $4
				else null
			end,
			updated_at = $2
		from prev
		where a.id = $1
		returning a.failed_login_count, a.locked_until,
			(prev.prev_locked is null or prev.prev_locked <= $2) and a.locked_until is not null`,
		id, now, policy.Threshold, now.Add(policy.Window),
	).Scan(&state.Failures, &locked, &state.NewlyLocked)
	if errors.Is(err, sql.ErrNoRows) {
		return account.LockoutState{}, account.ErrNotFound
	}
	if err != nil {
		return account.LockoutState{}, err
	}
	state.LockedUntil = timePtr(locked)
	return state, nil
}

func (s *Accounts) RecordLoginSuccess(ctx context.Context, id string, meta account.LoginMetadata) error {
	meta = meta.Normalized()
	return s.execOne(ctx, `
		update accounts
		set failed_login_count = 0, locked_until = null,
			last_login_at = $2, last_login_ip = $3, last_login_user_agent = $4, updated_at = $2
		where id = $1`,
		id, meta.At.UTC(), meta.IP, meta.UserAgent,
	)
}

func (s *Accounts) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.execOne(ctx,
		`update accounts set password_hash = $2, updated_at = $3 where id = $1`,
		id, hash, s.now().UTC())
}

func (s *Accounts) MarkEmailVerified(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`update accounts set email_verified = true, updated_at = $2 where id = $1`,
		id, s.now().UTC())
}

// SetRole changes an account's role. Role administration is an operator
// concern; the engine never calls this.
func (s *Accounts) SetRole(ctx context.Context, id string, role account.Role) error {
	if !role.Valid() {
		return account.ErrUnknownRole
	}
	return s.execOne(ctx,
		`update accounts set role = $2, updated_at = $3 where id = $1`,
		id, role.String(), s.now().UTC())
}

// SetActive toggles whether the account may authenticate.
func (s *Accounts) SetActive(ctx context.Context, id string, active bool) error {
	return s.execOne(ctx,
		`update accounts set active = $2, updated_at = $3 where id = $1`,
		id, active, s.now().UTC())
}

func (s *Accounts) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}
