package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

const principalColumns = `id, username, email, first_name, last_name, password_hash,
	password_changed_at, must_change_password, role, tenant_id, patient_id,
	failed_attempts, locked_until, active, deleted, deleted_at, last_login_at,
	created_by, created_at, updated_at`

type principalStore struct {
	s *Store
}

func (ps principalStore) Create(ctx context.Context, p *auth.Principal) error {
	s := ps.s
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into principals (`+principalColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		p.ID, p.Username, p.Email, p.FirstName, p.LastName, p.PasswordHash,
		nullTime(p.PasswordChangedAt), p.MustChangePassword, string(p.Role),
		nullString(p.TenantID), nullString(p.PatientID),
		p.FailedAttempts, nullTime(p.LockedUntil), p.Active, p.Deleted, nullTime(p.DeletedAt),
		nullTime(p.LastLoginAt), nullString(p.CreatedBy), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert principal: %w", s.mapErr(err))
	}
	return nil
}

func (ps principalStore) Find(ctx context.Context, id string) (*auth.Principal, error) {
	s := ps.s
	row := s.db.QueryRowContext(ctx, s.q(`select `+principalColumns+` from principals where id = ?`), id)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return p, nil
}

func (ps principalStore) FindByLogin(ctx context.Context, login string) (*auth.Principal, error) {
	s := ps.s
	login = strings.TrimSpace(strings.ToLower(login))
	row := s.db.QueryRowContext(ctx, s.q(`
		select `+principalColumns+`
		from principals
		where username = ? or email = ?
		order by case when username = ? then 0 else 1 end
		limit 1
	`), login, login, login)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return p, nil
}

func (ps principalStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	s := ps.s
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`select count(*) from principals where username = ?`), username).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ps principalStore) ListByTenant(ctx context.Context, tenantID string) ([]*auth.Principal, error) {
	s := ps.s
	query := `select ` + principalColumns + ` from principals`
	var args []any
	if tenantID != "" {
		query += ` where tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` order by created_at, id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (ps principalStore) Update(ctx context.Context, p *auth.Principal) error {
	s := ps.s
	res, err := s.db.ExecContext(ctx, s.q(`
		update principals set
			username = ?, email = ?, first_name = ?, last_name = ?, password_hash = ?,
			password_changed_at = ?, must_change_password = ?, role = ?, tenant_id = ?,
			patient_id = ?, failed_attempts = ?, locked_until = ?, active = ?, deleted = ?,
			deleted_at = ?, updated_at = ?
		where id = ?
	`),
		p.Username, p.Email, p.FirstName, p.LastName, p.PasswordHash,
		nullTime(p.PasswordChangedAt), p.MustChangePassword, string(p.Role), nullString(p.TenantID),
		nullString(p.PatientID), p.FailedAttempts, nullTime(p.LockedUntil), p.Active, p.Deleted,
		nullTime(p.DeletedAt), p.UpdatedAt.UTC(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update principal: %w", s.mapErr(err))
	}
	return expectOne(res)
}

// RegisterFailure locks the principal row, applies policy and writes the
// new counters in one transaction. A row that is already locked is not
// counted again. Serialization conflicts are retried a few times.
func (ps principalStore) RegisterFailure(ctx context.Context, id string, now time.Time, policy auth.LockoutPolicy) (auth.LockoutState, error) {
	var (
		state auth.LockoutState
		err   error
	)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		state, err = ps.registerFailure(ctx, id, now, policy)
		if !ps.s.d.retryable(err) {
			break
		}
	}
	return state, err
}

func (ps principalStore) registerFailure(ctx context.Context, id string, now time.Time, policy auth.LockoutPolicy) (auth.LockoutState, error) {
	s := ps.s
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.d.Isolation})
	if err != nil {
		return auth.LockoutState{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		state  auth.LockoutState
		locked sql.NullTime
	)
	err = tx.QueryRowContext(ctx, s.q(`
		select failed_attempts, locked_until from principals where id = ?`+s.forUpdate()), id).
		Scan(&state.FailedAttempts, &locked)
	if err != nil {
		return auth.LockoutState{}, s.mapErr(err)
	}
	state.LockedUntil = fromNullTime(locked)
	if state.Locked(now) {
		return state, auth.ErrAccountLocked
	}

	next := policy.Fail(state, now)
	if _, err := tx.ExecContext(ctx, s.q(`
		update principals set failed_attempts = ?, locked_until = ?, updated_at = ? where id = ?
	`), next.FailedAttempts, nullTime(next.LockedUntil), now.UTC(), id); err != nil {
		return auth.LockoutState{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.LockoutState{}, err
	}
	return next, nil
}

// RegisterSuccess resets the counters only while the row is unlocked, so a
// lock written by a concurrent failure is never cleared by a late success.
func (ps principalStore) RegisterSuccess(ctx context.Context, id string, now time.Time) error {
	s := ps.s
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		update principals
		set failed_attempts = 0, locked_until = null, last_login_at = ?
		where id = ? and (locked_until is null or locked_until <= ?)
	`), now, id, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, s.q(`select count(*) from principals where id = ?`), id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return auth.ErrNotFound
	}
	return auth.ErrAccountLocked
}

func (ps principalStore) Unlock(ctx context.Context, id string, now time.Time) error {
	s := ps.s
	res, err := s.db.ExecContext(ctx, s.q(`
		update principals set failed_attempts = 0, locked_until = null, updated_at = ? where id = ?
	`), now.UTC(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func scanPrincipal(row scanner) (*auth.Principal, error) {
	var (
		p                                         auth.Principal
		role                                      string
		tenantID, patientID, createdBy            sql.NullString
		pwChanged, lockedUntil, deletedAt, lastIn sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.Username, &p.Email, &p.FirstName, &p.LastName, &p.PasswordHash,
		&pwChanged, &p.MustChangePassword, &role, &tenantID, &patientID,
		&p.FailedAttempts, &lockedUntil, &p.Active, &p.Deleted, &deletedAt, &lastIn,
		&createdBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = auth.Role(role)
	p.TenantID = fromNullString(tenantID)
	p.PatientID = fromNullString(patientID)
	p.CreatedBy = fromNullString(createdBy)
	p.PasswordChangedAt = fromNullTime(pwChanged)
	p.LockedUntil = fromNullTime(lockedUntil)
	p.DeletedAt = fromNullTime(deletedAt)
	p.LastLoginAt = fromNullTime(lastIn)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
