package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

const tenantColumns = `id, name, type, status, active, contact_email, trial_ends_at,
	monthly_scan_quota, current_period_scans, created_at, updated_at`

type tenantStore struct {
	s *Store
}

func (ts tenantStore) Create(ctx context.Context, t *auth.Tenant) error {
	s := ts.s
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into tenants (`+tenantColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		t.ID, t.Name, string(t.Type), string(t.Status), t.Active, nullIfEmpty(t.ContactEmail),
		nullTime(t.TrialEndsAt), t.MonthlyScanQuota, t.CurrentPeriodScans, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", s.mapErr(err))
	}
	return nil
}

func (ts tenantStore) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	s := ts.s
	row := s.db.QueryRowContext(ctx, s.q(`select `+tenantColumns+` from tenants where id = ?`), id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return t, nil
}

func (ts tenantStore) List(ctx context.Context) ([]*auth.Tenant, error) {
	s := ts.s
	rows, err := s.db.QueryContext(ctx, `select `+tenantColumns+` from tenants order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (ts tenantStore) Update(ctx context.Context, t *auth.Tenant) error {
	s := ts.s
	res, err := s.db.ExecContext(ctx, s.q(`
		update tenants set
			name = ?, type = ?, status = ?, active = ?, contact_email = ?, trial_ends_at = ?,
			monthly_scan_quota = ?, current_period_scans = ?, updated_at = ?
		where id = ?
	`),
		t.Name, string(t.Type), string(t.Status), t.Active, nullIfEmpty(t.ContactEmail), nullTime(t.TrialEndsAt),
		t.MonthlyScanQuota, t.CurrentPeriodScans, t.UpdatedAt.UTC(),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", s.mapErr(err))
	}
	return expectOne(res)
}

func scanTenant(row scanner) (*auth.Tenant, error) {
	var (
		t            auth.Tenant
		typ, status  string
		contactEmail sql.NullString
		trialEnds    sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &typ, &status, &t.Active, &contactEmail, &trialEnds,
		&t.MonthlyScanQuota, &t.CurrentPeriodScans, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = auth.TenantType(typ)
	t.Status = auth.TenantStatus(status)
	t.ContactEmail = contactEmail.String
	t.TrialEndsAt = fromNullTime(trialEnds)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
