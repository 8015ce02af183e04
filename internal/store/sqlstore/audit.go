package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
)

const auditColumns = `id, created_at, actor_id, actor_role, actor_name, tenant_id,
	action, resource_type, resource_id, description, success, error_kind, error_message,
	before_state, after_state, ip, user_agent, method, path, request_id`

// Append inserts an audit entry. There is no update or delete path.
func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	before, err := marshalState(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalState(e.After)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		insert into audit_log (`+auditColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		e.ID, e.CreatedAt.UTC(), nullIfEmpty(e.ActorID), nullIfEmpty(e.ActorRole), nullIfEmpty(e.ActorName),
		nullIfEmpty(e.TenantID), string(e.Action), e.ResourceType, nullIfEmpty(e.ResourceID),
		nullIfEmpty(e.Description), e.Success, nullIfEmpty(e.ErrorKind), nullIfEmpty(e.ErrorMessage),
		before, after, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), nullIfEmpty(e.Method),
		nullIfEmpty(e.Path), nullIfEmpty(e.RequestID),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", s.mapErr(err))
	}
	return nil
}

// List returns entries matching f, newest first, with the total match count.
func (s *Store) List(ctx context.Context, f audit.Filter) (audit.Page, error) {
	f = f.Normalize()
	where, args := auditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`select count(*) from audit_log`+where), args...).Scan(&total); err != nil {
		return audit.Page{}, fmt.Errorf("count audit entries: %w", err)
	}

	query := `select ` + auditColumns + ` from audit_log` + where + ` order by created_at desc, id desc limit ? offset ?`
	rows, err := s.db.QueryContext(ctx, s.q(query), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return audit.Page{}, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	page := audit.Page{Entries: []audit.Entry{}, Total: total, Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return audit.Page{}, err
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}
	return page, nil
}

func auditWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.ActorID != "" {
		add("actor_id = ?", f.ActorID)
	}
	if f.TenantID != "" {
		add("tenant_id = ?", f.TenantID)
	}
	if f.Action != "" {
		add("action = ?", string(f.Action))
	}
	if f.ResourceType != "" {
		add("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = ?", f.ResourceID)
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("created_at < ?", f.Until.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

func scanEntry(row scanner) (audit.Entry, error) {
	var (
		e                                        audit.Entry
		action                                   string
		actorID, actorRole, actorName, tenantID  sql.NullString
		resourceID, description, errKind, errMsg sql.NullString
		before, after                            sql.NullString
		ip, ua, method, path, requestID          sql.NullString
	)
	err := row.Scan(&e.ID, &e.CreatedAt, &actorID, &actorRole, &actorName, &tenantID,
		&action, &e.ResourceType, &resourceID, &description, &e.Success, &errKind, &errMsg,
		&before, &after, &ip, &ua, &method, &path, &requestID)
	if err != nil {
		return audit.Entry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Action = audit.Action(action)
	e.ActorID, e.ActorRole, e.ActorName, e.TenantID = actorID.String, actorRole.String, actorName.String, tenantID.String
	e.ResourceID, e.Description = resourceID.String, description.String
	e.ErrorKind, e.ErrorMessage = errKind.String, errMsg.String
	e.IP, e.UserAgent, e.Method, e.Path, e.RequestID = ip.String, ua.String, method.String, path.String, requestID.String
	if e.Before, err = unmarshalState(before); err != nil {
		return audit.Entry{}, err
	}
	if e.After, err = unmarshalState(after); err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func marshalState(state map[string]any) (sql.NullString, error) {
	if len(state) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal audit state: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalState(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(ns.String), &state); err != nil {
		return nil, fmt.Errorf("decode audit state: %w", err)
	}
	return state, nil
}
