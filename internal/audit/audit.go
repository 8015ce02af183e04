// Package audit records the append-only compliance trail for authentication
// and access-controlled actions.
package audit

import (
	"context"
	"strings"
	"time"
)

// Action is the closed set of auditable verbs.
type Action string

const (
	ActionCreate    Action = "create"
	ActionRead      Action = "read"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionLogin     Action = "login"
	ActionLogout    Action = "logout"
	ActionRefresh   Action = "refresh"
	ActionExport    Action = "export"
	ActionDownload  Action = "download"
	ActionShare     Action = "share"
	ActionAnalyze   Action = "analyze"
	ActionPrescribe Action = "prescribe"
	ActionSign      Action = "sign"
)

var actions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {},
	ActionLogin: {}, ActionLogout: {}, ActionRefresh: {}, ActionExport: {},
	ActionDownload: {}, ActionShare: {}, ActionAnalyze: {}, ActionPrescribe: {},
	ActionSign: {},
}

// ParseAction normalizes raw and reports whether it names a known action.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.TrimSpace(strings.ToLower(raw)))
	_, ok := actions[a]
	return a, ok
}

// KindWriteFailed is logged when an entry could not be persisted.
const KindWriteFailed = "AUDIT_WRITE_FAILED"

const maxUserAgent = 500

// Entry is a single immutable audit record. Empty string fields are stored as NULL.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`

	Action       Action `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Description  string `json:"description,omitempty"`

	Success      bool           `json:"success"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Filter controls which entries List returns.
type Filter struct {
	ActorID      string
	TenantID     string
	Action       Action
	ResourceType string
	ResourceID   string
	Success      *bool
	Since        time.Time
	Until        time.Time
	Limit        int // default 50, max 200
	Offset       int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Normalize clamps paging values.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Page is a slice of entries ordered newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Store persists entries. There is intentionally no update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (Page, error)
}

// Origin describes where a request came from.
type Origin struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
	RequestID string
}

type originKey struct{}

// WithOrigin attaches request context used to enrich entries.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// WithRequestID attaches the request identifier, keeping any other origin fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	o := OriginFromContext(ctx)
	o.RequestID = requestID
	return WithOrigin(ctx, o)
}

// OriginFromContext returns the attached origin or the zero value.
func OriginFromContext(ctx context.Context) Origin {
	if ctx == nil {
		return Origin{}
	}
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}
