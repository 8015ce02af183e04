package auth

import (
	"errors"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
)

// Storage and validation errors.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// Kind is the stable machine-readable class of an authentication or
// authorization failure.
type Kind string

const (
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindAccountLocked      Kind = "ACCOUNT_LOCKED"
	KindAccountInactive    Kind = "ACCOUNT_INACTIVE"
	KindAccountDeleted     Kind = "ACCOUNT_DELETED"
	KindTokenExpired       Kind = "TOKEN_EXPIRED"
	KindTokenMalformed     Kind = "TOKEN_MALFORMED"
	KindTokenWrongKind     Kind = "TOKEN_WRONG_KIND"
	KindRoleDenied         Kind = "ROLE_DENIED"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindTenantDenied       Kind = "TENANT_DENIED"
	KindTenantSuspended    Kind = "TENANT_SUSPENDED"
	KindAuditWriteFailed   Kind = audit.KindWriteFailed
)

// Error carries a Kind and a human readable message. Two errors match with
// errors.Is when their kinds are equal.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid username or password"}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked, Message: "account is temporarily locked"}
	ErrAccountInactive    = &Error{Kind: KindAccountInactive, Message: "account is inactive"}
	ErrAccountDeleted     = &Error{Kind: KindAccountDeleted, Message: "account has been deleted"}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired, Message: "token has expired"}
	ErrTokenMalformed     = &Error{Kind: KindTokenMalformed, Message: "token is malformed"}
	ErrTokenWrongKind     = &Error{Kind: KindTokenWrongKind, Message: "token kind not accepted here"}
	ErrRoleDenied         = &Error{Kind: KindRoleDenied, Message: "role not allowed"}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrTenantDenied       = &Error{Kind: KindTenantDenied, Message: "access to tenant denied"}
	ErrTenantSuspended    = &Error{Kind: KindTenantSuspended, Message: "tenant is not in good standing"}
)

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind carried by err, or "" when err is not kinded.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
