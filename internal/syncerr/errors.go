// Package syncerr is the error taxonomy shared by discovery, fetching, upserting
// and orchestration. Every failure that crosses a package boundary is an *Error
// carrying a Kind, so callers decide retry and propagation from the kind alone.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Guizzs26/go-ads-sync/internal/models"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration aborts a run before any account work starts
	KindConfiguration
	// KindAccessDenied is scoped to one account. Fetch-level permission errors use it too.
	KindAccessDenied
	// KindTransient covers network failures and quota exhaustion and is the only retryable kind
	KindTransient
	// KindIntegrity means a parent row was missing at upsert time: a sequencing bug
	KindIntegrity
	// KindMalformed means the remote returned something that could not be normalized
	KindMalformed
	// KindCanceled is a unit or run deadline, or a caller cancellation
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindAccessDenied:
		return "access_denied"
	case KindTransient:
		return "transient_error"
	case KindIntegrity:
		return "integrity_violation"
	case KindMalformed:
		return "malformed_response"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown_error"
	}
}

// Error is a classified failure, optionally scoped to an account and entity type
type Error struct {
	Kind       Kind
	Op         string
	AccountID  string
	EntityType models.EntityType
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.AccountID != "" {
		fmt.Fprintf(&b, " [account=%s", e.AccountID)
		if e.EntityType != "" {
			fmt.Fprintf(&b, " entity=%s", e.EntityType)
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, syncerr.ErrTransient) works
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Op == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is checks
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrAccessDenied  = &Error{Kind: KindAccessDenied}
	ErrTransient     = &Error{Kind: KindTransient}
	ErrIntegrity     = &Error{Kind: KindIntegrity}
	ErrMalformed     = &Error{Kind: KindMalformed}
	ErrCanceled      = &Error{Kind: KindCanceled}
)

// New builds a classified error. format and args describe the cause.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. An err that is already an *Error keeps its kind.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		inner := *se
		if se.Op != "" {
			inner.Op = op + ": " + se.Op
		} else {
			inner.Op = op
		}
		return &inner
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Scoped returns err classified and attributed to an (account, entity type) unit
func Scoped(err error, accountID string, et models.EntityType) *Error {
	if err == nil {
		return nil
	}
	se := &Error{Kind: KindOf(err), AccountID: accountID, EntityType: et, Err: err}
	var inner *Error
	if errors.As(err, &inner) {
		se.Op = inner.Op
		se.Err = inner.Err
	}
	return se
}

// KindOf classifies any error. Context cancellation and deadlines map to KindCanceled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// Retryable is true only for transient failures
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
