package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a stable error-kind string, mapped to an HTTP status by the
// transport layer. The taxonomy is closed: callers pattern-match on these
// via errors.Is/errors.As rather than inspecting message text.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindUnauthenticated      Kind = "unauthenticated"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindMessageBlocked       Kind = "message_blocked"
	KindRateLimited          Kind = "rate_limited"
	KindDimensionMismatch    Kind = "dimension_mismatch"
	KindEmbeddingUnavailable Kind = "upstream_unavailable"
	KindVectorStoreError     Kind = "internal"
	KindLLMUnavailable       Kind = "upstream_unavailable"
	KindLLMExhausted         Kind = "upstream_unavailable"
	KindWebSearchUnavailable Kind = "upstream_unavailable"
	KindGuardianUnavailable  Kind = "upstream_unavailable"
	KindTimeout              Kind = "timeout"
	KindStorageError         Kind = "internal"
	KindInternal             Kind = "internal"
)

// Error is the concrete error type used throughout ragsentry. Wrap an
// underlying cause with fmt.Errorf("...: %w", err) style chaining; Error
// itself participates in errors.Is via the Kind field.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: KindNotFound}) match any *Error with
// the same Kind, regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func IsKind(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// Sentinel instances for errors.Is comparisons that don't need a message.
var (
	ErrNotFound             = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrValidation           = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated, Msg: "unauthenticated"}
	ErrForbidden            = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrMessageBlocked       = &Error{Kind: KindMessageBlocked, Msg: "message blocked"}
	ErrRateLimited          = &Error{Kind: KindRateLimited, Msg: "rate limited"}
	ErrDimensionMismatch    = &Error{Kind: KindDimensionMismatch, Msg: "embedding dimension mismatch"}
	ErrEmbeddingUnavailable = &Error{Kind: KindEmbeddingUnavailable, Msg: "embedding service unavailable"}
	ErrVectorStoreError     = &Error{Kind: KindVectorStoreError, Msg: "vector store error"}
	ErrLLMUnavailable       = &Error{Kind: KindLLMUnavailable, Msg: "llm unavailable"}
	ErrLLMExhausted         = &Error{Kind: KindLLMExhausted, Msg: "llm exhausted"}
	ErrWebSearchUnavailable = &Error{Kind: KindWebSearchUnavailable, Msg: "web search unavailable"}
	ErrGuardianUnavailable  = &Error{Kind: KindGuardianUnavailable, Msg: "guardian unavailable"}
	ErrTimeout              = &Error{Kind: KindTimeout, Msg: "deadline exceeded"}
	ErrStorageError         = &Error{Kind: KindStorageError, Msg: "storage error"}
	ErrInternal             = &Error{Kind: KindInternal, Msg: "internal error"}
)

// MessageBlockedError carries the guardian verdict that short-circuited a turn.
type MessageBlockedError struct {
	Verdict GuardianVerdict
}

func (e *MessageBlockedError) Error() string {
	return fmt.Sprintf("message blocked: %s", e.Verdict.Reason)
}

func (e *MessageBlockedError) Is(target error) bool {
	return target == ErrMessageBlocked || IsKind(target, KindMessageBlocked)
}

// RateLimitedError carries a retry-after hint for the client.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited || IsKind(target, KindRateLimited)
}
