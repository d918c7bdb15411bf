package contracts

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error code. Kinds are part of the
// public surface: callers branch on them, so existing values never change.
type Kind string

const (
	// KindInvalidContract marks input rejected before any policy ran:
	// malformed document, unknown field type, broken structural invariant.
	KindInvalidContract Kind = "invalid_contract"

	// KindValidationFailed marks a well-formed contract that failed policy
	// evaluation with at least one critical finding. The report travels
	// with the error.
	KindValidationFailed Kind = "validation_failed"

	// KindPolicyCatalog marks a catalog load or reload rejection. The
	// previously published snapshot stays in effect.
	KindPolicyCatalog Kind = "policy_catalog_error"

	// KindRuleInternal marks a contained defect inside a rule policy.
	// It surfaces as an informational finding, never as a failed run.
	KindRuleInternal Kind = "rule_evaluation_internal"

	// KindSemanticUnavailable marks the language-model backend as
	// unreachable or over limit. Orchestration degrades instead of failing.
	KindSemanticUnavailable Kind = "semantic_unavailable"

	// KindHistoryConflict marks a concurrent-write loss: the head moved
	// between read and commit, or a tag already points elsewhere.
	KindHistoryConflict Kind = "history_conflict"

	// KindHistoryIO marks persistence failures in the history store.
	KindHistoryIO Kind = "history_io"

	// KindDeadlineExceeded marks a validation cut short by its deadline.
	// A partial report travels with the error; no commit happened.
	KindDeadlineExceeded Kind = "deadline_exceeded"

	// KindMetadataIO marks registry persistence failures.
	KindMetadataIO Kind = "metadata_io"

	// KindNotFound marks an unknown dataset, ref, commit, or subscription.
	KindNotFound Kind = "not_found"
)

// Error is the domain error record. Dataset and Version are empty when the
// failure is not scoped to one contract.
type Error struct {
	Kind    Kind
	Dataset string
	Version string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b []byte
	b = append(b, string(e.Kind)...)
	if e.Message != "" {
		b = append(b, ": "...)
		b = append(b, e.Message...)
	}
	if e.Dataset != "" {
		b = append(b, " ("...)
		b = append(b, e.Dataset...)
		if e.Version != "" {
			b = append(b, '@')
			b = append(b, e.Version...)
		}
		b = append(b, ')')
	}
	if e.Err != nil {
		b = append(b, ": "...)
		b = append(b, e.Err.Error()...)
	}
	return string(b)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match two domain errors by kind alone, so sentinel
// comparisons like errors.Is(err, &Error{Kind: KindNotFound}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a domain error. cause may be nil.
func NewError(kind Kind, dataset, version, message string, cause error) *Error {
	return &Error{Kind: kind, Dataset: dataset, Version: version, Message: message, Err: cause}
}

// Errorf builds an unscoped domain error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, or "" when err carries no domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries a domain error of the given kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// Retryable reports whether an operation hitting this error may reasonably
// be retried without changing the input.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSemanticUnavailable, KindHistoryConflict, KindDeadlineExceeded:
		return true
	default:
		return false
	}
}
