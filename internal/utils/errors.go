package utils

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling policy: validation errors are
// rejected synchronously and never retried, repository errors are retried
// with backoff, dispatch errors are retried then dropped, and rule
// evaluation errors skip the offending rule only.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindRuleEvaluation Kind = "rule_evaluation"
	KindRepository     Kind = "repository"
	KindDispatch       Kind = "dispatch"
)

// AppError wraps an operation, error kind, human-facing message, and
// underlying error.
type AppError struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError constructs a synchronous-rejection error.
func NewValidationError(op, msg string, err error) error {
	return &AppError{Kind: KindValidation, Op: op, Msg: msg, Err: err}
}

// NewRuleEvaluationError marks a rule definition failure; the rule is
// skipped for the cycle, never fatal to the engine.
func NewRuleEvaluationError(op, msg string, err error) error {
	return &AppError{Kind: KindRuleEvaluation, Op: op, Msg: msg, Err: err}
}

// NewRepositoryError marks a persistence failure; in-memory state stays
// authoritative while the write is retried.
func NewRepositoryError(op, msg string, err error) error {
	return &AppError{Kind: KindRepository, Op: op, Msg: msg, Err: err}
}

// NewDispatchError marks an outbound ticket/notification push failure.
func NewDispatchError(op, msg string, err error) error {
	return &AppError{Kind: KindDispatch, Op: op, Msg: msg, Err: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
