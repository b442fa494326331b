package store

import (
	"errors"
	"fmt"
)

// Kind classifies failures so every surface (HTTP, gRPC, CLI) can map them the same way.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindCycleDetected     Kind = "cycle_detected"
	KindStoreUnavailable  Kind = "store_unavailable"
)

// Error is a classified failure. Op names the operation, Detail is safe to show to callers.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Detail returns the caller-facing message of err.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func InvalidTransition(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidTransition, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func CycleDetected(op, format string, args ...any) error {
	return &Error{Kind: KindCycleDetected, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a driver or connection failure. Already classified errors pass through.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return &Error{Kind: KindStoreUnavailable, Op: op, Detail: "store unavailable", Err: err}
}
