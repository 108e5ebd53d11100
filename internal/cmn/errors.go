// Package cmn holds the error taxonomy and small helpers shared across the
// engine, the way aistore's own cmn package anchors its daemons.
/*
 * Copyright (c) 2024, emsqrt authors. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an engine error into the canonical taxonomy (spec §7).
type Kind string

const (
	KindConfig            Kind = "config"
	KindPlan              Kind = "plan"
	KindSchema             Kind = "schema"
	KindBudgetDenied       Kind = "budget-denied"
	KindExec               Kind = "exec"
	KindStorageTransient   Kind = "storage-transient"
	KindStorageFatal       Kind = "storage-fatal"
	KindChecksumMismatch   Kind = "checksum-mismatch"
	KindCodec              Kind = "codec"
	KindInvariant          Kind = "invariant"
)

// Error is the engine-wide typed error. Cause carries the wrapped,
// stack-annotated error from github.com/pkg/errors.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errf builds a new engine error of the given kind, wrapping cause (if any)
// with a stack trace via pkg/errors so the taxonomy survives propagation.
func Errf(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	var wrapped error
	if cause != nil {
		wrapped = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Msg: msg, Cause: wrapped}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
