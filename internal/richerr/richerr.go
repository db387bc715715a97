// Package richerr implements the engine's typed error taxonomy as a
// builder-style rich error, one ErrorType per kind the interpreter and
// driver can raise.
package richerr

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType enumerates the engine's error kinds.
type ErrorType string

const (
	BadInputType          ErrorType = "bad_input"
	NotFoundType          ErrorType = "not_found"
	ActivityFailureType   ErrorType = "activity_failure"
	IllegalTransitionType ErrorType = "illegal_transition"
	NotImplementedType    ErrorType = "not_implemented"
	CancelledType         ErrorType = "cancelled"
	TransientType         ErrorType = "transient"
)

// retryable reports whether errors of this type should be retried by
// the Activity Dispatcher.
func (t ErrorType) retryable() bool {
	switch t {
	case ActivityFailureType, TransientType:
		return true
	default:
		return false
	}
}

// SourceLocation captures where an error was constructed.
type SourceLocation struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// RichError is the engine's error value. It is always constructed via
// NewError().
type RichError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`

	Timestamp time.Time       `json:"timestamp"`
	Location  *SourceLocation `json:"location,omitempty"`
	Cause     error           `json:"-"`
}

func (e *RichError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Type, e.Message))
	if e.Location != nil {
		sb.WriteString(fmt.Sprintf(" (at %s:%d)", e.Location.File, e.Location.Line))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" - caused by: %v", e.Cause))
	}
	return sb.String()
}

func (e *RichError) Unwrap() error {
	return e.Cause
}

func (e *RichError) MarshalJSON() ([]byte, error) {
	type alias RichError
	data, err := json.Marshal(&struct {
		*alias
		CauseMessage string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
		CauseMessage: func() string {
			if e.Cause != nil {
				return e.Cause.Error()
			}
			return ""
		}(),
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"type":%q,"message":%q,"error":"marshal_failed"}`, e.Type, e.Message)), nil
	}
	return data, nil
}

// IsRetryable reports whether err, if a *RichError, should be retried
// by the dispatcher. Non-RichError errors are treated as retryable
// transients — the conservative default when the error's shape is
// unknown.
func IsRetryable(err error) bool {
	var re *RichError
	if errorsAs(err, &re) {
		return re.Type.retryable()
	}
	return true
}

// Is reports whether err carries the given ErrorType.
func Is(err error, t ErrorType) bool {
	var re *RichError
	if errorsAs(err, &re) {
		return re.Type == t
	}
	return false
}

// ErrorBuilder provides a fluent API for constructing RichError values.
type ErrorBuilder struct {
	err *RichError
}

// NewError starts a new error builder.
func NewError(t ErrorType) *ErrorBuilder {
	return &ErrorBuilder{
		err: &RichError{
			Type:      t,
			Timestamp: time.Now(),
		},
	}
}

func (b *ErrorBuilder) Message(msg string) *ErrorBuilder {
	b.err.Message = msg
	return b
}

func (b *ErrorBuilder) Messagef(format string, args ...any) *ErrorBuilder {
	if strings.Contains(format, "%w") {
		for _, a := range args {
			if err, ok := a.(error); ok {
				b.err.Cause = err
				format = strings.ReplaceAll(format, "%w", "%v")
				break
			}
		}
	}
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]any)
	}
	b.err.Context[key] = value
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

func (b *ErrorBuilder) WithLocation() *ErrorBuilder {
	if pc, file, line, ok := runtime.Caller(1); ok {
		b.err.Location = &SourceLocation{
			File:     file,
			Line:     line,
			Function: runtime.FuncForPC(pc).Name(),
		}
	}
	return b
}

func (b *ErrorBuilder) Build() *RichError {
	return b.err
}

// Convenience constructors, one per error kind in the taxonomy.

func BadInput(format string, args ...any) *RichError {
	return NewError(BadInputType).Messagef(format, args...).WithLocation().Build()
}

func NotFound(format string, args ...any) *RichError {
	return NewError(NotFoundType).Messagef(format, args...).WithLocation().Build()
}

func ActivityFailure(cause error, format string, args ...any) *RichError {
	return NewError(ActivityFailureType).Messagef(format, args...).Cause(cause).WithLocation().Build()
}

func IllegalTransition(format string, args ...any) *RichError {
	return NewError(IllegalTransitionType).Messagef(format, args...).WithLocation().Build()
}

func NotImplemented(format string, args ...any) *RichError {
	return NewError(NotImplementedType).Messagef(format, args...).WithLocation().Build()
}

func Cancelled(format string, args ...any) *RichError {
	return NewError(CancelledType).Messagef(format, args...).WithLocation().Build()
}

func Transient(cause error, format string, args ...any) *RichError {
	return NewError(TransientType).Messagef(format, args...).Cause(cause).WithLocation().Build()
}

// errorsAs is a tiny local shim so this file does not need to import
// the standard errors package twice under two names; kept private
// since callers only need Is/IsRetryable.
func errorsAs(err error, target **RichError) bool {
	for err != nil {
		if re, ok := err.(*RichError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
