package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge failure. Every Kind maps onto one channel error code.
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindInvalidState
	KindAlreadyInitialized
	KindInitFailed
	KindTranscribeFailed
	KindFreeFailed
	KindUnknownCall
	KindClosed
)

var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrAlreadyInitialized = &Error{Kind: KindAlreadyInitialized}
	ErrInitFailed         = &Error{Kind: KindInitFailed}
	ErrTranscribeFailed   = &Error{Kind: KindTranscribeFailed}
	ErrFreeFailed         = &Error{Kind: KindFreeFailed}
	ErrUnknownCall        = &Error{Kind: KindUnknownCall}
	ErrClosed             = &Error{Kind: KindClosed}
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindInvalidState:
		return "invalid state"
	case KindAlreadyInitialized:
		return "already initialized"
	case KindInitFailed:
		return "init failed"
	case KindTranscribeFailed:
		return "transcribe failed"
	case KindFreeFailed:
		return "free failed"
	case KindUnknownCall:
		return "unknown call"
	case KindClosed:
		return "bridge closed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Code is the wire code reported through the method channel.
func (k Kind) Code() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGS"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindAlreadyInitialized:
		return "ALREADY_INITIALIZED"
	case KindInitFailed:
		return "INIT_FAILED"
	case KindTranscribeFailed:
		return "TRANSCRIBE_FAILED"
	case KindFreeFailed:
		return "FREE_FAILED"
	case KindUnknownCall:
		return "NOT_IMPLEMENTED"
	case KindClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Error is the structured failure carried by a Response.
type Error struct {
	Kind Kind
	Op   Op
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	detail := e.Msg
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}

	prefix := e.Kind.String()
	if e.Op != 0 {
		prefix = e.Op.String() + ": " + prefix
	}
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can write errors.Is(err, bridge.ErrInvalidState).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Message is the human readable part reported to channel callers.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// KindOf extracts the Kind of a bridge error, or 0 when err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op Op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func wrapError(kind Kind, op Op, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
