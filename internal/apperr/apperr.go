// Package apperr classifies agent errors so the command layer can turn them
// into acknowledgements and the session layer can recognise transport faults.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the error category.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindNotFound
	KindRender
	KindDevice
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindNotFound:
		return "not_found"
	case KindRender:
		return "render"
	case KindDevice:
		return "device"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is a categorised error. Msg, when set, is the human readable text sent
// back to the server.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind carrying msg.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err was classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Ack statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Status maps an error to the ack status reported to the server. Lookups and
// rejected input are "error"; anything that was attempted and went wrong is
// "failed".
func Status(err error) string {
	if err == nil {
		return StatusSuccess
	}
	switch KindOf(err) {
	case KindNotFound, KindInvalid, KindProtocol:
		return StatusError
	default:
		return StatusFailed
	}
}
