package errs

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CodeError is the relay's error taxonomy. Two CodeErrors are equal under
// errors.Is when their codes match, whatever the detail or cause.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`

	cause error
}

const (
	CodeInvalidArgument   = 1001
	CodeProtocol          = 1002
	CodeUnknownNamespace  = 1003
	CodeAlreadySubscribed = 1004
	CodeSessionClosed     = 1005
	CodeInfrastructure    = 2001
	CodeUnauthorized      = 3001
	ServerInternalError   = 5000
)

var (
	ErrInvalidArgument   = NewCodeError(CodeInvalidArgument, "invalid argument")
	ErrProtocol          = NewCodeError(CodeProtocol, "malformed payload")
	ErrUnknownNamespace  = NewCodeError(CodeUnknownNamespace, "unknown namespace")
	ErrAlreadySubscribed = NewCodeError(CodeAlreadySubscribed, "session already subscribed")
	ErrSessionClosed     = NewCodeError(CodeSessionClosed, "session closed")
	ErrInfrastructure    = NewCodeError(CodeInfrastructure, "broker unavailable")
	ErrUnauthorized      = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrInternal          = NewCodeError(ServerInternalError, "internal error")
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 4)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	if e.cause != nil {
		v = append(v, "("+e.cause.Error()+")")
	}
	return strings.Join(v, " ")
}

func (e *CodeError) Unwrap() error { return e.cause }

func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy carrying detail and a stack trace.
func (e *CodeError) WithDetail(detail string) error {
	return errors.WithStack(&CodeError{Code: e.Code, Msg: e.Msg, Detail: detail})
}

// Wrap attaches cause to a copy of e. A nil cause returns nil.
func (e *CodeError) Wrap(cause error, detail string) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&CodeError{Code: e.Code, Msg: e.Msg, Detail: detail, cause: cause})
}

// Code extracts the taxonomy code, or 0 when err carries none.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// HTTPStatus maps an error to the status the HTTP collaborator should answer.
func HTTPStatus(err error) int {
	switch Code(err) {
	case 0:
		return http.StatusInternalServerError
	case CodeInvalidArgument, CodeProtocol:
		return http.StatusBadRequest
	case CodeUnknownNamespace:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAlreadySubscribed, CodeSessionClosed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
