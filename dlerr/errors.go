// Package dlerr defines the error codes reported by the download agent.
//
// Every failure surfaced by the agent, whether returned synchronously from an API
// call or delivered later through a finish callback, carries a Code. Use CodeOf to
// extract it, or errors.Is against one of the Err* sentinels.
package dlerr

import (
	"errors"
	"fmt"
)

type Code int

const (
	None Code = iota

	// Input errors.
	InvalidArgument
	InvalidURL
	InvalidHandle
	InvalidInstallPath

	// Policy errors.
	AlreadySuspended
	AlreadyResumed
	InvalidState
	AlreadyMaxDownload

	// Resource errors.
	FailToMemalloc
	FailToCreateThread
	DiskFull
	FailToAccessFile

	// Network errors.
	NetworkFail
	UnreachableServer
	HTTPTimeout
	SSLFail
	TooManyRedirects

	// Protocol and data errors.
	MismatchContentSize
	ServerRespondButSendNoContent

	// Outcomes.
	UserCanceled
	Aborted
	Internal
)

var codeNames = map[Code]string{
	None:                          "none",
	InvalidArgument:               "invalid argument",
	InvalidURL:                    "invalid url",
	InvalidHandle:                 "invalid handle",
	InvalidInstallPath:            "invalid install path",
	AlreadySuspended:              "already suspended",
	AlreadyResumed:                "already resumed",
	InvalidState:                  "invalid state",
	AlreadyMaxDownload:            "already at max downloads",
	FailToMemalloc:                "memory allocation failed",
	FailToCreateThread:            "failed to create worker",
	DiskFull:                      "disk full",
	FailToAccessFile:              "failed to access file",
	NetworkFail:                   "network failure",
	UnreachableServer:             "unreachable server",
	HTTPTimeout:                   "http timeout",
	SSLFail:                       "ssl failure",
	TooManyRedirects:              "too many redirects",
	MismatchContentSize:           "content size mismatch",
	ServerRespondButSendNoContent: "server responded without content",
	UserCanceled:                  "canceled by user",
	Aborted:                       "aborted",
	Internal:                      "internal error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Retryable reports whether the agent retries a transaction that failed with c.
func (c Code) Retryable() bool {
	return c == NetworkFail
}

// Error is a coded error. Op names the operation that failed and Err, when set,
// is the underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinels compare by code only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidArgument               = &Error{Code: InvalidArgument}
	ErrInvalidURL                    = &Error{Code: InvalidURL}
	ErrInvalidHandle                 = &Error{Code: InvalidHandle}
	ErrInvalidInstallPath            = &Error{Code: InvalidInstallPath}
	ErrAlreadySuspended              = &Error{Code: AlreadySuspended}
	ErrAlreadyResumed                = &Error{Code: AlreadyResumed}
	ErrInvalidState                  = &Error{Code: InvalidState}
	ErrAlreadyMaxDownload            = &Error{Code: AlreadyMaxDownload}
	ErrDiskFull                      = &Error{Code: DiskFull}
	ErrFailToAccessFile              = &Error{Code: FailToAccessFile}
	ErrNetworkFail                   = &Error{Code: NetworkFail}
	ErrUnreachableServer             = &Error{Code: UnreachableServer}
	ErrHTTPTimeout                   = &Error{Code: HTTPTimeout}
	ErrSSLFail                       = &Error{Code: SSLFail}
	ErrTooManyRedirects              = &Error{Code: TooManyRedirects}
	ErrMismatchContentSize           = &Error{Code: MismatchContentSize}
	ErrServerRespondButSendNoContent = &Error{Code: ServerRespondButSendNoContent}
	ErrUserCanceled                  = &Error{Code: UserCanceled}
	ErrAborted                       = &Error{Code: Aborted}
)

// New returns an error with the given code and operation.
func New(code Code, op string) error {
	return &Error{Code: code, Op: op}
}

// Newf returns an error with the given code and a formatted cause.
func Newf(code Code, op string, format string, args ...any) error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code carried by err, None for nil, and Internal for errors
// that did not originate in the agent.
func CodeOf(err error) Code {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
