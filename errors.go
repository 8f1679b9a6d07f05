// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is reported for a call whose response did not arrive before
	// its deadline.
	ErrTimeout = errors.New("call timed out")

	// ErrCanceled is reported for a call that was still pending when its
	// session became inactive or lost its transport.
	ErrCanceled = errors.New("call canceled")

	// ErrSessionClosed is reported for operations on a session that has closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrIdleTimeout is the status of a session closed because nothing was
	// received from the remote peer within the idle timeout.
	ErrIdleTimeout = errors.New("session idle timeout")

	// ErrReconnectTimeout is the status of a session closed because its
	// transport was not reattached within the reconnect timeout.
	ErrReconnectTimeout = errors.New("reconnect timed out")

	// ErrAlreadyReplied is reported by a ResponseWriter that has already
	// delivered its response.
	ErrAlreadyReplied = errors.New("response already sent")
)

// ErrorCode identifies the kind of a protocol violation.
type ErrorCode byte

const (
	ErrCodeBadFrame    ErrorCode = 1 // malformed or unknown frame
	ErrCodeBadAck      ErrorCode = 2 // acknowledgement out of the valid range
	ErrCodeSequenceGap ErrorCode = 3 // inbound sequence skipped ahead
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeBadFrame:
		return "BAD_FRAME"
	case ErrCodeBadAck:
		return "BAD_ACK"
	case ErrCodeSequenceGap:
		return "SEQUENCE_GAP"
	default:
		return fmt.Sprintf("error code %d", byte(c))
	}
}

// ProtocolError reports a violation of the session protocol by the remote
// peer. A ProtocolError is fatal: the session closes with this error as its
// status.
type ProtocolError struct {
	Code ErrorCode
	Msg  string
}

func protocolErrorf(code ErrorCode, msg string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Msg: fmt.Sprintf(msg, args...)}
}

// Error satisfies the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error [%v]: %s", e.Code, e.Msg)
}

// CodecError reports a failure to encode or decode a message body. It
// affects only the message that failed; the session remains usable.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

// Error satisfies the error interface.
func (e *CodecError) Error() string { return fmt.Sprintf("%s body: %v", e.Op, e.Err) }

// Unwrap reports the underlying error of e.
func (e *CodecError) Unwrap() error { return e.Err }

// RemoteError is a failure reported by the remote peer's handler for a call.
// A handler may return a *RemoteError to control the result code sent to the
// caller.
type RemoteError struct {
	Code    ResultCode
	Message string
}

// Error satisfies the error interface.
func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%v: %s", e.Code, e.Message)
}

// ResultCode describes the result status of a completed call. Values below
// 64 are reserved; handlers may use larger values for their own purposes.
type ResultCode uint16

const (
	CodeSuccess       ResultCode = 0 // call completed successfully
	CodeUnknownMethod ResultCode = 1 // requested an unknown method
	CodeServiceError  ResultCode = 2 // call failed due to a service error
	CodeBadRequest    ResultCode = 3 // request body could not be decoded
)

func (c ResultCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeUnknownMethod:
		return "UNKNOWN_METHOD"
	case CodeServiceError:
		return "SERVICE_ERROR"
	case CodeBadRequest:
		return "BAD_REQUEST"
	default:
		return fmt.Sprintf("result code %d", uint16(c))
	}
}

// CallError is the concrete type of errors reported for a call issued by a
// Session. Err is one of ErrTimeout, ErrCanceled, ErrSessionClosed, or has
// concrete type *RemoteError or *CodecError.
type CallError struct {
	RequestID uint64 // 0 if the call was never issued
	Err       error
}

func callError(id uint64, err error) *CallError { return &CallError{RequestID: id, Err: err} }

// Unwrap reports the underlying error of c.
func (c *CallError) Unwrap() error { return c.Err }

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.RequestID == 0 {
		return c.Err.Error()
	}
	return fmt.Sprintf("request %d: %v", c.RequestID, c.Err)
}

// remoteErrorOf maps an error returned by a handler to the error reported to
// the remote caller.
func remoteErrorOf(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Code: CodeServiceError, Message: truncate(err.Error(), 65535)}
}

// truncate returns a prefix of a UTF-8 string s, having length no greater than
// n bytes. The result does not end in a partial UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && s[n-1]&0xc0 == 0x80 { // continuation byte
		n--
	}
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // start of a multibyte encoding
		n--
	}
	return s[:n]
}
