package sftp

import (
	"fmt"
)

// StatusError is returned when a SFTP request receives a STATUS reply with
// a code other than SSH_FX_OK.  The numeric code is preserved so callers can
// switch on it (see maybeError for the common translations to stdlib errors).
type StatusError struct {
	Code uint32
	msg  string
	lang string
}

func (e *StatusError) Error() string {
	if 0 != len(e.msg) {
		return e.msg
	}
	switch e.Code {
	case sshFxOk:
		return "OK"
	case sshFxEOF:
		return "EOF"
	case sshFxNoSuchFile:
		return "no such file"
	case sshFxPermissionDenied:
		return "permission denied"
	case sshFxBadMessage:
		return "bad message"
	case sshFxNoConnection:
		return "no connection"
	case sshFxConnectionLost:
		return "connection lost"
	case sshFxOPUnsupported:
		return "operation unsupported"
	default:
		return fmt.Sprintf("sftp: failure (code %d)", e.Code)
	}
}

// unexpectedPacketErr is a protocol-error: the wire delivered a packet type
// other than what the caller registered for.
type unexpectedPacketErr struct {
	want, got uint8
}

func (e *unexpectedPacketErr) Error() string {
	return fmt.Sprintf("sftp: expected packet type %d, got %d", e.want, e.got)
}

// unexpectedVersionErr is a protocol-error: the server's VERSION reply did
// not carry version 3.
type unexpectedVersionErr struct {
	want, got uint32
}

func (e *unexpectedVersionErr) Error() string {
	return fmt.Sprintf("sftp: expected protocol version %d, got %d", e.want, e.got)
}

// unexpectedCount is a protocol-error: a NAME reply (REALPATH, READLINK) did
// not carry exactly the expected number of entries.
func unexpectedCount(want, got uint32) error {
	return fmt.Errorf("sftp: expected %d name entries, got %d", want, got)
}

// unimplementedSeekWhence reports a Seek call using an unsupported whence.
func unimplementedSeekWhence(whence int) error {
	return fmt.Errorf("sftp: unsupported seek whence %d", whence)
}

// unimplementedPacketErr reports a reply packet type this client has no
// handler for.
func unimplementedPacketErr(typ uint8) error {
	return fmt.Errorf("sftp: unimplemented packet type %d", typ)
}

// timeoutError_ marks an operation, data, or connect timeout computed by the
// adaptive controller's timeout policy.
type timeoutError_ struct {
	op  string
	dur interface{}
}

func (e *timeoutError_) Error() string {
	return fmt.Sprintf("sftp: %s timed out after %v", e.op, e.dur)
}

// authError_ wraps a failure in the Signer/Transport authentication
// handshake, distinguished from a post-auth connection failure so it is
// never treated as retryable.
type authError_ struct {
	cause error
}

func (e *authError_) Error() string { return fmt.Sprintf("sftp: authentication failed: %v", e.cause) }
func (e *authError_) Unwrap() error { return e.cause }

// connectionLostError_ wraps a transport-level failure (closed pipe, reset,
// dial failure) reported by the Transport collaborator or the keepalive
// health check, distinct from the protocol-level StatusError{Code:
// sshFxConnectionLost} the server itself can send.
type connectionLostError_ struct {
	cause error
}

func (e *connectionLostError_) Error() string { return fmt.Sprintf("sftp: connection lost: %v", e.cause) }
func (e *connectionLostError_) Unwrap() error { return e.cause }
