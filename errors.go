package main

import "fmt"

// errorKind is the closed error taxonomy from spec.md §9 Design Notes ("Error signaling"),
// replacing the original firmware's return-code-plus-log style.
type errorKind int

const (
	// KindNetworkUnreachable covers transient network failures reaching a blocklist source.
	KindNetworkUnreachable errorKind = iota
	// KindProtocolError covers an unexpected HTTP status code from a blocklist source.
	KindProtocolError
	// KindTruncated covers a blocklist line cut at maxLineLen (logged as a warning).
	KindTruncated
	// KindCancelled covers a load stopped by an admin-set stop flag.
	KindCancelled
	// KindResourceExhausted covers arena exhaustion (domain cap or memory floor reached).
	KindResourceExhausted
)

func (k errorKind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "NetworkUnreachable"
	case KindProtocolError:
		return "ProtocolError"
	case KindTruncated:
		return "Truncated"
	case KindCancelled:
		return "Cancelled"
	case KindResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Unknown"
	}
}

// loadError is returned by the Blocklist Loader, and Code carries an HTTP status for
// KindProtocolError. The loadProg admin key does not show the Kind: a KindCancelled failure
// publishes "Stopped" and every other failure publishes "Failed".
type loadError struct {
	Kind   errorKind
	Code   int
	Reason string
	Err    error
}

func (e *loadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *loadError) Unwrap() error { return e.Err }

func newNetworkError(reason string, err error) *loadError {
	return &loadError{Kind: KindNetworkUnreachable, Reason: reason, Err: err}
}

func newProtocolError(code int, reason string) *loadError {
	return &loadError{Kind: KindProtocolError, Code: code, Reason: reason}
}

func newTruncatedError(reason string) *loadError {
	return &loadError{Kind: KindTruncated, Reason: reason}
}

func newCancelledError() *loadError {
	return &loadError{Kind: KindCancelled, Reason: "stop flag set by admin"}
}

func newResourceExhaustedError(reason string) *loadError {
	return &loadError{Kind: KindResourceExhausted, Reason: reason}
}
