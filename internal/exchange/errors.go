package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the server rejected the credentials. Callers
	// should ask for new ones rather than retry.
	ErrAuthentication = errors.New("exchange authentication failed")

	// ErrMalformedResponse means a response body did not have the expected
	// structure.
	ErrMalformedResponse = errors.New("malformed exchange response")
)

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

// AuthError reports a failed login for User. It matches ErrAuthentication
// with errors.Is.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v for %s", ErrAuthentication, e.User)
	}
	return fmt.Sprintf("%v for %s: %v", ErrAuthentication, e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthentication }

func newStatusError(code int, status string) *StatusError {
	// resp.Status is "404 Not Found"; keep only the reason.
	reason := status
	if len(status) > 4 && status[3] == ' ' {
		reason = status[4:]
	}
	return &StatusError{Code: code, Reason: reason}
}
