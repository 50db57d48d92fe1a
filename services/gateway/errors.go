package gateway

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrRenewalFailed is returned when an expired access token could not be renewed.
var ErrRenewalFailed = errors.New("unauthorized: renewal failed")

// UnauthorizedError is a 401 whose message does not mean "expired".
type UnauthorizedError struct {
	Message string
}

func (err UnauthorizedError) Error() string {
	return "unauthorized: " + err.Message
}

// RequestError is a transport-level failure: the request could not complete.
type RequestError struct {
	Method   string
	Endpoint string
	Err      error
}

func (err RequestError) Error() string {
	return fmt.Sprintf("request failed: %s %s: %v", err.Method, err.Endpoint, err.Err)
}

func (err RequestError) Cause() error {
	return err.Err
}

func IsUnauthorized(err error) bool {
	switch errors.Cause(err).(type) {
	case *UnauthorizedError:
		return true
	}
	return errors.Cause(err) == ErrRenewalFailed
}
