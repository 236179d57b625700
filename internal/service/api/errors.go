package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// NetworkError reports that a request never produced an HTTP response, or
// that the push channel could not be established.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports a non-2xx status or a body that could not be decoded.
// StatusCode is zero for malformed bodies on a 2xx response.
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsServer reports whether err is (or wraps) a ServerError.
func IsServer(err error) bool {
	var target *ServerError
	return errors.As(err, &target)
}

// StatusCode extracts the HTTP status from a ServerError, or 0.
func StatusCode(err error) int {
	var target *ServerError
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}
