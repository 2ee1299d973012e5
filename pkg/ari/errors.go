package ari

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable matches every transport-level failure reaching the exchange.
var ErrUnavailable = errors.New("control plane unavailable")

// ControlPlaneError is a command the exchange answered with a non-2xx status.
type ControlPlaneError struct {
	Op     string
	Status int
	Body   string
}

func (e *ControlPlaneError) Error() string {
	return fmt.Sprintf("ari %s: status %d: %s", e.Op, e.Status, e.Body)
}

// UnavailableError wraps DNS, connection and timeout failures.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ari %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// IsChannelGone reports whether the exchange no longer knows the channel.
func IsChannelGone(err error) bool {
	var cpErr *ControlPlaneError
	return errors.As(err, &cpErr) && cpErr.Status == http.StatusNotFound
}
