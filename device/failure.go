package device

import (
	"context"
	"net"

	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
)

// FailureClass is the closed set of reasons a device call can fail.
type FailureClass string

const (
	FailureTimeout     FailureClass = "timeout"
	FailureUnreachable FailureClass = "unreachable"
	FailureAuth        FailureClass = "auth"
	FailureProtocol    FailureClass = "protocol"
	FailureConfig      FailureClass = "config"
)

// Status maps a failure to the device status it produces. Connectivity
// problems leave the device offline; everything else means the device is
// reachable but misbehaving or misconfigured.
func (c FailureClass) Status() db.DeviceStatus {
	switch c {
	case FailureTimeout, FailureUnreachable:
		return db.DeviceOffline
	default:
		return db.DeviceError
	}
}

// Failure is a classified device error.
type Failure struct {
	Class FailureClass
	Err   error
}

func (f *Failure) Error() string {
	return string(f.Class) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is lets callers match device failures against the shared error
// categories, which drives retry decisions.
func (f *Failure) Is(target error) bool {
	switch target {
	case core.ErrConnectivity:
		return f.Class == FailureTimeout || f.Class == FailureUnreachable
	case core.ErrConfiguration:
		return f.Class == FailureAuth || f.Class == FailureConfig
	}
	return false
}

func newFailure(class FailureClass, err error) error {
	return &Failure{Class: class, Err: err}
}

// Classify assigns err to a failure class.
func Classify(err error) FailureClass {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureUnreachable
	}
	if errors.Is(err, core.ErrConfiguration) {
		return FailureConfig
	}
	if errors.Is(err, core.ErrConnectivity) {
		return FailureUnreachable
	}
	return FailureProtocol
}
