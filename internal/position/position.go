package position

import (
	"errors"
	"fmt"
	"time"
)

// Fix is one reported position sample.
type Fix struct {
	LatDeg    float64   `json:"lat_deg"`
	LonDeg    float64   `json:"lon_deg"`
	AccuracyM float64   `json:"accuracy_m"`
	Time      time.Time `json:"time"`
}

// Options mirrors the continuous high-accuracy watch a tracker asks for.
type Options struct {
	// HighAccuracy asks the source to only report its best fixes (3D fixes
	// for gpsd, GGA-qualified fixes for NMEA).
	HighAccuracy bool
	// MaxFixAge bounds how stale a delivered fix may be. Zero accepts any
	// fresh report; fixes are never cached across subscriptions.
	MaxFixAge time.Duration
	// AcquisitionTimeout is the window after which a missing fix is reported
	// as a Timeout error. Zero disables the watchdog.
	AcquisitionTimeout time.Duration
}

// Provider is a position capability.
//
// Subscribe returns ErrCapabilityUnavailable when the capability does not
// exist on this host. Callbacks must not call Cancel synchronously.
type Provider interface {
	Subscribe(onFix func(Fix), onError func(error), opts Options) (Subscription, error)
}

// Subscription is a cancellable watch handle.
type Subscription interface {
	Cancel()
}

// ErrCapabilityUnavailable means the position source does not exist at all.
var ErrCapabilityUnavailable = errors.New("position capability unavailable")

// Code classifies recoverable and fatal watch errors.
type Code int

const (
	PermissionDenied Code = iota + 1
	Unavailable
	Timeout
)

func (c Code) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is a watch error. PermissionDenied is fatal to tracking; the other
// codes are reported while the watch keeps running.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("position %s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("position %s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the Code of a *Error anywhere in err's chain.
func CodeOf(err error) (Code, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}
