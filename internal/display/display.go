// Package display delivers highlight events and alerts to the outside world.
//
// Every sink is best effort: delivery failures are logged and counted, and
// never reach the tracker.
package display

import (
	"errors"
	"fmt"
	"time"

	"plotwatch/internal/highlight"
	"plotwatch/internal/position"
)

type NoticeKind string

const (
	NoticeDatasetLoad      NoticeKind = "dataset_load"
	NoticeCapability       NoticeKind = "capability_unavailable"
	NoticePermissionDenied NoticeKind = "permission_denied"
	NoticeTimeout          NoticeKind = "timeout"
	NoticeUnavailable      NoticeKind = "unavailable"
)

// Notice is a human readable alert.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Time    time.Time  `json:"time"`
}

// Sink receives highlight events and alerts. Implementations must not block
// for long; they run on the tracker's processing loop.
type Sink interface {
	Render(ev highlight.Event)
	Alert(n Notice)
}

// NoticeFromError classifies a provider error.
func NoticeFromError(err error, now time.Time) Notice {
	n := Notice{Kind: NoticeUnavailable, Time: now.UTC()}
	if err == nil {
		return n
	}
	n.Message = err.Error()
	if errors.Is(err, position.ErrCapabilityUnavailable) {
		n.Kind = NoticeCapability
		n.Message = fmt.Sprintf("location tracking is not available on this device: %v", err)
		return n
	}
	if code, ok := position.CodeOf(err); ok {
		switch code {
		case position.PermissionDenied:
			n.Kind = NoticePermissionDenied
		case position.Timeout:
			n.Kind = NoticeTimeout
		case position.Unavailable:
			n.Kind = NoticeUnavailable
		}
	}
	return n
}

// DatasetNotice reports a failed or partial dataset load.
func DatasetNotice(err error, now time.Time) Notice {
	return Notice{
		Kind:    NoticeDatasetLoad,
		Message: fmt.Sprintf("failed to load plot map: %v", err),
		Time:    now.UTC(),
	}
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Render(ev highlight.Event) {
	for _, s := range m {
		if s != nil {
			s.Render(ev)
		}
	}
}

func (m Multi) Alert(n Notice) {
	for _, s := range m {
		if s != nil {
			s.Alert(n)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Render(highlight.Event) {}
func (Nop) Alert(Notice)           {}
