package position

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// NMEA watches a USB serial GNSS receiver. The GPYes/u-blox class of
// receivers shows up as /dev/ttyACM* at 9600 baud.
type NMEA struct {
	// Device may be empty to auto-detect /dev/ttyACM* and /dev/ttyUSB*.
	Device string
	Baud   int

	// Open overrides how the device is opened (tests).
	Open func(path string, baud int) (io.ReadCloser, error)
	Now  func() time.Time
}

func (n *NMEA) Subscribe(onFix func(Fix), onError func(error), opts Options) (Subscription, error) {
	if n == nil {
		return nil, ErrCapabilityUnavailable
	}
	device := strings.TrimSpace(n.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, fmt.Errorf("%w: no /dev/ttyACM* or /dev/ttyUSB* found", ErrCapabilityUnavailable)
		}
	}
	baud := n.Baud
	if baud == 0 {
		baud = 9600
	}
	open := n.Open
	if open == nil {
		open = func(path string, baud int) (io.ReadCloser, error) {
			f, err := openSerial(path, baud)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}

	f, err := open(device, baud)
	if err != nil {
		return nil, classifyOpenError(device, err)
	}

	w := newWatch(onFix, onError, opts, n.Now)
	w.setCloser(f)
	w.goRun(func(ctx context.Context) {
		const minBackoff = 500 * time.Millisecond
		const maxBackoff = 10 * time.Second
		for {
			err := readNMEA(ctx, f, &nmeaState{highAccuracy: opts.HighAccuracy}, w)
			_ = f.Close()
			if ctx.Err() != nil {
				return
			}
			w.fail(&Error{Code: Unavailable, Message: "gps read stopped device=" + device, Err: err})

			// Receivers re-enumerate after a USB glitch; keep trying.
			backoff := minBackoff
			for {
				if !sleepCtx(ctx, backoff) {
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				f, err = open(device, baud)
				if err == nil {
					w.setCloser(f)
					break
				}
				oerr := classifyOpenError(device, err)
				w.fail(oerr)
				if code, _ := CodeOf(oerr); code == PermissionDenied {
					return
				}
			}
		}
	})
	return w, nil
}

func readNMEA(ctx context.Context, r io.Reader, st *nmeaState, w *watch) error {
	scanner := bufio.NewScanner(r)
	// Sentences are < 82 chars; leave headroom for chatter.
	scanner.Buffer(make([]byte, 0, 256), 4096)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := parseNMEASentence(line)
		if err != nil {
			continue
		}
		if fix, ok := st.apply(sent); ok {
			w.deliver(fix)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func classifyOpenError(device string, err error) error {
	switch {
	case errors.Is(err, ErrCapabilityUnavailable):
		return err
	case errors.Is(err, os.ErrPermission):
		return &Error{Code: PermissionDenied, Message: "cannot open " + device, Err: err}
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", ErrCapabilityUnavailable, device, err)
	default:
		return &Error{Code: Unavailable, Message: "cannot open " + device, Err: err}
	}
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
