package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// GPSD watches a gpsd daemon over TCP. Connection loss is reported as
// Unavailable and the client reconnects with backoff.
type GPSD struct {
	Addr string

	// Dial overrides how the TCP connection is made (tests).
	Dial func(ctx context.Context, addr string) (net.Conn, error)
	Now  func() time.Time
}

func (g *GPSD) addr() string {
	a := strings.TrimSpace(g.Addr)
	if a == "" {
		return gpsdDefaultAddr
	}
	return a
}

func (g *GPSD) Subscribe(onFix func(Fix), onError func(error), opts Options) (Subscription, error) {
	if g == nil {
		return nil, ErrCapabilityUnavailable
	}
	dial := g.Dial
	if dial == nil {
		dial = dialGPSD
	}
	addr := g.addr()
	w := newWatch(onFix, onError, opts, g.Now)

	w.goRun(func(ctx context.Context) {
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			conn, err := dial(ctx, addr)
			if err != nil {
				w.fail(&Error{Code: Unavailable, Message: "gpsd dial failed addr=" + addr, Err: err})
				if !sleepCtx(ctx, backoff) {
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = 250 * time.Millisecond
			w.setCloser(conn)

			err = readGPSD(ctx, conn, newGPSDState(opts.HighAccuracy), w)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			w.fail(&Error{Code: Unavailable, Message: "gpsd read stopped", Err: err})
			if !sleepCtx(ctx, backoff) {
				return
			}
		}
	})
	return w, nil
}

func readGPSD(ctx context.Context, conn net.Conn, st *gpsdState, w *watch) error {
	if err := gpsdWatch(conn); err != nil {
		return fmt.Errorf("gpsd watch failed: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fix, ok, err := st.applyLine(line)
		if err != nil {
			// Garbage from the daemon is not worth surfacing per line.
			continue
		}
		if ok {
			w.deliver(fix)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports in SI units.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdClass struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Mode *int     `json:"mode"`
	Time string   `json:"time"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`

	// Estimated errors in meters.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdState struct {
	minMode int
	// lastAccM carries the previous accuracy forward when a TPV omits it.
	lastAccM float64
}

func newGPSDState(highAccuracy bool) *gpsdState {
	st := &gpsdState{minMode: 2}
	if highAccuracy {
		st.minMode = 3
	}
	return st
}

// applyLine parses one gpsd report and returns a fix for qualifying TPVs.
func (s *gpsdState) applyLine(line string) (Fix, bool, error) {
	var base gpsdClass
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return Fix{}, false, fmt.Errorf("gpsd json parse failed: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(base.Class), "TPV") {
		// VERSION/DEVICES/WATCH/SKY carry no position.
		return Fix{}, false, nil
	}
	var tpv gpsdTPV
	if err := json.Unmarshal([]byte(line), &tpv); err != nil {
		return Fix{}, false, fmt.Errorf("gpsd tpv parse failed: %w", err)
	}

	switch {
	case tpv.Eph != nil:
		s.lastAccM = *tpv.Eph
	case tpv.Epx != nil && tpv.Epy != nil:
		s.lastAccM = math.Hypot(*tpv.Epx, *tpv.Epy)
	}

	if tpv.Mode == nil || *tpv.Mode < s.minMode || tpv.Lat == nil || tpv.Lon == nil {
		return Fix{}, false, nil
	}
	fix := Fix{LatDeg: *tpv.Lat, LonDeg: *tpv.Lon, AccuracyM: s.lastAccM}
	if ts := strings.TrimSpace(tpv.Time); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			fix.Time = t.UTC()
		}
	}
	return fix, true, nil
}
