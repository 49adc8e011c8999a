package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"plotwatch/internal/match"
	"plotwatch/internal/metrics"
	"plotwatch/internal/parcel"
	"plotwatch/internal/position"
	"plotwatch/internal/session"
)

// Controller is the slice of a session the web UI drives.
// Implementations must be safe to call concurrently.
type Controller interface {
	Status() session.Status
	Locate(latDeg, lonDeg float64) match.Result
	Datasets() *parcel.Holder
	StartTracking() error
	StopTracking()
}

type LocateResponse struct {
	PlotNo         *string        `json:"plot_no"`
	Part           int            `json:"part,omitempty"`
	Kind           string         `json:"kind"`
	InsideBoundary bool           `json:"inside_boundary"`
	DistanceM      *float64       `json:"distance_m"`
	Properties     map[string]any `json:"properties,omitempty"`
}

func Handler(ctl Controller, events *EventStream, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, ctl.Status())
	})

	mux.HandleFunc("/api/parcels", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		ds := ctl.Datasets().Dataset()
		if ds == nil {
			http.Error(w, "dataset not loaded", http.StatusServiceUnavailable)
			return
		}
		b, err := json.Marshal(ds.FeatureCollection())
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	mux.HandleFunc("/api/locate", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		lat, err := parseCoord(q.Get("lat"), 90)
		if err != nil {
			http.Error(w, "lat: "+err.Error(), http.StatusBadRequest)
			return
		}
		lon, err := parseCoord(q.Get("lon"), 180)
		if err != nil {
			http.Error(w, "lon: "+err.Error(), http.StatusBadRequest)
			return
		}

		res := ctl.Locate(lat, lon)
		out := LocateResponse{
			Kind:           res.Kind(),
			InsideBoundary: res.InsideBoundary,
		}
		if !math.IsInf(res.DistanceM, 0) && !math.IsNaN(res.DistanceM) {
			d := res.DistanceM
			out.DistanceM = &d
		}
		if p := res.Parcel; p != nil {
			id := p.ID
			out.PlotNo = &id
			out.Part = p.Part
			out.Properties = p.Properties
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/api/tracking/start", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if err := ctl.StartTracking(); err != nil {
			code := http.StatusInternalServerError
			if c, ok := position.CodeOf(err); ok {
				code = http.StatusServiceUnavailable
				if c == position.PermissionDenied {
					code = http.StatusForbidden
				}
			} else if errors.Is(err, position.ErrCapabilityUnavailable) {
				code = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tracker_state": ctl.Status().Tracker})
	})

	mux.HandleFunc("/api/tracking/stop", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		ctl.StopTracking()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tracker_state": ctl.Status().Tracker})
	})

	if events != nil {
		mux.Handle("/api/events", events.Handler())
	}
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.HandleFunc("/api/about", aboutHandler(ctl.Status().StartedAt))
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allow(w, r, http.MethodGet) {
			return
		}
		st := ctl.Status()
		current := "none"
		if st.CurrentParcelID != nil {
			current = *st.CurrentParcelID
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>plotwatch</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>plotwatch</h1>")
		_, _ = fmt.Fprintf(w, "<p>API: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/parcels\">/api/parcels</a>, <a href=\"/api/events\">/api/events</a>, <a href=\"/api/about\">/api/about</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>session=%s\ntracker=%s\nparcels=%d\ncurrent_plot_no=%s</pre>",
			html.EscapeString(st.SessionID), st.Tracker, st.Dataset.Parcels, html.EscapeString(current),
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func parseCoord(s string, limit float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("required")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("must be a number")
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("must be in [%g,%g]", -limit, limit)
	}
	return v, nil
}

// Serve runs handler until ctx ends. Request contexts derive from ctx so open
// event streams do not hold up shutdown.
func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
