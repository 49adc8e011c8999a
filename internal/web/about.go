package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Service   string `json:"service"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	VCSTime   string `json:"vcs_time,omitempty"`
}

var readBuildInfo = sync.OnceValue(func() BuildInfo {
	info := BuildInfo{Service: "plotwatch", GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return info
	}
	info.Module = bi.Main.Path
	info.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		case "vcs.time":
			info.VCSTime = s.Value
		}
	}
	return info
})

type aboutResponse struct {
	BuildInfo
	NowUTC string `json:"now_utc"`
	Uptime string `json:"uptime"`
}

func aboutHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		now := time.Now().UTC()
		writeJSON(w, http.StatusOK, aboutResponse{
			BuildInfo: readBuildInfo(),
			NowUTC:    now.Format(time.RFC3339Nano),
			Uptime:    now.Sub(started).Round(time.Second).String(),
		})
	}
}
