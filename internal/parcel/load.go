package parcel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// maxDatasetBytes caps how much of a dataset file or response is read.
const maxDatasetBytes = 64 << 20

// LoadError reports a dataset that could not be read or decoded at all.
// The session falls back to an empty dataset.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("dataset load failed: %v", e.Err)
	}
	return fmt.Sprintf("dataset load failed source=%s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Source names where a dataset comes from. Exactly one of Path or URL is
// expected; Path wins when both are set.
type Source struct {
	Path string
	URL  string

	// Client is used for URL sources. Defaults to a client with a 30s timeout.
	Client *http.Client
}

func (s Source) String() string {
	if strings.TrimSpace(s.Path) != "" {
		return s.Path
	}
	return s.URL
}

type featureDoc struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// Decode reads a GeoJSON FeatureCollection (or a single Feature). Features
// are decoded one at a time so a malformed entry is skipped instead of
// failing the collection.
func Decode(r io.Reader) ([]*geojson.Feature, []Skip, error) {
	features, _, skips, err := decode(r)
	return features, skips, err
}

func decode(r io.Reader) ([]*geojson.Feature, []int, []Skip, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxDatasetBytes))
	if err != nil {
		return nil, nil, nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil, nil, fmt.Errorf("empty document")
	}

	var doc featureDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, nil, nil, fmt.Errorf("geojson parse failed: %w", err)
	}

	var raws []json.RawMessage
	switch strings.ToLower(doc.Type) {
	case "featurecollection":
		raws = doc.Features
	case "feature":
		raws = []json.RawMessage{b}
	default:
		return nil, nil, nil, fmt.Errorf("unsupported geojson type %q", doc.Type)
	}

	features := make([]*geojson.Feature, 0, len(raws))
	index := make([]int, 0, len(raws))
	var skips []Skip
	for i, raw := range raws {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			skips = append(skips, Skip{Index: i, Reason: err.Error()})
			continue
		}
		features = append(features, f)
		index = append(index, i)
	}
	return features, index, skips, nil
}

// Load decodes r and builds a dataset. Skip indices refer to positions in the
// input document.
func Load(r io.Reader, opts BuildOptions) (*Dataset, Report, error) {
	features, index, skips, err := decode(r)
	if err != nil {
		return Empty(), Report{}, err
	}
	ds, rep := Build(features, opts)
	for i := range rep.Skipped {
		rep.Skipped[i].Index = index[rep.Skipped[i].Index]
	}
	rep.Skipped = append(rep.Skipped, skips...)
	sort.Slice(rep.Skipped, func(i, j int) bool { return rep.Skipped[i].Index < rep.Skipped[j].Index })
	rep.Features = len(features) + len(skips)
	return ds, rep, nil
}

// LoadSource reads and builds the dataset named by src. Any failure is
// returned as a *LoadError together with an empty dataset.
func LoadSource(ctx context.Context, src Source, opts BuildOptions) (*Dataset, Report, error) {
	rc, err := open(ctx, src)
	if err != nil {
		return Empty(), Report{}, &LoadError{Source: src.String(), Err: err}
	}
	defer rc.Close()

	ds, rep, err := Load(rc, opts)
	if err != nil {
		return Empty(), rep, &LoadError{Source: src.String(), Err: err}
	}
	return ds, rep, nil
}

func open(ctx context.Context, src Source) (io.ReadCloser, error) {
	if p := strings.TrimSpace(src.Path); p != "" {
		return os.Open(p)
	}
	u := strings.TrimSpace(src.URL)
	if u == "" {
		return nil, fmt.Errorf("no dataset path or url configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	client := src.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// LoadAsync loads src in the background and publishes the result into h.
// done is called exactly once after the dataset is published; on failure h
// holds an empty dataset and err is a *LoadError.
func (h *Holder) LoadAsync(ctx context.Context, src Source, opts BuildOptions, done func(Report, error)) {
	go func() {
		ds, rep, err := LoadSource(ctx, src, opts)
		h.Set(ds)
		if done != nil {
			done(rep, err)
		}
	}()
}
