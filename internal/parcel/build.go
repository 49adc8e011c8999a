package parcel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// BuildOptions controls dataset construction.
type BuildOptions struct {
	// IDProperty names the plot number property. Defaults to "plot_no".
	IDProperty string

	// BoundaryMarginM grows the boundary union outward by this many meters.
	// Zero keeps the exact union.
	BoundaryMarginM float64
}

// Skip records a feature that was dropped during load.
type Skip struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Report summarizes a build.
type Report struct {
	Features int    `json:"features"`
	Parcels  int    `json:"parcels"`
	Skipped  []Skip `json:"skipped,omitempty"`

	// UnionErr is set when the boundary union could not be computed. The
	// dataset is still usable; the nearest-parcel fallback is disabled.
	UnionErr error `json:"-"`
}

// Build validates features and constructs an immutable dataset.
//
// Malformed features are skipped and listed in the report; they never fail
// the whole build.
func Build(features []*geojson.Feature, opts BuildOptions) (*Dataset, Report) {
	key := strings.TrimSpace(opts.IDProperty)
	if key == "" {
		key = DefaultIDProperty
	}

	rep := Report{Features: len(features)}
	ds := &Dataset{}

	for i, f := range features {
		parts, err := parcelsFromFeature(f, key)
		if err != nil {
			rep.Skipped = append(rep.Skipped, Skip{Index: i, Reason: err.Error()})
			continue
		}
		ds.parcels = append(ds.parcels, parts...)
	}
	rep.Parcels = len(ds.parcels)

	if len(ds.parcels) == 0 {
		return ds, rep
	}

	b := ds.parcels[0].bound
	for i := 1; i < len(ds.parcels); i++ {
		b = b.Union(ds.parcels[i].bound)
	}
	ds.bound = b
	ds.proj = newProjection(b.Center())

	boundary, err := unionBoundary(ds.parcels, ds.proj, opts.BoundaryMarginM)
	if err != nil {
		rep.UnionErr = err
	} else {
		ds.boundary = boundary
	}
	return ds, rep
}

func parcelsFromFeature(f *geojson.Feature, key string) ([]Parcel, error) {
	if f == nil {
		return nil, fmt.Errorf("feature is null")
	}
	if f.Geometry == nil {
		return nil, fmt.Errorf("feature has no geometry")
	}
	id, err := plotID(f.Properties, key)
	if err != nil {
		return nil, err
	}

	var polys []orb.Polygon
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", f.Geometry.GeoJSONType())
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("geometry has no polygons")
	}

	out := make([]Parcel, 0, len(polys))
	for part, poly := range polys {
		if len(poly) == 0 {
			return nil, fmt.Errorf("polygon %d has no rings", part)
		}
		for ri, ring := range poly {
			if err := validateRing(ring); err != nil {
				return nil, fmt.Errorf("polygon %d ring %d: %w", part, ri, err)
			}
		}
		p := Parcel{
			ID:         id,
			Part:       part,
			Ring:       append(orb.Ring(nil), poly[0]...),
			Properties: cloneProperties(f.Properties),
		}
		for _, hole := range poly[1:] {
			p.Holes = append(p.Holes, append(orb.Ring(nil), hole...))
		}
		p.bound = p.Ring.Bound()
		p.Centroid, _ = planar.CentroidArea(p.Polygon())
		out = append(out, p)
	}
	return out, nil
}

func validateRing(r orb.Ring) error {
	if len(r) < 4 {
		return fmt.Errorf("ring has %d points, need at least 4", len(r))
	}
	for _, pt := range r {
		if math.IsNaN(pt[0]) || math.IsNaN(pt[1]) || math.IsInf(pt[0], 0) || math.IsInf(pt[1], 0) {
			return fmt.Errorf("ring has non-finite coordinate")
		}
	}
	if !r.Closed() {
		return fmt.Errorf("ring is not closed")
	}
	if planar.Area(r) == 0 {
		return fmt.Errorf("ring has zero area")
	}
	return nil
}

// plotID turns a scalar property into an identifier. Integral numbers are
// formatted without a fractional part so 12 and "12" match.
func plotID(props geojson.Properties, key string) (string, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing %s property", key)
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", fmt.Errorf("empty %s property", key)
		}
		return s, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("non-finite %s property", key)
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("%s property is not a string or number", key)
	}
}

func cloneProperties(p geojson.Properties) geojson.Properties {
	if p == nil {
		return geojson.Properties{}
	}
	out := make(geojson.Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
