// Package parcel holds the immutable cadastral plot map a tracking session
// matches positions against.
package parcel

import (
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// DefaultIDProperty is the feature property that carries the plot number.
const DefaultIDProperty = "plot_no"

// Parcel is a single land plot polygon.
//
// MultiPolygon features yield one Parcel per part; the parts share ID and are
// numbered by Part in input order.
type Parcel struct {
	ID         string
	Part       int
	Ring       orb.Ring
	Holes      []orb.Ring
	Properties geojson.Properties
	Centroid   orb.Point

	bound orb.Bound
}

// Polygon returns the parcel as an orb polygon (exterior ring first).
func (p *Parcel) Polygon() orb.Polygon {
	poly := make(orb.Polygon, 0, 1+len(p.Holes))
	poly = append(poly, p.Ring)
	poly = append(poly, p.Holes...)
	return poly
}

// Bound is the lon/lat bounding box of the exterior ring.
func (p *Parcel) Bound() orb.Bound { return p.bound }

// Contains reports whether pt (lon, lat) lies inside or on the parcel ring and
// not inside one of its holes.
func (p *Parcel) Contains(pt orb.Point) bool {
	if !p.bound.Contains(pt) {
		return false
	}
	return planar.PolygonContains(p.Polygon(), pt)
}

// Dataset is the read-only set of parcels plus the derived boundary union.
//
// A nil *Dataset is valid and behaves as an empty one.
type Dataset struct {
	parcels []Parcel
	bound   orb.Bound

	// boundary is kept in the local metric projection; nil when absent.
	boundary orb.MultiPolygon
	proj     projection
}

// Empty returns a dataset with no parcels and no boundary.
func Empty() *Dataset { return &Dataset{} }

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.parcels)
}

// At returns the i-th parcel in input order. The pointer must not be
// mutated.
func (d *Dataset) At(i int) *Parcel {
	return &d.parcels[i]
}

// Parcels returns a copy of the parcel slice in input order.
func (d *Dataset) Parcels() []Parcel {
	if d == nil {
		return nil
	}
	return append([]Parcel(nil), d.parcels...)
}

// Parcel returns the first parcel part with the given id.
func (d *Dataset) Parcel(id string) (*Parcel, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.parcels {
		if d.parcels[i].ID == id {
			return &d.parcels[i], true
		}
	}
	return nil, false
}

func (d *Dataset) Bound() orb.Bound {
	if d == nil {
		return orb.Bound{}
	}
	return d.bound
}

func (d *Dataset) HasBoundary() bool {
	return d != nil && len(d.boundary) > 0
}

// Boundary returns the boundary union in lon/lat.
func (d *Dataset) Boundary() (orb.MultiPolygon, bool) {
	if !d.HasBoundary() {
		return nil, false
	}
	out := make(orb.MultiPolygon, 0, len(d.boundary))
	for _, poly := range d.boundary {
		p := make(orb.Polygon, 0, len(poly))
		for _, ring := range poly {
			r := make(orb.Ring, len(ring))
			for i, pt := range ring {
				r[i] = d.proj.inverse(pt)
			}
			p = append(p, r)
		}
		out = append(out, p)
	}
	return out, true
}

// BoundaryContains reports whether pt (lon, lat) lies within the boundary
// union. It is always false when the union is absent.
func (d *Dataset) BoundaryContains(pt orb.Point) bool {
	if !d.HasBoundary() {
		return false
	}
	return planar.MultiPolygonContains(d.boundary, d.proj.forward(pt))
}

// Holder publishes the dataset of a session once it is ready. Until then
// Dataset returns nil.
type Holder struct {
	ds atomic.Pointer[Dataset]
}

func (h *Holder) Dataset() *Dataset {
	if h == nil {
		return nil
	}
	return h.ds.Load()
}

func (h *Holder) Set(ds *Dataset) {
	if h == nil {
		return
	}
	h.ds.Store(ds)
}
