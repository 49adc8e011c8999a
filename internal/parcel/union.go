package parcel

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// bufferQuadSegs is the number of segments GEOS uses per quarter circle when
// rounding buffered corners.
const bufferQuadSegs = 8

var errEmptyUnion = errors.New("boundary union is empty")

// projection is a local equirectangular projection to meters around an
// origin. It is accurate to well under a meter across a village-sized map.
type projection struct {
	lon0, lat0 float64
	cosLat0    float64
}

func newProjection(origin orb.Point) projection {
	return projection{
		lon0:    origin[0],
		lat0:    origin[1],
		cosLat0: math.Cos(origin[1] * math.Pi / 180),
	}
}

func (p projection) forward(pt orb.Point) orb.Point {
	const k = orb.EarthRadius * math.Pi / 180
	return orb.Point{
		(pt[0] - p.lon0) * k * p.cosLat0,
		(pt[1] - p.lat0) * k,
	}
}

func (p projection) inverse(pt orb.Point) orb.Point {
	const k = orb.EarthRadius * math.Pi / 180
	lon := p.lon0
	if p.cosLat0 != 0 {
		lon += pt[0] / (k * p.cosLat0)
	}
	return orb.Point{lon, p.lat0 + pt[1]/k}
}

// unionBoundary merges every parcel polygon into one (multi)polygon in
// projected meters and grows it by marginM.
//
// go-geos reports GEOS failures by panicking; those are converted to errors.
func unionBoundary(parcels []Parcel, proj projection, marginM float64) (mp orb.MultiPolygon, err error) {
	defer func() {
		if r := recover(); r != nil {
			mp = nil
			err = fmt.Errorf("boundary union failed: %v", r)
		}
	}()

	gctx := geos.NewContext()
	var acc *geos.Geom
	for i := range parcels {
		g := gctx.NewPolygon(projectedCoords(parcels[i].Polygon(), proj))
		if !g.IsValid() {
			g = g.MakeValid()
		}
		if acc == nil {
			acc = g
			continue
		}
		acc = acc.Union(g)
	}
	if acc == nil || acc.IsEmpty() {
		return nil, errEmptyUnion
	}
	if marginM > 0 {
		acc = acc.Buffer(marginM, bufferQuadSegs)
	}

	geom, err := wkb.Unmarshal(acc.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("decode boundary union: %w", err)
	}
	switch g := geom.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		mp = g
	case orb.Collection:
		for _, c := range g {
			switch cg := c.(type) {
			case orb.Polygon:
				mp = append(mp, cg)
			case orb.MultiPolygon:
				mp = append(mp, cg...)
			}
		}
	default:
		return nil, fmt.Errorf("boundary union has unexpected type %s", geom.GeoJSONType())
	}
	if len(mp) == 0 {
		return nil, errEmptyUnion
	}
	return mp, nil
}

func projectedCoords(poly orb.Polygon, proj projection) [][][]float64 {
	out := make([][][]float64, 0, len(poly))
	for _, ring := range poly {
		r := make([][]float64, len(ring))
		for i, pt := range ring {
			q := proj.forward(pt)
			r[i] = []float64{q[0], q[1]}
		}
		out = append(out, r)
	}
	return out
}
