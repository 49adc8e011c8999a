// Package match decides which parcel, if any, contains a position fix.
//
// Locate runs two passes over the dataset:
//   - strict: the first parcel (in dataset order) whose polygon contains the
//     fix, boundary included
//   - fallback: the parcel with the nearest centroid, accepted only when it
//     is within FallbackThresholdM and the fix lies inside the dataset's
//     boundary union
//
// The fallback absorbs consumer GPS noise near parcel edges; the boundary
// gate keeps far-away fixes from snapping onto the map.
package match

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"plotwatch/internal/parcel"
	"plotwatch/internal/position"
)

// DefaultFallbackThresholdM bounds how far a nearest-centroid match may be.
const DefaultFallbackThresholdM = 50.0

// Result is the outcome of one Locate call.
type Result struct {
	// Parcel is nil when nothing matched.
	Parcel         *parcel.Parcel
	InsideBoundary bool
	// DistanceM is 0 for strict matches, the nearest centroid distance
	// otherwise, and +Inf when the dataset is empty.
	DistanceM float64
}

func (r Result) Matched() bool { return r.Parcel != nil }

// ParcelID returns the matched parcel id, or "" when nothing matched.
func (r Result) ParcelID() string {
	if r.Parcel == nil {
		return ""
	}
	return r.Parcel.ID
}

// Kind labels the result for logs and metrics: "strict", "fallback" or "none".
func (r Result) Kind() string {
	switch {
	case r.Parcel == nil:
		return "none"
	case r.InsideBoundary:
		return "strict"
	default:
		return "fallback"
	}
}

// Engine is stateless and safe for concurrent use.
type Engine struct {
	// FallbackThresholdM is the maximum accepted centroid distance. Zero or
	// negative uses DefaultFallbackThresholdM.
	FallbackThresholdM float64

	// StrictOnly disables the fallback pass.
	StrictOnly bool
}

func (e Engine) threshold() float64 {
	if e.FallbackThresholdM <= 0 {
		return DefaultFallbackThresholdM
	}
	return e.FallbackThresholdM
}

// Locate matches fix against ds. A nil ds is treated as empty.
func (e Engine) Locate(fix position.Fix, ds *parcel.Dataset) Result {
	pt := orb.Point{fix.LonDeg, fix.LatDeg}
	n := ds.Len()
	if n == 0 {
		return Result{DistanceM: math.Inf(1)}
	}

	for i := 0; i < n; i++ {
		p := ds.At(i)
		if p.Contains(pt) {
			return Result{Parcel: p, InsideBoundary: true, DistanceM: 0}
		}
	}

	best := -1
	bestD := math.Inf(1)
	for i := 0; i < n; i++ {
		d := geo.Distance(pt, ds.At(i).Centroid)
		// Strict less-than keeps the earliest parcel on ties.
		if d < bestD {
			best, bestD = i, d
		}
	}

	res := Result{DistanceM: bestD}
	if e.StrictOnly || best < 0 {
		return res
	}
	if bestD <= e.threshold() && ds.BoundaryContains(pt) {
		res.Parcel = ds.At(best)
	}
	return res
}
