package match_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"plotwatch/internal/match"
	"plotwatch/internal/parcel"
	"plotwatch/internal/parcel/parceltest"
	"plotwatch/internal/position"
)

func fixAt(eastM, northM float64) position.Fix {
	p := parceltest.Offset(parceltest.Origin, eastM, northM)
	return position.Fix{LonDeg: p[0], LatDeg: p[1], AccuracyM: 5}
}

func build(t *testing.T, features []*geojson.Feature, marginM float64) *parcel.Dataset {
	t.Helper()
	ds, rep := parcel.Build(features, parcel.BuildOptions{BoundaryMarginM: marginM})
	if rep.UnionErr != nil {
		t.Fatalf("union err: %v", rep.UnionErr)
	}
	return ds
}

func TestLocate_StrictMatch(t *testing.T) {
	ds := build(t, parceltest.TwoPlots(), 50)
	res := match.Engine{}.Locate(fixAt(0, 0), ds)
	if res.ParcelID() != "P1" {
		t.Fatalf("parcel=%q want P1", res.ParcelID())
	}
	if !res.InsideBoundary || res.DistanceM != 0 || res.Kind() != "strict" {
		t.Fatalf("res=%+v kind=%s", res, res.Kind())
	}

	res = match.Engine{}.Locate(fixAt(12, -3), ds)
	if res.ParcelID() != "P2" || res.Kind() != "strict" {
		t.Fatalf("parcel=%q kind=%s", res.ParcelID(), res.Kind())
	}
}

func TestLocate_FallbackWithinThresholdAndBoundary(t *testing.T) {
	ds := build(t, parceltest.TwoPlots(), 50)
	res := match.Engine{FallbackThresholdM: 50}.Locate(fixAt(50, 0), ds)
	if res.ParcelID() != "P2" {
		t.Fatalf("parcel=%q want P2", res.ParcelID())
	}
	if res.InsideBoundary || res.Kind() != "fallback" {
		t.Fatalf("res=%+v", res)
	}
	if math.Abs(res.DistanceM-40) > 0.1 {
		t.Fatalf("distance=%v want ~40", res.DistanceM)
	}
}

func TestLocate_BeyondThresholdIsNone(t *testing.T) {
	ds := build(t, parceltest.TwoPlots(), 50)
	res := match.Engine{}.Locate(fixAt(70, 0), ds)
	if res.Matched() || res.Kind() != "none" || res.ParcelID() != "" {
		t.Fatalf("res=%+v", res)
	}
	if math.Abs(res.DistanceM-60) > 0.1 {
		t.Fatalf("distance=%v want ~60", res.DistanceM)
	}
}

func TestLocate_OutsideUnionIsNoneEvenWithinThreshold(t *testing.T) {
	ds := build(t, parceltest.TwoPlots(), 0)
	res := match.Engine{FallbackThresholdM: 1000}.Locate(fixAt(16, 0), ds)
	if res.Matched() {
		t.Fatalf("fix outside the exact union must not match: %+v", res)
	}
	if math.Abs(res.DistanceM-6) > 0.1 {
		t.Fatalf("distance=%v want ~6", res.DistanceM)
	}
}

func TestLocate_StrictOnlyDisablesFallback(t *testing.T) {
	ds := build(t, parceltest.TwoPlots(), 50)
	res := match.Engine{StrictOnly: true}.Locate(fixAt(50, 0), ds)
	if res.Matched() {
		t.Fatalf("strict only must not fall back: %+v", res)
	}
	if math.Abs(res.DistanceM-40) > 0.1 {
		t.Fatalf("distance=%v want ~40", res.DistanceM)
	}
	if res := (match.Engine{StrictOnly: true}).Locate(fixAt(0, 0), ds); res.ParcelID() != "P1" {
		t.Fatalf("strict only should still match inside: %+v", res)
	}
}

func TestLocate_EmptyDatasetIsNone(t *testing.T) {
	for name, ds := range map[string]*parcel.Dataset{
		"nil":   nil,
		"empty": parcel.Empty(),
	} {
		res := match.Engine{}.Locate(fixAt(0, 0), ds)
		if res.Matched() || res.InsideBoundary {
			t.Fatalf("%s: res=%+v", name, res)
		}
		if !math.IsInf(res.DistanceM, 1) {
			t.Fatalf("%s: distance=%v want +Inf", name, res.DistanceM)
		}
	}
}

func TestLocate_SharedEdgePrefersDatasetOrder(t *testing.T) {
	edge := fixAt(5, 0)

	ds := build(t, parceltest.TwoPlots(), 0)
	if got := (match.Engine{}).Locate(edge, ds).ParcelID(); got != "P1" {
		t.Fatalf("parcel=%q want P1", got)
	}

	reversed := parceltest.TwoPlots()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	ds = build(t, reversed, 0)
	if got := (match.Engine{}).Locate(edge, ds).ParcelID(); got != "P2" {
		t.Fatalf("parcel=%q want P2", got)
	}
}

func TestLocate_FallbackTiePrefersDatasetOrder(t *testing.T) {
	// Overlapping duplicates share a centroid, so every distance ties.
	ds := build(t, []*geojson.Feature{
		parceltest.Square("A", 0, 0, 10),
		parceltest.Square("B", 0, 0, 10),
	}, 50)

	if got := (match.Engine{}).Locate(fixAt(0, 0), ds).ParcelID(); got != "A" {
		t.Fatalf("strict parcel=%q want A", got)
	}
	res := match.Engine{}.Locate(fixAt(0, 15), ds)
	if res.ParcelID() != "A" || res.Kind() != "fallback" {
		t.Fatalf("res=%+v", res)
	}
}

func TestLocate_InsideParcelAlwaysStrict(t *testing.T) {
	ds := build(t, parceltest.TwoPlots(), 50)
	engines := []match.Engine{{}, {FallbackThresholdM: 1}, {FallbackThresholdM: 1e6}, {StrictOnly: true}}
	for _, e := range engines {
		for _, east := range []float64{-4, 0, 4, 6, 10, 14} {
			res := e.Locate(fixAt(east, 1), ds)
			if !res.InsideBoundary || res.DistanceM != 0 {
				t.Fatalf("engine=%+v east=%v res=%+v", e, east, res)
			}
		}
	}
}

func TestLocate_HoleIsNotStrict(t *testing.T) {
	outer := parceltest.SquareRing(0, 0, 20)
	hole := parceltest.SquareRing(0, 0, 6)
	hole.Reverse()
	f := geojson.NewFeature(orb.Polygon{outer, hole})
	f.Properties["plot_no"] = "H1"
	ds := build(t, []*geojson.Feature{f}, 0)

	res := match.Engine{StrictOnly: true}.Locate(fixAt(0, 0), ds)
	if res.Matched() {
		t.Fatalf("fix inside hole must not be a strict match: %+v", res)
	}
	if res := (match.Engine{}).Locate(fixAt(8, 0), ds); res.Kind() != "strict" {
		t.Fatalf("ring interior should be strict: %+v", res)
	}
}
