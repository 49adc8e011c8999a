// Package parceltest builds small metric fixtures for tests.
package parceltest

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Origin is a point inside the Subirchak mouza map the fixtures are laid out
// around.
var Origin = orb.Point{88.36, 22.57}

// Offset returns the lon/lat point eastM meters east and northM meters north
// of origin.
func Offset(origin orb.Point, eastM, northM float64) orb.Point {
	const k = orb.EarthRadius * math.Pi / 180
	return orb.Point{
		origin[0] + eastM/(k*math.Cos(origin[1]*math.Pi/180)),
		origin[1] + northM/k,
	}
}

// SquareRing returns a closed counter-clockwise square of side sizeM centered
// eastM/northM meters from Origin.
func SquareRing(eastM, northM, sizeM float64) orb.Ring {
	h := sizeM / 2
	return orb.Ring{
		Offset(Origin, eastM-h, northM-h),
		Offset(Origin, eastM+h, northM-h),
		Offset(Origin, eastM+h, northM+h),
		Offset(Origin, eastM-h, northM+h),
		Offset(Origin, eastM-h, northM-h),
	}
}

// Square returns a Polygon feature with the given plot number.
func Square(plotNo any, eastM, northM, sizeM float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{SquareRing(eastM, northM, sizeM)})
	f.Properties["plot_no"] = plotNo
	return f
}

// TwoPlots is the canonical pair: plot "P1" is a 10 m square centered on
// Origin and "P2" the adjacent square centered 10 m east.
func TwoPlots() []*geojson.Feature {
	return []*geojson.Feature{
		Square("P1", 0, 0, 10),
		Square("P2", 10, 0, 10),
	}
}
