package parcel

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection renders the dataset back to GeoJSON. Parcels keep their
// properties; the boundary union, when present, is appended as a feature
// with role "boundary".
func (d *Dataset) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if d == nil {
		return fc
	}
	for i := range d.parcels {
		p := &d.parcels[i]
		f := geojson.NewFeature(p.Polygon())
		f.Properties = cloneProperties(p.Properties)
		f.Properties["id"] = p.ID
		f.Properties["part"] = p.Part
		f.Properties["centroid"] = []float64{p.Centroid[0], p.Centroid[1]}
		fc.Append(f)
	}
	if mp, ok := d.Boundary(); ok {
		var g orb.Geometry = mp
		if len(mp) == 1 {
			g = mp[0]
		}
		f := geojson.NewFeature(g)
		f.Properties["role"] = "boundary"
		fc.Append(f)
	}
	return fc
}
