package ribbon

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSON renders the ribbon as a LineString feature and each anchor as a
// Point feature carrying its PK and label, plus its reference name on lines
// with named references.
func (m *Model) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	line := make(orb.LineString, 0, len(m.points))
	for _, p := range m.points {
		line = append(line, orb.Point{p.Lon, p.Lat})
	}
	rf := geojson.NewFeature(line)
	rf.Properties["kind"] = "ribbon"
	rf.Properties["name"] = m.name
	rf.Properties["points"] = len(m.points)
	rf.Properties["s_km_start"] = m.points[0].SKm
	rf.Properties["s_km_end"] = m.points[len(m.points)-1].SKm
	fc.Append(rf)

	for _, t := range m.tables {
		for _, a := range t.anchors {
			af := geojson.NewFeature(orb.Point{a.Lon, a.Lat})
			af.Properties["kind"] = "anchor"
			af.Properties["pk"] = a.PK
			af.Properties["s_km"] = a.SKm
			af.Properties["label"] = a.Label
			if t.name != "" {
				af.Properties["reference"] = t.name
			}
			fc.Append(af)
		}
	}
	return fc
}
