// Package ribbon holds the rail reference model: the static geometry every
// live position is measured against.
//
// The model has two parts:
//
//   - the ribbon, a dense ordered polyline of (lat, lon) points, each
//     carrying s_km, the cumulative curvilinear distance from a fixed origin;
//   - a sparse table of kilometer-marker (PK) anchors tying a PK value to an
//     s_km on the ribbon.
//
// A line that crosses from one marker system to another (a border, a
// high-speed section joining a classic line) has one anchor table per
// system, called a reference, each applying over its own s_km zone. A PK
// is always interpolated within a single reference.
//
// A Model is loaded once and is read-only afterwards, so it can be shared
// freely between goroutines. Distances use a spherical (haversine)
// approximation, adequate at track scale.
package ribbon
