package testutil

import (
	"testing"

	"github.com/roach88/railpos/internal/ribbon"
)

// LinePoints is the number of vertices in LineModel.
const LinePoints = 101

// LineStepDeg is the longitude step between LineModel vertices.
const LineStepDeg = 0.01

// KmPerDegree is the haversine length of one degree of longitude on the
// equator, matching the distances the ribbon package computes.
var KmPerDegree = ribbon.DistanceMeters(0, 0, 0, 1) / 1000

// LineModel returns a straight ribbon along the equator from longitude 0
// to 1, with PK = 100 + s_km (PK increases eastwards).
func LineModel(tb testing.TB) *ribbon.Model {
	tb.Helper()

	pts := make([]ribbon.Point, LinePoints)
	for i := range pts {
		lon := float64(i) * LineStepDeg
		pts[i] = ribbon.Point{SKm: lon * KmPerDegree, Lat: 0, Lon: lon}
	}
	end := pts[len(pts)-1]
	anchors := []ribbon.Anchor{
		{PK: 100, SKm: 0, Lat: 0, Lon: 0, Label: "Origin"},
		{PK: 100 + end.SKm, SKm: end.SKm, Lat: 0, Lon: end.Lon, Label: "End"},
	}

	m, err := ribbon.New("test-line", pts, anchors)
	if err != nil {
		tb.Fatalf("build test line: %v", err)
	}
	return m
}

// LonAtKm returns the longitude on LineModel at curvilinear distance sKm.
func LonAtKm(sKm float64) float64 {
	return sKm / KmPerDegree
}
