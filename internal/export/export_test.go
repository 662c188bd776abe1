package export

import (
	"testing"

	"github.com/julienmarie/spatial/internal/dataset"
)

func TestWKT(t *testing.T) {
	line := []dataset.WayPoint{
		{OSMID: 1, Lon: 0, Lat: 0},
		{OSMID: 2, Lon: 1, Lat: 0.5},
	}
	tri := []dataset.WayPoint{
		{OSMID: 1, Lon: 0, Lat: 0},
		{OSMID: 2, Lon: 1, Lat: 0},
		{OSMID: 3, Lon: 0, Lat: 1},
	}

	tests := []struct {
		name   string
		gtype  string
		points []dataset.WayPoint
		want   string
	}{
		{"line", "line", line, "LINESTRING(0 0,1 0.5)"},
		{"single point", "line", line[:1], "POINT(0 0)"},
		{"polygon ring closes", "polygon", tri, "POLYGON((0 0,1 0,0 1,0 0))"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := wkt(tc.gtype, tc.points); got != tc.want {
				t.Errorf("wkt() = %q, want %q", got, tc.want)
			}
		})
	}
}
