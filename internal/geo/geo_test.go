package geo

import (
	"math"
	"testing"
)

func TestBBoxInclude(t *testing.T) {
	var b BBox
	if b.IsSet() {
		t.Fatal("zero bbox must be empty")
	}
	b.Include(0, 0)
	b.Include(1, 1)
	b.Include(0, 1)
	if b.MinLon != 0 || b.MinLat != 0 || b.MaxLon != 1 || b.MaxLat != 1 {
		t.Errorf("unexpected bbox: %+v", b)
	}
	if !b.Contains(0.5, 0.5) {
		t.Error("expected bbox to contain interior point")
	}
	if b.Contains(2, 0.5) {
		t.Error("expected bbox to exclude exterior point")
	}
}

func TestBBoxIncludeBBox(t *testing.T) {
	a := NewBBox(10, 10)
	var empty BBox
	a.IncludeBBox(empty)
	if a.MinLon != 10 || a.MaxLat != 10 {
		t.Errorf("empty merge must not change box: %+v", a)
	}
	a.IncludeBBox(NewBBox(-5, 20))
	if a.MinLon != -5 || a.MaxLat != 20 {
		t.Errorf("unexpected merged box: %+v", a)
	}
}

func TestAccumulatorDowngrade(t *testing.T) {
	tests := []struct {
		name    string
		members []Summary
		outer   bool
		want    Kind
		valid   bool
	}{
		{
			name: "all lines stay multi-line",
			members: []Summary{
				{Kind: KindLine, BBox: NewBBox(0, 0), Vertices: 2},
				{Kind: KindLine, BBox: NewBBox(1, 1), Vertices: 3},
			},
			want:  KindMultiLine,
			valid: true,
		},
		{
			name: "point member downgrades to invalid",
			members: []Summary{
				{Kind: KindLine, BBox: NewBBox(0, 0), Vertices: 2},
				{Kind: KindPoint, BBox: NewBBox(1, 1), Vertices: 1},
			},
			want:  KindInvalid,
			valid: false,
		},
		{
			name: "outer role forces polygon over invalid members",
			members: []Summary{
				{Kind: KindPoint, BBox: NewBBox(0, 0), Vertices: 1},
			},
			outer: true,
			want:  KindPolygon,
			valid: true,
		},
		{
			name: "polygon member is supported",
			members: []Summary{
				{Kind: KindPolygon, BBox: NewBBox(0, 0), Vertices: 4},
			},
			want:  KindMultiLine,
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccumulator(KindMultiLine)
			for _, m := range tt.members {
				a.IncludeMember(m)
			}
			if tt.outer {
				a.ForcePolygon()
			}
			if a.Kind() != tt.want {
				t.Errorf("kind = %v, want %v", a.Kind(), tt.want)
			}
			if a.Valid() != tt.valid {
				t.Errorf("valid = %v, want %v", a.Valid(), tt.valid)
			}
		})
	}
}

func TestAccumulatorPointMemberKeepsKind(t *testing.T) {
	a := NewAccumulator(KindMultiLine)
	a.IncludePoint(3, 4)
	if a.Kind() != KindMultiLine {
		t.Errorf("point member must not downgrade kind, got %v", a.Kind())
	}
	s := a.Summary()
	if s.Vertices != 1 || !s.BBox.Contains(3, 4) {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestDistance(t *testing.T) {
	// One degree of latitude along a meridian is about 111.2 km.
	d := Distance(0, 0, 0, 1)
	if math.Abs(d-111195) > 500 {
		t.Errorf("unexpected meridian distance: %f", d)
	}
	if Distance(12.97, 56.04, 12.97, 56.04) != 0 {
		t.Error("distance to self must be zero")
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindPoint, KindLine, KindPolygon, KindMultiPoint, KindMultiLine, KindInvalid} {
		if KindFromString(k.String()) != k {
			t.Errorf("kind %v did not round-trip through %q", k, k.String())
		}
	}
}
