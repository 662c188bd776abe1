package locidx

import (
	"math"
	"path/filepath"
	"testing"
)

func TestPutGet(t *testing.T) {
	idx, err := Create(filepath.Join(t.TempDir(), "loc.bin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer idx.Close()

	idx.Put(42, 56.0420950, 12.9693483)
	lat, lon, ok := idx.Get(42)
	if !ok {
		t.Fatal("expected hit for id 42")
	}
	if math.Abs(lat-56.0420950) > 1e-6 || math.Abs(lon-12.9693483) > 1e-6 {
		t.Errorf("got (%f, %f)", lat, lon)
	}

	if _, _, ok := idx.Get(43); ok {
		t.Error("expected miss for unwritten id")
	}
	if _, _, ok := idx.Get(-1); ok {
		t.Error("expected miss for negative id")
	}
	if _, _, ok := idx.Get(maxID + 1); ok {
		t.Error("expected miss for out-of-range id")
	}
}

func TestNegativeCoordinates(t *testing.T) {
	idx, err := Create(filepath.Join(t.TempDir(), "loc.bin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer idx.Close()

	idx.Put(7, -33.8688, -70.6693)
	lat, lon, ok := idx.Get(7)
	if !ok || math.Abs(lat+33.8688) > 1e-6 || math.Abs(lon+70.6693) > 1e-6 {
		t.Errorf("got (%f, %f, %v)", lat, lon, ok)
	}
}
