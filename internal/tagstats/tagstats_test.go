package tagstats

import (
	"reflect"
	"testing"
)

func TestEmptyCollector(t *testing.T) {
	c := NewCollector()
	if keys := c.SignificantKeys("node"); keys != nil {
		t.Errorf("expected nil for empty collector, got %v", keys)
	}
}

func TestGlobalBucket(t *testing.T) {
	c := NewCollector()
	c.Add("node", "highway")
	c.Add("way", "highway")
	if got := c.Count(AllKinds, "highway"); got != 2 {
		t.Errorf("all-bucket count = %d, want 2", got)
	}
	if got := c.Count("node", "highway"); got != 1 {
		t.Errorf("node count = %d, want 1", got)
	}
}

func TestSignificantKeysThreshold(t *testing.T) {
	c := NewCollector()
	// 100 occurrences of "highway", one-off junk keys. With 11 distinct
	// keys and 110 total, threshold = 110/(11*20) = 0. One-off keys with
	// count 1 still pass a zero threshold, so push the totals up until the
	// threshold bites.
	for i := 0; i < 100; i++ {
		c.Add("way", "highway")
		c.Add("way", "name")
	}
	junk := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range junk {
		c.Add("way", k)
	}
	// total=208, distinct=10, threshold = 208/200 = 1: junk keys (count 1)
	// are filtered, highway and name (count 100) survive.
	got := c.SignificantKeys("way")
	want := []string{"highway", "name"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SignificantKeys = %v, want %v", got, want)
	}
}

func TestSignificantKeysSorted(t *testing.T) {
	c := NewCollector()
	c.AddAll("relation", map[string]string{"type": "route", "name": "x", "ref": "7"})
	got := c.SignificantKeys("relation")
	want := []string{"name", "ref", "type"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SignificantKeys = %v, want %v", got, want)
	}
}
