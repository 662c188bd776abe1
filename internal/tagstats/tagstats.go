// Package tagstats counts tag key usage per entity kind during an import.
// The counters decide which free-form tag keys are common enough to be
// promoted to queryable schema once the import completes.
package tagstats

import "sort"

// AllKinds is the bucket that aggregates keys across every entity kind.
const AllKinds = "all"

type kindStats struct {
	total int
	keys  map[string]int
}

// Collector accumulates per-kind and global tag key frequencies.
type Collector struct {
	kinds map[string]*kindStats
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{kinds: make(map[string]*kindStats)}
}

func (c *Collector) forKind(kind string) *kindStats {
	ks, ok := c.kinds[kind]
	if !ok {
		ks = &kindStats{keys: make(map[string]int)}
		c.kinds[kind] = ks
	}
	return ks
}

// Add counts one occurrence of key for the given entity kind, and in the
// global bucket.
func (c *Collector) Add(kind, key string) {
	for _, k := range []string{kind, AllKinds} {
		ks := c.forKind(k)
		ks.total++
		ks.keys[key]++
	}
}

// AddAll counts every key of a tag bag.
func (c *Collector) AddAll(kind string, tags map[string]string) {
	for key := range tags {
		c.Add(kind, key)
	}
}

// Count returns how many times key was seen for kind.
func (c *Collector) Count(kind, key string) int {
	if ks, ok := c.kinds[kind]; ok {
		return ks.keys[key]
	}
	return 0
}

// SignificantKeys returns, sorted, every key whose count exceeds
// total/(distinct*20) for the kind. The relative threshold drops long-tail
// one-off keys before they reach the schema.
func (c *Collector) SignificantKeys(kind string) []string {
	ks, ok := c.kinds[kind]
	if !ok || len(ks.keys) == 0 {
		return nil
	}
	threshold := ks.total / (len(ks.keys) * 20)
	keys := make([]string, 0, len(ks.keys))
	for key, count := range ks.keys {
		if count > threshold {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
