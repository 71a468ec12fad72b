package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LabelCache tracks every (family, labelset) a chain has published. It is the
// authoritative list consulted when the chain's series must be pruned, which
// keeps pruning proportional to the chain's own live set.
type LabelCache struct {
	mu      sync.Mutex
	entries map[string]map[string]prometheus.Labels
}

func NewLabelCache() *LabelCache {
	return &LabelCache{entries: make(map[string]map[string]prometheus.Labels)}
}

// Remember records a published labelset for a metric family.
func (c *LabelCache) Remember(family string, labels prometheus.Labels) {
	key := labelKey(labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[family] == nil {
		c.entries[family] = make(map[string]prometheus.Labels)
	}
	c.entries[family][key] = labels
}

// Contains reports whether a labelset is cached for the family.
func (c *LabelCache) Contains(family string, labels prometheus.Labels) bool {
	key := labelKey(labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[family][key]
	return ok
}

// Snapshot returns a copy of all cached entries keyed by family.
func (c *LabelCache) Snapshot() map[string][]prometheus.Labels {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]prometheus.Labels, len(c.entries))
	for family, sets := range c.entries {
		list := make([]prometheus.Labels, 0, len(sets))
		for _, labels := range sets {
			list = append(list, labels)
		}
		out[family] = list
	}
	return out
}

// Missing returns the entries present in this cache but absent from other.
// The reload path prunes exactly this set after a successful collect.
func (c *LabelCache) Missing(other *LabelCache) map[string][]prometheus.Labels {
	otherSnapshot := make(map[string]map[string]bool)

	other.mu.Lock()
	for family, sets := range other.entries {
		keys := make(map[string]bool, len(sets))
		for key := range sets {
			keys[key] = true
		}
		otherSnapshot[family] = keys
	}
	other.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]prometheus.Labels)
	for family, sets := range c.entries {
		for key, labels := range sets {
			if !otherSnapshot[family][key] {
				out[family] = append(out[family], labels)
			}
		}
	}
	return out
}

// Merge copies every entry of other into this cache. Used after a failed
// tick: series written before the failure stay accounted for.
func (c *LabelCache) Merge(other *LabelCache) {
	for family, sets := range other.Snapshot() {
		for _, labels := range sets {
			c.Remember(family, labels)
		}
	}
}

// Len returns the total number of cached labelsets.
func (c *LabelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, sets := range c.entries {
		total += len(sets)
	}
	return total
}

func labelKey(labels prometheus.Labels) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(labels[key])
	}
	return b.String()
}
