package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestLabelCacheRememberAndContains(t *testing.T) {
	cache := NewLabelCache()
	labels := prometheus.Labels{"chain": "c1", "chain_id": "1"}

	assert.False(t, cache.Contains(FamilyPollSuccess, labels))

	cache.Remember(FamilyPollSuccess, labels)
	assert.True(t, cache.Contains(FamilyPollSuccess, labels))
	assert.Equal(t, 1, cache.Len())

	// Remembering the same labelset twice is a no-op.
	cache.Remember(FamilyPollSuccess, labels)
	assert.Equal(t, 1, cache.Len())
}

func TestLabelCacheKeyOrderInsensitive(t *testing.T) {
	cache := NewLabelCache()
	cache.Remember(FamilyPollSuccess, prometheus.Labels{"a": "1", "b": "2"})

	assert.True(t, cache.Contains(FamilyPollSuccess, prometheus.Labels{"b": "2", "a": "1"}))
}

func TestLabelCacheMissing(t *testing.T) {
	old := NewLabelCache()
	old.Remember(FamilyAccountBalanceWei, prometheus.Labels{"name": "kept"})
	old.Remember(FamilyAccountBalanceWei, prometheus.Labels{"name": "dropped"})
	old.Remember(FamilyPollSuccess, prometheus.Labels{"chain": "c1"})

	current := NewLabelCache()
	current.Remember(FamilyAccountBalanceWei, prometheus.Labels{"name": "kept"})
	current.Remember(FamilyPollSuccess, prometheus.Labels{"chain": "c1"})

	missing := old.Missing(current)
	assert.Len(t, missing, 1)
	assert.Equal(t, []prometheus.Labels{{"name": "dropped"}}, missing[FamilyAccountBalanceWei])
}

func TestLabelCacheMerge(t *testing.T) {
	target := NewLabelCache()
	target.Remember(FamilyPollSuccess, prometheus.Labels{"chain": "c1"})

	other := NewLabelCache()
	other.Remember(FamilyPollSuccess, prometheus.Labels{"chain": "c1"})
	other.Remember(FamilyAccountBalanceWei, prometheus.Labels{"name": "a"})

	target.Merge(other)
	assert.Equal(t, 2, target.Len())
	assert.True(t, target.Contains(FamilyAccountBalanceWei, prometheus.Labels{"name": "a"}))
}

func TestLabelCacheSnapshotIsCopy(t *testing.T) {
	cache := NewLabelCache()
	cache.Remember(FamilyPollSuccess, prometheus.Labels{"chain": "c1"})

	snapshot := cache.Snapshot()
	delete(snapshot, FamilyPollSuccess)

	assert.True(t, cache.Contains(FamilyPollSuccess, prometheus.Labels{"chain": "c1"}))
}
