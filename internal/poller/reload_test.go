package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainpulse/internal/config"
)

func specNamed(name, url string) config.ChainSpec {
	return config.ChainSpec{Name: name, RPCURL: url}
}

func TestDiffNoChanges(t *testing.T) {
	current := []config.ChainSpec{specNamed("a", "https://a"), specNamed("b", "https://b")}

	plan := Diff(current, current)
	assert.True(t, plan.Empty())
}

func TestDiffAddAndRemove(t *testing.T) {
	current := []config.ChainSpec{specNamed("a", "https://a"), specNamed("b", "https://b")}
	next := []config.ChainSpec{specNamed("a", "https://a"), specNamed("c", "https://c")}

	plan := Diff(current, next)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "b", plan.Remove[0])
	require.Len(t, plan.Add, 1)
	assert.Equal(t, "c", plan.Add[0].Name)
	assert.Empty(t, plan.Replace)
}

func TestDiffRPCURLChangeIsRemoveThenAdd(t *testing.T) {
	current := []config.ChainSpec{specNamed("a", "https://old")}
	next := []config.ChainSpec{specNamed("a", "https://new")}

	plan := Diff(current, next)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "a", plan.Remove[0])
	require.Len(t, plan.Add, 1)
	assert.Equal(t, "https://new", plan.Add[0].RPCURL)
	assert.Empty(t, plan.Replace)
}

func TestDiffNonIdentityChangeIsReplaceInPlace(t *testing.T) {
	current := []config.ChainSpec{specNamed("a", "https://a")}

	changed := specNamed("a", "https://a")
	changed.PollInterval = "30s"
	changed.Accounts = []config.AccountSpec{{Name: "x", Address: "0x1111111111111111111111111111111111111111"}}

	plan := Diff(current, []config.ChainSpec{changed})
	assert.Empty(t, plan.Remove)
	assert.Empty(t, plan.Add)
	require.Len(t, plan.Replace, 1)
	assert.Equal(t, "30s", plan.Replace[0].PollInterval)
}

func TestDiffAppliedTwiceIsNoOp(t *testing.T) {
	current := []config.ChainSpec{specNamed("a", "https://a")}
	next := []config.ChainSpec{specNamed("a", "https://a"), specNamed("b", "https://b")}

	first := Diff(current, next)
	assert.False(t, first.Empty())

	second := Diff(next, next)
	assert.True(t, second.Empty())
}
