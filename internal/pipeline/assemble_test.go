package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleProfileScalarEarliestNonEmptyWins(t *testing.T) {
	partials := []map[string]any{
		{"name": ""},
		{"name": "Acme Corp"},
		{"name": "Acme Corporation LLC"},
	}
	merged := assembleProfile(partials)
	require.Equal(t, "Acme Corp", merged["name"])
}

func TestAssembleProfileListsUnionWithDedup(t *testing.T) {
	partials := []map[string]any{
		{"products": []any{"widgets", "gadgets"}},
		{"products": []any{"gadgets", "gizmos"}},
	}
	merged := assembleProfile(partials)
	require.ElementsMatch(t, []string{"widgets", "gadgets", "gizmos"}, merged["products"])
}

func TestAssembleProfileListsPreserveFirstSeenOrder(t *testing.T) {
	partials := []map[string]any{
		{"products": []any{"widgets", "gadgets"}},
		{"products": []any{"gizmos", "widgets"}},
	}
	merged := assembleProfile(partials)
	require.Equal(t, []string{"widgets", "gadgets", "gizmos"}, merged["products"])
}

func TestAssembleProfileIgnoresEmptyScalarsThroughout(t *testing.T) {
	partials := []map[string]any{
		{"name": ""},
		{"name": ""},
	}
	merged := assembleProfile(partials)
	_, ok := merged["name"]
	require.False(t, ok, "an all-empty scalar field should not appear in the merged profile")
}

func TestAssembleProfileMixedTypedLists(t *testing.T) {
	partials := []map[string]any{
		{"tags": []string{"a", "b"}},
		{"tags": []any{"b", "c"}},
	}
	merged := assembleProfile(partials)
	require.ElementsMatch(t, []string{"a", "b", "c"}, merged["tags"])
}

func TestAssembleProfileNonStringListFallsThroughAsScalar(t *testing.T) {
	partials := []map[string]any{
		{"score": 3.5},
		{"score": 9.0},
	}
	merged := assembleProfile(partials)
	require.Equal(t, 3.5, merged["score"])
}

func TestAssembleProfileEmptyInputYieldsEmptyMap(t *testing.T) {
	merged := assembleProfile(nil)
	require.Empty(t, merged)
}
