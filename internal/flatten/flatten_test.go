package flatten

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenSimpleNesting(t *testing.T) {
	doc := map[string]any{
		"a": 1.0,
		"b": map[string]any{
			"c": 2.0,
			"d": 3.0,
		},
	}

	flat, err := Flatten(doc)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a":   1.0,
		"b.c": 2.0,
		"b.d": 3.0,
	}, flat)
}

func TestFlattenArraysAreAtomicLeaves(t *testing.T) {
	doc := map[string]any{
		"tags": []any{"x", "y"},
		"nested": map[string]any{
			"list": []any{map[string]any{"k": 1.0}},
		},
	}

	flat, err := Flatten(doc)
	require.NoError(t, err)

	// Arrays must not be descended into, even when they hold objects.
	assert.Equal(t, []any{"x", "y"}, flat["tags"])
	assert.Equal(t, []any{map[string]any{"k": 1.0}}, flat["nested.list"])
	assert.Len(t, flat, 2)
}

func TestFlattenEmptyObjectContributesNothing(t *testing.T) {
	flat, err := Flatten(map[string]any{"a": 1.0, "e": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, flat)
}

func TestFlattenNeverEmitsRootKey(t *testing.T) {
	flat, err := Flatten(map[string]any{"a": map[string]any{"b": 1.0}})
	require.NoError(t, err)
	_, ok := flat[RootKey]
	assert.False(t, ok)
}

func TestRebuildMergesSiblings(t *testing.T) {
	flat := map[string]any{
		"a":     1.0,
		"b.c":   2.0,
		"b.d":   3.0,
		"b.e.f": 4.0,
	}

	doc, err := Rebuild(flat)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a": 1.0,
		"b": map[string]any{
			"c": 2.0,
			"d": 3.0,
			"e": map[string]any{"f": 4.0},
		},
	}, doc)
}

func TestRoundTripIdempotent(t *testing.T) {
	doc := map[string]any{
		"id": "r1",
		"outer": map[string]any{
			"inner": map[string]any{
				"leaf":  "v",
				"count": 7.0,
			},
			"flag": true,
		},
		"list": []any{1.0, 2.0},
		"none": nil,
	}

	flat, err := Flatten(doc)
	require.NoError(t, err)
	rebuilt, err := Rebuild(flat)
	require.NoError(t, err)
	assert.Equal(t, doc, rebuilt)

	// flatten(rebuild(flatten(doc))) is stable too.
	again, err := Flatten(rebuilt)
	require.NoError(t, err)
	assert.Equal(t, flat, again)
}

// deepDoc builds a chain nested to the given number of levels, with the
// scalar sitting at the deepest level.
func deepDoc(levels int) map[string]any {
	doc := map[string]any{"leaf": "bottom"}
	for i := levels - 1; i > 0; i-- {
		doc = map[string]any{"l": doc}
	}
	return doc
}

func TestFlattenAtDepthBound(t *testing.T) {
	// Exactly MaxDepth levels: fully flattened, no warning.
	flat, err := Flatten(deepDoc(MaxDepth))
	require.NoError(t, err)
	require.Len(t, flat, 1)
	for path, v := range flat {
		assert.Equal(t, "bottom", v)
		assert.Equal(t, MaxDepth, len(splitPath(path)))
	}
}

func TestFlattenBeyondDepthBound(t *testing.T) {
	flat, err := Flatten(deepDoc(MaxDepth + 2))

	var de *DepthError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, MaxDepth, de.Depth)

	// The result is partial, not lost: the over-deep remainder is kept as
	// one opaque leaf at the bound.
	require.Len(t, flat, 1)
	for _, v := range flat {
		remainder, ok := v.(map[string]any)
		require.True(t, ok, "over-deep remainder should stay an object")
		_, ok = remainder["l"]
		assert.True(t, ok)
	}
}

func TestRebuildBeyondDepthBound(t *testing.T) {
	deep := "a.b.c.d.e.f.g.h.i.j.k.l"
	doc, err := Rebuild(map[string]any{deep: 1.0})

	var de *DepthError
	require.ErrorAs(t, err, &de)

	// Still partially rebuilt: the first MaxDepth-1 levels are nested,
	// the rest stays joined in the leaf key.
	node := doc
	for i := 0; i < MaxDepth-1; i++ {
		next, ok := node[splitPath(deep)[i]].(map[string]any)
		require.True(t, ok, "level %d", i)
		node = next
	}
	assert.Equal(t, 1.0, node["j.k.l"])
}

func TestRebuildStructuredChildrenWinOverAtomic(t *testing.T) {
	// A fold can leave both an atomic value and deeper children for the
	// same path; the outcome must be deterministic.
	doc, err := Rebuild(map[string]any{
		"b":   "old-atomic",
		"b.c": 2.0,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": map[string]any{"c": 2.0}}, doc)
}

func TestIsWholeReplace(t *testing.T) {
	body := map[string]any{"a": 1.0}
	got, ok := IsWholeReplace(map[string]any{RootKey: body})
	require.True(t, ok)
	assert.Equal(t, body, got)

	_, ok = IsWholeReplace(map[string]any{RootKey: body, "x": 1.0})
	assert.False(t, ok)
	_, ok = IsWholeReplace(map[string]any{"x": 1.0})
	assert.False(t, ok)
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '.' {
			segs = append(segs, p[start:i])
			start = i + 1
		}
	}
	return segs
}
