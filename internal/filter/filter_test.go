package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pentimento/internal/model"
)

var sampleDoc = model.Document{
	"temp": 25.0,
	"unit": "C",
	"site": model.Document{"name": "roof", "floor": 3.0},
	"ok":   true,
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"equals string", Equals{Path: "unit", Value: "C"}, true},
		{"equals wrong value", Equals{Path: "unit", Value: "F"}, false},
		{"equals number", Equals{Path: "temp", Value: 25.0}, true},
		{"equals int literal", Equals{Path: "temp", Value: 25}, true},
		{"equals bool", Equals{Path: "ok", Value: true}, true},
		{"equals nested", Equals{Path: "site.name", Value: "roof"}, true},
		{"equals missing path", Equals{Path: "nope", Value: 1.0}, false},
		{"equals structured leaf", Equals{Path: "site", Value: "roof"}, false},
		{"compare lt", Compare{Path: "temp", Op: OpLT, Value: 30}, true},
		{"compare ge", Compare{Path: "site.floor", Op: OpGE, Value: 3}, true},
		{"compare non-numeric", Compare{Path: "unit", Op: OpLT, Value: 1}, false},
		{"exists", Exists{Path: "site.name"}, true},
		{"exists missing", Exists{Path: "site.zip"}, false},
		{"and", And{Preds: []Predicate{
			Equals{Path: "unit", Value: "C"},
			Compare{Path: "temp", Op: OpGT, Value: 20},
		}}, true},
		{"and short-circuits false", And{Preds: []Predicate{
			Equals{Path: "unit", Value: "F"},
			Equals{Path: "temp", Value: 25.0},
		}}, false},
		{"empty and matches", And{}, true},
		{"or", Or{Preds: []Predicate{
			Equals{Path: "unit", Value: "F"},
			Equals{Path: "unit", Value: "C"},
		}}, true},
		{"empty or matches nothing", Or{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.pred, sampleDoc))
		})
	}
}

func TestMatcherNilPredicate(t *testing.T) {
	assert.Nil(t, Matcher(nil))
}

func TestSQL(t *testing.T) {
	sql, params, err := SQL(Equals{Path: "site.name", Value: "roof"})
	require.NoError(t, err)
	assert.Equal(t, "json_extract(doc, '$.site.name') = ?", sql)
	assert.Equal(t, []any{"roof"}, params)

	sql, params, err = SQL(And{Preds: []Predicate{
		Equals{Path: "unit", Value: "C"},
		Compare{Path: "temp", Op: OpGT, Value: 20},
	}})
	require.NoError(t, err)
	assert.Equal(t,
		"(json_extract(doc, '$.unit') = ?) AND (json_extract(doc, '$.temp') > ?)", sql)
	assert.Equal(t, []any{"C", 20.0}, params)

	sql, params, err = SQL(Exists{Path: "site"})
	require.NoError(t, err)
	assert.Equal(t, "json_extract(doc, '$.site') IS NOT NULL", sql)
	assert.Empty(t, params)

	sql, _, err = SQL(nil)
	require.NoError(t, err)
	assert.Equal(t, "1", sql)
}

func TestSQLRejectsHostilePaths(t *testing.T) {
	for _, path := range []string{"", "a.", ".a", "a'b", "a b", `a"b`, "a;drop"} {
		_, _, err := SQL(Equals{Path: path, Value: 1})
		assert.Error(t, err, "path %q", path)
	}
}

func TestParse(t *testing.T) {
	pred, err := Parse([]string{"unit=C", "temp>20", "site.name"})
	require.NoError(t, err)

	and, ok := pred.(And)
	require.True(t, ok)
	require.Len(t, and.Preds, 3)
	assert.Equal(t, Equals{Path: "unit", Value: "C"}, and.Preds[0])
	assert.Equal(t, Compare{Path: "temp", Op: OpGT, Value: 20}, and.Preds[1])
	assert.Equal(t, Exists{Path: "site.name"}, and.Preds[2])

	assert.True(t, Match(pred, sampleDoc))
}

func TestParseValueTyping(t *testing.T) {
	pred, err := Parse([]string{"temp=25"})
	require.NoError(t, err)
	assert.Equal(t, Equals{Path: "temp", Value: 25.0}, pred)

	pred, err = Parse([]string{"ok=true"})
	require.NoError(t, err)
	assert.Equal(t, Equals{Path: "ok", Value: true}, pred)

	pred, err = Parse([]string{"unit=C"})
	require.NoError(t, err)
	assert.Equal(t, Equals{Path: "unit", Value: "C"}, pred)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]string{"temp<abc"})
	assert.Error(t, err)

	_, err = Parse([]string{"=5"})
	assert.Error(t, err)

	pred, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, pred)
}
