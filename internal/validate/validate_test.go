package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pentimento/internal/model"
)

const readingSchema = `
temp: number & >=-50 & <=100
unit: "C" | "F"
site?: {
	name: string
}
`

func TestCheckValidDocument(t *testing.T) {
	s, err := CompileSchema(readingSchema)
	require.NoError(t, err)

	violations := s.Check(model.Document{
		"_id":  "r1",
		"temp": 21.5,
		"unit": "C",
		"site": model.Document{"name": "roof"},
	})
	assert.Empty(t, violations)
}

func TestCheckReportsAllViolations(t *testing.T) {
	s, err := CompileSchema(readingSchema)
	require.NoError(t, err)

	violations := s.Check(model.Document{
		"_id":  "r1",
		"temp": 999,
		"unit": "K",
	})
	require.NotEmpty(t, violations)

	paths := make(map[string]bool)
	for _, v := range violations {
		paths[v.Path] = true
	}
	assert.True(t, paths["temp"])
	assert.True(t, paths["unit"])
}

func TestCheckIgnoresEngineFields(t *testing.T) {
	s, err := CompileSchema(readingSchema)
	require.NoError(t, err)

	violations := s.Check(model.Document{
		"_id":       "r1",
		"__deleted": true,
		"temp":      20,
		"unit":      "C",
		model.FieldPreviousValues: model.Document{
			model.FieldUpdateID: "b1",
		},
	})
	assert.Empty(t, violations)
}

func TestCheckMissingRequiredField(t *testing.T) {
	s, err := CompileSchema(readingSchema)
	require.NoError(t, err)

	violations := s.Check(model.Document{"_id": "r1", "temp": 20})
	assert.NotEmpty(t, violations)
}

func TestCompileSchemaRejectsBadSource(t *testing.T) {
	_, err := CompileSchema(`temp: number &`)
	assert.Error(t, err)
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reading.cue")
	require.NoError(t, os.WriteFile(path, []byte(readingSchema), 0o644))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Empty(t, s.Check(model.Document{"temp": 20, "unit": "F"}))

	_, err = LoadSchema(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
