package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	tmpl := MustParse("t", `{{ upper .Name }} {{ default "n/a" .Missing }} {{ join ", " .Items }} {{ score .Score }}`)

	out, err := Execute(tmpl, map[string]any{
		"Name":  "draft",
		"Items": []string{"a", "b"},
		"Score": 7.26,
	})
	require.NoError(t, err)
	assert.Equal(t, "DRAFT n/a a, b 7.3", out)
}

func TestExecute_Error(t *testing.T) {
	tmpl := MustParse("t", `{{ .Name.Field }}`)

	_, err := Execute(tmpl, map[string]any{"Name": "x"})
	assert.Error(t, err)
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bad", "{{ .Unclosed") })
}
