package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPromptsCurrentVersion(t *testing.T) {
	tmpl, err := LoadPrompts("")
	require.NoError(t, err)

	assert.NotEmpty(t, tmpl.Version)
	for _, id := range RequiredClauses {
		assert.NotEmpty(t, tmpl.Clause(id), "clause %s", id)
	}
	assert.NotEmpty(t, tmpl.EmptyContext)
}

func TestLoadPromptsUnknownVersion(t *testing.T) {
	_, err := LoadPrompts("1999-01")
	assert.Error(t, err)
}

func TestParsePromptsRejectsMissingClause(t *testing.T) {
	data := []byte(`
current: v1
versions:
  - version: v1
    persona: test
    clauses:
      - id: same_language
        text: a
      - id: grounded
        text: b
    answer: "{{.Question}}"
    condense: "{{.Question}}"
`)
	_, err := ParsePrompts(data, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next_action")
	assert.Contains(t, err.Error(), "structured_format")
}
