package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompt_DefaultTemplate(t *testing.T) {
	p, err := NewPrompt("")
	require.NoError(t, err)
	out, err := p.Render("What is X?", []string{"chunk one", "chunk two"})
	require.NoError(t, err)
	assert.Equal(t,
		"Answer the question based only on the following context:\nchunk one\n\nchunk two\n\nQuestion: What is X?\n",
		out)
}

func TestPrompt_CustomTemplate(t *testing.T) {
	p, err := NewPrompt("Q={{.Question}} C={{.Context}}")
	require.NoError(t, err)
	out, err := p.Render("q", nil)
	require.NoError(t, err)
	assert.Equal(t, "Q=q C=", out)
}

func TestPrompt_InvalidTemplate(t *testing.T) {
	_, err := NewPrompt("{{.Question")
	assert.Error(t, err)
}
