// Package llm builds the grounded question-answering prompt shared by generators.
package llm

import (
	"strings"
	"text/template"
)

// DefaultPromptTemplate restricts the model to the retrieved context.
const DefaultPromptTemplate = `Answer the question based only on the following context:
{{.Context}}

Question: {{.Question}}
`

// Prompt renders a question and its retrieved contexts into model input.
type Prompt struct {
	tmpl *template.Template
}

// NewPrompt parses text as a text/template with .Context and .Question fields.
// An empty text selects DefaultPromptTemplate.
func NewPrompt(text string) (*Prompt, error) {
	if text == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return &Prompt{tmpl: tmpl}, nil
}

// Render joins contexts with blank lines and fills the template.
func (p *Prompt) Render(question string, contexts []string) (string, error) {
	var b strings.Builder
	err := p.tmpl.Execute(&b, struct {
		Context  string
		Question string
	}{
		Context:  strings.Join(contexts, "\n\n"),
		Question: question,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
