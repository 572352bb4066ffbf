package rag

import (
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/prompts"
)

const answerTemplate = `Given the following documents, answer the question.
If the documents do not contain the answer, say that you don't know.

Documents:
{{range .documents}}---
{{.}}
{{end}}
Question: {{.question}}
Answer:`

var answerPrompt = prompts.NewPromptTemplate(answerTemplate, []string{"documents", "question"})

// BuildPrompt renders the answering prompt for question over hits.
func BuildPrompt(question string, hits []Hit) (string, error) {
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Content
	}
	out, err := answerPrompt.Format(map[string]any{
		"documents": docs,
		"question":  question,
	})
	if err != nil {
		return "", errors.Wrap(err, "rag: render prompt")
	}
	return out, nil
}
