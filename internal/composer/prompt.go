// Package composer assembles the model prompt for answering a question
// about a document: grounding instruction, recent conversation, retrieved
// passages, and the question itself.
package composer

import (
	"strings"

	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

const instruction = "Use the following pieces of context (or the previous conversation if needed) to answer the user's question in markdown format."

const divider = "\n\n----------------\n\n"

// BuildPrompt produces the two-message prompt for one answering turn. The
// history is rendered oldest first; passages appear in descending relevance
// order, joined by blank lines. Nothing is truncated here: the retrieval
// cap and the history window bound the input upstream.
func BuildPrompt(question string, passages []vector.ScoredPassage, history []storage.Message) []ollama.Message {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\nIf you don't know the answer, just say that you don't know, don't try to make up an answer.")
	sb.WriteString(divider)

	sb.WriteString("PREVIOUS CONVERSATION:\n")
	for _, m := range history {
		if m.IsUserMessage {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	sb.WriteString(divider)

	sb.WriteString("CONTEXT:\n")
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Text)
	}

	sb.WriteString("\n\nUSER INPUT: ")
	sb.WriteString(question)

	return []ollama.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: sb.String()},
	}
}
