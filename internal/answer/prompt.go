package answer

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

const systemPrompt = `You are a precise codebase assistant. Answer concisely using only the provided snippets. Always include citations with file paths and line ranges. If unsure, say you are not confident.

Guidelines:
- Explain in 2-5 sentences
- List citations as: path:start-end
- If multiple files contribute, describe their roles briefly
- If answer is uncertain, state what is missing and suggest where to look next
- Use the exact file paths and line numbers provided in the snippets
- Do not make up information not present in the provided code`

func buildPrompt(question string, chunks []vectorstore.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Relevant snippets:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "\n--- %s\n", citationRef(c.Path, c.StartLine, c.EndLine))
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteByte('\n')
	}
	b.WriteString("\nInstructions:\n")
	b.WriteString("- Explain in 2-5 sentences.\n")
	b.WriteString("- List citations as: path:start-end.\n")
	b.WriteString("- If multiple files contribute, describe their roles briefly.\n")
	b.WriteString("- If answer is uncertain, state what is missing and suggest where to look next.\n")
	return b.String()
}
