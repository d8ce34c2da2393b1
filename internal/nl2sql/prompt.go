package nl2sql

import (
	"fmt"
	"strings"

	"github.com/healthchat/healthchat/internal/schema"
)

const systemInstruction = "You are a precise natural language to SQL translator for DuckDB. " +
	"Return ONLY the raw SQL string. No markdown, no code fences, no explanation."

// BuildPrompt is deterministic for a given table and question.
func BuildPrompt(table schema.Table, question string) string {
	return fmt.Sprintf(
		"%s\n\n%s\n\nRules:\n- Output exactly one SQL query.\n- Use only the table `%s` and the columns listed above: %s.\n- If the request is not a question about this data, output exactly: %s\n\nQuestion:\n%s",
		systemInstruction,
		table.Describe(),
		table.Name,
		strings.Join(table.ColumnNames(), ", "),
		invalidRequestSentinel,
		strings.TrimSpace(question),
	)
}
