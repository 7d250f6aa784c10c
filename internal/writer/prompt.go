package writer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querywright/querywright/internal/db"
	"github.com/querywright/querywright/internal/knowledge"
)

// Base code models complete comment-and-code context better than chat
// instructions, so the prompt is framed as a SQL file and ends mid
// statement for the model to complete.
const promptTemplate = `/* Database Schema */
%s

/* Relevant Examples */
%s
/* User Question: %s */
/* Previous Errors to fix: %s */

/* CRITICAL RULES:
   1. ALWAYS use table aliases (e.g. p.list_price, oi.list_price) to prevent "Ambiguous column" errors.
   2. Use explicit JOINs.
*/

-- Generate the valid %s SQL query for the question:
SELECT`

func buildPrompt(schemaText string, ragContext knowledge.Context, question, errorHistory string, dialect db.Dialect) string {
	return fmt.Sprintf(promptTemplate, schemaText, renderContext(ragContext), question, errorHistory, dialect.DisplayName())
}

func renderContext(ctx knowledge.Context) string {
	if ctx.Empty() {
		return ""
	}
	var b strings.Builder
	if len(ctx.Learned) > 0 {
		b.WriteString("Possibly Relevant Past Queries:\n")
		for _, entry := range ctx.Learned {
			fmt.Fprintf(&b, "- Q: %s\n  SQL: %s\n", entry.Prompt, entry.SQL)
		}
	}
	if len(ctx.Docs) > 0 {
		b.WriteString("Syntax Reference:\n")
		for _, entry := range ctx.Docs {
			fmt.Fprintf(&b, "- %s\n", entry.Content)
		}
	}
	return b.String()
}

var (
	fenceRe      = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)\\s*```")
	chatPrefixRe = regexp.MustCompile(`(?is)^(here is the sql|sure|the query is|based on the schema).*?:`)
)

// CleanResponse reduces a model reply to a bare SQL statement. Fenced
// blocks are unwrapped and conversational lead-ins stripped; a bare
// completion is re-prefixed with SELECT since the prompt ends mid
// statement.
func CleanResponse(raw string) string {
	sqlText := strings.TrimSpace(raw)
	if match := fenceRe.FindStringSubmatch(sqlText); match != nil {
		sqlText = strings.TrimSpace(match[1])
	} else {
		sqlText = strings.TrimSpace(chatPrefixRe.ReplaceAllString(sqlText, ""))
	}
	if sqlText == "" {
		return ""
	}
	upper := strings.ToUpper(sqlText)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		sqlText = "SELECT " + sqlText
	}
	return sqlText
}
