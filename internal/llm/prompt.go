package llm

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/osmetric/devwatch/internal/eventlog"
)

// systemPrompt frames the model as an event log analyst. The user
// prompt carries the digest and the scan scope.
const systemPrompt = `You are a senior Windows administrator analyzing system event logs for device health. Your role is to judge whether the supplied event records show an abnormal hardware pattern.

**Analysis Framework:**

1. **Repetition** - The same (source, event ID) pair recurring within a short window suggests a flapping device or failing driver.

2. **Clustering** - Events bunched around one point in time suggest a single incident; an even spread suggests background noise.

3. **Device removal** - Surprise removals, disconnects, and enumeration failures are the primary abnormal signals.

**Output Requirements:**

Respond in plain text with exactly these numbered sections:

1. Verdict: one sentence stating "normal" or "abnormal" and why
2. Patterns: repetition and clustering you observed
3. Probable cause: only if the evidence supports one, otherwise "insufficient evidence"
4. Recommended action: one concrete next step

**Analysis Principles:**
- Judge only from the records provided, never invent events
- Prefer "insufficient evidence" over speculation
- Be concise; each section is one to three sentences`

// userPrompt builds the request content: scan scope, then the digest.
func (c *Client) userPrompt(summary string, criteria eventlog.Criteria) string {
	var prompt strings.Builder

	prompt.WriteString("SCAN SCOPE:\n")
	prompt.WriteString("- Event log: " + c.cfg.LogName + "\n")
	prompt.WriteString("- Matched sources: " + joinOrNone(criteria.Sources) + "\n")
	prompt.WriteString("- Matched event IDs: " + joinOrNone(formatIDs(criteria.EventIDs)) + "\n")
	prompt.WriteString("- Collected at: " + c.now().Format(eventlog.DetailTimeLayout) + "\n\n")

	prompt.WriteString("EVENT DIGEST:\n")
	prompt.WriteString(sanitizeContent(summary))
	prompt.WriteString("\n\n")

	prompt.WriteString("Please analyze the digest above and answer in the four numbered sections.")

	return prompt.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func formatIDs(ids []uint16) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatUint(uint64(id), 10)
	}
	return out
}

// promptInjectionPatterns contains regex patterns for common prompt
// injection attempts. Event messages are attacker-influenceable text,
// so the digest is filtered before it reaches the model.
var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)\bASSISTANT\s*:`),
	regexp.MustCompile(`(?i)\bSYSTEM\s*:`),
}

// sanitizeContent strips non-printable characters and known prompt
// injection phrases from digest text.
func sanitizeContent(content string) string {
	var sanitized strings.Builder
	sanitized.Grow(len(content))

	for _, r := range content {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	for _, pattern := range promptInjectionPatterns {
		result = pattern.ReplaceAllString(result, "[FILTERED]")
	}
	return result
}
