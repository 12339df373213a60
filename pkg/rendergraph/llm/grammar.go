package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// NumberingGrammar returns a GBNF grammar forcing exactly count lines
// numbered "1. " through "count. ".
func NumberingGrammar(count int) string {
	if count < 1 {
		return ""
	}
	items := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		items = append(items, fmt.Sprintf("item%d", i))
	}

	lines := []string{"root ::= " + strings.Join(items, " ")}
	for i := 1; i <= count; i++ {
		if i < count {
			lines = append(lines, fmt.Sprintf(`item%d ::= "%d. " line "\n"`, i, i))
		} else {
			lines = append(lines, fmt.Sprintf(`item%d ::= "%d. " line`, i, i))
		}
	}
	lines = append(lines, `line ::= [^\n]+`)
	return strings.Join(lines, "\n")
}

// Matches "1.", "1)", "1 -", "1:" and "Prompt 1:" style item headings.
var itemHeading = regexp.MustCompile(`(?i)^\s*(?:prompt\s*)?(\d+)\s*[.):\-]\s*(.*)$`)

// SplitNumbered splits model output into numbered items. Lines without a
// heading continue the previous item; text before the first heading is
// dropped. Output without any heading yields one item.
func SplitNumbered(text string) []string {
	var (
		items []string
		cur   *strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			items = append(items, s)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if m := itemHeading.FindStringSubmatch(line); m != nil {
			flush()
			cur = &strings.Builder{}
			cur.WriteString(m[2])
			continue
		}
		if cur != nil && strings.TrimSpace(line) != "" {
			cur.WriteString(" ")
			cur.WriteString(strings.TrimSpace(line))
		}
	}
	flush()

	if len(items) == 0 {
		if s := strings.TrimSpace(text); s != "" {
			return []string{s}
		}
	}
	return items
}
