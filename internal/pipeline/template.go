package pipeline

import (
	"fmt"
	"strings"
)

// Render substitutes positional {{1}}, {{2}}, ... placeholders in a template
// body. Placeholders without a matching variable are left untouched so a
// short variable list is visible in the rendered output rather than silently
// blanked.
func Render(body string, variables []string) string {
	out := body
	for i, v := range variables {
		out = strings.ReplaceAll(out, fmt.Sprintf("{{%d}}", i+1), v)
	}
	return out
}
