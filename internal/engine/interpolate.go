package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {{act_name}} references in text inputs.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// interpolate replaces {{act_name}} placeholders with prior acts' response
// text. A reference to an act that has not completed, or completed with no
// response, fails with ErrMissingContext.
func interpolate(text string, contexts map[string]string) (string, error) {
	var missing []string

	result := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := contexts[name]
		if !ok || value == "" {
			missing = append(missing, name)
			return match
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingContext, strings.Join(missing, ", "))
	}
	return result, nil
}
