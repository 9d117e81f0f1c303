package substitute

import "regexp"

var tokenPattern = regexp.MustCompile(`\{\{([\w.-]+)\}\}`)

// Substitute replaces {{key}} tokens in template with values from data.
// Unknown keys resolve to the empty string. Replacement is a single pass, so
// a value that itself contains {{...}} is emitted literally.
func Substitute(template string, data map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		return data[match[2:len(match)-2]]
	})
}

// Variables returns the distinct keys referenced by template in order of
// first appearance.
func Variables(template string) []string {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		if len(m) > 1 && !seen[m[1]] {
			vars = append(vars, m[1])
			seen[m[1]] = true
		}
	}
	return vars
}
