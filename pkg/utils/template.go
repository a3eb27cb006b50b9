package utils

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate replaces {{name}} placeholders with vars. Unknown
// placeholders are left untouched and reported in missing.
func RenderTemplate(body string, vars map[string]string) (out string, missing []string) {
	seen := map[string]bool{}
	out = placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return m
	})
	return out, missing
}

// TemplateVariables lists the distinct placeholders in body, sorted.
func TemplateVariables(body string) []string {
	set := map[string]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		set[strings.TrimSpace(m[1])] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
