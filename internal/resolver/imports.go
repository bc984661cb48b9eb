package resolver

import (
	"regexp"
	"sort"
	"strings"
)

var (
	importFromRe   = regexp.MustCompile(`\bimport\s+([^'";]*?)\s*\bfrom\s*['"]([^'"]+)['"]`)
	namedClauseRe  = regexp.MustCompile(`\{([^}]*)\}`)
	bareSpecRe     = regexp.MustCompile(`^(?:@[\w.-]+/)?[\w.-]+`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	typeOnlyPrefix = "type "
)

// NamedImports returns the names imported from each module specifier in code
func NamedImports(code string) map[string][]string {
	out := map[string][]string{}
	for _, m := range importFromRe.FindAllStringSubmatch(code, -1) {
		clause, from := m[1], m[2]
		braces := namedClauseRe.FindStringSubmatch(clause)
		if braces == nil {
			continue
		}
		for _, spec := range strings.Split(braces[1], ",") {
			spec = whitespaceRe.ReplaceAllString(strings.TrimSpace(spec), " ")
			spec = strings.TrimPrefix(spec, typeOnlyPrefix)
			if spec == "" {
				continue
			}
			name := strings.SplitN(spec, " ", 2)[0]
			out[from] = appendUnique(out[from], name)
		}
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}

// ImportedPackages returns the bare package names code imports, sorted
func ImportedPackages(code string) []string {
	var out []string
	for _, m := range importFromRe.FindAllStringSubmatch(code, -1) {
		spec := m[2]
		if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") || strings.Contains(spec, ":") {
			continue
		}
		if pkg := bareSpecRe.FindString(spec); pkg != "" {
			out = appendUnique(out, pkg)
		}
	}
	sort.Strings(out)
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
