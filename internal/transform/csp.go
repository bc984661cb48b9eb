package transform

import (
	"regexp"
	"strings"
)

var cspMetaRe = regexp.MustCompile(`(?is)(<meta\s+http-equiv=["']Content-Security-Policy["']\s+content=")([^"]*)(")`)

// AllowScriptSources adds sources to the script-src directive of the
// document's Content-Security-Policy
func AllowScriptSources(doc string, sources ...string) string {
	return rewritePolicy(doc, func(fields []string) []string {
		for _, s := range sources {
			if !containsField(fields, s) {
				fields = append(fields, s)
			}
		}
		return fields
	})
}

// allowDataScripts permits data: scripts, placed next to blob: when present
func allowDataScripts(doc string) string {
	return rewritePolicy(doc, func(fields []string) []string {
		if containsField(fields, "data:") {
			return fields
		}
		for i, f := range fields {
			if f == "blob:" {
				out := append([]string{}, fields[:i+1]...)
				out = append(out, "data:")
				return append(out, fields[i+1:]...)
			}
		}
		return append(fields, "data:")
	})
}

// rewritePolicy edits the script-src fields (directive name excluded) of
// every CSP meta tag. Policies it does not change keep their exact bytes.
func rewritePolicy(doc string, edit func([]string) []string) string {
	return cspMetaRe.ReplaceAllStringFunc(doc, func(m string) string {
		sm := cspMetaRe.FindStringSubmatch(m)
		directives := strings.Split(sm[2], ";")
		for i, d := range directives {
			fields := strings.Fields(d)
			if len(fields) == 0 || !strings.EqualFold(fields[0], "script-src") {
				continue
			}
			edited := edit(append([]string{}, fields[1:]...))
			if len(edited) == len(fields)-1 {
				return m
			}
			prefix := ""
			if i > 0 {
				prefix = " "
			}
			directives[i] = prefix + fields[0] + " " + strings.Join(edited, " ")
			return sm[1] + strings.Join(directives, ";") + sm[3]
		}
		return m
	})
}

func containsField(fields []string, s string) bool {
	for _, f := range fields {
		if f == s {
			return true
		}
	}
	return false
}
