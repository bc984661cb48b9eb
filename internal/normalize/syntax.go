package normalize

import "regexp"

var (
	// const * as X from 'pkg' is not valid syntax; the namespace form belongs to import
	constNamespaceRe = regexp.MustCompile(`\bconst(\s+\*\s+as\s+` + ident + `\s+from\s+['"][^'"\n]+['"])`)
	// import ... from React; with the specifier left unquoted
	unquotedFromRe = regexp.MustCompile(`(?m)^([ \t]*import\b[^;'"]*?\bfrom\s+)(React|ReactDOM)[ \t]*;`)
)

var unquotedModules = map[string]string{
	"React":    "react",
	"ReactDOM": "react-dom",
}

// FixSyntax repairs malformed import syntax without touching exports.
// Running it on its own output is a no-op.
func FixSyntax(code string) string {
	code = constNamespaceRe.ReplaceAllString(code, "import$1")
	return unquotedFromRe.ReplaceAllStringFunc(code, func(m string) string {
		sm := unquotedFromRe.FindStringSubmatch(m)
		return sm[1] + "'" + unquotedModules[sm[2]] + "';"
	})
}
