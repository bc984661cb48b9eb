package transform

import "strings"

var (
	backtickEscapes      = strings.NewReplacer(`\\\\`, `\\`, "\\`", "`", `\${`, "${")
	interpolationEscapes = strings.NewReplacer(`\${`, "${")
)

// UnescapeTemplateLiterals reverses the escaping some model-generated sources
// carry around template literals. Nothing in this service applies it. Every
// module script containing an escaped backtick gets one pass over escaped
// backticks, interpolation markers and quadruple backslashes. A script with
// only escaped interpolation markers keeps its backslashes.
func UnescapeTemplateLiterals(doc string) string {
	return rewriteBlocks(moduleScriptRe, doc, func(body string) string {
		switch {
		case strings.Contains(body, "\\`"):
			return backtickEscapes.Replace(body)
		case strings.Contains(body, `\${`):
			return interpolationEscapes.Replace(body)
		}
		return body
	})
}
