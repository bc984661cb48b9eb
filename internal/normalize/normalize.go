// Package normalize rewrites LLM-authored component source into a canonical
// shape: a single top-level binding named App and well-formed import syntax.
//
// The rewrites are narrow regular-expression passes rather than a parser.
// Every function here is best effort and never fails; source it does not
// recognise passes through unchanged.
package normalize

import (
	"regexp"
	"strings"
)

// ComponentName is the binding the document bootstrap mounts.
const ComponentName = "App"

const ident = `[A-Za-z_$][\w$]*`

var (
	exportDefaultRe  = regexp.MustCompile(`\bexport\s+default\s+`)
	exportClauseRe   = regexp.MustCompile(`\bexport\s*\{([^}]*)\}[ \t]*;?`)
	asDefaultSpecRe  = regexp.MustCompile(`^\s*(` + ident + `)\s+as\s+default\s*$`)
	namedFunctionRe  = regexp.MustCompile(`^(async\s+)?function(\s*\*)?\s+(` + ident + `)\s*\(`)
	anonFunctionRe   = regexp.MustCompile(`^(async\s+)?function(\s*\*)?\s*\(`)
	classRe          = regexp.MustCompile(`^class\b(\s+(` + ident + `))?`)
	arrowRe          = regexp.MustCompile(`^(async\s+)?(\([^()]*\)|` + ident + `)\s*=>`)
	hocCallRe        = regexp.MustCompile(`^(` + ident + `(?:\.` + ident + `)*)\s*\(\s*(` + ident + `)\s*(?:,[^;()]*)?\)[ \t]*(?:;|\r?\n|$)`)
	bareIdentifierRe = regexp.MustCompile(`^(` + ident + `)[ \t]*(?:;|\r?\n|$)`)
	selfAssignRe     = regexp.MustCompile(`(?m)^[ \t]*(?:const|let|var)\s+App\s*=\s*App\s*;?[ \t]*(?:\r?\n)?`)
	appBindingRe     = regexp.MustCompile(`(?:^|[^\w$.])(?:function(?:\s*\*)?\s*App\s*\(|class\s+App\b|(?:const|let|var)\s+App\s*=|import\s+App\b)`)
)

// reserved words and literals that cannot name a component binding
var reserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true, "do": true,
	"else": true, "export": true, "extends": true, "false": true, "finally": true,
	"for": true, "function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "new": true, "null": true, "return": true, "super": true,
	"switch": true, "this": true, "throw": true, "true": true, "try": true,
	"typeof": true, "var": true, "void": true, "while": true, "with": true,
	"yield": true, "let": true, "static": true, "enum": true, "await": true,
	"implements": true, "package": true, "protected": true, "interface": true,
	"private": true, "public": true, "undefined": true, "NaN": true, "Infinity": true,
	"async": true,
}

// Normalize returns code with its default export rewritten into a top-level
// App binding. Non-export syntax defects are fixed first.
func Normalize(code string) string {
	code = FixSyntax(code)

	var renamed []string
	pos := 0
	for {
		next, newPos, oldName, ok := rewriteNextExport(code, pos)
		if !ok {
			break
		}
		code = next
		pos = newPos
		if oldName != "" {
			renamed = append(renamed, oldName)
		}
	}

	// Renamed functions may still be referenced by their original name
	for _, name := range renamed {
		if referencesIdentifier(code, name) {
			code = "var " + name + " = " + ComponentName + ";\n" + code
		}
	}

	return selfAssignRe.ReplaceAllString(code, "")
}

// HasAppBinding reports whether code declares a top-level App binding
func HasAppBinding(code string) bool {
	return appBindingRe.MatchString(code)
}

// rewriteNextExport rewrites the first default export at or after pos.
// It returns the new code, the position to resume scanning from, and the
// original name of a function that was renamed to App.
func rewriteNextExport(code string, pos int) (string, int, string, bool) {
	if pos > len(code) {
		return code, pos, "", false
	}

	def := exportDefaultRe.FindStringIndex(code[pos:])
	clause := findDefaultClause(code[pos:])

	switch {
	case def == nil && clause == nil:
		return code, pos, "", false
	case clause != nil && (def == nil || clause[0] < def[0]):
		return rewriteExportClause(code, pos+clause[0], pos+clause[1])
	default:
		return rewriteExportDefault(code, pos+def[0], pos+def[1])
	}
}

// findDefaultClause finds the first `export { ... }` clause containing an `X as default` specifier
func findDefaultClause(s string) []int {
	offset := 0
	for {
		loc := exportClauseRe.FindStringSubmatchIndex(s[offset:])
		if loc == nil {
			return nil
		}
		for _, spec := range strings.Split(s[offset+loc[2]:offset+loc[3]], ",") {
			if asDefaultSpecRe.MatchString(spec) {
				return []int{offset + loc[0], offset + loc[1]}
			}
		}
		offset += loc[1]
	}
}

// rewriteExportClause handles `export { X as default, ... };`
func rewriteExportClause(code string, start, end int) (string, int, string, bool) {
	stmt := code[start:end]
	m := exportClauseRe.FindStringSubmatch(stmt)

	var target string
	var kept []string
	for _, spec := range strings.Split(m[1], ",") {
		if sm := asDefaultSpecRe.FindStringSubmatch(spec); sm != nil && target == "" {
			target = sm[1]
			continue
		}
		if strings.TrimSpace(spec) != "" {
			kept = append(kept, strings.TrimSpace(spec))
		}
	}

	replacement := ""
	if len(kept) > 0 {
		replacement = "export { " + strings.Join(kept, ", ") + " };"
	}

	others := code[:start] + code[end:]
	code = code[:start] + replacement + code[end:]
	resume := start + len(replacement)

	if target != ComponentName && !HasAppBinding(others) && !reserved[target] {
		code = appendStatement(code, "const "+ComponentName+" = "+target+";")
	}

	return code, resume, "", true
}

// rewriteExportDefault handles every `export default <...>` form. kwStart and
// kwEnd delimit the `export default ` keywords.
func rewriteExportDefault(code string, kwStart, kwEnd int) (string, int, string, bool) {
	rest := code[kwEnd:]
	replace := func(prefixLen int, with string) (string, int) {
		return code[:kwStart] + with + code[kwEnd+prefixLen:], kwStart + len(with)
	}
	appBoundElsewhere := func(prefixLen int) bool {
		return HasAppBinding(code[:kwStart] + code[kwEnd+prefixLen:])
	}

	// export default function Name(
	if m := namedFunctionRe.FindStringSubmatch(rest); m != nil {
		name := m[3]
		if name == ComponentName || appBoundElsewhere(len(m[0])) {
			out, p := replace(0, "")
			return out, p, "", true
		}
		out, p := replace(len(m[0]), m[1]+"function"+m[2]+" "+ComponentName+"(")
		return out, p, name, true
	}

	// export default function(
	if m := anonFunctionRe.FindStringSubmatch(rest); m != nil {
		if appBoundElsewhere(0) {
			out, p := replace(0, "void ")
			return out, p, "", true
		}
		out, p := replace(len(m[0]), m[1]+"function"+m[2]+" "+ComponentName+"(")
		return out, p, "", true
	}

	// export default class [Name]
	if m := classRe.FindStringSubmatch(rest); m != nil {
		name := m[2]
		if name == "extends" {
			name = ""
		}
		if name != ComponentName && appBoundElsewhere(0) {
			out, p := replace(0, "void ")
			return out, p, "", true
		}
		// A class expression's name is only in scope inside its body, so a
		// class referenced by name elsewhere stays a declaration
		if name != "" && name != ComponentName &&
			referencesIdentifier(code[:kwStart]+code[kwEnd+len(m[0]):], name) {
			out, p := replace(0, "")
			return appendStatement(out, "const "+ComponentName+" = "+name+";"), p, "", true
		}
		out, p := replace(0, "const "+ComponentName+" = ")
		return out, p, "", true
	}

	// export default (props) => ...
	if arrowRe.MatchString(rest) {
		return assignOrDiscard(code, kwStart, kwEnd, appBoundElsewhere(0))
	}

	// export default memo(X);
	if m := hocCallRe.FindStringSubmatch(rest); m != nil && !reserved[m[1]] {
		stmtLen := len(strings.TrimRight(m[0], "\r\n"))
		if m[2] == ComponentName || appBoundElsewhere(stmtLen) {
			out, p := replace(stmtLen, "")
			return out, p, "", true
		}
		out, p := replace(0, "const "+ComponentName+" = ")
		return out, p, "", true
	}

	// export default X;
	if m := bareIdentifierRe.FindStringSubmatch(rest); m != nil {
		name := m[1]
		stmtLen := len(strings.TrimRight(m[0], "\r\n"))
		out, p := replace(stmtLen, "")
		if name != ComponentName && !reserved[name] && !HasAppBinding(out) {
			out = appendStatement(out, "const "+ComponentName+" = "+name+";")
		}
		return out, p, "", true
	}

	return assignOrDiscard(code, kwStart, kwEnd, appBoundElsewhere(0))
}

// assignOrDiscard turns `export default <expr>` into `const App = <expr>`, or
// into a discarded `void <expr>` statement when App is already bound.
func assignOrDiscard(code string, kwStart, kwEnd int, appBound bool) (string, int, string, bool) {
	with := "const " + ComponentName + " = "
	if appBound {
		with = "void "
	}
	return code[:kwStart] + with + code[kwEnd:], kwStart + len(with), "", true
}

func appendStatement(code, stmt string) string {
	if code != "" && !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return code + stmt + "\n"
}

// referencesIdentifier reports whether name appears as a standalone identifier
func referencesIdentifier(code, name string) bool {
	re := regexp.MustCompile(`(?:^|[^\w$.])` + regexp.QuoteMeta(name) + `(?:[^\w$]|$)`)
	return re.MatchString(code)
}
