// Package assembler emits the self-contained HTML document that runs a
// normalized component inside a sandboxed iframe.
package assembler

import (
	"bytes"
	_ "embed"
	"html"
	"regexp"
	"strings"
	"text/template"
	"unicode"

	"github.com/fluxbase-eu/artifacts/internal/resolver"
)

// TailwindURL is the Tailwind play CDN script
const TailwindURL = "https://cdn.tailwindcss.com"

// DefaultTitle is used when the sanitized title is empty
const DefaultTitle = "Artifact"

//go:embed document.html.tmpl
var documentTemplate string

var docTmpl = template.Must(template.New("document").Parse(documentTemplate))

var (
	importStmtRe  = regexp.MustCompile(`(?m)^[ \t]*import\s*(?:[^'";]*?\s*from\s*)?['"][^'"\n]+['"][ \t]*;?[ \t]*(?:\r?\n|$)`)
	scriptCloseRe = regexp.MustCompile(`(?i)</(script)`)
)

// Options are the inputs of one document
type Options struct {
	// Code is normalized component source
	Code            string
	Resolution      *resolver.Resolution
	Title           string
	UseFrameworkEsm bool
	Tailwind        bool
}

// Document is an assembled bundle. It is never mutated after assembly.
type Document struct {
	HTML string
	Size int
	// TranspileErr is set when the component was embedded untranspiled
	TranspileErr error
}

type templateData struct {
	CSP         string
	Title       string
	Tailwind    bool
	TailwindURL string
	HeadScripts []string
	ImportMap   string
	Imports     string
	Bootstrap   string
	Body        string
	CreateRoot  string
	Namespace   string
}

// Assemble builds the document. It does not fail: a component that cannot be
// transpiled is embedded as written and reports its error in the browser.
func Assemble(opts Options) *Document {
	strategy := StrategyFor(opts.UseFrameworkEsm)

	code, transpileErr := Transpile(opts.Code)
	imports, body := HoistImports(code)
	imports = append(strategy.Imports(), imports...)

	res := opts.Resolution
	if res == nil {
		res = &resolver.Resolution{Imports: resolver.ImportMap{}}
	}

	data := templateData{
		CSP:         BuildCSP(res.Origins, strategy.ScriptSources(), opts.Tailwind),
		Title:       html.EscapeString(SanitizeTitle(opts.Title)),
		Tailwind:    opts.Tailwind,
		TailwindURL: TailwindURL,
		HeadScripts: strategy.HeadScripts(),
		ImportMap:   MarshalImportMap(res.Imports),
		Imports:     EscapeScriptClose(strings.Join(imports, "\n")),
		Bootstrap:   strategy.Bootstrap(),
		Body:        EscapeScriptClose(body),
		CreateRoot:  strategy.CreateRoot(),
		Namespace:   strategy.Namespace(),
	}

	var buf bytes.Buffer
	// The template only formats prepared strings
	_ = docTmpl.Execute(&buf, data)

	return &Document{HTML: buf.String(), Size: buf.Len(), TranspileErr: transpileErr}
}

// HoistImports separates top-level import statements from the rest of code
func HoistImports(code string) ([]string, string) {
	var imports []string
	body := importStmtRe.ReplaceAllStringFunc(code, func(stmt string) string {
		stmt = strings.TrimSpace(stmt)
		if !strings.HasSuffix(stmt, ";") {
			stmt += ";"
		}
		imports = append(imports, stmt)
		return ""
	})
	return imports, body
}

// EscapeScriptClose keeps embedded source from terminating its script element
func EscapeScriptClose(s string) string {
	return scriptCloseRe.ReplaceAllString(s, `<\/$1`)
}

// SanitizeTitle drops control characters and surrounding whitespace
func SanitizeTitle(title string) string {
	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, title)
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return DefaultTitle
	}
	return title
}

// MarshalImportMap renders an import map script body
func MarshalImportMap(imports resolver.ImportMap) string {
	return resolver.ImportMapDocument{Imports: imports}.Marshal()
}

// BuildCSP returns the Content-Security-Policy for a document loading
// modules from origins
func BuildCSP(origins, scriptSources []string, tailwind bool) string {
	script := []string{"'unsafe-inline'", "'unsafe-eval'", "blob:"}
	script = appendMissing(script, scriptSources...)
	script = appendMissing(script, origins...)
	style := []string{"'unsafe-inline'"}
	if tailwind {
		script = appendMissing(script, TailwindURL)
	}
	style = appendMissing(style, "https:")

	directives := []string{
		"default-src 'self'",
		"script-src " + strings.Join(script, " "),
		"style-src " + strings.Join(style, " "),
		"img-src * data: blob:",
		"font-src * data:",
		"connect-src * data: blob:",
	}
	return strings.Join(directives, "; ")
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, v := range list {
			if v == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}
