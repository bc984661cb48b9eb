// Package transform applies the ordered post-assembly rewrites to a bundle
// document. Each step is idempotent and leaves the document untouched when
// its trigger is absent.
package transform

import (
	"regexp"

	"github.com/fluxbase-eu/artifacts/internal/catalog"
	"github.com/fluxbase-eu/artifacts/internal/normalize"
)

// DefaultPrimaryHost is the module CDN whose URLs are deduplicated
const DefaultPrimaryHost = "esm.sh"

var (
	moduleScriptRe    = regexp.MustCompile(`(?is)(<script\b[^>]*\btype=["']module["'][^>]*>)(.*?)(</script>)`)
	importMapScriptRe = regexp.MustCompile(`(?is)(<script\b[^>]*\btype=["']importmap["'][^>]*>)(.*?)(</script>)`)
)

// Options configure a transform pass
type Options struct {
	// Source is the original component code, scanned for library triggers
	Source          string
	UseFrameworkEsm bool
	Catalog         *catalog.Catalog
	// PrimaryHost defaults to DefaultPrimaryHost
	PrimaryHost string
}

// Apply runs every transform in order
func Apply(doc string, opts Options) string {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	host := opts.PrimaryHost
	if host == "" {
		host = DefaultPrimaryHost
	}

	doc = InjectLibraries(doc, opts.Source, opts.UseFrameworkEsm, cat)
	doc = NormalizeModuleSyntax(doc)
	doc = PreventDuplicateFramework(doc, host, opts.UseFrameworkEsm)
	return UnescapeTemplateLiterals(doc)
}

// NormalizeModuleSyntax repairs malformed import syntax in every module script
func NormalizeModuleSyntax(doc string) string {
	return rewriteBlocks(moduleScriptRe, doc, normalize.FixSyntax)
}

// rewriteBlocks applies fn to the body of every block re matches
func rewriteBlocks(re *regexp.Regexp, doc string, fn func(string) string) string {
	return re.ReplaceAllStringFunc(doc, func(block string) string {
		sm := re.FindStringSubmatch(block)
		return sm[1] + fn(sm[2]) + sm[3]
	})
}
