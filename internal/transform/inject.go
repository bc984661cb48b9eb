package transform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/fluxbase-eu/artifacts/internal/catalog"
)

var (
	rendererScriptRe = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc=["'][^"']*react-dom[^"']*["'][^>]*>\s*</script>`)
	headCloseRe      = regexp.MustCompile(`(?i)</head>`)
	scriptSrcRe      = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc=["']([^"']+)["']`)
)

// LibraryMarker is the attribute identifying injected script tags
const LibraryMarker = "data-artifact-lib"

// InjectLibraries adds script tags for catalog libraries whose trigger appears
// in source and which the document does not load yet. Tags go right after the
// renderer script, or before </head> when there is none. Libraries that need
// the UMD framework are skipped in ESM mode.
func InjectLibraries(doc, source string, useFrameworkEsm bool, cat *catalog.Catalog) string {
	if cat == nil || source == "" {
		return doc
	}

	var srcs []string
	for _, m := range scriptSrcRe.FindAllStringSubmatch(doc, -1) {
		srcs = append(srcs, m[1])
	}

	var tags, origins []string
	for i := range cat.Libraries {
		lib := &cat.Libraries[i]
		if !lib.Matches(source) || (useFrameworkEsm && lib.RequiresFramework) {
			continue
		}
		if libraryLoaded(doc, srcs, lib) {
			continue
		}
		tags = append(tags, `<script src="`+lib.URL+`" `+LibraryMarker+`="`+lib.Name+`"></script>`)
		if o := originOf(lib.URL); o != "" {
			origins = append(origins, o)
		}
	}
	if len(tags) == 0 {
		return doc
	}

	block := strings.Join(tags, "\n")
	if loc := rendererScriptRe.FindStringIndex(doc); loc != nil {
		doc = doc[:loc[1]] + "\n" + block + doc[loc[1]:]
	} else if loc := headCloseRe.FindStringIndex(doc); loc != nil {
		doc = doc[:loc[0]] + block + "\n" + doc[loc[0]:]
	} else {
		return doc
	}

	return AllowScriptSources(doc, origins...)
}

func libraryLoaded(doc string, srcs []string, lib *catalog.Library) bool {
	if strings.Contains(doc, LibraryMarker+`="`+lib.Name+`"`) {
		return true
	}
	for _, src := range srcs {
		if src == lib.URL || strings.Contains(src, "/"+lib.Name+"@") || strings.Contains(src, "/"+lib.Name+"/") {
			return true
		}
	}
	return false
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
