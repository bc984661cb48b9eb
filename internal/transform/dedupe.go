package transform

import (
	"regexp"
	"strings"
	"sync"

	"github.com/fluxbase-eu/artifacts/internal/resolver"
)

// ExternalParam externalizes the framework core from a CDN build
const ExternalParam = "external=react,react-dom"

var (
	frameworkCorePathRe = regexp.MustCompile(`^/(?:v\d+/|stable/)?(?:react|react-dom)(?:@[^/?#]*)?(?:/[^?#]*)?$`)
	hostURLRes          sync.Map
)

func hostURLRe(host string) *regexp.Regexp {
	if re, ok := hostURLRes.Load(host); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`https?://` + regexp.QuoteMeta(host) + "/[^\\s\"'<>()`\\\\]*")
	hostURLRes.Store(host, re)
	return re
}

// PreventDuplicateFramework keeps packages served by the primary CDN from
// bundling their own framework copy. Every primary CDN URL trading a deps=
// pin for externalization, and every query-less one outside the framework
// core, gains the external parameter. In shim mode the CSP also permits data:
// scripts and import map framework entries are forced back to global shims.
func PreventDuplicateFramework(doc, host string, useFrameworkEsm bool) string {
	if host == "" || !strings.Contains(doc, host) {
		return doc
	}

	doc = hostURLRe(host).ReplaceAllStringFunc(doc, rewriteCDNURL)

	if useFrameworkEsm {
		return doc
	}
	doc = allowDataScripts(doc)
	return rewriteBlocks(importMapScriptRe, doc, forceFrameworkShims)
}

// rewriteCDNURL applies the externalization rules to one primary CDN URL
func rewriteCDNURL(u string) string {
	base, query, hasQuery := strings.Cut(u, "?")
	if !hasQuery {
		if isFrameworkCore(base) {
			return u
		}
		return u + "?" + ExternalParam
	}

	params := strings.Split(query, "&")
	hasExternal := false
	depsAt := -1
	for i, p := range params {
		switch {
		case strings.HasPrefix(p, "external="):
			hasExternal = true
		case strings.HasPrefix(p, "deps=") && depsAt < 0:
			depsAt = i
		}
	}
	if depsAt < 0 {
		return u
	}

	var out []string
	for i, p := range params {
		if strings.HasPrefix(p, "deps=") {
			if i == depsAt && !hasExternal {
				out = append(out, ExternalParam)
			}
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return base
	}
	return base + "?" + strings.Join(out, "&")
}

func isFrameworkCore(base string) bool {
	rest := base
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return false
	}
	return frameworkCorePathRe.MatchString(rest[slash:])
}

// forceFrameworkShims points the framework entries of an import map at global
// shims unless they already are inline modules
func forceFrameworkShims(body string) string {
	im, err := resolver.ParseImportMap(body)
	if err != nil {
		return body
	}

	changed := false
	for spec, shim := range resolver.FrameworkShims() {
		if strings.HasPrefix(im.Imports[spec], "data:") {
			continue
		}
		im.Imports[spec] = shim
		changed = true
	}
	if !changed {
		return body
	}
	return "\n" + im.Marshal() + "\n"
}
