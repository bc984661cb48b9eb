// Package resolver turns a declared dependency map into a browser import map.
//
// Each package is served from the first CDN provider that answers a health
// probe. Probes run concurrently, bounded by a worker limit and a per-provider
// rate limiter. A package no provider confirms still gets a URL on the primary
// provider, so resolution never fails for a reachable context.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fluxbase-eu/artifacts/internal/catalog"
	"github.com/fluxbase-eu/artifacts/internal/config"
)

// Provider labels recorded for packages not served by a probed CDN
const (
	ProviderShim      = "shim"
	ProviderFramework = "framework"
	ProviderPrebuilt  = "prebuilt"
	ProviderDirect    = "direct"
	ProviderPeer      = "peer"
)

// ImportMap maps module specifiers to URLs
type ImportMap map[string]string

// Resolution is the result of resolving a dependency map
type Resolution struct {
	Imports ImportMap `json:"imports"`
	// Providers records which provider served each import map entry
	Providers map[string]string `json:"providers"`
	// Origins lists every http(s) origin referenced by Imports, sorted
	Origins []string `json:"origins"`
	// Dependencies lists the declared packages, sorted
	Dependencies []string `json:"dependencies"`
}

// ProbeFunc observes the outcome of one provider probe
type ProbeFunc func(provider string, ok bool, elapsed time.Duration)

// Options configures a Resolver
type Options struct {
	// Providers in priority order; the first one is the primary provider
	Providers     []catalog.Provider
	Timeout       time.Duration
	RatePerSecond float64
	Concurrency   int
	Client        *http.Client
	OnProbe       ProbeFunc
}

// Resolver resolves dependency maps against CDN providers
type Resolver struct {
	catalog     *catalog.Catalog
	providers   []catalog.Provider
	client      *http.Client
	timeout     time.Duration
	concurrency int
	limiters    map[string]*rate.Limiter
	onProbe     ProbeFunc
}

// New creates a resolver over the given catalog
func New(cat *catalog.Catalog, opts Options) (*Resolver, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if len(opts.Providers) == 0 {
		return nil, errors.New("at least one cdn provider is required")
	}

	r := &Resolver{
		catalog:     cat,
		providers:   opts.Providers,
		client:      opts.Client,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		limiters:    make(map[string]*rate.Limiter, len(opts.Providers)),
		onProbe:     opts.OnProbe,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.timeout <= 0 {
		r.timeout = 3 * time.Second
	}
	if r.concurrency <= 0 {
		r.concurrency = 8
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		for _, p := range opts.Providers {
			r.limiters[p.Name] = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
		}
	}
	return r, nil
}

// FromConfig builds a resolver from bundler settings and the catalog file
func FromConfig(bc *config.BundlerConfig, onProbe ProbeFunc) (*Resolver, error) {
	cat, err := catalog.Load(bc.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	providers, err := cat.ProvidersFor(bc.CDNProviders)
	if err != nil {
		return nil, err
	}

	return New(cat, Options{
		Providers:     providers,
		Timeout:       bc.CDNCheckTimeout,
		RatePerSecond: bc.CDNRatePerSecond,
		Concurrency:   bc.ProbeConcurrency,
		OnProbe:       onProbe,
	})
}

// PrimaryHost returns the host of the first provider, the one direct URLs
// fall back to
func (r *Resolver) PrimaryHost() string {
	u, err := url.Parse(r.providers[0].Origin)
	if err != nil {
		return ""
	}
	return u.Host
}

// Fingerprint identifies everything besides the request that shapes a
// resolution: the catalog tables and the provider order.
func (r *Resolver) Fingerprint() string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name
	}
	return r.catalog.Fingerprint() + "/" + strings.Join(names, ",")
}

// Catalog returns the tables the resolver uses
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

// Resolve builds the import map for deps. In shim mode (useFrameworkEsm false)
// the framework and the catalog's global shims map to inline modules reading
// window globals; namedImports extends their export lists. The only error is
// the context's.
func (r *Resolver) Resolve(ctx context.Context, deps map[string]string, useFrameworkEsm bool, namedImports map[string][]string) (*Resolution, error) {
	res := &Resolution{
		Imports:      ImportMap{},
		Providers:    map[string]string{},
		Dependencies: catalog.SortedPackages(deps),
	}

	if useFrameworkEsm {
		r.addFrameworkModules(res)
	} else {
		r.addShims(res, namedImports)
	}

	var pending []string
	for _, pkg := range res.Dependencies {
		if _, done := res.Imports[pkg]; done {
			continue
		}
		if pre, ok := r.catalog.Prebuilt[pkg]; ok {
			if !useFrameworkEsm && pre.Global != "" {
				continue
			}
			res.set(pkg, pre.URL, ProviderPrebuilt)
			continue
		}
		pending = append(pending, pkg)
	}

	urls, served := r.probeAll(ctx, pending, deps)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dependency resolution interrupted: %w", err)
	}
	for i, pkg := range pending {
		res.set(pkg, urls[i], served[i])
	}

	// Peers a package externalizes must resolve even when undeclared
	for _, pkg := range pending {
		for _, peer := range r.catalog.Peers[pkg] {
			if _, ok := res.Imports[peer]; ok {
				continue
			}
			res.set(peer, r.providers[0].URL(peer, "", r.catalog.Externals(peer)), ProviderPeer)
		}
	}

	res.Origins = origins(res.Imports)
	return res, nil
}

func (res *Resolution) set(pkg, u, provider string) {
	res.Imports[pkg] = u
	res.Providers[pkg] = provider
}

func (r *Resolver) addShims(res *Resolution, named map[string][]string) {
	for spec, u := range frameworkShims(named) {
		res.set(spec, u, ProviderShim)
	}
	for pkg, shim := range r.catalog.GlobalShims {
		res.set(pkg, DataModule(GlobalModule(shim.Global, shim.Exports, named[pkg])), ProviderShim)
	}
}

func (r *Resolver) addFrameworkModules(res *Resolution) {
	p, v := r.providers[0], catalog.FrameworkVersion
	react := []string{"react"}
	res.set("react", p.ModuleURL("react", v, "", nil), ProviderFramework)
	res.set("react-dom", p.ModuleURL("react-dom", v, "", react), ProviderFramework)
	res.set("react-dom/client", p.ModuleURL("react-dom", v, "client", react), ProviderFramework)
	res.set("react/jsx-runtime", p.ModuleURL("react", v, "jsx-runtime", nil), ProviderFramework)
	res.set("react/jsx-dev-runtime", p.ModuleURL("react", v, "jsx-dev-runtime", nil), ProviderFramework)
}

// probeAll resolves pkgs concurrently, returning URLs and provider names by index
func (r *Resolver) probeAll(ctx context.Context, pkgs []string, deps map[string]string) ([]string, []string) {
	urls := make([]string, len(pkgs))
	served := make([]string, len(pkgs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, pkg := range pkgs {
		i, pkg := i, pkg
		g.Go(func() error {
			urls[i], served[i] = r.resolveOne(ctx, pkg, normalizeVersion(deps[pkg]))
			return nil
		})
	}
	_ = g.Wait()

	return urls, served
}

func (r *Resolver) resolveOne(ctx context.Context, pkg, version string) (string, string) {
	external := r.catalog.Externals(pkg)
	for _, p := range r.providers {
		u := p.URL(pkg, version, external)
		if r.probe(ctx, p, u) {
			return u, p.Name
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Debug().
		Str("package", pkg).
		Str("version", version).
		Msg("No CDN provider confirmed package, using direct URL")
	return r.providers[0].URL(pkg, version, external), ProviderDirect
}

// probe reports whether provider p serves u
func (r *Resolver) probe(ctx context.Context, p catalog.Provider, u string) bool {
	if lim := r.limiters[p.Name]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return false
		}
	}

	start := time.Now()
	status := r.status(ctx, http.MethodHead, u)
	if status == http.StatusMethodNotAllowed {
		status = r.status(ctx, http.MethodGet, u)
	}
	ok := status >= 200 && status < 400
	if r.onProbe != nil {
		r.onProbe(p.Name, ok, time.Since(start))
	}
	if !ok {
		log.Debug().Str("provider", p.Name).Str("url", u).Int("status", status).Msg("CDN probe failed")
	}
	return ok
}

// status returns the response status for u, or 0 when the request failed
func (r *Resolver) status(ctx context.Context, method, u string) int {
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, method, u, nil)
	if err != nil {
		return 0
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if method == http.MethodGet {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	}
	return resp.StatusCode
}

// normalizeVersion maps empty and wildcard ranges to the provider's latest
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "*" || v == "latest" {
		return ""
	}
	return v
}

func origins(imports ImportMap) []string {
	seen := map[string]bool{}
	var out []string
	for _, raw := range imports {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		origin := u.Scheme + "://" + u.Host
		if !seen[origin] {
			seen[origin] = true
			out = append(out, origin)
		}
	}
	sort.Strings(out)
	return out
}
