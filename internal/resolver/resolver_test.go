package resolver

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/artifacts/internal/catalog"
	"github.com/fluxbase-eu/artifacts/internal/config"
)

const testTemplate = "{origin}/{spec}?external={external}"

func cdnServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func notFoundHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }

func newTestResolver(t *testing.T, opts Options, servers ...*httptest.Server) *Resolver {
	t.Helper()
	names := []string{"a", "b", "c"}
	for i, srv := range servers {
		opts.Providers = append(opts.Providers, catalog.Provider{Name: names[i], Origin: srv.URL, Template: testTemplate})
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	r, err := New(catalog.Default(), opts)
	require.NoError(t, err)
	return r
}

func decodeDataModule(t *testing.T, u string) string {
	t.Helper()
	const prefix = "data:text/javascript;base64,"
	require.True(t, strings.HasPrefix(u, prefix), "not a data module: %s", u)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
	require.NoError(t, err)
	return string(raw)
}

func TestNew(t *testing.T) {
	_, err := New(nil, Options{Providers: []catalog.Provider{{Name: "a"}}})
	assert.Error(t, err)

	_, err = New(catalog.Default(), Options{})
	assert.Error(t, err)
}

func TestResolve_ShimMode(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)

	deps := map[string]string{"react": "^18.2.0", "recharts": "2.12.0", "lucide-react": "0.460.0", "canvas-confetti": "1.9.3"}
	res, err := r.Resolve(context.Background(), deps, false, nil)
	require.NoError(t, err)

	for _, spec := range []string{"react", "react-dom", "react-dom/client", "react/jsx-runtime", "react/jsx-dev-runtime", "framer-motion", "lucide-react"} {
		assert.Equal(t, ProviderShim, res.Providers[spec], spec)
		assert.True(t, strings.HasPrefix(res.Imports[spec], "data:text/javascript;base64,"), spec)
	}

	assert.Equal(t, a.URL+"/recharts@2.12.0?external=react,react-dom", res.Imports["recharts"])
	assert.Equal(t, "a", res.Providers["recharts"])
	assert.Equal(t, ProviderPrebuilt, res.Providers["canvas-confetti"])

	assert.Equal(t, []string{"canvas-confetti", "lucide-react", "react", "recharts"}, res.Dependencies)
	assert.Contains(t, res.Origins, a.URL)
	assert.Contains(t, res.Origins, "https://esm.sh")

	reactShim := decodeDataModule(t, res.Imports["react"])
	assert.Contains(t, reactShim, "window.React")
	assert.Contains(t, reactShim, "useState")
}

func TestResolve_EsmMode(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)

	res, err := r.Resolve(context.Background(), map[string]string{"lucide-react": "latest", "zustand": "4.5.0"}, true, nil)
	require.NoError(t, err)

	assert.Equal(t, a.URL+"/react@18.3.1", res.Imports["react"])
	assert.Equal(t, a.URL+"/react-dom@18.3.1?external=react", res.Imports["react-dom"])
	assert.Equal(t, a.URL+"/react-dom@18.3.1/client?external=react", res.Imports["react-dom/client"])
	assert.Equal(t, a.URL+"/react@18.3.1/jsx-runtime", res.Imports["react/jsx-runtime"])
	assert.Equal(t, ProviderFramework, res.Providers["react"])
	assert.Equal(t, catalog.Default().Prebuilt["lucide-react"].URL, res.Imports["lucide-react"])
	assert.NotContains(t, res.Imports, "framer-motion")
	assert.Equal(t, []string{a.URL, "https://esm.sh"}, res.Origins)
}

func TestResolve_EsmModeDefaultProviders(t *testing.T) {
	cat := catalog.Default()
	providers, err := cat.ProvidersFor([]string{"esm.sh", "unpkg"})
	require.NoError(t, err)
	r, err := New(cat, Options{Providers: providers})
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), nil, true, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://esm.sh/react@18.3.1", res.Imports["react"])
	assert.Equal(t, "https://esm.sh/react-dom@18.3.1/client?external=react", res.Imports["react-dom/client"])
	assert.Equal(t, []string{"https://esm.sh"}, res.Origins)
}

func TestFingerprint(t *testing.T) {
	cat := catalog.Default()
	build := func(names ...string) *Resolver {
		providers, err := cat.ProvidersFor(names)
		require.NoError(t, err)
		r, err := New(cat, Options{Providers: providers})
		require.NoError(t, err)
		return r
	}

	base := build("esm.sh", "unpkg").Fingerprint()
	assert.Equal(t, base, build("esm.sh", "unpkg").Fingerprint())
	assert.NotEqual(t, base, build("unpkg", "esm.sh").Fingerprint())
	assert.NotEqual(t, base, build("esm.sh").Fingerprint())

	edited := catalog.Default()
	edited.Peers["recharts"] = []string{"d3"}
	r, err := New(edited, Options{Providers: []catalog.Provider{cat.Providers["esm.sh"], cat.Providers["unpkg"]}})
	require.NoError(t, err)
	assert.NotEqual(t, base, r.Fingerprint())
}

func TestResolve_ProviderFallback(t *testing.T) {
	t.Run("second provider serves the package", func(t *testing.T) {
		a := cdnServer(t, notFoundHandler)
		b := cdnServer(t, okHandler)
		r := newTestResolver(t, Options{}, a, b)

		res, err := r.Resolve(context.Background(), map[string]string{"zustand": "4.5.0"}, false, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", res.Providers["zustand"])
		assert.Equal(t, b.URL+"/zustand@4.5.0?external=react,react-dom", res.Imports["zustand"])
	})

	t.Run("no provider serves the package", func(t *testing.T) {
		a := cdnServer(t, notFoundHandler)
		b := cdnServer(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) })
		r := newTestResolver(t, Options{}, a, b)

		res, err := r.Resolve(context.Background(), map[string]string{"zustand": "4.5.0"}, false, nil)
		require.NoError(t, err)
		assert.Equal(t, ProviderDirect, res.Providers["zustand"])
		assert.Equal(t, a.URL+"/zustand@4.5.0?external=react,react-dom", res.Imports["zustand"])
	})

	t.Run("slow provider times out", func(t *testing.T) {
		a := cdnServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		b := cdnServer(t, okHandler)
		r := newTestResolver(t, Options{Timeout: 50 * time.Millisecond}, a, b)

		res, err := r.Resolve(context.Background(), map[string]string{"zustand": "4.5.0"}, false, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", res.Providers["zustand"])
	})

	t.Run("HEAD rejected falls back to GET", func(t *testing.T) {
		a := cdnServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			_, _ = w.Write([]byte("export default 1;"))
		})
		r := newTestResolver(t, Options{}, a)

		res, err := r.Resolve(context.Background(), map[string]string{"zustand": "4.5.0"}, false, nil)
		require.NoError(t, err)
		assert.Equal(t, "a", res.Providers["zustand"])
	})
}

func TestResolve_Peers(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)

	res, err := r.Resolve(context.Background(), map[string]string{"react-chartjs-2": "5.2.0", "@react-three/drei": "9.0.0"}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, a.URL+"/react-chartjs-2@5.2.0?external=react,react-dom,chart.js", res.Imports["react-chartjs-2"])
	assert.Equal(t, a.URL+"/chart.js?external=react,react-dom", res.Imports["chart.js"])
	assert.Equal(t, ProviderPeer, res.Providers["chart.js"])

	assert.Contains(t, res.Imports["@react-three/drei"], "external=react,react-dom,three,@react-three/fiber")
	assert.Equal(t, a.URL+"/@react-three/fiber?external=react,react-dom,three", res.Imports["@react-three/fiber"])
	assert.Contains(t, res.Imports, "three")
}

func TestResolve_DeclaredPeerKeepsVersion(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)

	res, err := r.Resolve(context.Background(), map[string]string{"react-chartjs-2": "5.2.0", "chart.js": "4.4.1"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, a.URL+"/chart.js@4.4.1?external=react,react-dom", res.Imports["chart.js"])
	assert.Equal(t, "a", res.Providers["chart.js"])
}

func TestResolve_EveryCDNEntryExternalizesFramework(t *testing.T) {
	a := cdnServer(t, notFoundHandler)
	b := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{Concurrency: 2}, a, b)

	deps := map[string]string{
		"recharts": "2.12.0", "zustand": "4", "react-leaflet": "4.2.1", "canvas-confetti": "1.9.3",
		"date-fns": "3.6.0", "@dnd-kit/sortable": "8.0.0", "clsx": "",
	}
	for _, esm := range []bool{false, true} {
		res, err := r.Resolve(context.Background(), deps, esm, nil)
		require.NoError(t, err)
		for spec, u := range res.Imports {
			if strings.HasPrefix(u, "data:") || res.Providers[spec] == ProviderFramework {
				continue
			}
			assert.Contains(t, u, "external=react,react-dom", spec)
		}
	}
}

func TestResolve_NamedImportsExtendShims(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)

	named := NamedImports("import { motion, useCycle } from 'framer-motion';\nimport { use } from 'react';")
	res, err := r.Resolve(context.Background(), map[string]string{"framer-motion": "11"}, false, named)
	require.NoError(t, err)

	motion := decodeDataModule(t, res.Imports["framer-motion"])
	assert.Contains(t, motion, "window.Motion")
	assert.Contains(t, motion, "useCycle")
	assert.Contains(t, decodeDataModule(t, res.Imports["react"]), " use,")
}

func TestResolve_ContextCanceled(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, map[string]string{"zustand": "4"}, false, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_OnProbeAndRateLimit(t *testing.T) {
	a := cdnServer(t, okHandler)
	var probes atomic.Int32
	r := newTestResolver(t, Options{
		RatePerSecond: 1000,
		OnProbe: func(provider string, ok bool, _ time.Duration) {
			assert.Equal(t, "a", provider)
			assert.True(t, ok)
			probes.Add(1)
		},
	}, a)

	_, err := r.Resolve(context.Background(), map[string]string{"zustand": "4", "clsx": "2", "date-fns": "3"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), probes.Load())
}

func TestFromConfig(t *testing.T) {
	t.Run("builds providers in configured order", func(t *testing.T) {
		r, err := FromConfig(&config.BundlerConfig{
			CDNProviders:    []string{"jsdelivr", "esm.sh"},
			CDNCheckTimeout: time.Second,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "esm.run", r.PrimaryHost())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := FromConfig(&config.BundlerConfig{CDNProviders: []string{"nope"}}, nil)
		assert.ErrorContains(t, err, "unknown cdn provider")
	})

	t.Run("missing catalog file", func(t *testing.T) {
		_, err := FromConfig(&config.BundlerConfig{CDNProviders: []string{"esm.sh"}, CatalogFile: "/nonexistent/catalog.yaml"}, nil)
		assert.ErrorContains(t, err, "failed to load catalog")
	})
}

func TestPrimaryHost(t *testing.T) {
	a := cdnServer(t, okHandler)
	r := newTestResolver(t, Options{}, a)
	assert.Equal(t, strings.TrimPrefix(a.URL, "http://"), r.PrimaryHost())
}
