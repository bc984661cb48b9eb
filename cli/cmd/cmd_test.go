package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/artifacts/internal/artifacts"
	"github.com/fluxbase-eu/artifacts/internal/bundlecache"
	"github.com/fluxbase-eu/artifacts/internal/catalog"
	"github.com/fluxbase-eu/artifacts/internal/resolver"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cacheKeyFlags = componentFlags{}
		outputFmt = "table"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseDependencies(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "none", specs: nil, want: map[string]string{}},
		{name: "versioned", specs: []string{"recharts@2.12.0"}, want: map[string]string{"recharts": "2.12.0"}},
		{name: "missing version is latest", specs: []string{"lodash"}, want: map[string]string{"lodash": "latest"}},
		{name: "scoped", specs: []string{"@radix-ui/react-dialog@^1.0.0"}, want: map[string]string{"@radix-ui/react-dialog": "^1.0.0"}},
		{name: "scoped without version", specs: []string{"@tanstack/react-table"}, want: map[string]string{"@tanstack/react-table": "latest"}},
		{name: "empty version", specs: []string{"recharts@"}, wantErr: true},
		{name: "invalid name", specs: []string{"Recharts@1.0.0"}, wantErr: true},
		{name: "path traversal version", specs: []string{"recharts@../1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDependencies(tt.specs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "artifact.html", defaultOutputPath("-"))
	assert.Equal(t, "src/Chart.html", defaultOutputPath("src/Chart.tsx"))
	assert.Equal(t, "page.bundle.html", defaultOutputPath("page.html"))
}

func TestCacheKeyCommand(t *testing.T) {
	code := "export default function App() { return null }"
	path := filepath.Join(t.TempDir(), "App.jsx")
	require.NoError(t, os.WriteFile(path, []byte(code), 0644))

	cat := catalog.Default()
	providers, err := cat.ProvidersFor([]string{"esm.sh", "jsdelivr", "unpkg"})
	require.NoError(t, err)
	res, err := resolver.New(cat, resolver.Options{Providers: providers})
	require.NoError(t, err)
	setup := artifacts.KeySetup(res, true, "esm.sh")
	want := bundlecache.ComputeKey(code, map[string]string{"recharts": "2.12.0"}, true, "Revenue", setup)

	t.Run("from file", func(t *testing.T) {
		out, err := execute(t, "", "cache-key", path, "--dep", "recharts@2.12.0", "--esm", "--title", "Revenue")
		require.NoError(t, err)
		assert.Equal(t, "key: "+want+"\n", out)
	})

	t.Run("from stdin as json", func(t *testing.T) {
		out, err := execute(t, code, "cache-key", "-", "-d", "recharts@2.12.0", "--esm", "-t", "Revenue", "-o", "json")
		require.NoError(t, err)
		assert.Contains(t, out, `"key": "`+want+`"`)
	})

	t.Run("bad dependency", func(t *testing.T) {
		_, err := execute(t, code, "cache-key", "-", "--dep", "recharts@..")
		assert.Error(t, err)
	})
}

func TestVersionCommand(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "", "version")
		require.NoError(t, err)
		assert.Contains(t, out, "artifacts "+Version+" (commit "+Commit)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "", "version", "-o", "json")
		require.NoError(t, err)

		var info map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, Version, info["version"])
		assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info["platform"])
	})
}

func TestImportTable(t *testing.T) {
	res := &resolver.Resolution{
		Imports: resolver.ImportMap{
			"recharts": "https://esm.sh/recharts@2.12.0?external=react",
			"react":    "https://unpkg.com/react@18/umd/react.production.min.js",
			"lodash/":  "https://esm.sh/lodash@4.17.21/",
		},
		Providers: map[string]string{"recharts": "esm.sh", "react": "unpkg"},
	}

	data := importTable(res)
	require.Len(t, data.Rows, 3)
	assert.Equal(t, []string{"lodash/", "-", "https://esm.sh/lodash@4.17.21/"}, data.Rows[0])
	assert.Equal(t, "react", data.Rows[1][0])
	assert.Equal(t, "esm.sh", data.Rows[2][1])
}
