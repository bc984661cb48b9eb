package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/artifacts/cli/output"
	"github.com/fluxbase-eu/artifacts/internal/artifacts"
	"github.com/fluxbase-eu/artifacts/internal/bundlecache"
	"github.com/fluxbase-eu/artifacts/internal/resolver"
)

// componentFlags are the bundle inputs shared by bundle and cache-key
type componentFlags struct {
	deps  []string
	esm   bool
	title string
}

func (f *componentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.deps, "dep", "d", nil, "dependency as name@version (repeatable)")
	cmd.Flags().BoolVar(&f.esm, "esm", false, "load the framework as ES modules instead of UMD globals")
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "document title")
}

var (
	bundleFlags   componentFlags
	bundleOut     string
	bundleTimeout time.Duration
)

var bundleCmd = &cobra.Command{
	Use:   "bundle <file|->",
	Short: "Bundle a component into a self-contained HTML document",
	Long: `Resolve dependencies, assemble and post-process a component exactly as the
service does, then write the document to a local file.

Examples:
  artifacts bundle Chart.tsx --dep recharts@2.12.0 --title "Revenue"
  cat App.jsx | artifacts bundle - --esm --out app.html`,
	Args: cobra.ExactArgs(1),
	RunE: runBundle,
}

func init() {
	bundleFlags.register(bundleCmd)
	bundleCmd.Flags().StringVar(&bundleOut, "out", "", "output file (default is <file>.html)")
	bundleCmd.Flags().DurationVar(&bundleTimeout, "timeout", 30*time.Second, "overall resolution timeout")
}

func runBundle(cmd *cobra.Command, args []string) error {
	code, err := readComponent(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	deps, err := parseDependencies(bundleFlags.deps)
	if err != nil {
		return err
	}

	bc := bundlerConfig()
	res, err := resolver.FromConfig(bc, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), bundleTimeout)
	defer cancel()

	rendered, err := artifacts.Render(ctx, res, artifacts.RenderOptions{
		Code:            code,
		Dependencies:    deps,
		Title:           bundleFlags.title,
		UseFrameworkEsm: bundleFlags.esm,
		Tailwind:        bc.Tailwind,
	})
	if err != nil {
		return err
	}
	if rendered.TranspileErr != nil {
		formatter.PrintWarning(fmt.Sprintf("component did not transpile, embedded as-is: %v", rendered.TranspileErr))
	}

	out := bundleOut
	if out == "" {
		out = defaultOutputPath(args[0])
	}
	if err := os.WriteFile(out, []byte(rendered.HTML), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	imports := importTable(rendered.Resolution)
	key := bundlecache.ComputeKey(code, deps, bundleFlags.esm, bundleFlags.title, artifacts.KeySetup(res, bc.Tailwind, res.PrimaryHost()))

	// Structured output is a single document so it can be piped to jq
	if formatter.Structured() {
		return formatter.Print(bundleSummary{
			Output:   out,
			Bytes:    len(rendered.HTML),
			CacheKey: key,
			Imports:  imports.Objects(),
		})
	}

	if err := formatter.PrintTable(imports); err != nil {
		return err
	}
	return formatter.PrintFields(
		output.Field{Key: "output", Value: out},
		output.Field{Key: "size", Value: output.FormatBytes(int64(len(rendered.HTML)))},
		output.Field{Key: "cache key", Value: key},
	)
}

// bundleSummary is the JSON and YAML result of bundle
type bundleSummary struct {
	Output   string              `json:"output" yaml:"output"`
	Bytes    int                 `json:"bytes" yaml:"bytes"`
	CacheKey string              `json:"cache_key" yaml:"cache_key"`
	Imports  []map[string]string `json:"imports" yaml:"imports"`
}

// importTable lists import map entries with the provider that served them
func importTable(r *resolver.Resolution) output.TableData {
	specs := make([]string, 0, len(r.Imports))
	for spec := range r.Imports {
		specs = append(specs, spec)
	}
	sort.Strings(specs)

	data := output.TableData{Headers: []string{"SPECIFIER", "PROVIDER", "URL"}}
	for _, spec := range specs {
		provider := r.Providers[spec]
		if provider == "" {
			provider = "-"
		}
		data.Rows = append(data.Rows, []string{spec, provider, output.Truncate(r.Imports[spec], 80)})
	}
	return data
}

// readComponent reads source from path, or from in when path is "-"
func readComponent(in io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read component: %w", err)
	}
	return string(data), nil
}

// parseDependencies turns name@version flags into a dependency map. A
// missing version means "latest"; scoped names keep their leading @.
func parseDependencies(specs []string) (map[string]string, error) {
	deps := make(map[string]string, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		name, version := spec, "latest"
		if i := strings.LastIndex(spec, "@"); i > 0 {
			name, version = spec[:i], spec[i+1:]
		}
		if name == "" || version == "" {
			return nil, fmt.Errorf("invalid dependency %q (expected name@version)", spec)
		}
		if !artifacts.ValidPackageName(name) {
			return nil, fmt.Errorf("invalid package name %q", name)
		}
		if !artifacts.ValidVersion(version) {
			return nil, fmt.Errorf("invalid version %q for %s", version, name)
		}
		deps[name] = version
	}
	return deps, nil
}

func defaultOutputPath(input string) string {
	if input == "-" {
		return "artifact.html"
	}
	ext := filepath.Ext(input)
	if ext == ".html" {
		return strings.TrimSuffix(input, ext) + ".bundle.html"
	}
	return strings.TrimSuffix(input, ext) + ".html"
}
