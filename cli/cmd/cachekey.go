package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/artifacts/cli/output"
	"github.com/fluxbase-eu/artifacts/internal/artifacts"
	"github.com/fluxbase-eu/artifacts/internal/bundlecache"
	"github.com/fluxbase-eu/artifacts/internal/resolver"
)

var cacheKeyFlags componentFlags

var cacheKeyCmd = &cobra.Command{
	Use:   "cache-key <file|->",
	Short: "Print the bundle cache key of a component",
	Long: `Compute the content hash the service caches a bundle under. Two requests
with the same key are served the same document. The key covers the catalog,
provider order and tailwind settings of the loaded config.

Examples:
  artifacts cache-key Chart.tsx --dep recharts@2.12.0 --title "Revenue"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readComponent(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		deps, err := parseDependencies(cacheKeyFlags.deps)
		if err != nil {
			return err
		}

		bc := bundlerConfig()
		res, err := resolver.FromConfig(bc, nil)
		if err != nil {
			return err
		}

		setup := artifacts.KeySetup(res, bc.Tailwind, res.PrimaryHost())
		key := bundlecache.ComputeKey(code, deps, cacheKeyFlags.esm, cacheKeyFlags.title, setup)
		return formatter.PrintFields(output.Field{Key: "key", Value: key})
	},
}

func init() {
	cacheKeyFlags.register(cacheKeyCmd)
}
