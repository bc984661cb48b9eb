// Package cmd provides the Cobra commands for the artifacts CLI.
package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/artifacts/cli/output"
	"github.com/fluxbase-eu/artifacts/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	outputFmt string
	quiet     bool
	debug     bool

	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Bundle chat artifacts into self-contained HTML documents",
	Long: `The artifacts CLI runs the bundling pipeline locally.

It resolves a component's dependencies against the configured module CDNs,
assembles the sandboxed document and writes it to disk, without touching
storage, the cache or the rate limiter.

Get started:
  artifacts bundle Chart.tsx --dep recharts@2.12.0
  artifacts cache-key Chart.tsx --dep recharts@2.12.0`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceErrors = quiet

		level := zerolog.WarnLevel
		if debug {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

		format, err := output.ParseFormat(outputFmt)
		if err != nil {
			return err
		}
		formatter = &output.Formatter{
			Format: format,
			Quiet:  quiet,
			Out:    cmd.OutOrStdout(),
			Err:    cmd.ErrOrStderr(),
		}
		return nil
	},
}

// Execute runs the CLI. Cancelling ctx aborts in-flight CDN probes.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./artifacts.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(cacheKeyCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("artifacts")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ARTIFACTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("bundler.cdn_providers", []string{"esm.sh", "jsdelivr", "unpkg"})
	viper.SetDefault("bundler.cdn_check_timeout", "3s")
	viper.SetDefault("bundler.cdn_rate_per_second", 20.0)
	viper.SetDefault("bundler.probe_concurrency", 8)
	viper.SetDefault("bundler.tailwind", true)

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// bundlerConfig reads the resolver settings shared with the service config
func bundlerConfig() *config.BundlerConfig {
	timeout := viper.GetDuration("bundler.cdn_check_timeout")
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &config.BundlerConfig{
		CDNProviders:     viper.GetStringSlice("bundler.cdn_providers"),
		CDNCheckTimeout:  timeout,
		CDNRatePerSecond: viper.GetFloat64("bundler.cdn_rate_per_second"),
		ProbeConcurrency: viper.GetInt("bundler.probe_concurrency"),
		CatalogFile:      viper.GetString("bundler.catalog_file"),
		Tailwind:         viper.GetBool("bundler.tailwind"),
	}
}
