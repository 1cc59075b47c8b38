package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/amosWeiskopf/compwatch/internal/config"
	"github.com/amosWeiskopf/compwatch/internal/logger"
	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/classifier"
	"github.com/amosWeiskopf/compwatch/pkg/extractor"
	"github.com/amosWeiskopf/compwatch/pkg/pipeline"
	"github.com/amosWeiskopf/compwatch/pkg/reporter"
	"github.com/amosWeiskopf/compwatch/pkg/storage"
	"github.com/amosWeiskopf/compwatch/pkg/utils"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// v holds configuration for the current invocation; flags are bound into it.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "compwatch",
	Short: "compwatch - competitor content tracker",
	Long: `compwatch discovers a competitor's content pages from its sitemap,
extracts and classifies each item, and keeps an incremental JSON corpus
for trend and gap analysis.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Discover, fetch and classify new content into the corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		o, err := pipeline.Build(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, runErr := o.Run(ctx)
		if summary != nil {
			format, _ := cmd.Flags().GetString("format")
			out, err := reporter.New().RunSummary(summary, format)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
		}
		return runErr
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the content URLs discovery would return, without fetching them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		o, err := pipeline.Build(cfg, log)
		if err != nil {
			return err
		}
		urls, strategy, err := o.Discover(cmd.Context())
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeJSON(cmd, urls)
		}
		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u.URL)
		}
		log.Info("discovery finished", logger.String("strategy", strategy), logger.Int("urls", len(urls)))
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [URL]",
	Short: "Fetch and classify a single page without touching the corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		canonical, err := utils.CanonicalURL(args[0])
		if err != nil {
			return err
		}
		result, err := extractor.New(pipeline.NewFetcher(cfg), log).Extract(cmd.Context(), canonical)
		if err != nil {
			return err
		}
		record := classifier.New(cfg.Classifier.B2BAudience).Classify(result, models.DiscoveredURL{URL: canonical})
		return writeJSON(cmd, record)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the stored corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		corpus, err := storage.New(cfg.Storage.Path).Load()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		out, err := reporter.New().CorpusSummary(corpus, format)
		if err != nil {
			return fmt.Errorf("report generation failed: %w", err)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		}
		if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		log.Info("report saved", logger.String("path", output))
		return nil
	},
}

func init() {
	// Crawl command flags
	crawlCmd.Flags().String("strategy", "", "Discovery strategy (sitemap, crawl, auto)")
	crawlCmd.Flags().String("sitemap-url", "", "Sitemap URL")
	crawlCmd.Flags().String("seed-url", "", "Listing page to start the fallback crawl from")
	crawlCmd.Flags().Int("max-items", 0, "Maximum pages to fetch this run (0 = no cap)")
	crawlCmd.Flags().Bool("force", false, "Refetch every discovered URL, not only new ones")
	crawlCmd.Flags().Duration("delay", 0, "Delay between requests")
	crawlCmd.Flags().String("format", reporter.FormatText, "Run summary format (text, json, markdown)")
	bindFlags(crawlCmd.Flags(), map[string]string{
		"discovery.strategy":    "strategy",
		"discovery.sitemap_url": "sitemap-url",
		"discovery.seed_url":    "seed-url",
		"crawler.max_items":     "max-items",
		"crawler.force_refresh": "force",
		"crawler.delay":         "delay",
	})

	// Discover command flags
	discoverCmd.Flags().Bool("json", false, "Print discovered URLs as JSON")

	// Report command flags
	reportCmd.Flags().String("format", reporter.FormatText, "Report format (text, json, markdown)")
	reportCmd.Flags().String("output", "", "Output file for report")

	// Add commands to root
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(reportCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("corpus", "", "Corpus file path")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"storage.path":    "corpus",
		"logging.verbose": "verbose",
	})
}

// bindFlags binds named flags to configuration keys
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// setup loads configuration and builds the logger for a command
func setup() (*config.Config, logger.Logger, error) {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if v.GetBool("logging.verbose") {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func writeJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
