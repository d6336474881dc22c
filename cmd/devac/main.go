package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"devac/internal/config"
	"devac/internal/logging"
	"devac/internal/pipeline"
)

var (
	// Global flags
	workspace string
	branch    string
	pkgName   string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "devac",
	Short: "DevAC - effect extraction and classification pipeline",
	Long: `DevAC turns source code into a durable, queryable record of program
behavior: it extracts typed effects from Python sources, persists them in
crash-safe partitioned relations, classifies them against configurable
rules, and enriches the results with entity metadata.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if workspace == "" {
			workspace = "."
		}
		workspace, err = filepath.Abs(workspace)
		if err != nil {
			return err
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		if branch != "" {
			cfg.Branch = branch
		}
		if pkgName != "" {
			cfg.Package = pkgName
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

// extractCmd runs extraction and writes the partition, nothing more.
var extractCmd = &cobra.Command{
	Use:   "extract [path]",
	Short: "Extract effects from source files and persist them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := workspace
		if len(args) == 1 {
			var err error
			root, err = filepath.Abs(args[0])
			if err != nil {
				return err
			}
		}

		p := pipeline.New(cfg)
		res, err := p.Extract(signalContext(), root)
		if err != nil {
			return err
		}

		fmt.Printf("Extracted %d files (%d unchanged, %d failed) in %v\n",
			len(res.Results), res.Skipped, len(res.Failures), res.Duration)
		for _, f := range res.Failures {
			fmt.Printf("  failed: %s: %v\n", f.FilePath, f.Err)
		}
		return nil
	},
}

// classifyCmd classifies already-persisted effects against the rule file.
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify stored effects into domain effects",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := pipeline.New(cfg)
		domain, stats, unresolved, err := p.ClassifyStored(signalContext(), workspace)
		if err != nil {
			return err
		}

		for _, de := range domain {
			fmt.Printf("%-20s %-16s %-24s %s:%d (%s)\n",
				de.Domain, de.Action, de.SourceName, de.RelativeFilePath, de.SourceLine, de.RuleID)
		}
		fmt.Printf("\n%d effects: %d matched, %d unmatched", stats.Total, stats.Matched, stats.Unmatched)
		if unresolved > 0 {
			fmt.Printf(", %d unresolved entities", unresolved)
		}
		fmt.Println()
		return nil
	},
}

// runCmd runs the whole pipeline end to end.
var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Extract, persist, classify and enrich in one pass",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := workspace
		if len(args) == 1 {
			var err error
			root, err = filepath.Abs(args[0])
			if err != nil {
				return err
			}
		}

		res, err := pipeline.New(cfg).Run(signalContext(), root)
		if err != nil {
			return err
		}

		fmt.Printf("Pipeline complete in %v\n", res.Duration)
		fmt.Printf("  files:          %d (%d unchanged, %d failed)\n",
			res.FilesExtracted, res.FilesSkipped, len(res.Failures))
		fmt.Printf("  effects:        %d\n", res.EffectCount)
		fmt.Printf("  domain effects: %d (%d unmatched, %d unresolved)\n",
			len(res.Domain), res.Stats.Unmatched, res.Unresolved)
		return nil
	},
}

// loadConfig reads .devac/config.yaml, falling back to defaults for a
// workspace that has not been configured yet.
func loadConfig() (*config.Config, error) {
	var c *config.Config
	path := filepath.Join(workspace, ".devac", "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c = config.DefaultConfig()
	} else {
		c, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if c.Repo == "" {
		c.Repo = filepath.Base(workspace)
	}
	if c.Package == "" {
		c.Package = filepath.Base(workspace)
	}
	// Relative store and rule paths resolve against the workspace.
	if !filepath.IsAbs(c.Store.Root) {
		c.Store.Root = filepath.Join(workspace, c.Store.Root)
	}
	if !filepath.IsAbs(c.Rules.Path) {
		c.Rules.Path = filepath.Join(workspace, c.Rules.Path)
	}
	return c, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&branch, "branch", "b", "", "partition branch (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&pkgName, "package", "p", "", "package name (overrides config)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
