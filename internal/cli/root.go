// Package cli provides the command-line interface for songlake.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/cli/commands"
	"github.com/leapstack-labs/songlake/internal/cli/config"
	"github.com/leapstack-labs/songlake/internal/logging"
	"github.com/leapstack-labs/songlake/internal/warehouse"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "songlake",
		Short: "songlake - music event lake builder",
		Long: `songlake turns a song catalog and raw listening logs into an analytics
star schema: songs, artists, users and time dimensions plus a songplays fact
table, written as partitioned Parquet to a local directory, S3 or GCS.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion", "__complete", "version", "init":
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
			}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.File != "" {
				logger.Debug("loaded config", "file", cfg.File)
			}

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Built with Go, DuckDB and Parquet
`)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./songlake.yaml)")
	pf.StringP("input", "i", "", "Input root: a directory, s3://bucket/prefix or gs://bucket/prefix")
	pf.StringP("output", "o", "", "Output root for the Parquet tables")
	pf.String("compression", "", "Parquet codec (snappy|zstd|gzip|uncompressed)")
	pf.String("state", "", "Path to the run ledger database")
	pf.String("database", "", "Path to a DuckDB database (empty for in-memory)")
	pf.Int("threads", 0, "DuckDB worker threads (0 for the DuckDB default)")
	pf.String("memory-limit", "", "DuckDB memory limit, e.g. 4GB")
	pf.String("scratch-dir", "", "Directory for staging and spill files")
	pf.Int("workers", 0, "Concurrent input file readers (0 for one per CPU)")
	pf.String("metrics-textfile", "", "Write run metrics to this Prometheus textfile")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (auto|json|console)")

	_ = rootCmd.RegisterFlagCompletionFunc("compression", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return warehouse.Compressions, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{logging.FormatAuto, logging.FormatJSON, logging.FormatConsole}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for songlake.

To load completions:

Bash:
  $ source <(songlake completion bash)

Zsh:
  $ songlake completion zsh > "${fpath[1]}/_songlake"

Fish:
  $ songlake completion fish | source

PowerShell:
  PS> songlake completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
