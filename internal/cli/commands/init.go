package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a songlake.yaml",
		Long: `Write a songlake.yaml with the default settings and a .gitignore for
the local output and run ledger.

Use --example to also write a small song catalog and event log under data/,
enough for 'songlake run' to build every table.`,
		Example: `  # Initialize in current directory
  songlake init

  # Initialize a new directory with sample input
  songlake init demo --example

  # Force overwrite existing config
  songlake init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			name := "minimal"
			if example {
				name = "example"
			}
			return runInit(cmd, dir, name, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&example, "example", false, "Include sample catalog and event input")

	return cmd
}

func runInit(cmd *cobra.Command, dir, templateName string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "songlake.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.New("songlake.yaml already exists. Use --force to overwrite")
	}

	if err := copyTemplate(templateName, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	out := cmd.OutOrStdout()
	files, _ := listTemplateFiles(templateName)
	for _, f := range files {
		_, _ = fmt.Fprintf(out, "  created %s\n", f)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Next steps:")
	_, _ = fmt.Fprintln(out, "  songlake doctor   Check input, output and runtime")
	_, _ = fmt.Fprintln(out, "  songlake run      Build every table")
	_, _ = fmt.Fprintln(out, "  songlake runs     Review recorded runs")
	return nil
}
