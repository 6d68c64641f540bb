package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lfcbot/lfc/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .lfc.yaml in the current directory",
	Long: `Initialize lfc in the current directory.
Creates .lfc.yaml with the default configuration and the .lfc data directory.

With --print, nothing is written; the effective worker pools are printed
as YAML instead.`,
	RunE: runInit,
}

var (
	initForce bool
	initPrint bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initPrint, "print", false, "Print the effective worker pools and exit")
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if initPrint {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(map[string]interface{}{"workers": cfg.Workers})
		if err != nil {
			return fmt.Errorf("rendering workers: %w", err)
		}
		_, err = out.Write(data)
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	configPath := filepath.Join(cwd, ".lfc.yaml")

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	if err := config.AtomicWrite(configPath, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cwd, ".lfc"), 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintln(out, "Initialized lfc in", cwd)
	fmt.Fprintln(out, "Configuration file: .lfc.yaml")
	fmt.Fprintln(out, "Run 'lfc supervise' to start the pipeline")
	return nil
}
