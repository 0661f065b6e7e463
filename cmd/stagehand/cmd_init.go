package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"stagehand/internal/config"
)

// initCmd scaffolds a stagehand workspace.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a stagehand workspace",
	Long: `Creates the .stagehand directory with a default config.yaml, plus the
narrative library and media directories. Safe to re-run; existing files
are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()

		configPath := filepath.Join(workspace, ".stagehand", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println(dimStyle.Render("config already exists: " + configPath))
		} else {
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("created ") + configPath)
		}

		for _, dir := range []string{cfg.Library.Path, cfg.Media.Path} {
			path := resolvePath(dir)
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			fmt.Println(okStyle.Render("created ") + path)
		}

		fmt.Println(dimStyle.Render("\nSet STAGEHAND_API_KEY (or GEMINI_API_KEY) and drop narrative YAML files into " + cfg.Library.Path))
		return nil
	},
}
