package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davarch/ci-reconciler/internal/application"
	"github.com/davarch/ci-reconciler/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Make a running scheduler skip its runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		if application.IsPaused(cfg.PauseFile) {
			fmt.Printf("no change (already paused: %s)\n", cfg.PauseFile)
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(cfg.PauseFile), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(cfg.PauseFile, nil, 0o644); err != nil {
			return err
		}

		fmt.Printf("paused: %s\n", cfg.PauseFile)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		if err := os.Remove(cfg.PauseFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Println("no change (not paused)")
				return nil
			}
			return err
		}

		fmt.Println("resumed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
