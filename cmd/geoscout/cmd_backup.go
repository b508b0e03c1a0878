package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/geoscout/internal/backup"
	"github.com/HerbHall/geoscout/internal/version"
)

var (
	backupOutput string
	restoreInput string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive the job database, config and capture history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg, err := e.pluginConfig()
		if err != nil {
			return err
		}
		if backupOutput == "" {
			backupOutput = fmt.Sprintf("geoscout-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
		}
		m, err := backup.Backup(cmd.Context(), backup.Paths{
			DBPath:     e.settings.Store.Path,
			ConfigPath: e.v.ConfigFileUsed(),
			HistoryDir: cfg.HistoryDir,
		}, backupOutput)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (%d history file(s))\n", backupOutput, len(m.History))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore an archive written by backup",
	Long: `restore extracts a backup into the configured locations. Stop the
service first; the database and history files are overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg, err := e.pluginConfig()
		if err != nil {
			return err
		}
		m, err := backup.Restore(cmd.Context(), restoreInput, backup.Paths{
			DBPath:     e.settings.Store.Path,
			HistoryDir: cfg.HistoryDir,
		})
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "output file (default geoscout-backup-{timestamp}.tar.gz)")
	restoreCmd.Flags().StringVarP(&restoreInput, "input", "i", "", "backup archive to restore (required)")
	_ = restoreCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(backupCmd, restoreCmd, versionCmd)
}
