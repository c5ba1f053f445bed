package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/petabi/deview/config"
	bboltstorage "github.com/petabi/deview/storage/bbolt"
)

var errBackupUnsupported = errors.New("backup is only available for the bbolt storage backend")

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a snapshot of the database to the backup directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		path, err := backup(cfg, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", path)
		return nil
	},
}

func backup(cfg *config.Config, now time.Time) (string, error) {
	if cfg.Storage.Backend != config.BackendBbolt {
		return "", errBackupUnsupported
	}
	repo, err := bboltstorage.NewRepositoryInDir(cfg.DataDir)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer repo.Close()
	return repo.Backup(cfg.BackupDir, now)
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
