package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdcvision/dumpwatch/internal/config"
	"github.com/mdcvision/dumpwatch/pkg/db"
	"github.com/mdcvision/dumpwatch/pkg/errors"
)

var (
	cleanupDays   int
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune sessions and image files older than the retention window",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Retention window in days")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would be removed without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if cleanupDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}
	cutoff := time.Now().AddDate(0, 0, -cleanupDays)

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if cleanupDryRun {
		fmt.Printf("Dry run: would prune sessions and images older than %s\n",
			cutoff.Format("2006-01-02"))
		return reportStaleFiles(cfg.ResultsDir, cutoff)
	}

	removed, err := repo.PruneSessions(cutoff)
	if err != nil {
		return errors.Wrap(err, "prune failed")
	}
	fmt.Printf("Pruned %d sessions older than %s\n", removed, cutoff.Format("2006-01-02"))

	files, err := removeStaleFiles(cfg.ResultsDir, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d image files\n", files)
	return nil
}

func reportStaleFiles(resultsDir string, cutoff time.Time) error {
	count := 0
	err := walkImages(resultsDir, cutoff, func(path string) error {
		fmt.Printf("would remove %s\n", path)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d image files affected\n", count)
	return nil
}

func removeStaleFiles(resultsDir string, cutoff time.Time) (int, error) {
	count := 0
	err := walkImages(resultsDir, cutoff, func(path string) error {
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "failed to remove %s", path)
		}
		count++
		return nil
	})
	return count, err
}

func walkImages(resultsDir string, cutoff time.Time, fn func(path string) error) error {
	return filepath.Walk(resultsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".jpg") {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		return fn(path)
	})
}
