package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdcvision/dumpwatch/internal/config"
	"github.com/mdcvision/dumpwatch/pkg/db"
	"github.com/mdcvision/dumpwatch/pkg/errors"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show session summary and recent unload cycles",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Number of recent sessions to show")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg.SQLitePath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	counts, err := repo.SessionCounts()
	if err != nil {
		return errors.Wrap(err, "count failed")
	}
	fmt.Printf("Sessions: %d open, %d complete, %d incomplete\n\n",
		counts[db.StatusOpen], counts[db.StatusComplete], counts[db.StatusIncomplete])

	sessions, err := repo.RecentSessions(sessionsLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	fmt.Printf("%-10s %-5s %-20s %-20s %-10s %-12s\n",
		"SESSION", "DUMP", "START", "END", "PLATE", "STATUS")
	fmt.Println("---------------------------------------------------------------------------------")
	for _, s := range sessions {
		end := s.EndTime
		if end == "" {
			end = "-"
		}
		plate := s.PlateNumber
		if plate == "" {
			plate = "-"
		}
		fmt.Printf("%-10s %-5d %-20s %-20s %-10s %-12s\n",
			shortID(s.UUID), s.DumpID, s.StartTime, end, plate, s.Status)
	}
	return nil
}

func shortID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
