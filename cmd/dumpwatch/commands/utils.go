package commands

import (
	"os"
	"path/filepath"

	"github.com/mdcvision/dumpwatch/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, resultsDir string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}
	if resultsDir != "" {
		if err := os.MkdirAll(resultsDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create results directory")
		}
	}
	return nil
}
