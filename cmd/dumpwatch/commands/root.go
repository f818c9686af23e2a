package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dumpwatch",
	Short: "Sugarcane dump-station monitoring",
	Long:  `Monitors truck unload cycles at sugarcane dump stations with dual-camera AI analysis, session bookkeeping, and composite reporting.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/dumpwatch.db", "SQLite database path")
	rootCmd.PersistentFlags().String("results-dir", ".artifacts/results", "Directory for captured and merged images")
	rootCmd.PersistentFlags().String("factory-id", "FACTORY-01", "Site identifier")
	rootCmd.PersistentFlags().String("factory-name", "FACTORY-01", "Site display name")
	rootCmd.PersistentFlags().String("milling-process", "2026/27", "Milling process label")
	rootCmd.PersistentFlags().Int("total-dumps", 1, "Number of dump stations")
	rootCmd.PersistentFlags().String("rtsp-base", "", "Base RTSP URL of the camera recorder")
	rootCmd.PersistentFlags().String("clip-path", "", "Recorded clip substituting for live cameras")
	rootCmd.PersistentFlags().Bool("testing", false, "Use the recorded clip instead of live streams")
	rootCmd.PersistentFlags().Bool("ai-enabled", true, "Run inference (false = raw snapshot mode)")
	rootCmd.PersistentFlags().String("server-addr", ":8080", "Status API listen address")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for composite archival (empty = disabled)")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")

	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("results-dir", rootCmd.PersistentFlags().Lookup("results-dir"))
	viper.BindPFlag("factory-id", rootCmd.PersistentFlags().Lookup("factory-id"))
	viper.BindPFlag("factory-name", rootCmd.PersistentFlags().Lookup("factory-name"))
	viper.BindPFlag("milling-process", rootCmd.PersistentFlags().Lookup("milling-process"))
	viper.BindPFlag("total-dumps", rootCmd.PersistentFlags().Lookup("total-dumps"))
	viper.BindPFlag("rtsp-base", rootCmd.PersistentFlags().Lookup("rtsp-base"))
	viper.BindPFlag("clip-path", rootCmd.PersistentFlags().Lookup("clip-path"))
	viper.BindPFlag("testing", rootCmd.PersistentFlags().Lookup("testing"))
	viper.BindPFlag("ai-enabled", rootCmd.PersistentFlags().Lookup("ai-enabled"))
	viper.BindPFlag("server-addr", rootCmd.PersistentFlags().Lookup("server-addr"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
}
