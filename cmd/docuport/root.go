package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docuport/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "docuport",
	Short: "Document processing pipeline with vision-model extraction",
	Long: `Docuport transforms PDF documents into validated, structured JSON
using vision-model section detection and extraction.

The pipeline includes:
  - Vision-based section detection with rule-based fallback
  - Parallel per-section structured extraction with JSON Schema validation
  - Confidence-based routing to auto-approval or human review
  - Checkpointed batch runs that resume where they left off`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ~/.docuport/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docuport home directory (default: ~/.docuport)",
	)

	rootCmd.AddCommand(versionCmd)
}
