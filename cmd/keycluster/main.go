package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/cenkalti/keycluster"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if there is one
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "keycluster",
		Short:         "Keyword clustering and ad group generation CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := keycluster.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ApplyEnv(os.Getenv); err != nil {
				return err
			}
			if cfg.OpenAI.APIKey == "" && cfg.OpenAI.AzureAPIKey == "" {
				log.Println("Neither OPENAI_API_KEY nor AZURE_OPENAI_API_KEY is set")
			}
			keycluster.Current = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "keycluster.yaml", "path to the YAML config file")

	// Add all commands from the keycluster package
	rootCmd.AddCommand(keycluster.ClusterKeywordsCmd)
	rootCmd.AddCommand(keycluster.GenerateAdGroupsCmd)
	rootCmd.AddCommand(keycluster.GenerateReportCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [input-file]",
	Short: "Run the full pipeline: cluster-keywords -> generate-ad-groups -> generate-report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Println("Running full pipeline...")
		if err := keycluster.ClusterKeywordsCmd.RunE(cmd, args); err != nil {
			return err
		}
		if err := keycluster.GenerateAdGroupsCmd.RunE(cmd, nil); err != nil {
			return err
		}
		if err := keycluster.GenerateReportCmd.RunE(cmd, nil); err != nil {
			return err
		}
		log.Println("Pipeline complete.")
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove generated clusters, ad groups, and reports",
	Run: func(cmd *cobra.Command, args []string) {
		files := []string{"clusters.json", "ad_groups.json", "report.md", "report.html"}
		for _, file := range files {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				log.Printf("Failed to remove %s: %v", file, err)
			}
		}
		log.Println("Cleaned clusters.json, ad_groups.json, report.md and report.html.")
	},
}
