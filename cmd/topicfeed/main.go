package main

import (
	"log"
	"os"

	"github.com/altan/topicfeed"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	// Set configuration for the topicfeed package
	topicfeed.Config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	topicfeed.Config.DatabasePath = getenv("TOPICFEED_DB", "topicfeed.db")
	topicfeed.Config.VectorIndexURL = os.Getenv("VECTOR_INDEX_URL")
	topicfeed.Config.MockAI = os.Getenv("TOPICFEED_MOCK_AI") == "1"

	if topicfeed.Config.OpenAIAPIKey == "" && !topicfeed.Config.MockAI {
		log.Fatal("Missing OPENAI_API_KEY (set TOPICFEED_MOCK_AI=1 to run offline)")
	}

	rootCmd := &cobra.Command{
		Use:   "topicfeed",
		Short: "Personalized News Topic Aggregator CLI",
	}

	rootCmd.AddCommand(topicfeed.FetchItemsCmd)
	rootCmd.AddCommand(topicfeed.EmbedItemsCmd)
	rootCmd.AddCommand(topicfeed.ProcessCmd)
	rootCmd.AddCommand(topicfeed.RankTopicsCmd)
	rootCmd.AddCommand(topicfeed.GenerateReportCmd)
	rootCmd.AddCommand(topicfeed.FeedbackCmd)
	rootCmd.AddCommand(topicfeed.AddUserCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: fetch -> embed -> process",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Running full pipeline...")
		topicfeed.FetchItemsCmd.Run(cmd, nil)
		topicfeed.EmbedItemsCmd.Run(cmd, nil)
		topicfeed.ProcessCmd.Run(cmd, nil)
		log.Println("Pipeline complete.")
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove generated report files",
	Run: func(cmd *cobra.Command, args []string) {
		for _, file := range []string{"report.md", "report.html"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				log.Printf("Failed to remove %s: %v", file, err)
			}
		}
		log.Println("Cleaned generated reports.")
	},
}
