package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trender",
	Short: "Trender surfaces trending news clusters from RSS feeds.",
	Long: `Trender ingests RSS/Atom feeds, clusters similar stories by content
similarity, scores clusters for trendiness, and selects the top picks
globally and per configured topic.

Typical workflow:
  trender fetch              # pull feeds into the local store
  trender trend              # run the global trending pipeline
  trender topics             # run each configured topic scope
  trender serve              # expose the pipeline over HTTP`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.trender.yaml)")

	rootCmd.AddCommand(NewFetchCmd())
	rootCmd.AddCommand(NewTrendCmd())
	rootCmd.AddCommand(NewTopicsCmd())
	rootCmd.AddCommand(NewServeCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Load .env file if it exists (for local development)
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	viper.AutomaticEnv()
}
