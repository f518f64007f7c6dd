// Command sitefeed serves scraped institutional websites as RSS feeds.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions are the global flags.
type rootOptions struct {
	configPath  string
	sourcesPath string
	debug       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "sitefeed",
		Short:         "Republish institutional websites as RSS feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config",
		getEnv("SITEFEED_CONFIG", "config.yaml"), "config file (SITEFEED_CONFIG)")
	root.PersistentFlags().StringVar(&opts.sourcesPath, "sources", "",
		"sources file, overrides the config file and SITEFEED_SOURCES")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newFetchCommand(opts),
		newSourcesCommand(opts),
		newValidateCommand(opts),
	)
	return root
}

func main() {
	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
