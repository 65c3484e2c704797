/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the fuel ledger. Loads the environment,
  then dispatches to a subcommand.

COMMANDS:
  serve    Start the HTTP server (dependency graph built with fx)
  migrate  Apply pending database migrations and exit

CONFIGURATION:
  Read from the environment (see config/config.go), optionally from a
  .env file in the working directory or one of its parents. Flags
  override the environment:
    --port   HTTP server port
    --db     SQLite database path (":memory:" for in-memory)

EXAMPLES:
  ./server serve --db=./data/fuel.db
  ./server migrate --db=./data/fuel.db

SEE ALSO:
  - serve.go: Server wiring and graceful shutdown
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/warp/fuel-ledger/config"
)

var (
	flagPort int
	flagDB   string
)

var rootCmd = &cobra.Command{
	Use:   "fuel-ledger",
	Short: "Fuel ledger - heating cost allocation for a shared house",
	Long: `Fuel ledger records household stays against the burner-hour counter,
prices them from the fuel fill history and rolls them up per year.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "HTTP server port (overrides HTTP_PORT)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides DB_PATH)")
}

func main() {
	loadDotEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagPort != 0 {
		cfg.HTTPPort = flagPort
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	return cfg, nil
}

// loadDotEnv loads the first .env found in the working directory or its
// two parents. A missing file is fine: containers use the real environment.
func loadDotEnv() {
	paths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		paths = append(paths,
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}
