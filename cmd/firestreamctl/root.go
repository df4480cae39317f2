package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lumen-data/firestream/internal/logging"
)

var (
	cfgFile      string
	logLevel     string
	useWebSocket bool
)

var rootCmd = &cobra.Command{
	Use:   "firestreamctl",
	Short: "Exercise the firestream streaming RPC client core end to end",
	Long: `firestreamctl drives the watch stream, the write stream, and the
unary commit/lookup RPCs against a Firestore-compatible server, using
whatever config and credentials are on disk.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		applyLogLevel(logLevel)
		return nil
	},
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		logging.SetLevel(logging.LevelDebug)
	case "warn":
		logging.SetLevel(logging.LevelWarn)
	case "error":
		logging.SetLevel(logging.LevelError)
	default:
		logging.SetLevel(logging.LevelInfo)
	}
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "firestream.yaml", "path to a YAML or JSONC config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&useWebSocket, "websocket", false, "use the WebSocket stream transport instead of gRPC (overrides the config file's use_websocket)")
}
