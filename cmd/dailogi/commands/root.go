package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/config"
	"github.com/dailogi/scene-client/pkg/logger"
)

var (
	// Global flags
	backendURL string
	token      string
	outputJSON bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dailogi",
	Short: "d-AI-logi scene client",
	Long: `dailogi - stream AI character dialogues from the terminal.

A scene puts two or three characters, each voiced by a language model, into
a situation you describe. Their turns are printed live as the backend
generates them.

Examples:
  # List what you can cast
  dailogi roster

  # Stream a scene between characters 1 and 2
  dailogi scene -d "A storm traps them in a lighthouse" --with 1:7 --with 2:7
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cfg := config.Load()

	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", cfg.BackendBaseURL, "dialogue backend base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("DAILOGI_TOKEN"), "session token (default $DAILOGI_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(rosterCmd)
}

// newLogger returns a stderr logger; quiet unless verbose.
func newLogger() *logger.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.NewCLI(level)
	if err != nil {
		return logger.Nop()
	}
	return log
}

// newBackend returns a backend client and a context carrying the session token.
func newBackend(ctx context.Context) (*backend.Client, context.Context) {
	cfg := config.Load()
	return backend.NewClient(backendURL, cfg.BackendTimeout), backend.WithSessionToken(ctx, token)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
