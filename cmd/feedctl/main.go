// Command feedctl manages the feed generator record and viewer profiles.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/blackmichael/bluesky-listfeed/internal/app"
	"github.com/blackmichael/bluesky-listfeed/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	envFile string
	verbose bool
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "feedctl",
		Short:         "Manage the list feed generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "path to a .env file")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(publishCmd(g))
	cmd.AddCommand(unpublishCmd(g))
	cmd.AddCommand(profileCmd(g))
	cmd.AddCommand(classifyCmd(g))
	cmd.AddCommand(inspectCmd(g))

	return cmd
}

func (g *globalFlags) config() (*config.Config, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// logger writes to stderr so command output on stdout stays parseable.
func (g *globalFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) open() (*app.App, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, g.logger())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
