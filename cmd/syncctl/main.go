package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-commerce-erpsync/internal/app"
	"github.com/imrishuroy/go-commerce-erpsync/internal/config"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
)

var Version = "dev"

// loadFunc builds the app for a config path. Tests swap it.
type loadFunc func(ctx context.Context, configPath string) (*app.App, error)

func loadApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zl, err := logger.NewZapLogger("warn")
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, zl, nil)
}

func main() {
	if err := newRootCmd(loadApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(load loadFunc) *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and repair the storefront to ERP sync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to $CONFIG_PATH)")

	appFor := func(cmd *cobra.Command) (*app.App, error) {
		return load(cmd.Context(), configPath)
	}

	rootCmd.AddCommand(markersCmd(appFor))
	rootCmd.AddCommand(archiveCmd(appFor))
	rootCmd.AddCommand(replayCmd(appFor))
	return rootCmd
}
