package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentex/internal/config"
	"agentex/internal/server/bootstrap"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "agentex-server",
		Short:         "Agent platform API server",
		Long:          "Serves the agent event log, tracker, registry, and authorization admission API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().Int("port", 0, "API listen port (overrides config)")
	cmd.Flags().String("database-url", "", "postgres connection URL, or 'memory' (overrides config)")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")

	viper.SetEnvPrefix("AGENTEX")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("database_url", cmd.Flags().Lookup("database-url"))
	_ = viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	return cmd
}

func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags win over file and environment.
	if port := viper.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if url := viper.GetString("database_url"); url != "" {
		cfg.Database.URL = url
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.Observability.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := bootstrap.New(ctx, &cfg)
	if err != nil {
		return err
	}

	fmt.Println(green("agentex-server"), gray("listening on "+srv.Addr()))
	return srv.Run(ctx)
}
