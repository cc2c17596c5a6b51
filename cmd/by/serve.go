package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/buildyard/internal/api"
	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/config"
	"github.com/zulandar/buildyard/internal/db"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/reporters"
	"github.com/zulandar/buildyard/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Buildyard master",
		Long:  "Starts the read API, the configured schedulers, and the completion reporters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "buildyard.yaml", "path to Buildyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "API port (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedBuilders(gormDB, cfg.Builders); err != nil {
		return err
	}
	master, err := db.RegisterMaster(gormDB, cfg.Master)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Master %q registered (id %d)\n", master.Name, master.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	bus := mq.New()
	buildsetSvc := buildsets.New(gormDB, bus)

	// Schedulers.
	sched := scheduler.New(gormDB, buildsetSvc, cfg.Schedulers)
	go sched.Run(ctx)
	if n := len(cfg.Schedulers); n > 0 {
		fmt.Fprintf(out, "Started %d schedulers\n", n)
	}

	// Reporters.
	reps, err := buildReporters(cfg.Reporters)
	if err != nil {
		return err
	}
	runner := reporters.NewRunner(bus, buildsetSvc, reps)
	go runner.Run(ctx)
	for _, r := range reps {
		fmt.Fprintf(out, "Reporter %s enabled\n", r.Name())
	}

	if port <= 0 {
		port = cfg.API.Port
	}
	return api.Start(ctx, api.StartOpts{
		DB:   gormDB,
		Bus:  bus,
		Port: port,
		Out:  out,
	})
}

// buildReporters instantiates every reporter whose config carries a token.
func buildReporters(cfg config.ReportersConfig) ([]reporters.Reporter, error) {
	var reps []reporters.Reporter
	if cfg.Slack.Token != "" {
		r, err := reporters.NewSlackReporter(cfg.Slack, nil)
		if err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}
	if cfg.Discord.Token != "" {
		r, err := reporters.NewDiscordReporter(cfg.Discord, nil)
		if err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}
	if cfg.GitHub.Token != "" {
		r, err := reporters.NewGitHubReporter(cfg.GitHub, nil)
		if err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}
	return reps, nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}

	return cfg, gormDB, nil
}
