// Package main is the entry point for the triggerflow application.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tcmartin/triggerflow/pkg/api"
	"github.com/tcmartin/triggerflow/pkg/config"
	"github.com/tcmartin/triggerflow/pkg/engine"
	"github.com/tcmartin/triggerflow/pkg/executor"
	"github.com/tcmartin/triggerflow/pkg/loader"
	"github.com/tcmartin/triggerflow/pkg/queue"
	"github.com/tcmartin/triggerflow/pkg/storage"
	"github.com/tcmartin/triggerflow/pkg/trigger"
	"github.com/tcmartin/triggerflow/pkg/utils"
)

const appVersion = "0.1.0"

var configPath string

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "triggerflow",
		Short:   "Trigger-driven workflow orchestrator",
		Long:    "triggerflow matches inbound events against trigger rules and runs workflow graphs asynchronously",
		Version: appVersion,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the triggerflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	applyCmd := &cobra.Command{
		Use:   "apply <workflow.yaml>",
		Short: "Save a workflow definition from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apply(args[0])
		},
	}

	rootCmd.AddCommand(serveCmd, applyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(configPath)
}

func newScheduler(cfg *config.Config) (queue.Scheduler, error) {
	switch cfg.Queue.Type {
	case "", "memory":
		return queue.NewMemoryScheduler(cfg.Queue.Workers), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping Redis: %w", err)
		}
		return queue.NewRedisScheduler(client, queue.RedisSchedulerOptions{
			KeyPrefix:    cfg.Queue.Redis.KeyPrefix,
			Workers:      cfg.Queue.Workers,
			PollInterval: time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	provider, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer provider.Close()

	scheduler, err := newScheduler(cfg)
	if err != nil {
		return err
	}

	hub := api.NewWebSocketHub()
	broker := api.NewSSEBroker()
	defer broker.Close()
	notifier := engine.NewMultiNotifier(hub, broker)

	registry := executor.NewRegistry(utils.NewHTTPClient(), provider.GetCatalogStore())
	eng := engine.New(provider, registry, scheduler, notifier)

	if err := scheduler.Start(eng.Process); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	dispatcher := trigger.NewDispatcher(provider.GetWorkflowStore(), eng)

	cronScheduler := trigger.NewCronScheduler(provider.GetWorkflowStore(), eng)
	if err := cronScheduler.Reload(); err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	server := api.NewServer(cfg, provider, eng, dispatcher, cronScheduler, hub, broker)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(ctx)
	}
}

func apply(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	workflow, err := loader.Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse workflow: %w", err)
	}

	provider, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer provider.Close()

	store := provider.GetWorkflowStore()
	now := time.Now()

	if workflow.ID == "" {
		return fmt.Errorf("workflow id is required when applying")
	}

	existing, err := store.GetWorkflow(workflow.ID)
	if err == nil {
		workflow.CreatedAt = existing.CreatedAt
	} else {
		workflow.CreatedAt = now
	}
	workflow.UpdatedAt = now

	if err := store.SaveWorkflow(workflow); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	fmt.Printf("workflow %s saved\n", workflow.ID)
	return nil
}
