// Command hallcall-admin runs operator tasks against the HallCall database.
package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hallcall/hallcall-api/pkg/env"
	"github.com/hallcall/hallcall-api/pkg/logger"
)

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	runner := NewRunner(cfg, os.Stdout)
	defer runner.Close()

	app := &cli.Command{
		Name:     "hallcall-admin",
		Usage:    "Operator tasks for the HallCall API",
		Version:  "1.0.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Sync()
		log.Fatalf("hallcall-admin: %v", err)
	}
}
