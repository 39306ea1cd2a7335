package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/makotom/speedlog/config"
)

var (
	BuildName       = "\b"
	BuildAnnotation = "git"
)

var (
	printer = log.New(os.Stdout, "", 0)
	logger  = log.New(os.Stderr, "", 0)
)

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		logger.Printf("Error: %v\n", err)
		return 1
	}

	if err := newRootCmd(cfg, printer, logger).ExecuteContext(ctx); err != nil {
		logger.Printf("Error: %v\n", err)
		return 1
	}

	return 0
}

func main() {
	os.Exit(run())
}
