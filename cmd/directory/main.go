package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophdirectory/internal/cli"
	"github.com/dmitrijs2005/gophdirectory/internal/config"
	"github.com/dmitrijs2005/gophdirectory/internal/flagx"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
)

func main() {

	args := os.Args[1:]
	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.NewTextLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cfg, cli.Open(logger))
	root.SetArgs(flagx.StripArgs(args, config.Flags))

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}

}
