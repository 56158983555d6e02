package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophmove/internal/buildinfo"
	"github.com/dmitrijs2005/gophmove/internal/client/cli"
	"github.com/dmitrijs2005/gophmove/internal/client/config"
)

func main() {
	cfg, args, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if len(args) == 0 {
		buildinfo.PrintBuildData(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, cli.DefaultDatabase)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
