package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/synckit/internal/client/cli"
	"github.com/dmitrijs2005/synckit/internal/client/config"
	"github.com/dmitrijs2005/synckit/internal/flagx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	cfg := config.LoadConfig(args)

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	root := cli.NewRootCmd(app)
	root.SetArgs(flagx.StripArgs(args, config.OwnedFlags()))
	err = root.ExecuteContext(ctx)
	app.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
