package main

import (
	"context"
	"fmt"
	"os"

	"github.com/skystar-p/hako/internal/client/cli"
	"github.com/skystar-p/hako/internal/client/config"
	"github.com/skystar-p/hako/internal/flagx"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app := cli.NewApp(cfg)
	if err := app.Run(ctx, flagx.PositionalArgs(os.Args[1:])); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
