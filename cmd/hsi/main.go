package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
