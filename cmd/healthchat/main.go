package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/healthchat/healthchat/internal/cli/healthchat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := healthchat.Execute(ctx)
	stop()
	os.Exit(code)
}
