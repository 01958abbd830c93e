package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/armored-dev/blitzmirror/app/crawler"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := crawler.Initialize(ctx)

	app.Start(ctx)
}
