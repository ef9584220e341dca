package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"auto-transcriber/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.RunHeadless(ctx); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
