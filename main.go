package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"auto-transcriber/internal/bootstrap"
)

//go:embed frontend/index.html
var frontend embed.FS

func main() {
	headless := flag.Bool("headless", false, "run the watcher without the desktop window")
	flag.Parse()

	if *headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := bootstrap.RunHeadless(ctx); err != nil {
			log.Fatalf("auto-transcriber: %v", err)
		}
		return
	}

	assets, err := fs.Sub(frontend, "frontend")
	if err != nil {
		log.Fatalf("auto-transcriber: frontend assets: %v", err)
	}
	app, err := bootstrap.NewWithAssets(assets)
	if err != nil {
		log.Fatalf("auto-transcriber: start: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Fatalf("auto-transcriber: %v", err)
	}
}
