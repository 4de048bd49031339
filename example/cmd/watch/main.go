// Standalone change stream watcher for testing the CLI.
//
// Usage:
//
//	go run ./cmd/livestore serve
//
// Then in another terminal:
//
//	go run ./example/cmd/watch -url ws://localhost:3001/api/ws -topic users
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/livestore/subscriber"
)

func main() {
	url := flag.String("url", "ws://localhost:3001/api/ws", "websocket change stream URL")
	topic := flag.String("topic", subscriber.Wildcard, "resource to watch, or * for all")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := subscriber.NewClient(*url,
		subscriber.WithLogger(logger),
		subscriber.WithStateHook(func(s subscriber.State) {
			logger.Info("state changed", "state", s.String())
		}),
	)
	client.Subscribe(*topic, func(ev subscriber.Event) {
		fmt.Printf("#%d %s %s %s\n", ev.Seq, ev.Type, ev.Resource, ev.Data)
	})

	fmt.Printf("Watching %s (topic %s), press Ctrl+C to stop\n", *url, *topic)
	if err := client.Run(ctx); err != nil {
		logger.Error("watch error", "error", err)
		os.Exit(1)
	}
}
