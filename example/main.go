package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/livestore"
	"github.com/jpalmerr/livestore/subscriber"
)

func main() {
	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ls, err := livestore.New(
		livestore.WithPort(3001),
		livestore.WithKeepaliveInterval(10*time.Second),
		livestore.WithResources("audit"),
		livestore.WithChangeCallback(func(ev livestore.ChangeEvent) {
			if ev.Kind == livestore.EventBulkDeleted {
				slog.Info("bulk delete committed", "resource", ev.Resource, "count", len(ev.IDs), "seq", ev.Seq)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create livestore", "error", err)
		os.Exit(1)
	}

	// watch users the way a browser tab would
	client := subscriber.NewClient("ws://localhost:3001/api/ws",
		subscriber.WithReconnectDelay(time.Second),
		subscriber.WithStateHook(func(s subscriber.State) {
			slog.Info("subscriber state", "state", s.String())
		}),
	)
	client.Subscribe("users", func(ev subscriber.Event) {
		slog.Info("users event", "type", ev.Type, "seq", ev.Seq, "path", ev.Path)
	})
	go func() { _ = client.Run(ctx) }()

	// generate some traffic (see mock_writer.go)
	go RunMockWriter(ctx, "http://localhost:3001")

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   LiveStore Demo                                      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   curl -N http://localhost:3001/api/events            ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   • mock writer edits users every few seconds         ║")
	fmt.Println("  ║   • websocket subscriber logs users events            ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	if err := ls.Start(ctx); err != nil {
		slog.Error("livestore error", "error", err)
		os.Exit(1)
	}
}
