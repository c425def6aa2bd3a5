package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/Zereker/oscipc"
	"github.com/Zereker/oscipc/internal/config"
)

// Sends a few commands to a running oscipc daemon and prints the replies.
//
//	go run ./example/client [socket-path]
func main() {
	address := config.DefaultSocketPath()
	if len(os.Args) > 1 {
		address = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := oscipc.Dial(ctx, "unix", address)
	if err != nil {
		slog.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	requests := []*osc.Message{
		osc.NewMessage("/ping"),
		osc.NewMessage("/whoami"),
		osc.NewMessage("/echo", "hello", int32(42), float32(0.5)),
		osc.NewMessage("/gateway/connections"),
	}

	for _, req := range requests {
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		resp, err := client.Request(reqCtx, req)
		cancel()
		if err != nil {
			slog.Error("request failed", "address", req.Address, "error", err)
			return
		}
		slog.Info("reply", "request", req.Address, "response", resp)
	}

	// Malformed blocks are dropped by the gateway without closing the connection.
	if err := client.SendRaw([]byte("garbage")); err != nil {
		slog.Error("send failed", "error", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if resp, err := client.Request(reqCtx, osc.NewMessage("/ping")); err == nil {
		slog.Info("still connected", "response", resp)
	}
}
