package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// first signal cancels the run, the in-flight transfer still completes
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := newApp().execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
