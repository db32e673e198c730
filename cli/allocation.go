package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go busService.ListenBatchQuantityChanges(ctx)

	if serviceConfig.Port == "" {
		serviceConfig.Port = ":8080"
	}
	logrusLogger.Fatal(GetMainEngine().Listen(serviceConfig.Port))
}
