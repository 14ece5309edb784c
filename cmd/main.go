package main

import (
	"os"
	"os/signal"
	"syscall"

	"athena/internal/bootstrap"
	"athena/pkg/logger"
)

func main() {
	container := bootstrap.NewContainer()
	container.MustInit()
	defer logger.Sync()

	log := container.Log
	log.Infof("Starting %s in %s mode", container.Config.App.Name, container.Config.App.Env)

	if err := container.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	// Block until a shutdown signal arrives
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("Shutdown signal received", "signal", sig.String())
	case <-container.Context.Done():
		log.Info("Internal shutdown requested")
	}

	container.Shutdown()
}
