package main

import (
	"context"
	"cursor-chat/clock"
	"cursor-chat/infrastructure/realtime"
	"cursor-chat/infrastructure/websocket"
	"cursor-chat/runtime/workers"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run keeps a single exit point so that every deferred cleanup runs.
func run() error {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	clk := clock.Real()
	hub := realtime.NewHub(log, clk)

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewPresenceReaper(log, clk, hub, config.ReapInterval, config.StaleAfter))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervised := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervised)
	}()

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:    address,
		Handler: websocket.NewServer(log, hub, websocket.ServerOptions{SendBuffer: config.SendBuffer}).Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting broker", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		sup.Stop()
		<-supervised
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Forced shutdown", "error", err)
	}
	sup.Stop()
	<-supervised
	log.Info("Broker stopped cleanly")
	return nil
}
