package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/app"
	"github.com/gestaozabele/painelvendas/internal/config"
	internalhttp "github.com/gestaozabele/painelvendas/internal/http"
)

const salesPageSize = 20

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	defer rt.Close()

	rt.Start(ctx)
	go rt.KeepSessionFresh(ctx, time.Minute)

	handler, err := internalhttp.NewHandler(cfg, internalhttp.Deps{
		Session:       rt.Session,
		Reminders:     rt.Reminders,
		Directory:     rt.Directory,
		Backend:       rt.Remote,
		Guard:         rt.Guard,
		Toasts:        rt.Toasts,
		SalesPageSize: salesPageSize,
	})
	if err != nil {
		return fmt.Errorf("handler: %w", err)
	}
	defer handler.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           internalhttp.NewRouter(cfg, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API ouvindo em :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("encerrando...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
