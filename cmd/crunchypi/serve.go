package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/crunchypi/crunchypi/internal/config"
	"github.com/crunchypi/crunchypi/internal/server"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "Listen port (overrides PORT)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	g, gctx := errgroup.WithContext(ctx)
	srv := newHTTPServer(gctx, *port, server.NewHandler(cfg, b.proc))
	g.Go(func() error {
		log.Info().
			Int("port", *port).
			Str("upstream", cfg.OllamaBaseURL).
			Str("model", cfg.Model).
			Msg("crunchypi bridge started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Handler contexts derive from gctx, so active streams are already
		// canceled between chunks and record their outcome before returning.
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// newHTTPServer builds the bridge server. Every request context derives from
// ctx, so canceling ctx aborts in-flight streams.
func newHTTPServer(ctx context.Context, port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: a response streams for as long as the model generates.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}
