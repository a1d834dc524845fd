// Command crunchypi sends prompts to a local Ollama server and shows the
// response as it streams in.
//
// Usage:
//
//	crunchypi ask [-model name] [-no-stream] [prompt...]   (prompt from stdin when omitted)
//	crunchypi serve [-port n]                               (HTTP bridge for a desktop front end)
//
// Configuration comes from the environment or a .env file; see internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/crunchypi/crunchypi/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage:
  crunchypi ask [-model name] [-no-stream] [prompt...]
  crunchypi serve [-port n]
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	// stdout belongs to the ask display; logs go to stderr.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "ask":
		err = runAsk(ctx, cfg, os.Args[2:], os.Stdin, os.Stdout)
	case "serve":
		err = runServe(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
