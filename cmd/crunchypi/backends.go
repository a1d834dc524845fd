package main

import (
	"context"
	"fmt"

	"github.com/crunchypi/crunchypi/internal/config"
	"github.com/crunchypi/crunchypi/internal/jetstream"
	"github.com/crunchypi/crunchypi/internal/ollama"
	"github.com/crunchypi/crunchypi/internal/processor"
	"github.com/crunchypi/crunchypi/internal/storage"
	"github.com/rs/zerolog/log"
)

// backends wires the model client and the optional side channels. Close
// releases them in reverse order.
type backends struct {
	proc    *processor.Processor
	closers []func()
}

func newClient(cfg *config.Config) (*ollama.Client, error) {
	return ollama.New(
		ollama.WithBaseURL(cfg.OllamaBaseURL),
		ollama.WithGeneratePath(cfg.GeneratePath),
		ollama.WithModel(cfg.Model),
		ollama.WithReadSize(cfg.ReadBufferSize),
	)
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	var writer *storage.BatchWriter
	if cfg.DatabaseURL != "" {
		pool, err := storage.NewPool(ctx, storage.PoolConfig{
			URL:            cfg.DatabaseURL,
			MaxConns:       cfg.DBMaxConns,
			ConnectTimeout: cfg.DBConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.closers = append(b.closers, pool.Close)

		if err := storage.RunMigrations(ctx, pool); err != nil {
			b.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		writer = storage.NewBatchWriter(pool, cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)
		b.closers = append(b.closers, writer.Shutdown)
		log.Info().Msg("exchange history enabled")
	}

	var publisher *jetstream.Publisher
	if cfg.NATSStoreDir != "" {
		natsServer, err := jetstream.NewServer(jetstream.ServerConfig{
			StoreDir:      cfg.NATSStoreDir,
			Name:          cfg.NATSServerName,
			ReadyTimeout:  cfg.NATSReadyTimeout,
			HandleSignals: cfg.NATSHandleSignals,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		b.closers = append(b.closers, natsServer.Shutdown)

		nc, err := natsServer.Connect()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to embedded NATS: %w", err)
		}
		b.closers = append(b.closers, func() { _ = nc.Drain() })

		js, err := nc.JetStream()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("get JetStream context: %w", err)
		}
		if err := jetstream.EnsureStream(js); err != nil {
			b.Close()
			return nil, fmt.Errorf("create JetStream stream: %w", err)
		}
		publisher = jetstream.NewPublisher(js)
		log.Info().Str("store_dir", cfg.NATSStoreDir).Msg("token fan-out enabled")
	}

	b.proc = processor.New(client, writer, publisher)
	return b, nil
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
