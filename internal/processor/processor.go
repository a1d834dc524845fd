package processor

import (
	"context"
	"errors"
	"time"

	"github.com/crunchypi/crunchypi/internal/jetstream"
	"github.com/crunchypi/crunchypi/internal/storage"
	"github.com/crunchypi/crunchypi/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Generator is the model backend. *ollama.Client implements it.
type Generator interface {
	Model() string
	Stream(ctx context.Context, prompt string, l stream.Listener) (stream.Result, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// Outcome describes one finished query.
type Outcome struct {
	RequestID uuid.UUID
	Result    stream.Result
	Duration  time.Duration
}

// Processor runs prompts against the Generator and feeds the optional side
// channels: JetStream token fan-out and exchange history. A nil writer or
// publisher disables that channel. Side-channel failures never change what
// the caller gets back.
type Processor struct {
	gen       Generator
	writer    *storage.BatchWriter
	publisher *jetstream.Publisher
}

func New(gen Generator, writer *storage.BatchWriter, publisher *jetstream.Publisher) *Processor {
	return &Processor{gen: gen, writer: writer, publisher: publisher}
}

// Query streams a completion for prompt. display sees every token first,
// before it is published or recorded. On error the returned Result is empty
// even if display already received tokens.
func (p *Processor) Query(ctx context.Context, prompt string, display stream.Listener) (Outcome, error) {
	requestID := uuid.New()
	ts := time.Now()

	var emitted int
	var tokens []stream.TokenEvent
	listeners := []stream.Listener{display}
	if p.publisher != nil {
		listeners = append(listeners, p.publisher.Listener(requestID.String()))
	}
	listeners = append(listeners, stream.ListenerFunc(func(ev stream.TokenEvent) {
		emitted++
		if p.writer != nil {
			tokens = append(tokens, ev)
		}
	}))

	res, err := p.gen.Stream(ctx, prompt, stream.Multi(listeners...))
	out := Outcome{RequestID: requestID, Result: res, Duration: time.Since(ts)}

	p.publishDone(requestID, res, err)
	p.record(requestID, ts, prompt, true, out, tokens, err)
	p.logOutcome(out, emitted, err)

	return out, err
}

// Generate runs a non-streamed completion.
func (p *Processor) Generate(ctx context.Context, prompt string) (Outcome, error) {
	requestID := uuid.New()
	ts := time.Now()

	text, err := p.gen.Generate(ctx, prompt)
	out := Outcome{
		RequestID: requestID,
		Result:    stream.Result{Text: text, Finished: err == nil},
		Duration:  time.Since(ts),
	}

	p.record(requestID, ts, prompt, false, out, nil, err)
	p.logOutcome(out, 0, err)

	return out, err
}

func (p *Processor) publishDone(requestID uuid.UUID, res stream.Result, runErr error) {
	if p.publisher == nil {
		return
	}
	msg := jetstream.DoneMessage{Text: res.Text, Finished: res.Finished}
	if runErr != nil {
		msg.Error = runErr.Error()
	}
	if err := p.publisher.PublishDone(requestID.String(), msg); err != nil {
		log.Warn().Err(err).Str("request_id", requestID.String()).Msg("publish done failed")
	}
}

func (p *Processor) record(requestID uuid.UUID, ts time.Time, prompt string, streamed bool, out Outcome, tokens []stream.TokenEvent, runErr error) {
	if p.writer == nil {
		return
	}

	rec := &storage.ExchangeRecord{
		ID:              requestID,
		Timestamp:       ts,
		Model:           p.gen.Model(),
		Prompt:          prompt,
		Response:        out.Result.Text,
		Stream:          streamed,
		Success:         runErr == nil,
		Finished:        out.Result.Finished,
		DoneReason:      out.Result.Final.Metadata.DoneReason,
		TokenCount:      out.Result.Tokens,
		PromptEvalCount: out.Result.Final.Metadata.PromptEvalCount,
		EvalCount:       out.Result.Final.Metadata.EvalCount,
		ResponseTimeMs:  int(out.Duration.Milliseconds()),
	}
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
		rec.TokenCount = len(tokens)
		var te *stream.TransportError
		if errors.As(runErr, &te) {
			rec.StatusCode = te.StatusCode
		}
	}
	p.writer.Enqueue(storage.InsertExchangeJob(rec))

	if len(tokens) > 0 {
		p.writer.Enqueue(storage.InsertTokensJob(requestID, ts, tokens))
	}
}

func (p *Processor) logOutcome(out Outcome, emitted int, err error) {
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", out.RequestID.String()).
			Str("model", p.gen.Model()).
			Int("tokens_emitted", emitted).
			Dur("duration", out.Duration).
			Msg("query failed")
		return
	}

	if out.Result.ServerError != "" {
		log.Warn().
			Str("request_id", out.RequestID.String()).
			Str("server_error", out.Result.ServerError).
			Msg("server reported an error in the stream")
	}

	log.Info().
		Str("request_id", out.RequestID.String()).
		Str("model", p.gen.Model()).
		Int("tokens", out.Result.Tokens).
		Bool("finished", out.Result.Finished).
		Dur("duration", out.Duration).
		Msg("query complete")
}
