package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExchangeRecord is one prompt and its outcome.
type ExchangeRecord struct {
	ID              uuid.UUID
	Timestamp       time.Time
	Model           string
	Prompt          string
	Response        string
	Stream          bool
	Success         bool
	ErrorMessage    string
	StatusCode      int
	Finished        bool
	DoneReason      string
	TokenCount      int
	PromptEvalCount int
	EvalCount       int
	ResponseTimeMs  int
}

func InsertExchangeJob(r *ExchangeRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		_, err := db.Exec(ctx, `
			INSERT INTO exchanges (
				id, ts, model, prompt, response, stream, success, error_message,
				status_code, finished, done_reason, token_count, prompt_eval_count,
				eval_count, response_time_ms
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			r.ID, r.Timestamp, r.Model, r.Prompt, nilIfEmpty(r.Response), r.Stream,
			r.Success, nilIfEmpty(r.ErrorMessage), nilIfZero(r.StatusCode), r.Finished,
			nilIfEmpty(r.DoneReason), r.TokenCount, r.PromptEvalCount, r.EvalCount,
			r.ResponseTimeMs,
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
