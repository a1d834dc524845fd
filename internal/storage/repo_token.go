package storage

import (
	"context"
	"time"

	"github.com/crunchypi/crunchypi/internal/stream"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertTokensJob creates a batch insert job for an exchange's tokens using COPY protocol.
func InsertTokensJob(exchangeID uuid.UUID, ts time.Time, events []stream.TokenEvent) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		rows := make([][]any, len(events))
		for i, ev := range events {
			rows[i] = []any{ts, exchangeID, ev.Index, ev.Text}
		}

		_, err := db.CopyFrom(ctx,
			pgx.Identifier{"exchange_tokens"},
			[]string{"ts", "exchange_id", "token_index", "text"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}
