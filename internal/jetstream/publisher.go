package jetstream

import (
	"encoding/json"

	"github.com/crunchypi/crunchypi/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// TokenMessage is the payload published for every token.
type TokenMessage struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// DoneMessage is published once per request after the last token.
type DoneMessage struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
	Error    string `json:"error,omitempty"`
}

// Publisher forwards decoded tokens to JetStream for other subscribers.
type Publisher struct {
	js nats.JetStreamContext
}

func NewPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{js: js}
}

// Listener publishes every token of requestID. Each publish waits for the
// stream's ack before the decoder moves on. Failures are logged and skipped.
func (p *Publisher) Listener(requestID string) stream.Listener {
	subject := TokenSubject(requestID)
	return stream.ListenerFunc(func(ev stream.TokenEvent) {
		data, _ := json.Marshal(TokenMessage{Index: ev.Index, Text: ev.Text})
		if _, err := p.js.Publish(subject, data); err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Int("index", ev.Index).Msg("publish token failed")
		}
	})
}

func (p *Publisher) PublishDone(requestID string, msg DoneMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(DoneSubject(requestID), data)
	return err
}
