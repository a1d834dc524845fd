package jetstream

import (
	"errors"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "CRUNCHYPI"
	SubjectPrefix = "crunchypi.tokens."
)

// EnsureStream creates the token stream. Messages are kept for an hour so a
// late subscriber can replay a whole response.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   nats.FileStorage,
		MaxAge:    time.Hour,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func TokenSubject(requestID string) string {
	return SubjectPrefix + requestID
}

func DoneSubject(requestID string) string {
	return SubjectPrefix + requestID + ".done"
}
