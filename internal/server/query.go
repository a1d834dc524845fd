package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/crunchypi/crunchypi/internal/ollama"
	"github.com/crunchypi/crunchypi/internal/stream"
	"github.com/rs/zerolog/log"
)

const maxRequestBody = 1 << 20

type queryRequest struct {
	Prompt string `json:"prompt"`
}

type tokenLine struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type doneLine struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Finished  bool   `json:"finished"`
}

type errorLine struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

type generateResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorLine{Type: "error", Error: "invalid request body"})
		return "", false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorLine{Type: "error", Error: "prompt is required"})
		return "", false
	}
	return req.Prompt, true
}

// handleQuery streams one NDJSON line per token, then a single done or
// error line. The status is 200 once streaming has started, so failures
// after that point only show up in the error line.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	prompt, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	setStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	enc := json.NewEncoder(w)
	send := func(v any) {
		if err := enc.Encode(v); err != nil {
			// The client went away; the request context cancels the decoder.
			log.Debug().Err(err).Msg("write stream line failed")
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}

	display := stream.ListenerFunc(func(ev stream.TokenEvent) {
		send(tokenLine{Type: "token", Index: ev.Index, Text: ev.Text})
	})

	out, err := h.querier.Query(r.Context(), prompt, display)
	if err != nil {
		send(errorLine{Type: "error", RequestID: out.RequestID.String(), Error: err.Error()})
		return
	}
	send(doneLine{
		Type:      "done",
		RequestID: out.RequestID.String(),
		Text:      out.Result.Text,
		Finished:  out.Result.Finished,
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	prompt, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	out, err := h.querier.Generate(r.Context(), prompt)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ollama.ErrEmptyPrompt) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorLine{Type: "error", RequestID: out.RequestID.String(), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{RequestID: out.RequestID.String(), Response: out.Result.Text})
}
