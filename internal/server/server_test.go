package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crunchypi/crunchypi/internal/config"
	"github.com/crunchypi/crunchypi/internal/ollama"
	"github.com/crunchypi/crunchypi/internal/processor"
	"github.com/crunchypi/crunchypi/internal/server"
	"github.com/crunchypi/crunchypi/internal/stream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	tokens []string
	err    error
	prompt string
}

func (q *fakeQuerier) Query(ctx context.Context, prompt string, display stream.Listener) (processor.Outcome, error) {
	q.prompt = prompt
	out := processor.Outcome{RequestID: uuid.New()}
	var text string
	for i, tok := range q.tokens {
		display.OnToken(stream.TokenEvent{Index: i, Text: tok})
		text += tok
	}
	if q.err != nil {
		return out, q.err
	}
	out.Result = stream.Result{Text: text, Tokens: len(q.tokens), Finished: true}
	return out, nil
}

func (q *fakeQuerier) Generate(ctx context.Context, prompt string) (processor.Outcome, error) {
	q.prompt = prompt
	out := processor.Outcome{RequestID: uuid.New()}
	if q.err != nil {
		return out, q.err
	}
	out.Result = stream.Result{Text: strings.Join(q.tokens, ""), Finished: true}
	return out, nil
}

func newServer(t *testing.T, q server.Querier, origins ...string) *httptest.Server {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := httptest.NewServer(server.NewHandler(&config.Config{AllowedOrigins: origins}, q))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestQuery_StreamsTokens(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{tokens: []string{"4", "."}}
	srv := newServer(t, q)

	resp := post(t, srv.URL+"/api/query", `{"prompt":"2+2"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	lines := readLines(t, resp.Body)
	require.Len(t, lines, 3)
	assert.Equal(t, map[string]any{"type": "token", "index": 0.0, "text": "4"}, lines[0])
	assert.Equal(t, map[string]any{"type": "token", "index": 1.0, "text": "."}, lines[1])
	assert.Equal(t, "done", lines[2]["type"])
	assert.Equal(t, "4.", lines[2]["text"])
	assert.Equal(t, true, lines[2]["finished"])
	assert.Equal(t, "2+2", q.prompt)
}

func TestQuery_ErrorAfterTokens(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{tokens: []string{"par"}, err: &stream.TransportError{Op: "read", Err: errors.New("connection reset")}}
	srv := newServer(t, q)

	resp := post(t, srv.URL+"/api/query", `{"prompt":"2+2"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	lines := readLines(t, resp.Body)
	require.Len(t, lines, 2)
	assert.Equal(t, "token", lines[0]["type"])
	assert.Equal(t, "error", lines[1]["type"])
	assert.Contains(t, lines[1]["error"], "connection reset")
	assert.NotContains(t, lines[1], "text")
}

func TestQuery_BadRequests(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &fakeQuerier{})

	for name, body := range map[string]string{
		"not json":     `prompt=hi`,
		"empty prompt": `{"prompt":"   "}`,
		"no prompt":    `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/query", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &fakeQuerier{tokens: []string{"4"}})

	resp := post(t, srv.URL+"/api/generate", `{"prompt":"2+2"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "4", body["response"])
	assert.NotEmpty(t, body["request_id"])
}

func TestGenerate_UpstreamFailure(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &fakeQuerier{err: &stream.TransportError{Op: "status", StatusCode: 500, Status: "500 Internal Server Error"}})

	resp := post(t, srv.URL+"/api/generate", `{"prompt":"2+2"}`)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &fakeQuerier{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &fakeQuerier{}, "tauri://localhost")

	t.Run("preflight", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/query", nil)
		req.Header.Set("Origin", "tauri://localhost")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "tauri://localhost", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
		req.Header.Set("Origin", "http://evil.example")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestQuery_EndToEnd(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, c := range []string{
			`{"response":"4","done":false}` + "\n",
			"not json\n",
			`{"resp`,
			`onse":"","done":true}` + "\n" + `{"response":"late","done":false}` + "\n",
		} {
			io.WriteString(w, c)
			flusher.Flush()
		}
	}))
	t.Cleanup(upstream.Close)

	client, err := ollama.New(ollama.WithBaseURL(upstream.URL))
	require.NoError(t, err)
	srv := newServer(t, processor.New(client, nil, nil))

	resp := post(t, srv.URL+"/api/query", `{"prompt":"2+2"}`)

	lines := readLines(t, resp.Body)
	require.Len(t, lines, 2)
	assert.Equal(t, "4", lines[0]["text"])
	assert.Equal(t, "done", lines[1]["type"])
	assert.Equal(t, "4", lines[1]["text"])
	assert.Equal(t, true, lines[1]["finished"])
}

// observedQuerier reports the error each Query returns.
type observedQuerier struct {
	server.Querier
	errs chan error
}

func (q *observedQuerier) Query(ctx context.Context, prompt string, display stream.Listener) (processor.Outcome, error) {
	out, err := q.Querier.Query(ctx, prompt, display)
	q.errs <- err
	return out, err
}

func TestQuery_ClientDisconnectCancelsUpstream(t *testing.T) {
	t.Parallel()
	upstreamDone := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			io.WriteString(w, `{"response":"x","done":false}`+"\n")
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-tick.C:
			}
		}
	}))
	t.Cleanup(upstream.Close)

	client, err := ollama.New(ollama.WithBaseURL(upstream.URL))
	require.NoError(t, err)
	q := &observedQuerier{Querier: processor.New(client, nil, nil), errs: make(chan error, 1)}
	srv := newServer(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/query", strings.NewReader(`{"prompt":"count"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)
	var first map[string]any
	require.NoError(t, json.Unmarshal(line, &first))
	assert.Equal(t, "token", first["type"])

	cancel()
	resp.Body.Close()

	select {
	case err := <-q.errs:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, stream.ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("query kept running after the client disconnected")
	}
	select {
	case <-upstreamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not canceled")
	}
}
