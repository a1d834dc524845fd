package stream_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/crunchypi/crunchypi/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks []string
	reads  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.reads++
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestDecode_ThreeRecordStream(t *testing.T) {
	t.Parallel()
	r := &chunkReader{chunks: []string{
		`{"response":"4","done":false}` + "\n",
		`{"resp`,
		`onse":"","done":true}` + "\n",
	}}
	rec := &recorder{}

	res, err := stream.Decode(context.Background(), r, rec, 0)

	require.NoError(t, err)
	assert.Equal(t, "4", res.Text)
	assert.True(t, res.Finished)
	assert.Equal(t, []stream.TokenEvent{{Index: 0, Text: "4"}}, rec.events)
}

func TestDecode_OneByteReads(t *testing.T) {
	t.Parallel()
	rec := &recorder{}

	res, err := stream.Decode(context.Background(), iotest.OneByteReader(strings.NewReader(sampleStream)), rec, 0)

	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", res.Text)
	assert.Equal(t, []string{"The", " answer", " is", " 4."}, rec.texts())
}

func TestDecode_SmallReadBuffer(t *testing.T) {
	t.Parallel()
	rec := &recorder{}

	res, err := stream.Decode(context.Background(), strings.NewReader(sampleStream), rec, 3)

	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", res.Text)
	assert.Len(t, rec.events, 4)
}

func TestDecode_StopsReadingAfterTerminalRecord(t *testing.T) {
	t.Parallel()
	r := &chunkReader{chunks: []string{
		`{"response":"a","done":true}` + "\n",
		`{"response":"b","done":false}` + "\n",
	}}

	res, err := stream.Decode(context.Background(), r, nil, 0)

	require.NoError(t, err)
	assert.Equal(t, "a", res.Text)
	assert.Equal(t, 1, r.reads)
}

func TestDecode_AbruptEnd(t *testing.T) {
	t.Parallel()
	r := &chunkReader{chunks: []string{
		`{"response":"a","done":false}` + "\n" + `{"response":"b","done":false}` + "\n",
		`{"response":"c","do`,
	}}
	rec := &recorder{}

	res, err := stream.Decode(context.Background(), r, rec, 0)

	require.NoError(t, err)
	assert.Equal(t, "ab", res.Text)
	assert.False(t, res.Finished)
	assert.Equal(t, []string{"a", "b"}, rec.texts())
}

func TestDecode_EmptyStream(t *testing.T) {
	t.Parallel()
	res, err := stream.Decode(context.Background(), strings.NewReader(""), nil, 0)

	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Equal(t, 0, res.Tokens)
}

func TestDecode_ReadFailureDiscardsText(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader(`{"response":"partial","done":false}`+"\n"),
		iotest.ErrReader(boom),
	)
	rec := &recorder{}

	res, err := stream.Decode(context.Background(), r, rec, 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrTransport)
	assert.ErrorIs(t, err, boom)
	var te *stream.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read", te.Op)
	assert.Equal(t, stream.Result{}, res)
	// The listener already saw the token before the failure.
	assert.Equal(t, []string{"partial"}, rec.texts())
}

func TestDecode_CancelBetweenChunks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &chunkReader{chunks: []string{
		`{"response":"a","done":false}` + "\n",
		`{"response":"b","done":false}` + "\n",
	}}
	rec := &recorder{}
	l := stream.ListenerFunc(func(ev stream.TokenEvent) {
		rec.OnToken(ev)
		cancel()
	})

	res, err := stream.Decode(ctx, r, l, 0)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, stream.ErrTransport)
	assert.Equal(t, stream.Result{}, res)
	assert.Equal(t, []string{"a"}, rec.texts())
	assert.Equal(t, 1, r.reads)
}
