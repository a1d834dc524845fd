package stream

import (
	"context"
	"errors"
	"io"
)

// DefaultReadSize is the largest chunk Decode reads at once.
const DefaultReadSize = 32 * 1024

// Decode reads r chunk by chunk, feeding a fresh Decoder until the terminal
// record arrives or the stream ends. Tokens reach l before the next line is
// processed. A stream that ends without a terminal record is still a success.
//
// A failed read aborts with a *TransportError and no partial result, even
// though l may already have seen some tokens. Cancellation is checked before
// every read and returns the context's error.
func Decode(ctx context.Context, r io.Reader, l Listener, readSize int) (Result, error) {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	d := NewDecoder(l)
	buf := make([]byte, readSize)

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if d.ParseChunk(buf[:n]) {
				return d.Result(), nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.Flush()
				return d.Result(), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, &TransportError{Op: "read", Err: err}
		}
	}
}
