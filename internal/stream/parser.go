package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Decoder maintains state across chunks of one response: the partial line
// left over from the previous chunk, the text accumulated so far and whether
// the terminal record was seen. Each request owns its own Decoder.
type Decoder struct {
	buffer    []byte
	text      strings.Builder
	listener  Listener
	index     int
	finished  bool
	final     Record
	serverErr string
}

func NewDecoder(l Listener) *Decoder {
	if l == nil {
		l = Discard
	}
	return &Decoder{listener: l}
}

// ParseChunk processes raw bytes from the stream and emits a TokenEvent for
// every complete record. Lines may span chunks. It reports whether the
// terminal record has been seen; once it has, further input is ignored.
func (d *Decoder) ParseChunk(chunk []byte) bool {
	if d.finished {
		return true
	}
	d.buffer = append(d.buffer, chunk...)

	for !d.finished {
		idx := bytes.IndexByte(d.buffer, '\n')
		if idx == -1 {
			break
		}

		line := d.buffer[:idx]
		d.buffer = d.buffer[idx+1:]
		d.handleLine(line)
	}

	if d.finished {
		d.buffer = nil
	}
	return d.finished
}

// Flush handles whatever is left in the buffer once the stream has ended.
// A complete record without a trailing newline still counts; an incomplete
// fragment fails to parse and is dropped.
func (d *Decoder) Flush() {
	if !d.finished && len(d.buffer) > 0 {
		d.handleLine(d.buffer)
	}
	d.buffer = nil
}

// wireRecord tells a missing key apart from a zero value.
type wireRecord struct {
	Token *string `json:"response"`
	Done  *bool   `json:"done"`
}

func (d *Decoder) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		// keepalive or diagnostic output
		return
	}

	var meta Metadata
	_ = json.Unmarshal(line, &meta)
	if meta.Error != "" {
		d.serverErr = meta.Error
	}

	// Objects without a token or a done flag are status lines, not records.
	if w.Token == nil && (w.Done == nil || !*w.Done) {
		return
	}

	rec := Record{Metadata: meta}
	if w.Token != nil {
		rec.Token = *w.Token
	}
	if w.Done != nil {
		rec.Done = *w.Done
	}

	d.text.WriteString(rec.Token)
	if rec.Done {
		d.finished = true
		d.final = rec
		if rec.Token == "" {
			return
		}
	}

	ev := TokenEvent{Index: d.index, Text: rec.Token}
	d.index++
	d.listener.OnToken(ev)
}

// Text returns the concatenation of every token decoded so far.
func (d *Decoder) Text() string {
	return d.text.String()
}

func (d *Decoder) Finished() bool {
	return d.finished
}

func (d *Decoder) Result() Result {
	return Result{
		Text:        d.text.String(),
		Tokens:      d.index,
		Finished:    d.finished,
		Final:       d.final,
		ServerError: d.serverErr,
	}
}
