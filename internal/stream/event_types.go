package stream

// Request is the body of a generate call.
type Request struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Record is one line of a streamed generate response.
type Record struct {
	Token string `json:"response"`
	Done  bool   `json:"done"`

	// Metadata is filled best-effort; a mismatch here never discards the record.
	Metadata Metadata `json:"-"`
}

// Metadata carries the optional fields Ollama attaches to records. Most of
// them are only present on the terminal record.
type Metadata struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	DoneReason         string `json:"done_reason"`
	Error              string `json:"error"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	EvalCount          int    `json:"eval_count"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalDuration       int64  `json:"eval_duration"`
}

// TokenEvent is one incremental token handed to a Listener.
type TokenEvent struct {
	Index int // ordinal within this request's stream
	Text  string
}

// Result is the settled outcome of one decoded stream.
type Result struct {
	Text     string
	Tokens   int  // number of TokenEvents emitted
	Finished bool // a record with done=true was seen
	Final    Record

	// ServerError is the last error string the server embedded in the stream.
	ServerError string
}
