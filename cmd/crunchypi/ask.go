package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/crunchypi/crunchypi/internal/config"
	"github.com/crunchypi/crunchypi/internal/stream"
)

// interruptedMarker is printed after partial output when a stream fails, so
// the text on screen is not mistaken for a complete answer.
const interruptedMarker = "[interrupted]"

func runAsk(ctx context.Context, cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	model := fs.String("model", "", "Model name (overrides OLLAMA_MODEL)")
	noStream := fs.Bool("no-stream", false, "Wait for the whole response instead of streaming")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(prompt) == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return errors.New("no prompt given")
	}

	if *model != "" {
		c := *cfg
		c.Model = *model
		cfg = &c
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if *noStream {
		out, err := b.proc.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, out.Result.Text)
		return err
	}

	var shown int
	display := stream.ListenerFunc(func(ev stream.TokenEvent) {
		n, _ := io.WriteString(stdout, ev.Text)
		shown += n
	})

	if _, err := b.proc.Query(ctx, prompt, display); err != nil {
		if shown > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintln(stdout, interruptedMarker)
		return err
	}
	_, err = fmt.Fprintln(stdout)
	return err
}
