// Verdict judges a single image from the command line and prints the
// formatted verdict, or the extraction result as JSON with -json.
//
// With -extract it reads raw model output from stdin and only runs the
// extractor, which needs no API key or network access.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"verdictbot/core"
	"verdictbot/core/llm"
	"verdictbot/core/prompt"
	"verdictbot/core/verdict"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "verdict:", err)
		os.Exit(1)
	}
}

type options struct {
	provider    string
	baseURL     string
	model       string
	mode        string
	custom      string
	caption     string
	upload      bool
	jsonOut     bool
	extract     bool
	verbose     bool
	temperature float64
	timeout     time.Duration
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	var o options
	fs := flag.NewFlagSet("verdict", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: verdict [flags...] <image>\n       verdict -extract < reply.txt\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&o.provider, "provider", "gemini", "LLM provider: gemini, openai, deepseek or ollama")
	fs.StringVar(&o.baseURL, "base-url", "", "override the provider endpoint")
	fs.StringVar(&o.model, "model", "", "model name (provider default if empty)")
	fs.StringVar(&o.mode, "mode", string(prompt.Concise), "judging mode: "+prompt.List())
	fs.StringVar(&o.custom, "prompt", "", "custom system prompt, implies -mode custom")
	fs.StringVar(&o.caption, "caption", "", "text sent alongside the image")
	fs.BoolVar(&o.upload, "upload", false, "send the image through the Files API (gemini only)")
	fs.BoolVar(&o.jsonOut, "json", false, "print the extraction result as JSON")
	fs.BoolVar(&o.extract, "extract", false, "read model output from stdin and only run the extractor")
	fs.BoolVar(&o.verbose, "v", false, "log requests to stderr")
	fs.Float64Var(&o.temperature, "temperature", 0, "sampling temperature (0 uses the model default)")
	fs.DurationVar(&o.timeout, "timeout", 2*time.Minute, "request timeout")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if o.custom != "" {
		o.mode = string(prompt.Custom)
	}
	return &o, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if o.extract {
		text, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		return printResult(stdout, core.Judgement{Result: verdict.Extract(string(text))}, o.jsonOut)
	}

	if len(rest) != 1 {
		return errors.New("expected exactly one image path (see -h)")
	}
	mode, err := prompt.ParseMode(o.mode)
	if err != nil {
		return err
	}
	media, err := llm.LoadMedia(rest[0])
	if err != nil {
		return err
	}
	if !media.IsImage() {
		return fmt.Errorf("%s is %s, not an image", rest[0], media.MIMEType)
	}

	log := zerolog.Nop()
	if o.verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	}
	provider, err := llm.New(llm.Config{
		Provider: o.provider,
		APIKey:   apiKey(o.provider),
		BaseURL:  o.baseURL,
		Model:    o.model,
	}, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	j, err := core.Judge(ctx, provider, core.JudgeInput{
		Media:        media,
		Caption:      o.caption,
		Mode:         mode,
		CustomPrompt: o.custom,
		Model:        o.model,
		Upload:       o.upload,
		Temperature:  float32(o.temperature),
	})
	if err != nil {
		return err
	}
	log.Debug().Str("model", j.Model).Int("tokens", j.Tokens).Stringer("result", j.Result).Msg("Judged")
	return printResult(stdout, *j, o.jsonOut)
}

func apiKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "deepseek":
		return os.Getenv("DEEPSEEK_API_KEY")
	case "ollama":
		return "ollama"
	}
	return os.Getenv("GOOGLE_API_KEY")
}

func printResult(w io.Writer, j core.Judgement, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(j.Result)
	}
	_, err := fmt.Fprintln(w, core.FormatJudgement(j, 0))
	return err
}
