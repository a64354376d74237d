package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	in := strings.NewReader("Sure!\n```json\n{\"verdict\":\"PASS\",\"rating\":2,\"explanation\":\"Meh.\",\"mood\":\"grumpy\"}\n```\nBye.")
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-extract", "-json"}, in, &out, &bytes.Buffer{}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, true, got["hasJson"])
	require.Equal(t, "Sure!\n\nBye.", got["remainingText"])
	data := got["jsonData"].(map[string]any)
	require.Equal(t, "PASS", data["verdict"])
	require.Equal(t, float64(2), data["rating"])
	require.Equal(t, "grumpy", data["mood"])
}

func TestExtractNoJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-extract", "-json"}, strings.NewReader("just words"), &out, &bytes.Buffer{}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, false, got["hasJson"])
	require.Nil(t, got["jsonData"])
	require.Equal(t, "just words", got["rawText"])
}

func TestExtractFormatted(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader(`{"verdict":"SMASH","rating":10,"explanation":"Perfect."}`)
	require.NoError(t, run(context.Background(), []string{"-extract"}, in, &out, &bytes.Buffer{}))
	require.Equal(t, "🔥 **SMASH** (10/10)\n\nPerfect.\n", out.String())
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	stderr := &bytes.Buffer{}

	err := run(ctx, nil, strings.NewReader(""), &bytes.Buffer{}, stderr)
	require.ErrorContains(t, err, "exactly one image")

	err = run(ctx, []string{"-h"}, strings.NewReader(""), &bytes.Buffer{}, stderr)
	require.True(t, errors.Is(err, flag.ErrHelp))
	require.Contains(t, stderr.String(), "Usage: verdict")

	textFile := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("hello"), 0o600))
	err = run(ctx, []string{textFile}, strings.NewReader(""), &bytes.Buffer{}, stderr)
	require.ErrorContains(t, err, "not an image")

	err = run(ctx, []string{"-mode", "sideways", textFile}, strings.NewReader(""), &bytes.Buffer{}, stderr)
	require.ErrorContains(t, err, "unknown mode")
}

func TestParseFlagsCustomPrompt(t *testing.T) {
	o, rest, err := parseFlags([]string{"-prompt", "Be a pirate.", "img.png"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "custom", o.mode)
	require.Equal(t, []string{"img.png"}, rest)
}
