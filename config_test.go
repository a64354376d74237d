package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("VERDICTBOT_MASTER_KEY", "env-master")
	t.Setenv("MATRIX_PASSWORD", "env-password")

	path := writeConfig(t, `
[matrix]
enabled = true
homeserver = "https://matrix.example.org"
user_id = "@verdict:example.org"

[users]
global_limit = 5000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "env-key", cfg.LLM.APIKey)
	require.Equal(t, "env-master", cfg.Users.MasterKey)
	require.Equal(t, "env-password", cfg.Matrix.Password)

	require.Equal(t, "verdict", cfg.Bot.Name)
	require.Equal(t, "concise", cfg.Bot.Mode)
	require.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	require.Equal(t, "gemini-2.5-flash", cfg.Bot.Model)
	require.Equal(t, 5000, cfg.Users.GlobalLimit)
	require.Equal(t, "users.json", cfg.Users.FilePath)
	require.Equal(t, "credentials.json", cfg.Matrix.CredentialsDBPath)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestLoadConfigFull(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("GOOGLE_API_KEY", "")

	path := writeConfig(t, `
[discord]
enabled = true
token = "discord-token"

[llm]
provider = "openai"
api_key = "sk-test"
model = "gpt-4o-mini"
upload_files = false

[bot]
name = "Judge"
mode = "custom"
custom_prompt = "Judge it like a pirate."
models = ["gpt-4o-mini", "gpt-4o"]
temperature = 0.8
max_reply_length = 1500

[favorites]
limit = 5

[log]
level = "debug"
format = "json"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, "gpt-4o-mini", cfg.Bot.Model)
	require.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, cfg.Bot.Models)
	require.Equal(t, float32(0.8), cfg.Bot.Temperature)
	require.Equal(t, 1500, cfg.Bot.MaxReplyLength)
	require.Equal(t, 5, cfg.Favorites.Limit)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("GOOGLE_API_KEY", "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no platform",
			body: ``,
			want: "no platform enabled",
		},
		{
			name: "matrix without homeserver",
			body: "[matrix]\nenabled = true\n",
			want: "matrix.homeserver",
		},
		{
			name: "discord without token",
			body: "[discord]\nenabled = true\n",
			want: "discord.token",
		},
		{
			name: "bad mode",
			body: "[discord]\nenabled = true\ntoken = \"t\"\n[bot]\nmode = \"sideways\"\n",
			want: "unknown mode",
		},
		{
			name: "custom without prompt",
			body: "[discord]\nenabled = true\ntoken = \"t\"\n[bot]\nmode = \"custom\"\n",
			want: "custom mode needs a prompt",
		},
		{
			name: "unknown provider",
			body: "[discord]\nenabled = true\ntoken = \"t\"\n[llm]\nprovider = \"bard\"\nmodel = \"x\"\n",
			want: "unknown llm.provider",
		},
		{
			name: "shared limit without key",
			body: "[discord]\nenabled = true\ntoken = \"t\"\n[users]\nglobal_limit = 10\n",
			want: "llm.api_key",
		},
		{
			name: "bad log format",
			body: "[discord]\nenabled = true\ntoken = \"t\"\n[log]\nformat = \"xml\"\n",
			want: "log.format",
		},
		{
			name: "syntax error",
			body: "[discord\n",
			want: "failed to parse config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
