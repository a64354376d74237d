package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"verdictbot/core"
	"verdictbot/core/llm"
	"verdictbot/core/prompt"
	"verdictbot/platforms/discord"
	"verdictbot/platforms/matrix"
)

type LogConfig struct {
	Level string `toml:"level"`
	// Format is "console" or "json".
	Format string `toml:"format"`
}

type Config struct {
	Matrix    matrix.Config        `toml:"matrix"`
	Discord   discord.Config       `toml:"discord"`
	LLM       llm.Config           `toml:"llm"`
	Bot       core.BotConfig       `toml:"bot"`
	Users     core.UsersConfig     `toml:"users"`
	Favorites core.FavoritesConfig `toml:"favorites"`
	Log       LogConfig            `toml:"log"`
}

// LoadConfig reads path after loading .env, then applies environment
// overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("NO_DOTENV") != "1" {
		_ = godotenv.Load()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("failed to parse config at %d:%d: %w", row, col, err)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("VERDICTBOT_MASTER_KEY"); v != "" {
		c.Users.MasterKey = v
	}
	if v := os.Getenv("MATRIX_PASSWORD"); v != "" {
		c.Matrix.Password = v
	}
}

func (c *Config) setDefaults() {
	if c.Bot.Name == "" {
		c.Bot.Name = "verdict"
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = string(prompt.Concise)
	}
	if c.LLM.Model == "" && (c.LLM.Provider == "" || c.LLM.Provider == "gemini") {
		c.LLM.Model = llm.DefaultGeminiModel
	}
	if c.Bot.Model == "" {
		c.Bot.Model = c.LLM.Model
	}
	if c.Bot.MaxHistory == 0 {
		c.Bot.MaxHistory = 10
	}
	if c.Bot.MaxReplyLength == 0 {
		c.Bot.MaxReplyLength = 4000
	}
	if c.Bot.RequestTimeoutSeconds == 0 {
		c.Bot.RequestTimeoutSeconds = 120
	}
	if c.Users.FilePath == "" {
		c.Users.FilePath = "users.json"
	}
	if c.Users.AutosaveSeconds == 0 {
		c.Users.AutosaveSeconds = 30
	}
	if c.Favorites.FilePath == "" {
		c.Favorites.FilePath = "favorites.json"
	}
	if c.Favorites.Limit == 0 {
		c.Favorites.Limit = 50
	}
	if c.Matrix.CredentialsDBPath == "" {
		c.Matrix.CredentialsDBPath = "credentials.json"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) Validate() error {
	if !c.Matrix.Enabled && !c.Discord.Enabled {
		return errors.New("no platform enabled: set matrix.enabled or discord.enabled")
	}
	if c.Matrix.Enabled && (c.Matrix.Homeserver == "" || c.Matrix.UserID == "") {
		return errors.New("matrix.homeserver and matrix.user_id are required")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}

	mode, err := prompt.ParseMode(c.Bot.Mode)
	if err != nil {
		return fmt.Errorf("bot.mode: %w", err)
	}
	if mode == prompt.Custom && c.Bot.CustomPrompt == "" {
		return fmt.Errorf("bot.mode: %w", prompt.ErrMissingCustom)
	}

	switch c.LLM.Provider {
	case "", "gemini", "openai", "deepseek", "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model is required for this provider")
	}
	if c.Users.GlobalLimit != 0 && c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		return errors.New("llm.api_key (or GOOGLE_API_KEY) is required when users.global_limit is set")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
