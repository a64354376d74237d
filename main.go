package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"verdictbot/core"
	"verdictbot/core/llm"
	"verdictbot/platforms/discord"
	"verdictbot/platforms/matrix"
)

func newLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
	return log.Level(level).With().Timestamp().Logger()
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the config file")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	log := newLogger(config.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, log); err != nil {
		log.Fatal().Err(err).Msg("Bot failed")
	}
	log.Info().Msg("Shut down")
}

func run(ctx context.Context, config *Config, log zerolog.Logger) error {
	provider, err := llm.New(config.LLM, log)
	if err != nil {
		return err
	}

	users, err := core.NewUserStore(config.Users, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := users.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to save users file")
		}
	}()

	favorites, err := core.NewFavoriteStore(config.Favorites)
	if err != nil {
		return err
	}

	bot := core.NewBot(provider, &config.Bot, users, core.NewSessionManager(config.Bot.MaxHistory), favorites, log)
	bot.UploadFiles = config.LLM.UploadFiles
	core.RegisterDefaultCommands(bot)

	log.Info().
		Str("provider", provider.ID()).
		Str("model", config.Bot.Model).
		Str("mode", config.Bot.Mode).
		Msg("Starting bot")

	errs := make(chan error, 2)

	if config.Matrix.Enabled {
		client, err := matrix.GetMatrixClient(ctx, &config.Matrix, log)
		if err != nil {
			return fmt.Errorf("matrix auth failed: %w", err)
		}
		helper, err := matrix.InitCrypto(ctx, client, config.Matrix.CryptoDBPath, config.Matrix.PickleKey, log)
		if err != nil {
			return err
		}
		if helper != nil {
			defer helper.Close()
		}

		rooms, err := client.JoinedRooms(ctx)
		if err != nil {
			return fmt.Errorf("failed to get joined rooms: %w", err)
		}
		log.Info().Int("rooms", len(rooms.JoinedRooms)).Str("device_id", string(client.DeviceID)).Msg("Logged in to Matrix")

		if config.Matrix.DisplayName != "" {
			if err := client.SetDisplayName(ctx, config.Matrix.DisplayName); err != nil {
				log.Warn().Err(err).Msg("Failed to set display name")
			}
		}

		adapter := matrix.NewMatrixAdapter(client, bot, config.Matrix.AutoJoinInvites, log)
		go func() { errs <- adapter.Start(ctx) }()
	}

	if config.Discord.Enabled {
		adapter, err := discord.NewDiscordAdapter(config.Discord.Token, bot, log)
		if err != nil {
			return fmt.Errorf("failed to create discord session: %w", err)
		}
		if err := adapter.Start(); err != nil {
			return err
		}
		defer adapter.Close()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("matrix sync stopped: %w", err)
		}
		return nil
	}
}
