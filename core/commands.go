package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"verdictbot/core/prompt"
	"verdictbot/core/verdict"
)

type CommandContext struct {
	Msg       IncomingMessage
	Responder Responder
	Bot       *Bot
	Args      []string
}

func (c CommandContext) Reply(text string) error {
	return c.Responder.SendText(c.Msg.ChatID, text)
}

type CommandHandler func(ctx CommandContext) error

type command struct {
	usage   string
	handler CommandHandler
}

type CommandRegistry struct {
	commands map[string]command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]command),
	}
}

// Register adds a command. usage is shown by help.
func (r *CommandRegistry) Register(name, usage string, handler CommandHandler) {
	r.commands[strings.ToLower(name)] = command{usage: usage, handler: handler}
}

func (r *CommandRegistry) Execute(name string, ctx CommandContext) bool {
	cmd, exists := r.commands[strings.ToLower(name)]
	if !exists {
		return false
	}
	if err := cmd.handler(ctx); err != nil {
		ctx.Bot.Log.Warn().Err(err).Str("command", name).Msg("Command failed")
		_ = ctx.Responder.SendText(ctx.Msg.ChatID, fmt.Sprintf("⚠️ Error executing command: %v", err))
	}
	return true
}

// Help lists every registered command, sorted by name.
func (r *CommandRegistry) Help(prefix string) string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Send an image mentioning me, or reply to one, and I'll judge it.\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "`%s %s` %s\n", prefix, name, r.commands[name].usage)
	}
	return strings.TrimSpace(sb.String())
}

func RegisterDefaultCommands(b *Bot) {
	b.Commands.Register("help", "show this message", func(ctx CommandContext) error {
		return ctx.Reply(ctx.Bot.Commands.Help(ctx.Bot.prefix()))
	})

	b.Commands.Register("setkey", "<api_key> use your own API key", func(ctx CommandContext) error {
		if len(ctx.Args) != 1 {
			return ctx.Reply(fmt.Sprintf("Usage: `%s setkey <your_api_key>`", ctx.Bot.prefix()))
		}
		if err := ctx.Bot.Users.SetUserAPIKey(ctx.Msg.UserID, ctx.Args[0]); err != nil {
			if errors.Is(err, ErrNoMasterKey) {
				return ctx.Reply("Personal API keys are disabled on this bot.")
			}
			return fmt.Errorf("failed to save API key: %w", err)
		}
		return ctx.Reply("✅ Your API key has been stored encrypted. Delete your message so it doesn't stay in the chat history.")
	})

	b.Commands.Register("delkey", "forget your API key", func(ctx CommandContext) error {
		old, err := ctx.Bot.Users.DeleteUserAPIKey(ctx.Msg.UserID)
		if errors.Is(err, ErrNoUserKey) {
			return ctx.Reply("You don't have an API key set.")
		}
		if err != nil {
			return err
		}
		ctx.Bot.forgetKey(old)
		return ctx.Reply("🗑️ Your API key has been deleted.")
	})

	b.Commands.Register("stats", "show your usage", func(ctx CommandContext) error {
		tokens, judged, hasKey := ctx.Bot.Users.GetUserStats(ctx.Msg.UserID)
		resp := fmt.Sprintf("Images judged: %d\nTokens used: %d", judged, tokens)
		switch limit := ctx.Bot.Users.GlobalLimit(); {
		case hasKey:
			resp += " (using your own API key)"
		case limit > 0:
			resp += fmt.Sprintf(" (shared limit: %d)", limit)
		case limit < 0:
			resp += " (shared key, no limit)"
		}
		return ctx.Reply(resp)
	})

	b.Commands.Register("mode", "<"+strings.ReplaceAll(prompt.List(), ", ", "|")+"> set the judging style", func(ctx CommandContext) error {
		if len(ctx.Args) != 1 {
			mode, _, _ := ctx.Bot.resolve(ctx.Msg.UserID)
			return ctx.Reply(fmt.Sprintf("Current mode: `%s`. Available: %s", mode, prompt.List()))
		}
		mode, err := prompt.ParseMode(ctx.Args[0])
		if err != nil {
			return ctx.Reply(err.Error())
		}
		if err := ctx.Bot.Users.UpdatePreferences(ctx.Msg.UserID, func(p *Preferences) { p.Mode = string(mode) }); err != nil {
			return err
		}
		resp := fmt.Sprintf("✅ Mode set to `%s`.", mode)
		if _, custom, _ := ctx.Bot.resolve(ctx.Msg.UserID); mode == prompt.Custom && custom == "" {
			resp += fmt.Sprintf(" Set your prompt with `%s prompt <text>`.", ctx.Bot.prefix())
		}
		return ctx.Reply(resp)
	})

	b.Commands.Register("prompt", "<text> set the custom mode prompt", func(ctx CommandContext) error {
		text := strings.TrimSpace(strings.Join(ctx.Args, " "))
		if text == "" {
			return ctx.Reply(fmt.Sprintf("Usage: `%s prompt <text>`", ctx.Bot.prefix()))
		}
		if err := ctx.Bot.Users.UpdatePreferences(ctx.Msg.UserID, func(p *Preferences) {
			p.CustomPrompt = text
			p.Mode = string(prompt.Custom)
		}); err != nil {
			return err
		}
		return ctx.Reply("✅ Custom prompt saved and mode set to `custom`.")
	})

	b.Commands.Register("model", "[name] show or pick the model", func(ctx CommandContext) error {
		allowed := ctx.Bot.Config.Models
		if len(ctx.Args) != 1 {
			_, _, model := ctx.Bot.resolve(ctx.Msg.UserID)
			resp := fmt.Sprintf("Current model: `%s`.", model)
			if len(allowed) > 0 {
				resp += " Available: " + strings.Join(allowed, ", ")
			}
			return ctx.Reply(resp)
		}
		model := ctx.Args[0]
		if strings.EqualFold(model, "default") {
			model = ""
		} else if len(allowed) > 0 && !slices.Contains(allowed, model) {
			return ctx.Reply("Unknown model. Available: " + strings.Join(allowed, ", "))
		}
		if err := ctx.Bot.Users.UpdatePreferences(ctx.Msg.UserID, func(p *Preferences) { p.Model = model }); err != nil {
			return err
		}
		if model == "" {
			return ctx.Reply("✅ Model reset to the default.")
		}
		return ctx.Reply(fmt.Sprintf("✅ Model set to `%s`.", model))
	})

	b.Commands.Register("last", "repeat your last verdict", func(ctx CommandContext) error {
		j, ok := ctx.Bot.Sessions.Last(ctx.Msg.ChatID, ctx.Msg.UserID)
		if !ok {
			return ctx.Reply("Nothing judged yet.")
		}
		return ctx.Reply(FormatJudgement(j, ctx.Bot.Config.MaxReplyLength))
	})

	b.Commands.Register("fav", "save your last verdict", func(ctx CommandContext) error {
		j, ok := ctx.Bot.Sessions.Last(ctx.Msg.ChatID, ctx.Msg.UserID)
		if !ok {
			return ctx.Reply("Nothing judged yet.")
		}
		added, err := ctx.Bot.Favorites.Add(ctx.Msg.UserID, FavoriteFromJudgement(j))
		if err != nil {
			return err
		}
		if !added {
			return ctx.Reply("Already in your favorites.")
		}
		return ctx.Reply("⭐ Saved to favorites.")
	})

	b.Commands.Register("favs", "list your favorites", func(ctx CommandContext) error {
		favs := ctx.Bot.Favorites.List(ctx.Msg.UserID)
		if len(favs) == 0 {
			return ctx.Reply(fmt.Sprintf("No favorites yet. Use `%s fav` after a verdict.", ctx.Bot.prefix()))
		}
		var sb strings.Builder
		for i, f := range favs {
			fmt.Fprintf(&sb, "%d. %s %s [%s, %s]\n", i+1,
				time.UnixMilli(f.Time).UTC().Format("2006-01-02"),
				favoriteLabel(f), f.Mode, f.Model)
		}
		return ctx.Reply(strings.TrimSpace(sb.String()))
	})

	b.Commands.Register("unfav", "<n> remove a favorite", func(ctx CommandContext) error {
		if len(ctx.Args) != 1 {
			return ctx.Reply(fmt.Sprintf("Usage: `%s unfav <n>`", ctx.Bot.prefix()))
		}
		n, err := strconv.Atoi(ctx.Args[0])
		if err != nil {
			return ctx.Reply("That's not a number.")
		}
		if _, err := ctx.Bot.Favorites.Remove(ctx.Msg.UserID, n); err != nil {
			if errors.Is(err, ErrNoFavorite) {
				return ctx.Reply(fmt.Sprintf("No favorite #%d.", n))
			}
			return err
		}
		return ctx.Reply(fmt.Sprintf("Removed favorite #%d.", n))
	})

	b.Commands.Register("history", "list recent verdicts in this chat", func(ctx CommandContext) error {
		h := ctx.Bot.Sessions.History(ctx.Msg.ChatID, ctx.Msg.UserID)
		if len(h) == 0 {
			return ctx.Reply("Nothing judged yet.")
		}
		var sb strings.Builder
		for i, j := range h {
			summary := j.Result.Summary()
			if summary == "" {
				summary = "(no verdict)"
			}
			fmt.Fprintf(&sb, "%d. %s %s [%s]\n", i+1, j.Time.UTC().Format("15:04"), summary, j.Mode)
		}
		return ctx.Reply(strings.TrimSpace(sb.String()))
	})

	b.Commands.Register("clear", "forget your recent verdicts", func(ctx CommandContext) error {
		ctx.Bot.Sessions.Clear(ctx.Msg.ChatID, ctx.Msg.UserID)
		return ctx.Reply("✅ Your history has been cleared.")
	})
}

// favoriteLabel re-reads the stored reply so old favorites show the same
// summary as fresh verdicts.
func favoriteLabel(f FavoriteResult) string {
	label := f.Image
	if label == "" {
		label = "image"
	}
	if summary := verdict.Extract(f.Result).Summary(); summary != "" {
		label += " " + summary
	}
	return label
}
