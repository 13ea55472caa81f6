// Package bot runs the operator Discord bot: slash commands for the
// auction and optional sale announcements in a channel.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/ashishshetty777/auction-app/internal/bot/commands"
	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/notify"
)

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	logger   *slog.Logger
	handlers *commands.Handlers
	updates  notify.Bus
	cmds     []*discordgo.ApplicationCommand
	cancel   context.CancelFunc
}

// New creates a new Bot instance. updates may be nil when no announce
// channel is configured.
func New(cfg config.DiscordConfig, handlers *commands.Handlers, updates notify.Bus, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{
		session:  session,
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
		updates:  updates,
	}, nil
}

// Start opens the Discord connection, registers slash commands and starts
// announcing sales.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(b.handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, commands.SlashCommands())
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered
	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))

	if b.cfg.AnnounceChannelID != "" && b.updates != nil {
		actx, cancel := context.WithCancel(ctx)
		msgs, err := b.updates.Subscribe(actx)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribing to sale updates: %w", err)
		}
		b.cancel = cancel
		go b.announce(actx, msgs)
	}
	return nil
}

func (b *Bot) announce(ctx context.Context, msgs <-chan notify.Message) {
	for msg := range msgs {
		text, ok := b.handlers.Announcement(ctx, msg)
		if !ok {
			continue
		}
		if _, err := b.session.ChannelMessageSend(b.cfg.AnnounceChannelID, text); err != nil {
			b.logger.WarnContext(ctx, "announcing sale failed",
				slog.String("type", msg.Type),
				slog.Any("error", err),
			)
		}
	}
}

// Stop removes the slash commands and closes the Discord connection.
func (b *Bot) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}
