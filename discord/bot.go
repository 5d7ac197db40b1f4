// Package discord adapts a discordgo session to the notification channel interfaces and
// serves the bot's interactions: the watch button on live notifications and the
// /purge moderation command.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/live-herald/notify"
)

const (
	requestTimeout  = 10 * time.Second
	defaultReplyTTL = 5 * time.Second
)

// restAPI is the part of *discordgo.Session the bot calls.
type restAPI interface {
	messageSender
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseDelete(interaction *discordgo.Interaction, options ...discordgo.RequestOption) error
}

// Bot owns the gateway session. It implements notify.Directory over the session's
// channel cache.
type Bot struct {
	session *discordgo.Session
	api     restAPI
	state   *discordgo.State
	guildID string

	clock    clockwork.Clock
	replyTTL time.Duration
	commands map[string]command

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bot for token. Commands are registered in guildID, or globally when empty.
func New(token, guildID string) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord bot token empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	b := newBot(s, s.State, clockwork.NewRealClock())
	b.session = s
	b.guildID = guildID
	s.AddHandler(b.onReady)
	s.AddHandler(b.onInteraction)
	return b, nil
}

func newBot(api restAPI, state *discordgo.State, clock clockwork.Clock) *Bot {
	b := &Bot{
		api:      api,
		state:    state,
		clock:    clock,
		replyTTL: defaultReplyTTL,
		closing:  make(chan struct{}),
	}
	b.commands = map[string]command{}
	b.register(command{def: purgeCommand(), handle: b.handlePurge})
	return b
}

func (b *Bot) register(c command) {
	b.commands[c.def.Name] = c
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

// Close waits for pending reply deletions and disconnects.
func (b *Bot) Close() error {
	b.closeOnce.Do(func() { close(b.closing) })
	b.wg.Wait()
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("discord bot ready", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)), slog.String("component", "discord"))
	for _, c := range b.commands {
		if _, err := s.ApplicationCommandCreate(r.User.ID, b.guildID, c.def); err != nil {
			slog.Error("register application command failed", slog.String("name", c.def.Name), slog.Any("err", err), slog.String("component", "discord"))
		}
	}
}

// Channel looks id up in the gateway cache.
func (b *Bot) Channel(id string) (notify.Channel, bool) {
	ch, err := b.state.Channel(id)
	if err != nil || ch == nil {
		return nil, false
	}
	return wrapChannel(ch, b.api), true
}

// lookupChannel prefers the cache and falls back to REST.
func (b *Bot) lookupChannel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if ch, err := b.state.Channel(id); err == nil && ch != nil {
		return ch, nil
	}
	return b.api.Channel(id, discordgo.WithContext(ctx))
}
