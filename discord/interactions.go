package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/live-herald/notify"
)

type commandHandler func(ctx context.Context, i *discordgo.Interaction)

// command pairs an application command definition with its handler.
type command struct {
	def    *discordgo.ApplicationCommand
	handle commandHandler
}

// onInteraction routes slash commands by name and watch-button clicks by custom id.
func (b *Bot) onInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	b.handleInteraction(ic.Interaction)
}

func (b *Bot) handleInteraction(i *discordgo.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		cmd, ok := b.commands[name]
		if !ok {
			slog.Warn("unknown application command", slog.String("name", name), slog.String("component", "discord"))
			return
		}
		cmd.handle(ctx, i)
	case discordgo.InteractionMessageComponent:
		b.handleWatchButton(ctx, i)
	}
}

// watchReply builds the ephemeral answer to a watch-button click.
func watchReply(customID string) (string, bool) {
	login, ok := notify.ParseWatchButtonID(customID)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Watch **%s** live: %s", login, notify.StreamURL(login)), true
}

func (b *Bot) handleWatchButton(ctx context.Context, i *discordgo.Interaction) {
	content, ok := watchReply(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("watch button reply failed", slog.Any("err", err), slog.String("component", "discord"))
	}
}

// replyTransient answers the interaction and deletes the answer after replyTTL.
func (b *Bot) replyTransient(ctx context.Context, i *discordgo.Interaction, content string) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("interaction reply failed", slog.Any("err", err), slog.String("component", "discord"))
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		t := b.clock.NewTimer(b.replyTTL)
		defer t.Stop()
		select {
		case <-t.Chan():
		case <-b.closing:
		}
		delCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := b.api.InteractionResponseDelete(i, discordgo.WithContext(delCtx)); err != nil {
			slog.Debug("interaction reply delete failed", slog.Any("err", err), slog.String("component", "discord"))
		}
	}()
}
