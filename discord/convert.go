package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/live-herald/notify"
)

// toMessageSend converts a rendered notification into a discordgo payload.
func toMessageSend(msg notify.Message) *discordgo.MessageSend {
	out := &discordgo.MessageSend{Content: msg.Content}
	for _, e := range msg.Embeds {
		out.Embeds = append(out.Embeds, toEmbed(e))
	}
	for _, row := range msg.Components {
		ar := discordgo.ActionsRow{}
		for _, b := range row.Buttons {
			ar.Components = append(ar.Components, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				CustomID: b.CustomID,
				URL:      b.URL,
			})
		}
		out.Components = append(out.Components, ar)
	}
	return out
}

func toEmbed(e notify.Embed) *discordgo.MessageEmbed {
	me := &discordgo.MessageEmbed{
		Type:  discordgo.EmbedTypeRich,
		Title: e.Title,
		URL:   e.URL,
		Color: e.Color,
	}
	if e.Author != nil {
		me.Author = &discordgo.MessageEmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
	}
	if e.Thumbnail != "" {
		me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Image != "" {
		me.Image = &discordgo.MessageEmbedImage{URL: e.Image}
	}
	if !e.Timestamp.IsZero() {
		me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return me
}

func buttonStyle(s notify.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case notify.ButtonPrimary:
		return discordgo.PrimaryButton
	case notify.ButtonSuccess:
		return discordgo.SuccessButton
	case notify.ButtonDanger:
		return discordgo.DangerButton
	case notify.ButtonLink:
		return discordgo.LinkButton
	default:
		return discordgo.SecondaryButton
	}
}
