// Package notify renders live notifications and delivers them to the configured chat channel.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-herald/tracker"
)

const (
	// EmbedColor is the Twitch purple used for the notification embed.
	EmbedColor = 6570405
	// UnknownGame is shown when the stream has no category.
	UnknownGame = "Unknown"

	watchButtonPrefix = "streamer-"
	watchButtonSuffix = "-cta"
)

// Message is a chat-platform neutral rendering of one notification.
type Message struct {
	Content    string
	Embeds     []Embed
	Components []ActionRow
}

type Embed struct {
	Title     string
	URL       string
	Color     int
	Author    *EmbedAuthor
	Thumbnail string
	Image     string
	Fields    []EmbedField
	Timestamp time.Time
}

type EmbedAuthor struct {
	Name    string
	URL     string
	IconURL string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// ButtonStyle mirrors the chat platform's button styles.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
	ButtonLink
)

type Button struct {
	Label    string
	Style    ButtonStyle
	CustomID string
	URL      string
}

// ActionRow is one row of interactive components.
type ActionRow struct {
	Buttons []Button
}

// StreamURL is the public channel page for login.
func StreamURL(login string) string {
	return "https://www.twitch.tv/" + login
}

// PreviewURL is the live preview image; the CDN keys it by lower-case login.
func PreviewURL(login string) string {
	return "https://static-cdn.jtvnw.net/previews-ttv/live_user_" + strings.ToLower(login) + "-1280x720.jpg"
}

// RelativeTimestamp formats t as a chat-rendered relative time ("5 minutes ago").
func RelativeTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// WatchButtonID returns the custom id of the watch button for login.
func WatchButtonID(login string) string {
	return watchButtonPrefix + login + watchButtonSuffix
}

// ParseWatchButtonID extracts the login from a watch button custom id.
func ParseWatchButtonID(id string) (string, bool) {
	if !strings.HasPrefix(id, watchButtonPrefix) || !strings.HasSuffix(id, watchButtonSuffix) {
		return "", false
	}
	login := strings.TrimSuffix(strings.TrimPrefix(id, watchButtonPrefix), watchButtonSuffix)
	if login == "" {
		return "", false
	}
	return login, true
}

// Render builds the notification for a live, enriched record.
func Render(rec tracker.StreamerRecord) Message {
	display := rec.DisplayName()
	url := StreamURL(rec.Login)

	var sess tracker.Session
	if rec.Session != nil {
		sess = *rec.Session
	}
	avatar := ""
	if rec.Profile != nil {
		avatar = rec.Profile.ProfileImageURL
	}
	game := sess.GameName
	if game == "" {
		game = UnknownGame
	}
	title := sess.Title
	if title == "" {
		title = display + " is live"
	}

	fields := []EmbedField{
		{Name: "Game", Value: game, Inline: true},
	}
	if !sess.StartedAt.IsZero() {
		fields = append(fields, EmbedField{Name: "Started", Value: RelativeTimestamp(sess.StartedAt), Inline: true})
	}
	fields = append(fields, EmbedField{Name: "Viewers", Value: strconv.Itoa(sess.ViewerCount), Inline: true})

	return Message{
		Content: fmt.Sprintf("**%s** is live now!", display),
		Embeds: []Embed{{
			Title:     title,
			URL:       url,
			Color:     EmbedColor,
			Author:    &EmbedAuthor{Name: display, URL: url, IconURL: avatar},
			Thumbnail: avatar,
			Image:     PreviewURL(rec.Login),
			Fields:    fields,
			Timestamp: sess.StartedAt,
		}},
		Components: []ActionRow{{
			Buttons: []Button{{Label: "Watch stream", Style: ButtonSecondary, CustomID: WatchButtonID(rec.Login)}},
		}},
	}
}
