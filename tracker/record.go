package tracker

import (
	"time"

	"github.com/onnwee/live-herald/twitchapi"
)

// LiveState is the tracked liveness of a streamer.
type LiveState int

const (
	Offline LiveState = iota
	Live
)

func (s LiveState) String() string {
	switch s {
	case Live:
		return "live"
	default:
		return "offline"
	}
}

// Profile is the enriched user data fetched for a live streamer.
type Profile struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
}

// Session is the snapshot of the current stream.
type Session struct {
	StreamID     string
	UserID       string
	Login        string
	UserName     string
	Title        string
	GameName     string
	ViewerCount  int
	StartedAt    time.Time
	ThumbnailURL string
}

// StreamerRecord is the per-login tracking state. Profile and Session are nil while Offline.
type StreamerRecord struct {
	Login   string
	State   LiveState
	UserID  string
	Profile *Profile
	Session *Session
	// Announced is set once the notification for the current live session was delivered.
	// It is cleared on every Offline->Live edge.
	Announced bool

	LastChecked time.Time
	LastError   string
}

// Enriched reports whether the record carries both profile and session.
func (r StreamerRecord) Enriched() bool {
	return r.Profile != nil && r.Session != nil
}

// DisplayName falls back from profile to stream user name to login.
func (r StreamerRecord) DisplayName() string {
	if r.Profile != nil && r.Profile.DisplayName != "" {
		return r.Profile.DisplayName
	}
	if r.Session != nil && r.Session.UserName != "" {
		return r.Session.UserName
	}
	return r.Login
}

func (r *StreamerRecord) clone() StreamerRecord {
	c := *r
	if r.Profile != nil {
		p := *r.Profile
		c.Profile = &p
	}
	if r.Session != nil {
		s := *r.Session
		c.Session = &s
	}
	return c
}

func sessionFromStream(s twitchapi.Stream) *Session {
	return &Session{
		StreamID:     s.ID,
		UserID:       s.UserID,
		Login:        s.UserLogin,
		UserName:     s.UserName,
		Title:        s.Title,
		GameName:     s.GameName,
		ViewerCount:  s.ViewerCount,
		StartedAt:    s.StartedAt,
		ThumbnailURL: s.ThumbnailURL,
	}
}

func profileFromUser(u twitchapi.User) *Profile {
	return &Profile{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
	}
}
