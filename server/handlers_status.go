package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/live-herald/tracker"
)

type streamerStatus struct {
	Login       string     `json:"login"`
	State       string     `json:"state"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Title       string     `json:"title,omitempty"`
	Game        string     `json:"game,omitempty"`
	ViewerCount int        `json:"viewer_count,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Announced   bool       `json:"announced"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type cycleStatus struct {
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	WentLive      []string  `json:"went_live,omitempty"`
	WentOffline   []string  `json:"went_offline,omitempty"`
	QueryFailures int       `json:"query_failures"`
	Enriched      int       `json:"enriched"`
	Sent          []string  `json:"sent,omitempty"`
	SendFailures  int       `json:"send_failures"`
	EnrichError   string    `json:"enrich_error,omitempty"`
	ChannelError  string    `json:"channel_error,omitempty"`
}

type statusResponse struct {
	Polling         bool             `json:"polling"`
	Authenticated   bool             `json:"authenticated"`
	LiveCount       int              `json:"live_count"`
	IntervalSeconds float64          `json:"interval_seconds,omitempty"`
	LastCycle       *cycleStatus     `json:"last_cycle,omitempty"`
	Streamers       []streamerStatus `json:"streamers"`
}

// HandleStatus returns a JSON snapshot of every tracked streamer and the last poll cycle.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Polling: h.pollingEnabled(), Streamers: []streamerStatus{}}
	if h.tracker != nil {
		resp.Authenticated = h.tracker.Initialized()
		resp.LiveCount = h.tracker.LiveCount()
		for _, rec := range h.tracker.Snapshot() {
			resp.Streamers = append(resp.Streamers, toStreamerStatus(rec))
		}
	}
	if h.poller != nil {
		resp.IntervalSeconds = h.poller.Interval().Seconds()
		if rep, ok := h.poller.LastCycle(); ok {
			cs := &cycleStatus{
				CorrelationID: rep.CorrelationID,
				StartedAt:     rep.StartedAt,
				DurationMS:    rep.Duration.Milliseconds(),
				WentLive:      rep.Cycle.Refresh.WentLive,
				WentOffline:   rep.Cycle.Refresh.WentOffline,
				QueryFailures: len(rep.Cycle.Refresh.Failed),
				Enriched:      rep.Cycle.Enriched,
				Sent:          rep.Dispatch.Sent,
				SendFailures:  len(rep.Dispatch.Failed),
			}
			if rep.EnrichErr != nil {
				cs.EnrichError = rep.EnrichErr.Error()
			}
			if rep.ChannelErr != nil {
				cs.ChannelError = rep.ChannelErr.Error()
			}
			resp.LastCycle = cs
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func toStreamerStatus(rec tracker.StreamerRecord) streamerStatus {
	s := streamerStatus{
		Login:     rec.Login,
		State:     rec.State.String(),
		Announced: rec.Announced,
		LastError: rec.LastError,
	}
	if !rec.LastChecked.IsZero() {
		t := rec.LastChecked
		s.LastChecked = &t
	}
	if rec.State != tracker.Live {
		return s
	}
	s.DisplayName = rec.DisplayName()
	if rec.Profile != nil {
		s.AvatarURL = rec.Profile.ProfileImageURL
	}
	if rec.Session != nil {
		s.Title = rec.Session.Title
		s.Game = rec.Session.GameName
		s.ViewerCount = rec.Session.ViewerCount
		if !rec.Session.StartedAt.IsZero() {
			t := rec.Session.StartedAt
			s.StartedAt = &t
		}
	}
	return s
}
