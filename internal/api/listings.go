package api

import (
	"net/http"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

// listingPayload is the parsed program-guide listing as delivered by the
// external fetcher. The fetch and XML parse live outside this service.
type listingPayload struct {
	Shows []struct {
		ShowID   string `json:"show_id"`
		ShowType string `json:"show_type"`
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
	} `json:"shows"`
	Episodes []struct {
		ShowID      string `json:"show_id"`
		EpisodeID   string `json:"episode_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		PartCode    string `json:"part_code"`
		ImageURL    string `json:"image_url"`
	} `json:"episodes"`
	Schedule []struct {
		ChannelMajor int    `json:"channel_major"`
		ChannelMinor int    `json:"channel_minor"`
		StartTime    string `json:"start_time"`
		DurationSecs int64  `json:"duration_seconds"`
		ShowID       string `json:"show_id"`
		EpisodeID    string `json:"episode_id"`
		RerunCode    string `json:"rerun_code"`
	} `json:"schedule"`
}

// handleImportListings replaces the schedule from a parsed listing and
// replans.
func (s *Server) handleImportListings(w http.ResponseWriter, r *http.Request) {
	var payload listingPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	shows := make([]store.ListingShow, len(payload.Shows))
	for i, sh := range payload.Shows {
		shows[i] = store.ListingShow{
			ShowID:   sh.ShowID,
			ShowType: sh.ShowType,
			Name:     sh.Name,
			ImageURL: sh.ImageURL,
		}
	}
	episodes := make([]store.ListingEpisode, len(payload.Episodes))
	for i, ep := range payload.Episodes {
		episodes[i] = store.ListingEpisode{
			ShowID:      ep.ShowID,
			EpisodeID:   ep.EpisodeID,
			Title:       ep.Title,
			Description: ep.Description,
			PartCode:    ep.PartCode,
			ImageURL:    ep.ImageURL,
		}
	}
	airings := make([]store.Airing, len(payload.Schedule))
	for i, a := range payload.Schedule {
		start, err := time.Parse(time.RFC3339, a.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_start_time", "Schedule start_time must be RFC 3339")
			return
		}
		airings[i] = store.Airing{
			ChannelMajor: a.ChannelMajor,
			ChannelMinor: a.ChannelMinor,
			StartTime:    start,
			Duration:     time.Duration(a.DurationSecs) * time.Second,
			ShowID:       a.ShowID,
			EpisodeID:    a.EpisodeID,
			RerunCode:    a.RerunCode,
		}
	}

	if err := s.Store.ReplaceSchedule(r.Context(), shows, episodes, airings); err != nil {
		s.dbError(w, "import listings", err)
		return
	}
	s.triggerReplan()
	writeJSON(w, http.StatusOK, map[string]any{
		"shows":    len(shows),
		"episodes": len(episodes),
		"airings":  len(airings),
	})
}
