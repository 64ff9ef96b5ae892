// Package api is the JSON surface for the set-top client and the admin
// tooling.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/carbondvr/carbon-dvr/internal/metrics"
	"github.com/carbondvr/carbon-dvr/internal/store"
)

// Server owns the HTTP handlers. Replanning is delegated back to the
// scheduler through the Replan hook.
type Server struct {
	Store   *store.Store
	Replan  func(ctx context.Context)
	limiter *rate.Limiter
}

// New builds a Server with a shared token-bucket limiter over all clients;
// the expected client population is one household.
func New(s *store.Store, replan func(ctx context.Context), perSecond float64, burst int) *Server {
	return &Server{
		Store:   s,
		Replan:  replan,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /recordings", s.handleListRecordings)
	mux.HandleFunc("GET /recordings/{id}", s.handleGetRecording)
	mux.HandleFunc("DELETE /recordings/{id}", s.handleDeleteRecording)
	mux.HandleFunc("GET /recordings/{id}/playbackPosition", s.handleGetPlaybackPosition)
	mux.HandleFunc("PUT /recordings/{id}/playbackPosition", s.handleSetPlaybackPosition)
	mux.HandleFunc("GET /recordings/{id}/archiveState", s.handleGetArchiveState)
	mux.HandleFunc("PUT /recordings/{id}/archiveState", s.handleSetArchiveState)
	mux.HandleFunc("POST /recordings/{id}/retryTranscode", s.handleRetryTranscode)

	mux.HandleFunc("GET /shows", s.handleListShows)
	mux.HandleFunc("PUT /shows/{id}/subscription", s.handleSubscribe)
	mux.HandleFunc("DELETE /shows/{id}/subscription", s.handleUnsubscribe)
	mux.HandleFunc("GET /upcoming", s.handleUpcoming)

	mux.HandleFunc("GET /admin/transcodeFailures", s.handleTranscodeFailures)
	mux.HandleFunc("GET /admin/pendingTranscodes", s.handlePendingTranscodes)
	mux.HandleFunc("GET /admin/inconsistencies", s.handleInconsistencies)
	mux.HandleFunc("POST /admin/replan", s.handleReplan)
	mux.HandleFunc("POST /admin/testRecording", s.handleTestRecording)
	mux.HandleFunc("POST /admin/listings", s.handleImportListings)

	return s.middleware(mux)
}

// middleware applies rate limiting and the request counter.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, "429").Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ── health ────────────────────────────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", err.Error())
		return
	}
	remaining, err := s.Store.RemainingListingTime(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "ok",
		"listing_hours_remaining": int(remaining.Hours()),
	})
}

// ── recordings ────────────────────────────────────────────────────────────────

type recordingJSON struct {
	RecordingID  int64  `json:"recording_id"`
	ShowName     string `json:"show_name"`
	EpisodeID    string `json:"episode_id"`
	EpisodeTitle string `json:"episode_title"`
	DateRecorded string `json:"date_recorded"`
	DurationSecs int64  `json:"duration_seconds"`
}

func summaryJSON(in []store.RecordingSummary) []recordingJSON {
	out := make([]recordingJSON, len(in))
	for i, r := range in {
		out[i] = recordingJSON{
			RecordingID:  r.RecordingID,
			ShowName:     r.ShowName,
			EpisodeID:    r.EpisodeID,
			EpisodeTitle: r.EpisodeTitle,
			DateRecorded: r.DateRecorded.UTC().Format(time.RFC3339),
			DurationSecs: int64(r.Duration.Seconds()),
		}
	}
	return out
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Store.AllRecordings(r.Context())
	if err != nil {
		s.dbError(w, "list recordings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": summaryJSON(recs)})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.Store.Recording(r.Context(), id)
	if err != nil {
		s.dbError(w, "get recording", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not_found", "Recording not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recording_id":           rec.RecordingID,
		"show_name":              rec.ShowName,
		"show_image_url":         rec.ShowImageURL,
		"episode_id":             rec.EpisodeID,
		"episode_title":          rec.EpisodeTitle,
		"episode_description":    rec.EpisodeDescription,
		"date_recorded":          rec.DateRecorded.UTC().Format(time.RFC3339),
		"duration_seconds":       int64(rec.Duration.Seconds()),
		"transcoded_location_id": rec.TranscodedLocationID,
		"bif_location_id":        rec.BifLocationID,
	})
}

// handleDeleteRecording removes the recording row; the reaper collects the
// files on its next pass.
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.Store.DeleteRecording(r.Context(), id); err != nil {
		s.dbError(w, "delete recording", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetPlaybackPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pos, err := s.Store.PlaybackPosition(r.Context(), id)
	if err != nil {
		s.dbError(w, "playback position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position_seconds": pos})
}

func (s *Server) handleSetPlaybackPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		PositionSeconds int `json:"position_seconds"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.PositionSeconds < 0 {
		writeError(w, http.StatusBadRequest, "bad_position", "Position must not be negative")
		return
	}
	if err := s.Store.SetPlaybackPosition(r.Context(), id, body.PositionSeconds); err != nil {
		s.dbError(w, "set playback position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position_seconds": body.PositionSeconds})
}

// archivedCategory marks a recording the user wants kept forever.
const archivedCategory = "A"

func (s *Server) handleGetArchiveState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	code, err := s.Store.CategoryCode(r.Context(), id)
	if err != nil {
		s.dbError(w, "archive state", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": code == archivedCategory})
}

func (s *Server) handleSetArchiveState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Archived bool `json:"archived"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	code := "N"
	if body.Archived {
		code = archivedCategory
	}
	if err := s.Store.SetCategoryCode(r.Context(), id, code); err != nil {
		s.dbError(w, "set archive state", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": body.Archived})
}

// handleRetryTranscode removes a failed transcode row so the next pipeline
// tick retries the recording. Successful transcodes are never removed here.
func (s *Server) handleRetryTranscode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := s.Store.DeleteFailedTranscode(r.Context(), id)
	if err != nil {
		s.dbError(w, "retry transcode", err)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "not_found", "No failed transcode for this recording")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// ── shows and upcoming ────────────────────────────────────────────────────────

func (s *Server) handleListShows(w http.ResponseWriter, r *http.Request) {
	shows, err := s.Store.Shows(r.Context())
	if err != nil {
		s.dbError(w, "list shows", err)
		return
	}
	type showJSON struct {
		ShowID     string `json:"show_id"`
		Name       string `json:"name"`
		Subscribed bool   `json:"subscribed"`
	}
	out := make([]showJSON, len(shows))
	for i, sh := range shows {
		out[i] = showJSON{sh.ShowID, sh.Name, sh.Subscribed}
	}
	writeJSON(w, http.StatusOK, map[string]any{"shows": out})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	showID := r.PathValue("id")
	if err := s.Store.Subscribe(r.Context(), showID, 1); err != nil {
		s.dbError(w, "subscribe", err)
		return
	}
	s.triggerReplan()
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	showID := r.PathValue("id")
	if err := s.Store.Unsubscribe(r.Context(), showID); err != nil {
		s.dbError(w, "unsubscribe", err)
		return
	}
	s.triggerReplan()
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	airings, err := s.Store.UpcomingRecordings(r.Context())
	if err != nil {
		s.dbError(w, "upcoming", err)
		return
	}
	type upcomingJSON struct {
		StartTime    string `json:"start_time"`
		Channel      string `json:"channel"`
		ShowID       string `json:"show_id"`
		ShowName     string `json:"show_name"`
		EpisodeID    string `json:"episode_id"`
		EpisodeTitle string `json:"episode_title"`
	}
	out := make([]upcomingJSON, len(airings))
	for i, a := range airings {
		out[i] = upcomingJSON{
			StartTime:    a.StartTime.UTC().Format(time.RFC3339),
			Channel:      strconv.Itoa(a.ChannelMajor) + "-" + strconv.Itoa(a.ChannelMinor),
			ShowID:       a.ShowID,
			ShowName:     a.ShowName,
			EpisodeID:    a.EpisodeID,
			EpisodeTitle: a.EpisodeTitle,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"upcoming": out})
}

// ── admin ─────────────────────────────────────────────────────────────────────

func (s *Server) handleTranscodeFailures(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Store.TranscodeFailures(r.Context())
	if err != nil {
		s.dbError(w, "transcode failures", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": summaryJSON(recs)})
}

func (s *Server) handlePendingTranscodes(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Store.PendingTranscodes(r.Context())
	if err != nil {
		s.dbError(w, "pending transcodes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": summaryJSON(recs)})
}

func (s *Server) handleInconsistencies(w http.ResponseWriter, r *http.Request) {
	inc, err := s.Store.FindInconsistencies(r.Context())
	if err != nil {
		s.dbError(w, "inconsistencies", err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleReplan(w http.ResponseWriter, r *http.Request) {
	s.triggerReplan()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "replanning"})
}

func (s *Server) handleTestRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ScheduleTestRecording(r.Context()); err != nil {
		s.dbError(w, "test recording", err)
		return
	}
	s.triggerReplan()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "scheduled"})
}

func (s *Server) triggerReplan() {
	if s.Replan != nil {
		s.Replan(context.Background())
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_id", "Recording id must be numeric")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "Malformed JSON body")
		return false
	}
	return true
}

func (s *Server) dbError(w http.ResponseWriter, op string, err error) {
	log.Printf("api: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "db_error", "Database operation failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
